package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/fe-row/AEGIS/internal/domain/identity"
)

func TestHashKeyCmd_Registered(t *testing.T) {
	found := false
	for _, cmd := range rootCmd.Commands() {
		if cmd.Name() == "hash-key" {
			found = true
			break
		}
	}
	if !found {
		t.Error("hash-key command not registered with rootCmd")
	}
}

func TestHashKey_HashesArgument(t *testing.T) {
	var out bytes.Buffer
	hashKeyCmd.SetOut(&out)
	defer hashKeyCmd.SetOut(nil)

	if err := hashKeyCmd.RunE(hashKeyCmd, []string{"ag_testkey"}); err != nil {
		t.Fatalf("hash-key error: %v", err)
	}

	hash := strings.TrimSpace(out.String())
	if !strings.HasPrefix(hash, "$argon2id$") {
		t.Fatalf("output %q is not an argon2id hash", hash)
	}

	ok, err := identity.VerifyKey("ag_testkey", hash)
	if err != nil {
		t.Fatalf("VerifyKey() error: %v", err)
	}
	if !ok {
		t.Error("printed hash does not verify against the input key")
	}
}

func TestHashKey_GeneratesKeyWithoutArgument(t *testing.T) {
	var out bytes.Buffer
	hashKeyCmd.SetOut(&out)
	defer hashKeyCmd.SetOut(nil)

	if err := hashKeyCmd.RunE(hashKeyCmd, nil); err != nil {
		t.Fatalf("hash-key error: %v", err)
	}

	var key, hash string
	for _, line := range strings.Split(out.String(), "\n") {
		switch {
		case strings.HasPrefix(line, "API key:"):
			key = strings.TrimSpace(strings.TrimPrefix(line, "API key:"))
		case strings.HasPrefix(line, "Key hash:"):
			hash = strings.TrimSpace(strings.TrimPrefix(line, "Key hash:"))
		}
	}

	if !strings.HasPrefix(key, identity.KeyPrefix) {
		t.Fatalf("generated key %q lacks the %q prefix", key, identity.KeyPrefix)
	}
	if !strings.HasPrefix(hash, "$argon2id$") {
		t.Fatalf("generated hash %q is not argon2id", hash)
	}

	ok, err := identity.VerifyKey(key, hash)
	if err != nil {
		t.Fatalf("VerifyKey() error: %v", err)
	}
	if !ok {
		t.Error("generated hash does not verify against the generated key")
	}
}
