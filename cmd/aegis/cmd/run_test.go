package cmd

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"go.uber.org/goleak"

	"github.com/fe-row/AEGIS/internal/config"
	"github.com/fe-row/AEGIS/pkg/aegis"
	"github.com/fe-row/AEGIS/pkg/jsonl"
)

// runLoopConfig builds a validated configuration granting agent-1 an
// always-open email permission, with audit on stdout so decision
// records ride the stream.
func runLoopConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Agents: []config.AgentConfig{{
			ID:     "agent-1",
			Name:   "research-bot",
			Type:   "assistant",
			Wallet: config.WalletConfig{Balance: 100},
			Permissions: []config.PermissionConfig{{
				Service:            "email",
				AllowedActions:     []string{"send_email"},
				MaxRequestsPerHour: 100,
				TimeWindowStart:    "00:00",
				TimeWindowEnd:      "23:59",
			}},
		}},
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("config: %v", err)
	}
	return cfg
}

// streamCapture is everything decoded back out of a run stream.
type streamCapture struct {
	verdicts map[string]verdictMsg
	audits   []aegis.DecisionRecord
	stats    *aegis.Stats
	lastType string
}

func decodeStream(t *testing.T, out io.Reader) *streamCapture {
	t.Helper()
	sc := &streamCapture{verdicts: make(map[string]verdictMsg)}
	dec := jsonl.NewDecoder(out)
	for {
		env, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			return sc
		}
		if err != nil {
			t.Fatalf("decode stream: %v", err)
		}
		sc.lastType = env.Type
		switch env.Type {
		case msgVerdict:
			var v verdictMsg
			if err := env.Unmarshal(&v); err != nil {
				t.Fatalf("verdict payload: %v", err)
			}
			sc.verdicts[v.RequestID] = v
		case msgAudit:
			var rec aegis.DecisionRecord
			if err := env.Unmarshal(&rec); err != nil {
				t.Fatalf("audit payload: %v", err)
			}
			sc.audits = append(sc.audits, rec)
		case msgStats:
			var st aegis.Stats
			if err := env.Unmarshal(&st); err != nil {
				t.Fatalf("stats payload: %v", err)
			}
			sc.stats = &st
		default:
			t.Fatalf("unexpected envelope type %q", env.Type)
		}
	}
}

func TestRunCmd_Registered(t *testing.T) {
	found := false
	for _, cmd := range rootCmd.Commands() {
		if cmd.Name() == "run" {
			found = true
			break
		}
	}
	if !found {
		t.Error("run command not registered with rootCmd")
	}
}

func TestRunCmd_FlagDefaults(t *testing.T) {
	permissions, err := runCmd.Flags().GetString("permissions")
	if err != nil {
		t.Fatalf("get permissions flag: %v", err)
	}
	if permissions != "" {
		t.Errorf("permissions default = %q, want empty", permissions)
	}

	dev, err := runCmd.Flags().GetBool("dev")
	if err != nil {
		t.Fatalf("get dev flag: %v", err)
	}
	if dev {
		t.Error("dev default = true, want false")
	}
}

func TestRunLoop_EndToEnd(t *testing.T) {
	defer goleak.VerifyNone(t)

	var in bytes.Buffer
	inEnc := jsonl.NewEncoder(&in)
	mustEncode(t, inEnc, msgRequest, aegis.Request{
		ID:            "req-allow",
		AgentID:       "agent-1",
		Service:       "email",
		Action:        "send_email",
		EstimatedCost: 1.0,
	})
	mustEncode(t, inEnc, msgRequest, aegis.Request{
		ID:      "req-deny",
		AgentID: "agent-1",
		Service: "database",
		Action:  "read_record",
	})
	mustEncode(t, inEnc, msgShutdown, nil)

	var out, metricsOut bytes.Buffer
	err := runLoop(context.Background(), runLoopConfig(t), "", &in, &out, &metricsOut, quietLogger())
	if err != nil {
		t.Fatalf("runLoop() error: %v", err)
	}

	stream := decodeStream(t, &out)
	if len(stream.verdicts) != 2 {
		t.Fatalf("got %d verdicts, want 2", len(stream.verdicts))
	}

	allow := stream.verdicts["req-allow"]
	if allow.Outcome != aegis.OutcomeAllowed {
		t.Errorf("req-allow outcome = %s, want allowed", allow.Outcome)
	}
	if allow.Error != "" {
		t.Errorf("req-allow error = %q, want empty", allow.Error)
	}
	if allow.CostCharged != 1.0 {
		t.Errorf("req-allow cost charged = %v, want 1.0", allow.CostCharged)
	}

	deny := stream.verdicts["req-deny"]
	if deny.Outcome != aegis.OutcomeDenied {
		t.Errorf("req-deny outcome = %s, want denied", deny.Outcome)
	}
	if deny.Error == "" {
		t.Error("req-deny error is empty, want the block error")
	}

	// Close drains the audit queue before the stats envelope is written.
	if len(stream.audits) != 2 {
		t.Errorf("got %d audit envelopes, want 2", len(stream.audits))
	}
	if stream.stats == nil {
		t.Fatal("no stats envelope on the stream")
	}
	if stream.lastType != msgStats {
		t.Errorf("last envelope type = %q, want %q", stream.lastType, msgStats)
	}
	if stream.stats.Allowed != 1 || stream.stats.Denied != 1 {
		t.Errorf("stats allowed/denied = %d/%d, want 1/1", stream.stats.Allowed, stream.stats.Denied)
	}

	if !strings.Contains(metricsOut.String(), "aegis_decisions_total") {
		t.Error("metrics dump missing aegis_decisions_total")
	}
}

func TestRunLoop_DeferredEscalation(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := runLoopConfig(t)
	cfg.Approval.Mode = "defer"
	cfg.Agents[0].Permissions[0].RequiresHITL = true

	var in bytes.Buffer
	inEnc := jsonl.NewEncoder(&in)
	mustEncode(t, inEnc, msgRequest, aegis.Request{
		ID:      "req-hitl",
		AgentID: "agent-1",
		Service: "email",
		Action:  "send_email",
	})
	mustEncode(t, inEnc, msgShutdown, nil)

	var out, metricsOut bytes.Buffer
	if err := runLoop(context.Background(), cfg, "", &in, &out, &metricsOut, quietLogger()); err != nil {
		t.Fatalf("runLoop() error: %v", err)
	}

	stream := decodeStream(t, &out)
	verdict, ok := stream.verdicts["req-hitl"]
	if !ok {
		t.Fatal("no verdict for req-hitl")
	}
	if verdict.Outcome != aegis.OutcomeEscalated {
		t.Errorf("outcome = %s, want escalated", verdict.Outcome)
	}
	if !verdict.RequiresReview {
		t.Error("RequiresReview = false, want true")
	}
	if verdict.ApprovalID == "" {
		t.Error("ApprovalID is empty, want the queue entry id")
	}
}

func TestRunLoop_DrainsParkedReviewsAtEOF(t *testing.T) {
	defer goleak.VerifyNone(t)

	// Await mode with no approval on the stream: once stdin ends the
	// parked request must be released, not left to run out the TTL.
	cfg := runLoopConfig(t)
	cfg.Approval.Mode = "await"
	cfg.Approval.TTL = "5s"
	cfg.Agents[0].Permissions[0].RequiresHITL = true

	var in bytes.Buffer
	inEnc := jsonl.NewEncoder(&in)
	mustEncode(t, inEnc, msgRequest, aegis.Request{
		ID:      "req-parked",
		AgentID: "agent-1",
		Service: "email",
		Action:  "send_email",
	})

	var out, metricsOut bytes.Buffer
	if err := runLoop(context.Background(), cfg, "", &in, &out, &metricsOut, quietLogger()); err != nil {
		t.Fatalf("runLoop() error: %v", err)
	}

	stream := decodeStream(t, &out)
	verdict, ok := stream.verdicts["req-parked"]
	if !ok {
		t.Fatal("no verdict for req-parked")
	}
	if verdict.Outcome != aegis.OutcomeRejected {
		t.Errorf("outcome = %s, want rejected", verdict.Outcome)
	}
	if verdict.Error == "" {
		t.Error("expected the timeout error on the verdict")
	}
}

func TestRunLoop_SkipsUnparseableLines(t *testing.T) {
	defer goleak.VerifyNone(t)

	var in bytes.Buffer
	in.WriteString("this is not json\n")
	in.WriteString(`{"type":"bogus","payload":{}}` + "\n")
	inEnc := jsonl.NewEncoder(&in)
	mustEncode(t, inEnc, msgRequest, aegis.Request{
		ID:            "req-1",
		AgentID:       "agent-1",
		Service:       "email",
		Action:        "send_email",
		EstimatedCost: 1.0,
	})

	var out, metricsOut bytes.Buffer
	if err := runLoop(context.Background(), runLoopConfig(t), "", &in, &out, &metricsOut, quietLogger()); err != nil {
		t.Fatalf("runLoop() error: %v", err)
	}

	stream := decodeStream(t, &out)
	if len(stream.verdicts) != 1 {
		t.Fatalf("got %d verdicts, want 1", len(stream.verdicts))
	}
	if stream.verdicts["req-1"].Outcome != aegis.OutcomeAllowed {
		t.Errorf("outcome = %s, want allowed", stream.verdicts["req-1"].Outcome)
	}
}

func TestRunLoop_OverlongLineUnrecoverable(t *testing.T) {
	defer goleak.VerifyNone(t)

	var in bytes.Buffer
	in.WriteString(strings.Repeat("x", jsonl.DefaultMaxLineBytes+1))
	in.WriteString("\n")

	var out, metricsOut bytes.Buffer
	err := runLoop(context.Background(), runLoopConfig(t), "", &in, &out, &metricsOut, quietLogger())
	if !errors.Is(err, jsonl.ErrLineTooLong) {
		t.Fatalf("runLoop() = %v, want ErrLineTooLong", err)
	}

	// The stream still closes cleanly with a stats envelope.
	stream := decodeStream(t, &out)
	if stream.stats == nil {
		t.Error("no stats envelope after an unrecoverable stream error")
	}
}

func TestRunLoop_UnknownApprovalIDTolerated(t *testing.T) {
	defer goleak.VerifyNone(t)

	var in bytes.Buffer
	inEnc := jsonl.NewEncoder(&in)
	mustEncode(t, inEnc, msgApproval, approvalMsg{ID: "no-such-review", Approve: true, DecidedBy: "ops"})
	mustEncode(t, inEnc, msgRequest, aegis.Request{
		ID:            "req-after",
		AgentID:       "agent-1",
		Service:       "email",
		Action:        "send_email",
		EstimatedCost: 1.0,
	})
	mustEncode(t, inEnc, msgShutdown, nil)

	var out, metricsOut bytes.Buffer
	if err := runLoop(context.Background(), runLoopConfig(t), "", &in, &out, &metricsOut, quietLogger()); err != nil {
		t.Fatalf("runLoop() error: %v", err)
	}

	stream := decodeStream(t, &out)
	if stream.verdicts["req-after"].Outcome != aegis.OutcomeAllowed {
		t.Error("request after a failed approval was not processed")
	}
}

func mustEncode(t *testing.T, enc *jsonl.Encoder, typ string, payload any) {
	t.Helper()
	if err := enc.Encode(typ, payload); err != nil {
		t.Fatalf("encode %s: %v", typ, err)
	}
}
