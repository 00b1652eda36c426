// Package jsonl implements the newline-delimited JSON wire protocol
// spoken on stdin and stdout: one envelope per line, each carrying a
// type tag and a JSON payload.
//
//	{"type":"request","payload":{"agent_id":"agent-1","service":"email","action":"send_email"}}
//
// The Encoder serializes whole lines under a mutex so concurrent
// writers never interleave partial lines on a shared stream. The
// Decoder enforces a line length cap and, when configured with the
// known type set, rejects unknown tags instead of passing them through.
package jsonl

import (
	"encoding/json"
	"errors"
	"fmt"
)

// DefaultMaxLineBytes caps one wire line at 1MB.
const DefaultMaxLineBytes = 1 << 20

var (
	// ErrUnknownType reports an envelope whose type tag is not in the
	// decoder's known set.
	ErrUnknownType = errors.New("unknown envelope type")
	// ErrLineTooLong reports a line over the decoder's cap. The stream
	// is not recoverable past an overlong line.
	ErrLineTooLong = errors.New("line exceeds length cap")
)

// Envelope is one wire line: a type tag naming the payload's schema and
// the payload itself, kept raw until the receiver picks a type for it.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Unmarshal decodes the payload into v. An envelope without a payload
// is an error; callers skip Unmarshal for payload-free types.
func (e *Envelope) Unmarshal(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("jsonl: %q envelope has no payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("jsonl: %q payload: %w", e.Type, err)
	}
	return nil
}
