package jsonl

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// Encoder writes envelopes as newline-delimited JSON. Each envelope is
// marshalled to a complete line and written with a single Write call, so
// an Encoder may be shared by concurrent goroutines without interleaving.
type Encoder struct {
	mu sync.Mutex
	w  io.Writer
}

// NewEncoder creates an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes one envelope. A nil payload emits a tag-only envelope.
func (e *Encoder) Encode(typ string, payload any) error {
	env := Envelope{Type: typ}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("jsonl: marshal %q payload: %w", typ, err)
		}
		env.Payload = raw
	}
	line, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("jsonl: marshal envelope: %w", err)
	}
	line = append(line, '\n')

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.w.Write(line); err != nil {
		return fmt.Errorf("jsonl: write: %w", err)
	}
	return nil
}

// DecoderOption configures a Decoder.
type DecoderOption func(*Decoder)

// WithMaxLineBytes overrides the line length cap.
func WithMaxLineBytes(n int) DecoderOption {
	return func(d *Decoder) {
		d.maxLine = n
	}
}

// WithKnownTypes restricts the decoder to the given type tags. Without
// this option every tag passes.
func WithKnownTypes(types ...string) DecoderOption {
	return func(d *Decoder) {
		d.known = make(map[string]bool, len(types))
		for _, t := range types {
			d.known[t] = true
		}
	}
}

// Decoder reads envelopes from a newline-delimited JSON stream. Blank
// lines are skipped. Not safe for concurrent use; streams have one
// reader.
type Decoder struct {
	scanner *bufio.Scanner
	known   map[string]bool
	maxLine int
	line    int
}

// NewDecoder creates a Decoder reading from r.
func NewDecoder(r io.Reader, opts ...DecoderOption) *Decoder {
	d := &Decoder{maxLine: DefaultMaxLineBytes}
	for _, opt := range opts {
		opt(d)
	}
	d.scanner = bufio.NewScanner(r)
	// Payloads can be large; grow from 256KB up to the cap.
	initial := 256 * 1024
	if initial > d.maxLine {
		initial = d.maxLine
	}
	d.scanner.Buffer(make([]byte, 0, initial), d.maxLine)
	return d
}

// Decode returns the next envelope. io.EOF signals a cleanly exhausted
// stream; any other error poisons the decoder.
func (d *Decoder) Decode() (*Envelope, error) {
	for d.scanner.Scan() {
		d.line++
		raw := bytes.TrimSpace(d.scanner.Bytes())
		if len(raw) == 0 {
			continue
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, fmt.Errorf("jsonl: line %d: %w", d.line, err)
		}
		if env.Type == "" {
			return nil, fmt.Errorf("jsonl: line %d: envelope has no type", d.line)
		}
		if d.known != nil && !d.known[env.Type] {
			return nil, fmt.Errorf("jsonl: line %d: %w: %q", d.line, ErrUnknownType, env.Type)
		}
		return &env, nil
	}

	if err := d.scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return nil, fmt.Errorf("jsonl: line %d: %w (cap %d bytes)", d.line+1, ErrLineTooLong, d.maxLine)
		}
		return nil, fmt.Errorf("jsonl: read: %w", err)
	}
	return nil, io.EOF
}

// Line reports the number of the last line consumed.
func (d *Decoder) Line() int {
	return d.line
}
