// Package trace implements the kernel's progress channel: step-status,
// scope-status and variable-update events, written as an append-only JSONL
// audit trail or fanned out to in-process subscribers.
package trace

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// EventType enumerates all kernel trace event types.
type EventType string

const (
	EventRunStart          EventType = "run_start"
	EventRunComplete       EventType = "run_complete"
	EventScopeStatus       EventType = "scope_status"
	EventStepStatus        EventType = "step_status"
	EventVariableUpdated   EventType = "variable_updated"
	EventMappingApplied    EventType = "mapping_applied"
	EventEvaluationDecided EventType = "evaluation_decided"
	EventMaxJumpsReached   EventType = "max_jumps_reached"
	EventCheckpoint        EventType = "checkpoint"
)

// SigningKeyEnv names the environment variable holding the HMAC key used to
// sign a trace's chain hash on run_complete.
const SigningKeyEnv = "MISSIONKIT_TRACE_SIGNING_KEY"

// Event is a single trace event.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	RunID     string         `json:"run_id"`
	ScopeID   string         `json:"scope_id,omitempty"`
	StepID    string         `json:"step_id,omitempty"`
	Status    string         `json:"status,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	PrevHash  string         `json:"prev_hash,omitempty"`
}

// Sink receives events. Implementations must be safe for concurrent use.
type Sink interface {
	Emit(evt Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(evt Event) error

// Emit calls f.
func (f SinkFunc) Emit(evt Event) error { return f(evt) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) error { return nil })

type multi []Sink

// Multi fans each event out to every sink. All sinks see the event even if
// one fails; the errors are joined.
func Multi(sinks ...Sink) Sink {
	var m multi
	for _, s := range sinks {
		if s != nil {
			m = append(m, s)
		}
	}
	return m
}

func (m multi) Emit(evt Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Emit(evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Writer writes trace events to an append-only JSONL stream. Each line
// carries the SHA-256 of the previous line so the file can be verified.
type Writer struct {
	mu         sync.Mutex
	w          io.Writer
	runID      string
	prevHash   string
	secretVars []string // env var names whose values should be redacted
}

// NewWriter creates a trace writer that writes to the given io.Writer.
// Events with an empty RunID are stamped with runID.
func NewWriter(w io.Writer, runID string) *Writer {
	return &Writer{
		w:        w,
		runID:    runID,
		prevHash: strings.Repeat("0", 64),
	}
}

// NewFileWriter creates a trace writer that appends to a JSONL file.
func NewFileWriter(path, runID string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	return NewWriter(f, runID), nil
}

// SetSecrets configures the writer to redact values of the given env vars.
func (tw *Writer) SetSecrets(envVars []string) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	tw.secretVars = envVars
}

// RedactSecrets replaces secret values in a string with "<REDACTED>".
func (tw *Writer) RedactSecrets(s string) string {
	for _, envVar := range tw.secretVars {
		if val := os.Getenv(envVar); val != "" {
			s = strings.ReplaceAll(s, val, "<REDACTED>")
		}
	}
	return s
}

// Emit writes a single event.
func (tw *Writer) Emit(evt Event) error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if evt.RunID == "" {
		evt.RunID = tw.runID
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	evt.PrevHash = tw.prevHash
	if evt.Type == EventRunComplete {
		evt.Data = tw.seal(evt.Data)
	}

	line, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if len(tw.secretVars) > 0 {
		line = []byte(tw.RedactSecrets(string(line)))
	}
	h := sha256.Sum256(line)
	tw.prevHash = hex.EncodeToString(h[:])

	line = append(line, '\n')
	_, err = tw.w.Write(line)
	return err
}

// seal adds the chain hash and, when a signing key is set, its HMAC.
func (tw *Writer) seal(data map[string]any) map[string]any {
	out := make(map[string]any, len(data)+2)
	for k, v := range data {
		out[k] = v
	}
	out["chain_hash"] = tw.prevHash
	if key := os.Getenv(SigningKeyEnv); key != "" {
		mac := hmac.New(sha256.New, []byte(key))
		mac.Write([]byte(tw.prevHash))
		out["signature"] = hex.EncodeToString(mac.Sum(nil))
	}
	return out
}

// Close closes the underlying writer if it is closable.
func (tw *Writer) Close() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if c, ok := tw.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Deduper drops redelivered step-status events. An event is a duplicate
// when its (step_id, status) matches the last status forwarded for that
// step, so a step that runs again after a jump is still reported.
type Deduper struct {
	mu   sync.Mutex
	next Sink
	last map[string]string
}

// NewDeduper wraps next.
func NewDeduper(next Sink) *Deduper {
	return &Deduper{next: next, last: make(map[string]string)}
}

// Emit forwards evt unless it repeats the step's previous status.
func (d *Deduper) Emit(evt Event) error {
	if evt.Type == EventStepStatus && evt.StepID != "" {
		d.mu.Lock()
		if d.last[evt.StepID] == evt.Status {
			d.mu.Unlock()
			return nil
		}
		d.last[evt.StepID] = evt.Status
		d.mu.Unlock()
	}
	return d.next.Emit(evt)
}
