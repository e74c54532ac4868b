// Package protocol implements the channel between the scheduler and an
// execution unit.
//
// Each unit gets two anonymous pipes carrying newline-delimited JSON.
// The parent writes a single Grant once it holds an admission slot for the
// unit. The child answers with exactly two messages: the readiness
// sentinel (the JSON number 0) and a Final result.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/randomizedcoder/go-test-swarm/internal/status"
)

// File descriptor numbers inside the child. ExtraFiles[0] becomes fd 3 and
// ExtraFiles[1] becomes fd 4.
const (
	ChildWriteFD = 3
	ChildReadFD  = 4
)

// ErrNoFinal is wrapped by a ProtocolError when the child exited without
// sending its result.
var ErrNoFinal = errors.New("no final message")

// Grant is sent parent -> child after an admission slot was acquired.
type Grant struct {
	TestName     string    `json:"test_name"`
	MaxReruns    int       `json:"max_reruns"`
	SessionID    string    `json:"session_id"`
	SessionStart time.Time `json:"session_start"`
	LogDir       string    `json:"log_dir,omitempty"`
	LogLevel     string    `json:"log_level,omitempty"`
}

// Final is the result message sent child -> parent.
type Final struct {
	TestName string        `json:"test_name"`
	Status   status.Status `json:"status"`
	Duration float64       `json:"duration"`
	Retries  int           `json:"retries"`
	Message  string        `json:"message,omitempty"`
}

// DurationValue converts the wire duration (seconds) to a time.Duration.
func (f *Final) DurationValue() time.Duration {
	return time.Duration(f.Duration * float64(time.Second))
}

// ProtocolError reports a missing, out-of-order or undecodable message.
type ProtocolError struct {
	TestName string
	Reason   string
	Err      error
}

func (e *ProtocolError) Error() string {
	msg := fmt.Sprintf("protocol error for %s: %s", e.TestName, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// Writer encodes messages onto one end of a channel. It is safe for
// concurrent use.
type Writer struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewWriter returns a Writer encoding onto w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{enc: json.NewEncoder(w)}
}

func (w *Writer) encode(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enc.Encode(v)
}

// Ready sends the readiness sentinel.
func (w *Writer) Ready() error { return w.encode(0) }

// Final sends the result message.
func (w *Writer) Final(f Final) error { return w.encode(f) }

// Grant sends the admission grant.
func (w *Writer) Grant(g Grant) error { return w.encode(g) }

// ReadGrant blocks until the parent sends a grant or closes the pipe.
func ReadGrant(r io.Reader) (Grant, error) {
	var g Grant
	if err := json.NewDecoder(r).Decode(&g); err != nil {
		if errors.Is(err, io.EOF) {
			return g, fmt.Errorf("channel closed before grant: %w", err)
		}
		return g, fmt.Errorf("decode grant: %w", err)
	}
	if g.TestName == "" {
		return g, errors.New("grant without test name")
	}
	return g, nil
}
