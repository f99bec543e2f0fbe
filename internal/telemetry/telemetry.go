// Package telemetry provides a JSONL event stream for recording scheduling
// decisions. Every claim, release, stage transition, readiness pass and
// dispatch is recorded as a structured JSON event, making board activity
// auditable, replayable, and analyzable.
package telemetry

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Event kinds identify the type of telemetry event.
const (
	KindStageTransition   = "stage_transition"
	KindClaimAcquired     = "claim_acquired"
	KindClaimConflict     = "claim_conflict"
	KindClaimReleased     = "claim_released"
	KindReadinessComputed = "readiness_computed"
	KindCycleDetected     = "cycle_detected"
	KindScoreRejected     = "score_rejected"
	KindWorkStarted       = "work_started"
	KindDispatchOK        = "dispatch_ok"
	KindDispatchFailed    = "dispatch_failed"
	KindPollCycleStart    = "poll_cycle_start"
	KindPollCycleDone     = "poll_cycle_done"
)

// Event represents a single telemetry record. Each event carries a timestamp,
// a kind tag, and optional context identifiers (board, item) along with
// arbitrary structured data.
type Event struct {
	Timestamp time.Time `json:"ts"`
	Kind      string    `json:"kind"`
	BoardID   string    `json:"board,omitempty"`
	ItemID    string    `json:"item,omitempty"`
	Data      any       `json:"data,omitempty"`
}

// Emitter writes telemetry events as JSONL. It is safe for concurrent use by
// multiple goroutines. A nil *Emitter is a valid no-op emitter.
type Emitter struct {
	closer io.Closer
	enc    *json.Encoder
	mu     sync.Mutex
	now    func() time.Time
}

// NewEmitter creates a new Emitter that writes JSONL events to the file at
// path. The file is created if it does not exist, or appended to if it does.
func NewEmitter(path string) (*Emitter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("telemetry: open %s: %w", path, err)
	}
	e := NewWriterEmitter(f)
	e.closer = f
	return e, nil
}

// NewWriterEmitter creates an Emitter over w. Close does not close w.
func NewWriterEmitter(w io.Writer) *Emitter {
	return &Emitter{
		enc: json.NewEncoder(w),
		now: time.Now,
	}
}

// Emit writes a single event. A zero Timestamp is filled with the current
// time. Calling Emit on a nil Emitter is a no-op.
func (e *Emitter) Emit(evt Event) error {
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if evt.Timestamp.IsZero() {
		evt.Timestamp = e.now().UTC()
	}
	if err := e.enc.Encode(evt); err != nil {
		return fmt.Errorf("telemetry: encode event: %w", err)
	}
	return nil
}

// Record is shorthand for emitting an event about one item.
func (e *Emitter) Record(kind, boardID, itemID string, data any) error {
	return e.Emit(Event{Kind: kind, BoardID: boardID, ItemID: itemID, Data: data})
}

// Close closes the underlying file, if the Emitter owns one. Calling Close
// on a nil Emitter is a no-op.
func (e *Emitter) Close() error {
	if e == nil || e.closer == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.closer.Close(); err != nil {
		return fmt.Errorf("telemetry: close: %w", err)
	}
	return nil
}
