// Package boundary records what crosses each phase boundary: entries,
// exits, TTL checkpoints, and failures.
//
// Boundary recording is best-effort by rule: a failed write can never
// disrupt the cycle, so every method swallows persistence errors after
// logging them at debug level.
package boundary

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/loopkit/quadra/internal/collab"
	"github.com/loopkit/quadra/internal/logging"
	"github.com/loopkit/quadra/internal/phase"
)

// EventKind labels a boundary event.
type EventKind string

const (
	EventPhaseEntry    EventKind = "phase_entry"
	EventPhaseExit     EventKind = "phase_exit"
	EventTTLCheckpoint EventKind = "ttl_checkpoint"
	EventFailure       EventKind = "failure"
)

// Event is one recorded boundary crossing.
type Event struct {
	Kind          EventKind   `json:"kind"`
	Phase         phase.Phase `json:"phase"`
	PassNumber    int         `json:"pass_number"`
	CorrelationID string      `json:"correlation_id"`
	Timestamp     time.Time   `json:"timestamp"`
	TTLRemaining  int         `json:"ttl_remaining"`

	// Snapshot carries the context summary at entry, or the outputs
	// summary at exit.
	Snapshot map[string]any `json:"snapshot,omitempty"`

	// Checkpoint names the TTL checkpoint location for EventTTLCheckpoint.
	Checkpoint string `json:"checkpoint,omitempty"`

	// Failure carries the structured failure for EventFailure.
	Failure json.RawMessage `json:"failure,omitempty"`
}

// Logger records boundary events to the structured log and, when a
// memory is attached, persists them for later inspection.
type Logger struct {
	log    *logging.Logger
	memory collab.Memory
	corrID string
	seq    atomic.Uint64
}

// New creates a boundary logger. memory may be nil to log only.
func New(log *logging.Logger, memory collab.Memory, correlationID string) *Logger {
	return &Logger{log: log, memory: memory, corrID: correlationID}
}

// PhaseEntry records entry into a phase with its context snapshot.
func (l *Logger) PhaseEntry(ctx context.Context, ph phase.Phase, pass, ttl int, snapshot map[string]any) {
	l.record(ctx, Event{
		Kind:         EventPhaseEntry,
		Phase:        ph,
		PassNumber:   pass,
		TTLRemaining: ttl,
		Snapshot:     snapshot,
	})
}

// PhaseExit records completion of a phase with its output snapshot.
func (l *Logger) PhaseExit(ctx context.Context, ph phase.Phase, pass, ttl int, snapshot map[string]any) {
	l.record(ctx, Event{
		Kind:         EventPhaseExit,
		Phase:        ph,
		PassNumber:   pass,
		TTLRemaining: ttl,
		Snapshot:     snapshot,
	})
}

// TTLCheckpoint records a budget check. checkpoint is "phase_boundary"
// or "mid_phase".
func (l *Logger) TTLCheckpoint(ctx context.Context, ph phase.Phase, pass, ttl int, checkpoint string) {
	l.record(ctx, Event{
		Kind:         EventTTLCheckpoint,
		Phase:        ph,
		PassNumber:   pass,
		TTLRemaining: ttl,
		Checkpoint:   checkpoint,
	})
}

// Failure records a structured failure at the boundary where it surfaced.
func (l *Logger) Failure(ctx context.Context, ph phase.Phase, pass, ttl int, failure any) {
	raw, err := json.Marshal(failure)
	if err != nil {
		raw = json.RawMessage(fmt.Sprintf("%q", fmt.Sprint(failure)))
	}
	l.record(ctx, Event{
		Kind:         EventFailure,
		Phase:        ph,
		PassNumber:   pass,
		TTLRemaining: ttl,
		Failure:      raw,
	})
}

func (l *Logger) record(ctx context.Context, ev Event) {
	ev.CorrelationID = l.corrID
	ev.Timestamp = time.Now().UTC()

	if l.log != nil {
		l.log.Info(ctx, "boundary event",
			zap.String("kind", string(ev.Kind)),
			zap.String("phase", string(ev.Phase)),
			zap.Int("pass_number", ev.PassNumber),
			zap.Int("ttl_remaining", ev.TTLRemaining),
			zap.String("checkpoint", ev.Checkpoint),
		)
	}

	if l.memory == nil {
		return
	}
	buf, err := json.Marshal(ev)
	if err != nil {
		l.debugDrop(ctx, err)
		return
	}
	seq := l.seq.Add(1)
	key := fmt.Sprintf("boundary.%s.%06d", l.corrID, seq)
	if err := l.memory.Write(ctx, key, buf); err != nil {
		l.debugDrop(ctx, err)
	}
}

// debugDrop notes a dropped boundary record without surfacing the error.
func (l *Logger) debugDrop(ctx context.Context, err error) {
	if l.log != nil {
		l.log.Debug(ctx, "boundary record dropped", zap.Error(err))
	}
}
