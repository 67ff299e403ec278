// Package audit records security-relevant events to an append-only sink.
// Audit writes are strictly best effort: a failed or timed-out write is
// logged and counted but never propagated to the calling operation.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"finnexus.org/internal/ids"
	"finnexus.org/internal/obs"
)

// Event is one append-only audit record.
type Event struct {
	ID         string         `json:"id"`
	Type       string         `json:"event_type"`
	ActorID    string         `json:"actor_id,omitempty"`
	SubjectID  string         `json:"subject_id,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
	Details    map[string]any `json:"details,omitempty"`
}

// Sink appends events to durable storage.
type Sink interface {
	Append(ctx context.Context, ev Event) error
}

// LogSink writes events as JSON lines through the shared logger. It is the
// fallback sink when no document store is configured.
type LogSink struct{}

func (LogSink) Append(_ context.Context, ev Event) error {
	payload := map[string]any{
		"ts":         ev.OccurredAt.UTC().Format(time.RFC3339Nano),
		"type":       "audit",
		"event":      ev.Type,
		"audit_id":   ev.ID,
		"actor_id":   ev.ActorID,
		"subject_id": ev.SubjectID,
	}
	if len(ev.Details) > 0 {
		payload["details"] = ev.Details
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	obs.Logger().Println(string(data))
	return nil
}

// Recorder wraps a Sink with the fail-open contract. Writes are bounded by a
// timeout so a stalled sink cannot block an access decision.
type Recorder struct {
	sink    Sink
	timeout time.Duration
	now     func() time.Time
}

const defaultWriteTimeout = 2 * time.Second

// NewRecorder builds a Recorder. A nil sink falls back to LogSink.
func NewRecorder(sink Sink, timeout time.Duration) *Recorder {
	if sink == nil {
		sink = LogSink{}
	}
	if timeout <= 0 {
		timeout = defaultWriteTimeout
	}
	return &Recorder{sink: sink, timeout: timeout, now: time.Now}
}

// Record appends an event. Failures are swallowed after logging; the caller's
// operation must not depend on audit availability.
func (r *Recorder) Record(ctx context.Context, eventType, actorID, subjectID string, details map[string]any) {
	if r == nil {
		return
	}
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return
	}
	ev := Event{
		ID:         ids.New(),
		Type:       eventType,
		ActorID:    actorID,
		SubjectID:  subjectID,
		OccurredAt: r.now().UTC(),
		Details:    details,
	}
	// Detach from the caller's context so request cancellation does not
	// drop the entry, but still bound the write.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()
	if err := r.sink.Append(writeCtx, ev); err != nil && !errors.Is(err, context.Canceled) {
		obs.AuditDropped()
		obs.Logger().Printf(`{"level":"warn","msg":"audit write failed","event":%q,"error":%q}`, ev.Type, err.Error())
	}
}
