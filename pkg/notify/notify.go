// Package notify carries typed notification requests out of the core.
// Delivery channels are external; the core only emits.
package notify

import (
	"context"
	"log/slog"
	"sync"

	"github.com/decivue/core/pkg/contracts"
)

// Notifier receives notification requests. Implementations must be
// safe for concurrent use.
type Notifier interface {
	Notify(ctx context.Context, n contracts.Notification) error
}

// Log writes notifications to structured logs. It is the default sink
// for deployments without a delivery integration.
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger.With("component", "notify")}
}

func (l *Log) Notify(ctx context.Context, n contracts.Notification) error {
	level := slog.LevelInfo
	switch n.Severity {
	case contracts.SeverityWarning:
		level = slog.LevelWarn
	case contracts.SeverityCritical:
		level = slog.LevelError
	}
	l.logger.Log(ctx, level, n.Message,
		"notification_id", n.ID,
		"organization_id", n.OrganizationID,
		"decision_id", n.DecisionID,
		"type", string(n.Type),
	)
	return nil
}

// Store is the persistence surface the recorder writes through.
type Store interface {
	AppendNotification(ctx context.Context, n contracts.Notification) error
}

// Recorder persists every notification before handing it to the next
// sink, so the API can list what was emitted.
type Recorder struct {
	store Store
	next  Notifier
}

// NewRecorder wraps next with persistence. A nil next just records.
func NewRecorder(store Store, next Notifier) *Recorder {
	return &Recorder{store: store, next: next}
}

func (r *Recorder) Notify(ctx context.Context, n contracts.Notification) error {
	if err := r.store.AppendNotification(ctx, n); err != nil {
		return err
	}
	if r.next == nil {
		return nil
	}
	return r.next.Notify(ctx, n)
}

// Memory collects notifications in order. Test double.
type Memory struct {
	mu   sync.Mutex
	sent []contracts.Notification
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Notify(_ context.Context, n contracts.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, n)
	return nil
}

// Sent returns a copy of everything notified so far.
func (m *Memory) Sent() []contracts.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]contracts.Notification, len(m.sent))
	copy(out, m.sent)
	return out
}
