// Package governance enforces who may change a decision and with how
// much ceremony: the edit gate, the second-reviewer approval workflow,
// decision locks, and automatic tier escalation from conflict counts.
package governance

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/decivue/core/pkg/contracts"
	"github.com/decivue/core/pkg/history"
	"github.com/decivue/core/pkg/notify"
	"github.com/decivue/core/pkg/store"
)

// MinJustificationChars is the shortest justification accepted where
// one is required.
const MinJustificationChars = 10

var (
	ErrForbidden       = errors.New("forbidden")
	ErrLocked          = errors.New("decision is locked")
	ErrNoApprover      = errors.New("no eligible approver")
	ErrEmptyProposal   = errors.New("proposed changes are empty")
	ErrNotEditRequest  = errors.New("audit entry is not an edit request")
	ErrAlreadyResolved = errors.New("edit request already resolved")
)

// Directory resolves organization membership. Backed by the identity
// provider; governance only needs the lead roster for approver pools.
type Directory interface {
	Leads(ctx context.Context, orgID string) ([]contracts.Actor, error)
}

// Manager is the governance state machine over one store.
type Manager struct {
	store     store.Store
	directory Directory
	notifier  notify.Notifier
	recorder  *history.Recorder
	logger    *slog.Logger
	clock     func() time.Time
}

func NewManager(st store.Store, directory Directory, notifier notify.Notifier) *Manager {
	return &Manager{
		store:     st,
		directory: directory,
		notifier:  notifier,
		recorder:  history.NewRecorder(),
		logger:    slog.Default().With("component", "governance"),
		clock:     time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (m *Manager) WithClock(clock func() time.Time) *Manager {
	m.clock = clock
	m.recorder = m.recorder.WithClock(clock)
	return m
}

// WithLogger replaces the default logger.
func (m *Manager) WithLogger(logger *slog.Logger) *Manager {
	m.logger = logger
	return m
}
