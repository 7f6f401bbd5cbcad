// Package service is the typed command and query surface of the
// decision monitor. It orchestrates the store, engine, governance,
// history, and scheduler collaborators so transports stay thin.
//
// Domain failures surface as typed errors; CodeForError folds them
// into the result codes transports speak. Infrastructure failures
// pass through unchanged.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/decivue/core/pkg/archive"
	"github.com/decivue/core/pkg/contracts"
	"github.com/decivue/core/pkg/detector"
	"github.com/decivue/core/pkg/governance"
	"github.com/decivue/core/pkg/graph"
	"github.com/decivue/core/pkg/history"
	"github.com/decivue/core/pkg/keyring"
	"github.com/decivue/core/pkg/notify"
	"github.com/decivue/core/pkg/scheduler"
	"github.com/decivue/core/pkg/store"
)

// Code classifies an operation outcome for transport layers.
type Code string

const (
	CodeOK                    Code = "OK"
	CodeNotFound              Code = "NOT_FOUND"
	CodeForbidden             Code = "FORBIDDEN"
	CodeLocked                Code = "LOCKED"
	CodeRequiresApproval      Code = "REQUIRES_APPROVAL"
	CodeRequiresJustification Code = "REQUIRES_JUSTIFICATION"
	CodeCyclicDependency      Code = "CYCLIC_DEPENDENCY"
	CodeTerminalState         Code = "TERMINAL_STATE"
	CodeConflict              Code = "CONFLICT"
	CodeInvalid               Code = "INVALID"
	CodeInternal              Code = "INTERNAL"
)

var (
	// ErrTerminalState rejects writes against retired decisions.
	ErrTerminalState = errors.New("decision is in a terminal state")
	// ErrNotConfigured reports a capability the deployment did not
	// wire (archive, signing, detectors).
	ErrNotConfigured = errors.New("capability not configured")
	// ErrUniversalAssumption rejects link rows for universal
	// assumptions; they bind every decision implicitly.
	ErrUniversalAssumption = errors.New("universal assumptions bind without links")
	// ErrInvalidInput covers malformed command input.
	ErrInvalidInput = errors.New("invalid input")
)

// CodeForError folds a domain error into its result code. Unknown
// errors map to CodeInternal, which transports should treat as
// retriable.
func CodeForError(err error) Code {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, store.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, governance.ErrForbidden):
		return CodeForbidden
	case errors.Is(err, governance.ErrLocked):
		return CodeLocked
	case errors.Is(err, graph.ErrCyclicDependency):
		return CodeCyclicDependency
	case errors.Is(err, ErrTerminalState):
		return CodeTerminalState
	case errors.Is(err, store.ErrConflict),
		errors.Is(err, governance.ErrAlreadyResolved),
		errors.Is(err, governance.ErrNotEditRequest),
		errors.Is(err, ErrUniversalAssumption):
		return CodeConflict
	case errors.Is(err, governance.ErrEmptyProposal),
		errors.Is(err, governance.ErrNoApprover),
		errors.Is(err, ErrInvalidInput):
		return CodeInvalid
	default:
		return CodeInternal
	}
}

// Deps are the collaborators a service instance runs on. Store,
// Governance and Scheduler are required; the rest degrade to
// ErrNotConfigured or a logging fallback.
type Deps struct {
	Store      store.Store
	Governance *governance.Manager
	Scheduler  *scheduler.Orchestrator
	Detectors  *detector.Runner
	Sandbox    *detector.Sandbox
	Archive    archive.Backend
	Signer     *keyring.Keyring
	Notifier   notify.Notifier
}

// Service executes commands and queries against one deployment.
type Service struct {
	store      store.Store
	governance *governance.Manager
	scheduler  *scheduler.Orchestrator
	detectors  *detector.Runner
	sandbox    *detector.Sandbox
	archive    archive.Backend
	signer     *keyring.Keyring
	notifier   notify.Notifier
	recorder   *history.Recorder
	logger     *slog.Logger
	clock      func() time.Time
	staleness  time.Duration
}

// Option adjusts service construction.
type Option func(*Service)

// WithClock fixes the time source.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) { s.clock = clock }
}

// WithLogger replaces the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger.With("component", "service") }
}

// WithStaleness sets the evaluation staleness window used by the
// needs-evaluation query.
func WithStaleness(d time.Duration) Option {
	return func(s *Service) { s.staleness = d }
}

// New wires a service. The history recorder shares the service clock.
func New(deps Deps, opts ...Option) (*Service, error) {
	if deps.Store == nil {
		return nil, errors.New("service: store is required")
	}
	if deps.Governance == nil {
		return nil, errors.New("service: governance manager is required")
	}
	if deps.Scheduler == nil {
		return nil, errors.New("service: scheduler is required")
	}

	s := &Service{
		store:      deps.Store,
		governance: deps.Governance,
		scheduler:  deps.Scheduler,
		detectors:  deps.Detectors,
		sandbox:    deps.Sandbox,
		archive:    deps.Archive,
		signer:     deps.Signer,
		notifier:   deps.Notifier,
		logger:     slog.Default().With("component", "service"),
		clock:      time.Now,
		staleness:  24 * time.Hour,
	}
	if s.notifier == nil {
		s.notifier = notify.NewLog(nil)
	}
	for _, opt := range opts {
		opt(s)
	}
	s.recorder = history.NewRecorder().WithClock(s.clock)
	return s, nil
}

// notifyBestEffort delivers n and logs instead of failing the
// surrounding operation.
func (s *Service) notifyBestEffort(ctx context.Context, n contracts.Notification) {
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.logger.WarnContext(ctx, "notification delivery failed",
			"notification_id", n.ID, "type", string(n.Type), "error", err)
	}
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
