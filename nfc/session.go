package nfc

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
)

// SessionState is the phase of a scan session.
type SessionState int

const (
	StateIdle SessionState = iota
	StateRequesting
	StateSuccess
	StateCancelled
	StateFailed
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequesting:
		return "requesting"
	case StateSuccess:
		return "success"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Session tracks the single in-flight scan of its owner. A Session is
// reusable: once a scan ends it returns to StateIdle and records the outcome.
type Session struct {
	mu      sync.Mutex
	state   SessionState
	outcome SessionState
	id      string
	cancel  context.CancelFunc
	release func()
}

// NewSession returns an idle session.
func NewSession() *Session {
	return &Session{}
}

// State reports StateIdle or StateRequesting.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Active reports whether a scan is requesting a tag.
func (s *Session) Active() bool {
	return s.State() == StateRequesting
}

// Outcome is the terminal state of the last finished scan, or StateIdle if
// none has finished yet.
func (s *Session) Outcome() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome
}

// ID identifies the current or last scan.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Begin moves the session to StateRequesting. The returned context is
// cancelled by Cancel. release is invoked by Cancel; callers must make it
// idempotent.
func (s *Session) Begin(ctx context.Context, release func()) (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateRequesting {
		return nil, ErrScanInProgress
	}

	scanCtx, cancel := context.WithCancel(ctx)
	s.state = StateRequesting
	s.id = uuid.NewString()
	s.cancel = cancel
	s.release = release
	return scanCtx, nil
}

// Cancel aborts the in-flight scan and releases its technology handle.
// It reports false when nothing was requesting.
func (s *Session) Cancel() bool {
	s.mu.Lock()
	if s.state != StateRequesting {
		s.mu.Unlock()
		return false
	}
	cancel, release := s.cancel, s.release
	s.mu.Unlock()

	cancel()
	if release != nil {
		release()
	}
	return true
}

// finish releases the technology handle, then returns the session to
// StateIdle. The handle is never held by an idle session.
func (s *Session) finish(outcome SessionState) {
	s.mu.Lock()
	release := s.release
	s.mu.Unlock()
	if release != nil {
		release()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	s.state = StateIdle
	s.outcome = outcome
	s.cancel = nil
	s.release = nil
}

// Scanner drives one capability through a scan and resolves the tag.
type Scanner struct {
	Capability   Capability
	Resolver     *Resolver
	Technology   Technology
	AlertMessage string
	Logger       hclog.Logger
}

// NewScanner returns a Scanner that requests NDEF and logs through logger.
func NewScanner(capability Capability, logger hclog.Logger) *Scanner {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Scanner{
		Capability:   capability,
		Resolver:     &Resolver{Logger: logger.Named("resolver")},
		Technology:   TechNDEF,
		AlertMessage: DefaultAlertMessage,
		Logger:       logger,
	}
}

// Scan requests a tag, reads it and resolves its identifier. A nil
// identifier with a nil error means the tag carried no usable data.
//
// The technology handle is released exactly once on every path. Release
// errors are logged only.
func (s *Scanner) Scan(ctx context.Context, session *Session) (*Identifier, error) {
	var once sync.Once
	release := func() {
		once.Do(func() {
			if err := s.Capability.CancelTechnologyRequest(context.Background()); err != nil {
				s.Logger.Warn("failed to release NFC technology", "error", err)
			}
		})
	}

	scanCtx, err := session.Begin(ctx, release)
	if err != nil {
		return nil, err
	}
	// Every return below goes through finish, which releases first. The
	// deferred call only matters if a capability panics.
	defer release()

	s.Logger.Debug("requesting technology", "session", session.ID(), "tech", s.Technology)
	err = s.Capability.RequestTechnology(scanCtx, s.Technology, RequestOptions{AlertMessage: s.AlertMessage})
	if err != nil {
		return nil, s.fail(session, scanCtx, "RequestTechnology", err)
	}
	if scanCtx.Err() != nil {
		return nil, s.fail(session, scanCtx, "RequestTechnology", scanCtx.Err())
	}

	tag, err := s.Capability.GetTag(scanCtx)
	if err != nil {
		return nil, s.fail(session, scanCtx, "GetTag", err)
	}

	ident := s.Resolver.Resolve(tag)
	if ident == nil {
		s.Logger.Debug("tag carried no usable data", "session", session.ID())
		session.finish(StateFailed)
		return nil, nil
	}

	s.Logger.Debug("tag resolved", "session", session.ID(), "nfc_id", ident.NFCID)
	session.finish(StateSuccess)
	return ident, nil
}

func (s *Scanner) fail(session *Session, scanCtx context.Context, op string, err error) error {
	if errors.Is(scanCtx.Err(), context.Canceled) || IsCancelledError(err) {
		s.Logger.Debug("scan cancelled", "session", session.ID(), "op", op)
		session.finish(StateCancelled)
		return NewCancelledError(op, err)
	}

	session.finish(StateFailed)
	var nfcErr *NFCError
	if errors.As(err, &nfcErr) {
		return err
	}
	return NewRequestError(op, err)
}
