package flow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"email-signer/poller"
	"email-signer/shared"
)

// SessionKind identifies the flow a session runs
type SessionKind string

const (
	KindApproval     SessionKind = "approval"
	KindRegistration SessionKind = "registration"
)

// SessionState tracks a session through its lifetime
type SessionState int

const (
	SessionStateRunning SessionState = iota
	SessionStateCompleted
	SessionStateFailed
	SessionStateClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionStateRunning:
		return "running"
	case SessionStateCompleted:
		return "completed"
	case SessionStateFailed:
		return "failed"
	case SessionStateClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Session is one run of a flow: its step log, the poller it owns and its outcome
type Session struct {
	ID        string
	Kind      SessionKind
	Key       string
	CreatedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc

	steps *shared.StepLog
	done  chan struct{}

	mu           sync.Mutex
	poller       *poller.Poller
	state        SessionState
	outcome      *shared.ApprovalOutcome
	lastActiveAt time.Time
}

func newSession(kind SessionKind, key string) (*Session, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()
	return &Session{
		ID:           id.String(),
		Kind:         kind,
		Key:          key,
		CreatedAt:    now,
		ctx:          ctx,
		cancel:       cancel,
		steps:        shared.NewStepLog(),
		state:        SessionStateRunning,
		lastActiveAt: now,
		done:         make(chan struct{}),
	}, nil
}

// NewSession creates a standalone session not tracked by any manager
func NewSession(kind SessionKind) *Session {
	s, err := newSession(kind, "")
	if err != nil {
		// uuid.NewRandom only fails when the system random source does
		panic(err)
	}
	return s
}

// Context is cancelled when the session is closed
func (s *Session) Context() context.Context {
	return s.ctx
}

// Steps returns the session's step log
func (s *Session) Steps() *shared.StepLog {
	return s.steps
}

// Touch marks the session active
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActiveAt = time.Now()
	s.mu.Unlock()
}

// State returns the session state
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Outcome returns the terminal outcome once the flow has finished
func (s *Session) Outcome() (shared.ApprovalOutcome, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outcome == nil {
		return shared.ApprovalOutcome{}, false
	}
	return *s.outcome, true
}

// Done is closed when the flow records its outcome or the session closes
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// newPoller creates the poller owned by this session, cancelling any previous one
func (s *Session) newPoller(source poller.StatusSource, config poller.Config, logger *shared.Logger) *poller.Poller {
	s.mu.Lock()
	previous := s.poller
	config.Steps = s.steps
	p := poller.New(source, config, logger)
	s.poller = p
	s.mu.Unlock()

	if previous != nil {
		previous.Cancel()
	}
	return p
}

// Poller returns the session's current poller, if any
func (s *Session) Poller() *poller.Poller {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.poller
}

// Finish records the terminal outcome; only the first call has an effect
func (s *Session) Finish(outcome shared.ApprovalOutcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.outcome != nil || s.state == SessionStateClosed {
		return
	}
	s.outcome = &outcome
	if outcome.Success {
		s.state = SessionStateCompleted
	} else {
		s.state = SessionStateFailed
	}
	s.lastActiveAt = time.Now()
	close(s.done)
}

// Close cancels the session context and its poller. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == SessionStateClosed {
		s.mu.Unlock()
		return
	}
	finished := s.outcome != nil
	s.state = SessionStateClosed
	p := s.poller
	s.mu.Unlock()

	s.cancel()
	if p != nil {
		p.Cancel()
	}
	s.steps.Close()
	if !finished {
		close(s.done)
	}
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActiveAt
}

// SessionManager tracks live sessions. A session created with a key replaces
// (and closes) any live session holding the same key.
type SessionManager struct {
	sessions       map[string]*Session
	byKey          map[string]*Session
	mutex          sync.Mutex
	cleanupTicker  *time.Ticker
	cleanupDone    chan struct{}
	stopOnce       sync.Once
	sessionTimeout time.Duration
}

// NewSessionManager creates a new session manager
func NewSessionManager(sessionTimeout time.Duration) *SessionManager {
	if sessionTimeout <= 0 {
		sessionTimeout = 30 * time.Minute
	}
	return &SessionManager{
		sessions:       make(map[string]*Session),
		byKey:          make(map[string]*Session),
		cleanupDone:    make(chan struct{}),
		sessionTimeout: sessionTimeout,
	}
}

// CreateSession creates and registers a session
func (sm *SessionManager) CreateSession(kind SessionKind, key string) (*Session, error) {
	session, err := newSession(kind, key)
	if err != nil {
		return nil, err
	}

	sm.mutex.Lock()
	var previous *Session
	if key != "" {
		previous = sm.byKey[key]
		sm.byKey[key] = session
	}
	if previous != nil {
		delete(sm.sessions, previous.ID)
	}
	sm.sessions[session.ID] = session
	sm.mutex.Unlock()

	if previous != nil {
		previous.Close()
	}
	return session, nil
}

// GetSession retrieves a session by ID
func (sm *SessionManager) GetSession(sessionID string) (*Session, error) {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	session, exists := sm.sessions[sessionID]
	if !exists {
		return nil, fmt.Errorf("session %s not found", sessionID)
	}
	return session, nil
}

// CloseSession closes and removes a session
func (sm *SessionManager) CloseSession(sessionID string) error {
	sm.mutex.Lock()
	session, exists := sm.sessions[sessionID]
	if !exists {
		sm.mutex.Unlock()
		return fmt.Errorf("session %s not found", sessionID)
	}
	sm.remove(session)
	sm.mutex.Unlock()

	session.Close()
	return nil
}

// Len returns the number of live sessions
func (sm *SessionManager) Len() int {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()
	return len(sm.sessions)
}

// StartCleanupRoutine expires idle sessions every interval
func (sm *SessionManager) StartCleanupRoutine(interval time.Duration) {
	sm.cleanupTicker = time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-sm.cleanupTicker.C:
				sm.cleanupExpiredSessions(time.Now())
			case <-sm.cleanupDone:
				return
			}
		}
	}()
}

// Stop stops the cleanup routine and closes every session
func (sm *SessionManager) Stop() {
	sm.stopOnce.Do(func() {
		if sm.cleanupTicker != nil {
			sm.cleanupTicker.Stop()
		}
		close(sm.cleanupDone)

		sm.mutex.Lock()
		sessions := make([]*Session, 0, len(sm.sessions))
		for _, session := range sm.sessions {
			sessions = append(sessions, session)
			sm.remove(session)
		}
		sm.mutex.Unlock()

		for _, session := range sessions {
			session.Close()
		}
	})
}

// cleanupExpiredSessions closes sessions idle for longer than the timeout
func (sm *SessionManager) cleanupExpiredSessions(now time.Time) int {
	sm.mutex.Lock()
	var expired []*Session
	for _, session := range sm.sessions {
		if now.Sub(session.idleSince()) > sm.sessionTimeout {
			expired = append(expired, session)
			sm.remove(session)
		}
	}
	sm.mutex.Unlock()

	for _, session := range expired {
		session.Close()
	}
	return len(expired)
}

// remove must be called with sm.mutex held
func (sm *SessionManager) remove(session *Session) {
	delete(sm.sessions, session.ID)
	if session.Key != "" && sm.byKey[session.Key] == session {
		delete(sm.byKey, session.Key)
	}
}
