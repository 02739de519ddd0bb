package guard

import (
	"context"
	"sync"

	"medportal/internal/security"
)

type Status int

const (
	Loading Status = iota
	Authenticated
	Unauthenticated
)

func (s Status) String() string {
	switch s {
	case Loading:
		return "loading"
	case Authenticated:
		return "authenticated"
	case Unauthenticated:
		return "unauthenticated"
	}
	return "unknown"
}

// State is a snapshot of a token holder's session. Reason carries the
// validation error behind an Unauthenticated state, for diagnostics only.
type State struct {
	Status   Status
	Identity security.Identity
	Reason   error
}

// ValidateFunc establishes a token's identity. It may block (a remote
// check) and must honour ctx.
type ValidateFunc func(ctx context.Context, token string) (security.Identity, error)

// Local adapts an in-process validator.
func Local(v Validator) ValidateFunc {
	return func(_ context.Context, token string) (security.Identity, error) {
		return v.Validate(token)
	}
}

// Session tracks one holder's token through Loading → Authenticated or
// Unauthenticated. A token is validated once per change (or on Refresh);
// every validation is tagged with a generation and a result that arrives
// after the token was replaced or forgotten is dropped.
type Session struct {
	validate ValidateFunc

	mu    sync.Mutex
	gen   uint64
	token string
	state State
}

func NewSession(validate ValidateFunc) *Session {
	return &Session{
		validate: validate,
		state:    State{Status: Loading},
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// Load validates token unless it is the token already settled. If ctx ends
// first, Load returns ctx.Err() and the caller gets no decision; the session
// stays Loading and the next Load validates again.
func (s *Session) Load(ctx context.Context, token string) (State, error) {
	s.mu.Lock()
	if token == s.token && s.state.Status != Loading {
		st := s.state
		s.mu.Unlock()
		return st, nil
	}
	s.mu.Unlock()
	return s.run(ctx, token)
}

// Refresh re-validates the current token, e.g. to notice expiry.
func (s *Session) Refresh(ctx context.Context) (State, error) {
	return s.run(ctx, s.Token())
}

// Establish records a token whose identity is already known, as right
// after a successful login.
func (s *Session) Establish(token string, identity security.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.token = token
	s.state = State{Status: Authenticated, Identity: identity}
}

// Forget drops the token. Pending validations for it are discarded.
func (s *Session) Forget() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.token = ""
	s.state = State{Status: Unauthenticated}
}

func (s *Session) begin(token string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.token = token
	s.state = State{Status: Loading}
	return s.gen
}

func (s *Session) resolve(gen uint64, st State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return false
	}
	s.state = st
	return true
}

func (s *Session) run(ctx context.Context, token string) (State, error) {
	gen := s.begin(token)

	if token == "" {
		st := State{Status: Unauthenticated}
		s.resolve(gen, st)
		return st, nil
	}

	done := make(chan State, 1)
	go func() {
		identity, err := s.validate(ctx, token)
		st := State{Status: Authenticated, Identity: identity}
		if err != nil {
			st = State{Status: Unauthenticated, Reason: err}
		}
		done <- st
	}()

	select {
	case <-ctx.Done():
		return State{Status: Loading}, ctx.Err()
	case st := <-done:
		if ctx.Err() != nil {
			return State{Status: Loading}, ctx.Err()
		}
		if !s.resolve(gen, st) {
			// Superseded while in flight; report what the session holds now.
			return s.State(), nil
		}
		return st, nil
	}
}
