package core

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Phase is the stable state of an auth session.
type Phase int

const (
	PhaseInitializing Phase = iota
	PhaseAuthenticated
	PhaseAnonymous
)

func (p Phase) String() string {
	switch p {
	case PhaseAuthenticated:
		return "authenticated"
	case PhaseAnonymous:
		return "anonymous"
	default:
		return "initializing"
	}
}

// Operation is the auth operation currently in flight, if any.
type Operation int

const (
	OpNone Operation = iota
	OpStartup
	OpLogin
	OpRegister
)

func (o Operation) String() string {
	switch o {
	case OpStartup:
		return "startup"
	case OpLogin:
		return "login"
	case OpRegister:
		return "register"
	default:
		return "none"
	}
}

// ErrNoUser is returned by UpdateUser when nobody is signed in.
var ErrNoUser = errors.New("no authenticated user")

// Session is a point-in-time view of an AuthSession.
type Session struct {
	Phase     Phase
	Op        Operation
	User      *UserRecord
	IsLoading bool
	Error     string
}

// AuthResult is what login and register hand back. They never return a Go error.
type AuthResult struct {
	Success bool
	User    *UserRecord
	Message string
	Kind    ErrorKind
}

// AuthBackend is the part of the gateway an AuthSession needs.
type AuthBackend interface {
	ObtainToken(ctx context.Context, email, password string) (TokenPair, error)
	Register(ctx context.Context, in RegistrationInput) (TokenPair, error)
	CurrentUser(ctx context.Context) (UserRecord, error)
}

// AuthSession is the auth state machine of one browser:
//
//	Initializing --startup--> Authenticated | Anonymous
//	Anonymous/Authenticated --login|register--> Authenticated (failure keeps the phase)
//	any --logout--> Anonymous
//
// At most one operation is in flight. Login and register wait for the startup
// check; a second login or register while one runs is rejected.
type AuthSession struct {
	mu     sync.Mutex
	phase  Phase
	op     Operation
	user   *UserRecord
	errMsg string
	gen    uint64

	startOnce sync.Once
	ready     chan struct{}

	tokens    TokenStore
	backend   AuthBackend
	validator *Validator
	log       zerolog.Logger
}

// NewAuthSession returns a session in the Initializing phase with the startup check pending.
func NewAuthSession(tokens TokenStore, backend AuthBackend, validator *Validator, log zerolog.Logger) *AuthSession {
	if validator == nil {
		validator = NewValidator()
	}
	return &AuthSession{
		phase:     PhaseInitializing,
		op:        OpStartup,
		ready:     make(chan struct{}),
		tokens:    tokens,
		backend:   backend,
		validator: validator,
		log:       log,
	}
}

// Start runs the startup check once. Later calls return immediately.
func (s *AuthSession) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		defer close(s.ready)
		s.startup(ctx)
	})
}

func (s *AuthSession) startup(ctx context.Context) {
	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()

	var (
		user  *UserRecord
		phase = PhaseAnonymous
	)
	if _, ok := s.tokens.Token(ctx); ok {
		u, err := s.backend.CurrentUser(ctx)
		switch {
		case err == nil:
			user, phase = &u, PhaseAuthenticated
		case IsUnauthorized(err):
			if clearErr := s.tokens.ClearTokens(ctx); clearErr != nil {
				s.log.Error().Err(clearErr).Msg("failed to clear rejected tokens")
			}
		default:
			// Tokens are kept: an unreachable backend is not a logout.
			s.log.Warn().Err(err).Msg("startup check failed, continuing anonymous")
		}
	}

	s.mu.Lock()
	s.op = OpNone
	if s.gen != gen {
		// logged out while the check was in flight
		s.mu.Unlock()
		return
	}
	s.phase = phase
	s.user = user
	s.mu.Unlock()

	authOperations.WithLabelValues(OpStartup.String(), phase.String()).Inc()
	if user != nil {
		if err := s.tokens.CacheUser(ctx, *user); err != nil {
			s.log.Error().Err(err).Msg("failed to cache current user")
		}
	}
}

// WaitReady waits up to d for the startup check and reports whether it completed.
func (s *AuthSession) WaitReady(ctx context.Context, d time.Duration) bool {
	select {
	case <-s.ready:
		return true
	default:
	}
	if d <= 0 {
		return false
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-s.ready:
		return true
	case <-ctx.Done():
		return false
	case <-t.C:
		return false
	}
}

// Login authenticates with email and password.
func (s *AuthSession) Login(ctx context.Context, email, password string) AuthResult {
	gen, res, ok := s.begin(ctx, OpLogin)
	if !ok {
		return res
	}
	user, err := s.authenticate(ctx, func() (TokenPair, error) {
		return s.backend.ObtainToken(ctx, email, password)
	})
	return s.finish(ctx, OpLogin, gen, user, err, LoginFailure)
}

// Register creates an account and signs it in. Input is validated before any network call.
func (s *AuthSession) Register(ctx context.Context, in RegistrationInput) AuthResult {
	in.Role = NormalizeRole(in.Role)
	if err := s.validator.Validate(in); err != nil {
		f := RegisterFailure(err)
		s.mu.Lock()
		s.errMsg = f.Message
		s.mu.Unlock()
		authOperations.WithLabelValues(OpRegister.String(), "failed").Inc()
		return AuthResult{Message: f.Message, Kind: f.Kind}
	}
	gen, res, ok := s.begin(ctx, OpRegister)
	if !ok {
		return res
	}
	user, err := s.authenticate(ctx, func() (TokenPair, error) {
		return s.backend.Register(ctx, in)
	})
	return s.finish(ctx, OpRegister, gen, user, err, RegisterFailure)
}

// begin waits for the startup check, then claims the in-flight slot for op.
// It returns the generation the operation started in.
func (s *AuthSession) begin(ctx context.Context, op Operation) (uint64, AuthResult, bool) {
	busy := AuthResult{Message: msgSessionBusy, Kind: KindBusy}
	select {
	case <-s.ready:
	default:
		select {
		case <-s.ready:
		case <-ctx.Done():
			authOperations.WithLabelValues(op.String(), "busy").Inc()
			return 0, busy, false
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.op != OpNone {
		authOperations.WithLabelValues(op.String(), "busy").Inc()
		return 0, busy, false
	}
	s.op = op
	s.errMsg = ""
	return s.gen, AuthResult{}, true
}

// authenticate stores the token pair returned by obtain, then fetches and caches the user.
func (s *AuthSession) authenticate(ctx context.Context, obtain func() (TokenPair, error)) (UserRecord, error) {
	pair, err := obtain()
	if err != nil {
		return UserRecord{}, err
	}
	if err := s.tokens.SetTokens(ctx, pair.Access, pair.Refresh); err != nil {
		return UserRecord{}, err
	}
	u, err := s.backend.CurrentUser(ctx)
	if err != nil {
		// do not leave a token without a user behind
		_ = s.tokens.ClearTokens(ctx)
		return UserRecord{}, err
	}
	if err := s.tokens.CacheUser(ctx, u); err != nil {
		s.log.Error().Err(err).Msg("failed to cache user")
	}
	return u, nil
}

func (s *AuthSession) finish(ctx context.Context, op Operation, gen uint64, u UserRecord, err error, failure func(error) Failure) AuthResult {
	s.mu.Lock()
	if s.gen != gen {
		// logged out while the operation was in flight: drop whatever it stored.
		// The slot stays claimed until the store is clean.
		s.mu.Unlock()
		if clearErr := s.tokens.ClearTokens(ctx); clearErr != nil {
			s.log.Error().Err(clearErr).Msg("failed to clear tokens of an abandoned login")
		}
		s.mu.Lock()
		s.op = OpNone
		s.mu.Unlock()
		authOperations.WithLabelValues(op.String(), "abandoned").Inc()
		return AuthResult{Message: msgSignedOut, Kind: KindUnauthorized}
	}
	defer s.mu.Unlock()
	s.op = OpNone
	if err != nil {
		f := failure(err)
		s.errMsg = f.Message
		authOperations.WithLabelValues(op.String(), "failed").Inc()
		s.log.Info().Str("op", op.String()).Str("kind", f.Kind.String()).Err(err).Msg("authentication failed")
		return AuthResult{Message: f.Message, Kind: f.Kind}
	}
	s.gen++
	s.user = &u
	s.phase = PhaseAuthenticated
	authOperations.WithLabelValues(op.String(), PhaseAuthenticated.String()).Inc()
	s.log.Info().Str("op", op.String()).Int64("user_id", u.ID).Str("role", u.Role).Msg("authenticated")
	out := u
	return AuthResult{Success: true, User: &out}
}

// UpdateUser merges partial into the in-memory and persisted user record.
// It does not call the backend.
func (s *AuthSession) UpdateUser(ctx context.Context, partial map[string]any) (UserRecord, error) {
	s.mu.Lock()
	if s.user == nil {
		s.mu.Unlock()
		return UserRecord{}, ErrNoUser
	}
	merged, err := s.user.Merge(partial)
	if err != nil {
		s.mu.Unlock()
		return UserRecord{}, err
	}
	s.user = &merged
	s.mu.Unlock()

	if err := s.tokens.CacheUser(ctx, merged); err != nil {
		return merged, err
	}
	return merged, nil
}

// Logout clears credentials, the cached user and the in-memory state. Safe to repeat.
func (s *AuthSession) Logout(ctx context.Context) error {
	err := s.tokens.ClearTokens(ctx)

	s.mu.Lock()
	s.gen++
	s.user = nil
	s.errMsg = ""
	s.phase = PhaseAnonymous
	s.mu.Unlock()

	authOperations.WithLabelValues("logout", PhaseAnonymous.String()).Inc()
	return err
}

// ClearError drops the last error message.
func (s *AuthSession) ClearError() {
	s.mu.Lock()
	s.errMsg = ""
	s.mu.Unlock()
}

// IsAuthenticated requires both a user in memory and a token in the store.
func (s *AuthSession) IsAuthenticated(ctx context.Context) bool {
	s.mu.Lock()
	hasUser := s.user != nil
	s.mu.Unlock()
	if !hasUser {
		return false
	}
	_, ok := s.tokens.Token(ctx)
	return ok
}

// Snapshot returns a copy of the current state.
func (s *AuthSession) Snapshot() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Session{
		Phase:     s.phase,
		Op:        s.op,
		IsLoading: s.op != OpNone,
		Error:     s.errMsg,
	}
	if s.user != nil {
		u := *s.user
		snap.User = &u
	}
	return snap
}
