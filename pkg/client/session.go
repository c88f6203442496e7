package client

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"emergency-rescue-system/pkg/middleware"
)

// AuthState is the resolver's lifecycle state.
type AuthState int

const (
	StateLoading AuthState = iota
	StateUnauthenticated
	StateAuthenticated
)

func (s AuthState) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	}
	return fmt.Sprintf("AuthState(%d)", int(s))
}

// AuthEvent is a change reported by the auth provider.
type AuthEvent string

const (
	EventSignedIn  AuthEvent = "SIGNED_IN"
	EventSignedOut AuthEvent = "SIGNED_OUT"
)

// Tokens is a persisted access/refresh pair.
type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// TokenStore persists the session between launches.
type TokenStore interface {
	Load(ctx context.Context) (*Tokens, error)
	Save(ctx context.Context, t Tokens) error
	Clear(ctx context.Context) error
}

// MemoryTokenStore keeps tokens for the life of the process.
type MemoryTokenStore struct {
	mu     sync.Mutex
	tokens *Tokens
}

func (s *MemoryTokenStore) Load(ctx context.Context) (*Tokens, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tokens == nil {
		return nil, nil
	}
	t := *s.tokens
	return &t, nil
}

func (s *MemoryTokenStore) Save(ctx context.Context, t Tokens) error {
	s.mu.Lock()
	s.tokens = &t
	s.mu.Unlock()
	return nil
}

func (s *MemoryTokenStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.tokens = nil
	s.mu.Unlock()
	return nil
}

// AuthClient is the part of the API the resolver drives.
type AuthClient interface {
	SetToken(token string)
	Login(ctx context.Context, email, password string) (*TokenPair, error)
	Register(ctx context.Context, email, password, name, phone string) (*TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (*TokenPair, error)
	Logout(ctx context.Context, refreshToken string) error
	Me(ctx context.Context) (*Profile, error)
}

// Session is one signed-in identity. It is handed to every component that
// needs identity or role; when it ends, every hook registered with OnEnd runs
// and its context is cancelled.
type Session struct {
	Profile Profile
	tokens  Tokens

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	hooks []func()
	ended bool
}

func newSession(profile Profile, tokens Tokens) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{Profile: profile, tokens: tokens, ctx: ctx, cancel: cancel}
}

func (s *Session) UserID() string { return s.Profile.ID }

// Role is the profile role, defaulting to the citizen role.
func (s *Session) Role() string {
	if s == nil || s.Profile.Role == "" {
		return middleware.RoleUser
	}
	return s.Profile.Role
}

func (s *Session) IsRescuer() bool { return s.Role() == middleware.RoleRescue }

// Context is cancelled when the session ends.
func (s *Session) Context() context.Context { return s.ctx }

// OnEnd registers fn to run at sign-out. If the session already ended, fn
// runs immediately.
func (s *Session) OnEnd(fn func()) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		fn()
		return
	}
	s.hooks = append(s.hooks, fn)
	s.mu.Unlock()
}

// Ended reports whether the session was torn down.
func (s *Session) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

func (s *Session) end() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	hooks := s.hooks
	s.hooks = nil
	s.mu.Unlock()

	s.cancel()
	// Last registered, first torn down.
	for i := len(hooks) - 1; i >= 0; i-- {
		hooks[i]()
	}
}

// Resolver owns the current session. It is the only component that creates
// or ends one.
type Resolver struct {
	api   AuthClient
	store TokenStore

	mu        sync.Mutex
	state     AuthState
	session   *Session
	listeners []func(AuthState, *Session)
}

func NewResolver(api AuthClient, store TokenStore) *Resolver {
	return &Resolver{api: api, store: store, state: StateLoading}
}

// OnChange registers fn for every state change.
func (r *Resolver) OnChange(fn func(AuthState, *Session)) {
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

// State returns the current state and session (nil unless authenticated).
func (r *Resolver) State() (AuthState, *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state, r.session
}

// Role is the current role, or the citizen role when signed out.
func (r *Resolver) Role() string {
	_, s := r.State()
	return s.Role()
}

func (r *Resolver) setState(state AuthState, session *Session) {
	r.mu.Lock()
	r.state = state
	r.session = session
	listeners := append([]func(AuthState, *Session){}, r.listeners...)
	r.mu.Unlock()

	for _, fn := range listeners {
		fn(state, session)
	}
}

// Init restores a persisted session, refreshing it once if the access token
// was rejected.
func (r *Resolver) Init(ctx context.Context) error {
	r.setState(StateLoading, nil)

	tokens, err := r.store.Load(ctx)
	if err != nil {
		r.setState(StateUnauthenticated, nil)
		return fmt.Errorf("load session: %w", err)
	}
	if tokens == nil || tokens.AccessToken == "" {
		r.setState(StateUnauthenticated, nil)
		return nil
	}

	err = r.establish(ctx, *tokens, nil)
	if errors.Is(err, ErrUnauthorized) && tokens.RefreshToken != "" {
		var pair *TokenPair
		pair, err = r.api.Refresh(ctx, tokens.RefreshToken)
		if err == nil {
			err = r.establish(ctx, pair.Tokens(), pair.Profile)
		}
	}
	if err != nil {
		_ = r.store.Clear(ctx)
		r.api.SetToken("")
		r.setState(StateUnauthenticated, nil)
		return err
	}
	return nil
}

// HandleAuthEvent applies a provider event. SignedIn needs tokens.
func (r *Resolver) HandleAuthEvent(ctx context.Context, event AuthEvent, tokens *Tokens) error {
	switch event {
	case EventSignedIn:
		if tokens == nil {
			return errors.New("signed-in event without tokens")
		}
		return r.establish(ctx, *tokens, nil)
	case EventSignedOut:
		r.teardown(ctx)
		return nil
	}
	return fmt.Errorf("unknown auth event %q", event)
}

// establish replaces any current session with one for tokens. A nil profile
// is loaded from the API; state is Loading meanwhile.
func (r *Resolver) establish(ctx context.Context, tokens Tokens, profile *Profile) error {
	r.endCurrent()
	r.setState(StateLoading, nil)
	r.api.SetToken(tokens.AccessToken)

	if profile == nil {
		p, err := r.api.Me(ctx)
		if err != nil {
			r.api.SetToken("")
			r.setState(StateUnauthenticated, nil)
			return fmt.Errorf("load profile: %w", err)
		}
		profile = p
	}

	if err := r.store.Save(ctx, tokens); err != nil {
		log.Printf("[WARN] Failed to persist session: %v", err)
	}
	r.setState(StateAuthenticated, newSession(*profile, tokens))
	return nil
}

func (r *Resolver) endCurrent() {
	r.mu.Lock()
	s := r.session
	r.mu.Unlock()
	if s != nil {
		s.end()
	}
}

func (r *Resolver) teardown(ctx context.Context) {
	r.endCurrent()
	r.api.SetToken("")
	if err := r.store.Clear(ctx); err != nil {
		log.Printf("[WARN] Failed to clear session: %v", err)
	}
	r.setState(StateUnauthenticated, nil)
}

func (r *Resolver) SignIn(ctx context.Context, email, password string) (*Session, error) {
	pair, err := r.api.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return r.signedIn(ctx, pair)
}

// SignUp registers an account; name and phone go into the new profile.
func (r *Resolver) SignUp(ctx context.Context, email, password, name, phone string) (*Session, error) {
	pair, err := r.api.Register(ctx, email, password, name, phone)
	if err != nil {
		return nil, err
	}
	return r.signedIn(ctx, pair)
}

// SignInWithRedirect completes a federated sign-in from the redirect URL the
// browser returned to.
func (r *Resolver) SignInWithRedirect(ctx context.Context, redirectURL string) (*Session, error) {
	tokens, err := ParseRedirect(redirectURL)
	if err != nil {
		return nil, err
	}
	if err := r.establish(ctx, tokens, nil); err != nil {
		return nil, err
	}
	_, s := r.State()
	return s, nil
}

func (r *Resolver) signedIn(ctx context.Context, pair *TokenPair) (*Session, error) {
	if err := r.establish(ctx, pair.Tokens(), pair.Profile); err != nil {
		return nil, err
	}
	_, s := r.State()
	return s, nil
}

// SignOut revokes the refresh token and ends the session. Revocation failure
// does not keep the user signed in.
func (r *Resolver) SignOut(ctx context.Context) error {
	_, s := r.State()
	var err error
	if s != nil && s.tokens.RefreshToken != "" {
		err = r.api.Logout(ctx, s.tokens.RefreshToken)
		if err != nil {
			log.Printf("[WARN] Refresh token revocation failed: %v", err)
		}
	}
	r.teardown(ctx)
	return err
}
