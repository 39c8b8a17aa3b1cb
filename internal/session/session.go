// Package session tracks whether a controller is signed in to the backend.
//
// A Manager moves between two states, anonymous and authenticated. Every
// authenticated call takes a Ticket before its request goes out and settles
// the outcome with it; the first 401/403 settled for a generation signs the
// manager out, later ones for the same generation are no-ops.
package session

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/luxzg/discoverctl/internal/api"
	"github.com/luxzg/discoverctl/internal/constants"
	"github.com/luxzg/discoverctl/internal/logging"
	"github.com/luxzg/discoverctl/internal/model"
)

var (
	// ErrSessionExpired is returned for calls rejected with 401/403.
	ErrSessionExpired error = &api.Error{Kind: api.KindAuth, Message: "session expired; sign in again"}
	// ErrSignedOut is returned without a call by anything that needs a
	// session while the manager is anonymous.
	ErrSignedOut error = &api.Error{Kind: api.KindAuth, Message: "sign in required"}
)

type Credentials struct {
	Username string
	Secret   string
}

// Authenticator performs the backend side of signing in and out.
type Authenticator interface {
	Login(ctx context.Context, creds Credentials) (model.SessionInfo, error)
	Probe(ctx context.Context) (model.SessionInfo, error)
	Logout(ctx context.Context) error
}

// TokenSink receives the anti-forgery token of the current session, or "".
type TokenSink interface {
	SetCSRFToken(token string)
}

// Session is a snapshot of the manager state.
type Session struct {
	Authenticated  bool
	Identity       string
	CSRFToken      string
	DefaultPenalty float64
	Generation     uint64
}

// Ticket identifies the session generation a call was issued under.
type Ticket struct {
	gen uint64
}

type Options struct {
	Auth Authenticator
	// Tokens, if set, is updated on every transition.
	Tokens TokenSink
	// Identity names the session ("user" or "admin"). A user session
	// requires a username to sign in.
	Identity string
	Logger   *zap.Logger
}

type Manager struct {
	auth     Authenticator
	tokens   TokenSink
	identity string
	logger   *zap.Logger

	mu        sync.Mutex
	sess      Session
	observers []func(Session)
}

func New(opts Options) *Manager {
	identity := opts.Identity
	if identity == "" {
		identity = constants.UserScope
	}
	return &Manager{
		auth:     opts.Auth,
		tokens:   opts.Tokens,
		identity: identity,
		logger:   logging.OrNop(opts.Logger).Named("session").With(zap.String("identity", identity)),
	}
}

func (m *Manager) Identity() string { return m.identity }

func (m *Manager) Snapshot() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess
}

func (m *Manager) Authenticated() bool {
	return m.Snapshot().Authenticated
}

// DefaultPenalty is the penalty the backend suggests for suppress rules, or
// constants.FallbackPenalty when it suggested none.
func (m *Manager) DefaultPenalty() float64 {
	p := m.Snapshot().DefaultPenalty
	if p <= 0 {
		return constants.FallbackPenalty
	}
	return p
}

// OnChange registers fn to run after every transition. The returned func
// removes it.
func (m *Manager) OnChange(fn func(Session)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
	idx := len(m.observers) - 1
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if idx < len(m.observers) {
			m.observers[idx] = nil
		}
	}
}

func (m *Manager) validate(creds Credentials) error {
	if creds.Secret == "" {
		return api.Validation("secret is required")
	}
	if m.identity == constants.UserScope && creds.Username == "" {
		return api.Validation("username is required")
	}
	return nil
}

// Login signs in. Missing credentials fail without a network call.
func (m *Manager) Login(ctx context.Context, creds Credentials) (Session, error) {
	if err := m.validate(creds); err != nil {
		return m.Snapshot(), err
	}
	info, err := m.auth.Login(ctx, creds)
	if err != nil {
		m.logger.Info("login failed", zap.Error(err))
		return m.Snapshot(), err
	}
	s := m.establish(info)
	m.logger.Info("signed in")
	return s, nil
}

// Probe recovers a session held by the backend, e.g. through a stored
// cookie. Failure is silent and leaves the state unchanged.
func (m *Manager) Probe(ctx context.Context) Session {
	if s := m.Snapshot(); s.Authenticated {
		return s
	}
	info, err := m.auth.Probe(ctx)
	if err != nil {
		m.logger.Debug("probe found no session", zap.Error(err))
		return m.Snapshot()
	}
	return m.establish(info)
}

// Logout signs out. The backend call is best-effort; local state is always
// cleared.
func (m *Manager) Logout(ctx context.Context) Session {
	if err := m.auth.Logout(ctx); err != nil {
		m.logger.Warn("logout call failed", zap.Error(err))
	}
	m.mu.Lock()
	m.clearLocked()
	s := m.sess
	obs := m.observersLocked()
	m.mu.Unlock()
	m.notify(obs, s)
	return s
}

// Begin returns a ticket for the current generation; false when anonymous.
func (m *Manager) Begin() (Ticket, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Ticket{gen: m.sess.Generation}, m.sess.Authenticated
}

// Valid reports whether t still names the current authenticated session.
func (m *Manager) Valid(t Ticket) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess.Authenticated && m.sess.Generation == t.gen
}

// Settle processes the outcome of a call issued under t. An auth failure
// expires the session if t is still current and is reported as
// ErrSessionExpired; other errors pass through.
func (m *Manager) Settle(t Ticket, err error) error {
	if err == nil || !errors.Is(err, api.ErrAuth) {
		return err
	}
	m.mu.Lock()
	if !m.sess.Authenticated || m.sess.Generation != t.gen {
		m.mu.Unlock()
		return ErrSessionExpired
	}
	m.clearLocked()
	s := m.sess
	obs := m.observersLocked()
	m.mu.Unlock()

	m.logger.Info("session expired", zap.Error(err))
	m.notify(obs, s)
	return ErrSessionExpired
}

func (m *Manager) establish(info model.SessionInfo) Session {
	m.mu.Lock()
	m.sess = Session{
		Authenticated:  true,
		Identity:       m.identity,
		CSRFToken:      info.CSRFToken,
		DefaultPenalty: info.DefaultPenalty,
		Generation:     m.sess.Generation + 1,
	}
	if m.tokens != nil {
		m.tokens.SetCSRFToken(info.CSRFToken)
	}
	s := m.sess
	obs := m.observersLocked()
	m.mu.Unlock()
	m.notify(obs, s)
	return s
}

func (m *Manager) clearLocked() {
	m.sess = Session{Generation: m.sess.Generation + 1}
	if m.tokens != nil {
		m.tokens.SetCSRFToken("")
	}
}

func (m *Manager) observersLocked() []func(Session) {
	obs := make([]func(Session), 0, len(m.observers))
	for _, fn := range m.observers {
		if fn != nil {
			obs = append(obs, fn)
		}
	}
	return obs
}

func (m *Manager) notify(obs []func(Session), s Session) {
	for _, fn := range obs {
		fn(s)
	}
}
