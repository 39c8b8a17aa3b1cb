package session

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luxzg/discoverctl/internal/api"
	"github.com/luxzg/discoverctl/internal/backendtest"
	"github.com/luxzg/discoverctl/internal/constants"
	"github.com/luxzg/discoverctl/internal/model"
)

type fakeAuth struct {
	logins    atomic.Int32
	logouts   atomic.Int32
	loginErr  error
	probeErr  error
	logoutErr error
	info      model.SessionInfo
}

func (f *fakeAuth) Login(context.Context, Credentials) (model.SessionInfo, error) {
	f.logins.Add(1)
	return f.info, f.loginErr
}

func (f *fakeAuth) Probe(context.Context) (model.SessionInfo, error) {
	return f.info, f.probeErr
}

func (f *fakeAuth) Logout(context.Context) error {
	f.logouts.Add(1)
	return f.logoutErr
}

type tokenRecorder struct {
	mu     sync.Mutex
	tokens []string
}

func (r *tokenRecorder) SetCSRFToken(tok string) {
	r.mu.Lock()
	r.tokens = append(r.tokens, tok)
	r.mu.Unlock()
}

func (r *tokenRecorder) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.tokens) == 0 {
		return ""
	}
	return r.tokens[len(r.tokens)-1]
}

func TestLoginRequiresCredentials(t *testing.T) {
	auth := &fakeAuth{}
	m := New(Options{Auth: auth, Identity: constants.UserScope})

	_, err := m.Login(context.Background(), Credentials{Secret: "x"})
	assert.ErrorIs(t, err, api.ErrValidation)
	_, err = m.Login(context.Background(), Credentials{Username: "alice"})
	assert.ErrorIs(t, err, api.ErrValidation)
	assert.Equal(t, int32(0), auth.logins.Load())

	admin := New(Options{Auth: auth, Identity: constants.AdminScope})
	_, err = admin.Login(context.Background(), Credentials{Secret: "x"})
	assert.NoError(t, err)
}

func TestLoginStoresToken(t *testing.T) {
	tokens := &tokenRecorder{}
	auth := &fakeAuth{info: model.SessionInfo{OK: true, CSRFToken: "csrf-1", DefaultPenalty: 4}}
	m := New(Options{Auth: auth, Tokens: tokens})

	var seen []Session
	m.OnChange(func(s Session) { seen = append(seen, s) })

	s, err := m.Login(context.Background(), Credentials{Username: "alice", Secret: "pw"})
	require.NoError(t, err)
	assert.True(t, s.Authenticated)
	assert.Equal(t, "csrf-1", s.CSRFToken)
	assert.Equal(t, "csrf-1", tokens.last())
	assert.Equal(t, 4.0, m.DefaultPenalty())
	require.Len(t, seen, 1)
	assert.True(t, seen[0].Authenticated)
}

func TestLoginFailureStaysAnonymous(t *testing.T) {
	auth := &fakeAuth{loginErr: api.StatusError(http.StatusUnauthorized, "invalid credentials")}
	m := New(Options{Auth: auth})

	s, err := m.Login(context.Background(), Credentials{Username: "alice", Secret: "bad"})
	assert.ErrorIs(t, err, api.ErrAuth)
	assert.False(t, s.Authenticated)
}

func TestDefaultPenaltyFallback(t *testing.T) {
	m := New(Options{Auth: &fakeAuth{}})
	assert.Equal(t, constants.FallbackPenalty, m.DefaultPenalty())
}

func TestProbeFailureIsSilent(t *testing.T) {
	m := New(Options{Auth: &fakeAuth{probeErr: api.StatusError(http.StatusUnauthorized, "")}})
	s := m.Probe(context.Background())
	assert.False(t, s.Authenticated)
}

func TestLogoutClearsEvenWhenCallFails(t *testing.T) {
	tokens := &tokenRecorder{}
	auth := &fakeAuth{info: model.SessionInfo{CSRFToken: "t"}, logoutErr: errors.New("network down")}
	m := New(Options{Auth: auth, Tokens: tokens})
	_, err := m.Login(context.Background(), Credentials{Username: "a", Secret: "b"})
	require.NoError(t, err)

	s := m.Logout(context.Background())
	assert.False(t, s.Authenticated)
	assert.False(t, m.Authenticated())
	assert.Equal(t, "", tokens.last())
	assert.Equal(t, int32(1), auth.logouts.Load())
}

func TestSettleExpiresExactlyOnce(t *testing.T) {
	auth := &fakeAuth{info: model.SessionInfo{CSRFToken: "t"}}
	m := New(Options{Auth: auth})
	_, err := m.Login(context.Background(), Credentials{Username: "a", Secret: "b"})
	require.NoError(t, err)

	var transitions atomic.Int32
	m.OnChange(func(s Session) {
		if !s.Authenticated {
			transitions.Add(1)
		}
	})

	const calls = 20
	tickets := make([]Ticket, calls)
	for i := range tickets {
		var ok bool
		tickets[i], ok = m.Begin()
		require.True(t, ok)
	}

	var (
		wg    sync.WaitGroup
		wrong atomic.Int32
	)
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func(tk Ticket, code int) {
			defer wg.Done()
			if err := m.Settle(tk, api.StatusError(code, "")); !errors.Is(err, ErrSessionExpired) {
				wrong.Add(1)
			}
		}(tickets[i], []int{http.StatusUnauthorized, http.StatusForbidden}[i%2])
	}
	wg.Wait()

	assert.Equal(t, int32(1), transitions.Load())
	assert.Zero(t, wrong.Load())
	assert.False(t, m.Authenticated())
	for _, tk := range tickets {
		assert.False(t, m.Valid(tk))
	}
}

func TestSettlePassesOtherErrors(t *testing.T) {
	m := New(Options{Auth: &fakeAuth{}})
	_, _ = m.Login(context.Background(), Credentials{Username: "a", Secret: "b"})
	tk, _ := m.Begin()

	assert.NoError(t, m.Settle(tk, nil))
	err := m.Settle(tk, api.StatusError(http.StatusConflict, "busy"))
	assert.ErrorIs(t, err, api.ErrConflict)
	assert.True(t, m.Authenticated())
}

func TestStaleTicketDoesNotExpireNewSession(t *testing.T) {
	m := New(Options{Auth: &fakeAuth{}})
	_, _ = m.Login(context.Background(), Credentials{Username: "a", Secret: "b"})
	old, _ := m.Begin()

	m.Logout(context.Background())
	_, _ = m.Login(context.Background(), Credentials{Username: "a", Secret: "b"})
	assert.False(t, m.Valid(old))

	err := m.Settle(old, api.StatusError(http.StatusUnauthorized, ""))
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.True(t, m.Authenticated(), "a late 401 from a previous session must not sign out the new one")
}

func TestErrSessionExpiredMessage(t *testing.T) {
	assert.Equal(t, "session expired; sign in again", ErrSessionExpired.Error())
	assert.ErrorIs(t, ErrSessionExpired, api.ErrAuth)
}

func TestOnChangeUnsubscribe(t *testing.T) {
	m := New(Options{Auth: &fakeAuth{}})
	n := 0
	unsub := m.OnChange(func(Session) { n++ })
	_, _ = m.Login(context.Background(), Credentials{Username: "a", Secret: "b"})
	unsub()
	m.Logout(context.Background())
	assert.Equal(t, 1, n)
}

func TestCookieSessionAgainstFakeBackend(t *testing.T) {
	fake := backendtest.New()
	defer fake.Close()

	c, err := api.New(api.Options{BaseURL: fake.URL})
	require.NoError(t, err)
	m := New(Options{Auth: UserAuth(api.NewUserAPI(c)), Tokens: c})
	ctx := context.Background()

	assert.False(t, m.Probe(ctx).Authenticated)

	s, err := m.Login(ctx, Credentials{Username: backendtest.Username, Secret: backendtest.UserSecret})
	require.NoError(t, err)
	assert.Equal(t, s.CSRFToken, c.CSRFToken())
	assert.Equal(t, 7.0, m.DefaultPenalty())

	// a second manager on the same client recovers the session by cookie
	other := New(Options{Auth: UserAuth(api.NewUserAPI(c)), Tokens: c})
	assert.True(t, other.Probe(ctx).Authenticated)

	m.Logout(ctx)
	assert.Empty(t, c.CSRFToken())
	assert.Equal(t, 1, fake.Calls("POST /api/logout"))
}

func TestSecretAuthAgainstFakeBackend(t *testing.T) {
	fake := backendtest.New()
	defer fake.Close()

	c, err := api.New(api.Options{BaseURL: fake.URL, Mode: constants.SecretAuth})
	require.NoError(t, err)
	m := New(Options{Auth: SecretAuth(api.NewAdminAPI(c)), Tokens: c, Identity: constants.AdminScope})
	ctx := context.Background()

	assert.False(t, m.Probe(ctx).Authenticated)
	assert.Equal(t, 0, fake.TotalCalls())

	_, err = m.Login(ctx, Credentials{Secret: "wrong"})
	assert.ErrorIs(t, err, api.ErrAuth)
	assert.Empty(t, c.Secret())

	_, err = m.Login(ctx, Credentials{Secret: backendtest.AdminSecret})
	require.NoError(t, err)
	assert.Equal(t, 2, fake.Calls("GET /admin/api/status"))

	before := fake.TotalCalls()
	m.Logout(ctx)
	assert.Equal(t, before, fake.TotalCalls(), "secret logout makes no network call")
	assert.Empty(t, c.Secret())
}
