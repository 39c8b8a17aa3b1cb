package miniflux

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luxzg/discoverctl/internal/api"
	"github.com/luxzg/discoverctl/internal/constants"
	"github.com/luxzg/discoverctl/internal/feed"
	"github.com/luxzg/discoverctl/internal/model"
	"github.com/luxzg/discoverctl/internal/session"
)

const testKey = "key-1"

type fakeEntry struct {
	ID      int64          `json:"id"`
	Title   string         `json:"title"`
	URL     string         `json:"url"`
	Status  string         `json:"status"`
	Starred bool           `json:"starred"`
	Feed    map[string]any `json:"feed,omitempty"`
}

type fakeMiniflux struct {
	*httptest.Server

	mu      sync.Mutex
	entries []*fakeEntry
	read    []int64
	toggles int
	query   string
	revoked bool
}

func newFake(t *testing.T) *fakeMiniflux {
	f := &fakeMiniflux{entries: []*fakeEntry{
		{ID: 11, Title: "First", URL: "https://www.blog.example/a", Status: "unread",
			Feed: map[string]any{"id": 1, "site_url": "https://www.blog.example/"}},
		{ID: 12, Title: "Second", URL: "https://news.example/b", Status: "unread"},
	}}
	r := chi.NewRouter()
	r.Route("/v1", func(r chi.Router) {
		r.Use(f.auth)
		r.Get("/me", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, map[string]any{"id": 1, "username": "alice"})
		})
		r.Get("/entries", f.list)
		r.Put("/entries", f.update)
		r.Get("/entries/{id}", f.entry)
		r.Put("/entries/{id}/bookmark", f.bookmark)
		r.Put("/feeds/refresh", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
	})
	f.Server = httptest.NewServer(r)
	t.Cleanup(f.Close)
	return f
}

func (f *fakeMiniflux) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		revoked := f.revoked
		f.mu.Unlock()
		user, pass, basic := r.BasicAuth()
		ok := r.Header.Get("X-Auth-Token") == testKey || (basic && user == "alice" && pass == "pw")
		if revoked || !ok {
			w.WriteHeader(http.StatusUnauthorized)
			writeJSON(w, map[string]string{"error_message": "Access Unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// find must be called with f.mu held.
func (f *fakeMiniflux) find(r *http.Request) *fakeEntry {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	for _, e := range f.entries {
		if e.ID == id {
			return e
		}
	}
	return nil
}

func (f *fakeMiniflux) list(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.query = r.URL.RawQuery
	var unread []*fakeEntry
	for _, e := range f.entries {
		if e.Status == "unread" {
			unread = append(unread, e)
		}
	}
	writeJSON(w, map[string]any{"total": len(unread), "entries": unread})
}

func (f *fakeMiniflux) entry(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := f.find(r)
	if e == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, e)
}

func (f *fakeMiniflux) update(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs    []int64 `json:"entry_ids"`
		Status string  `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Status != "read" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	f.read = append(f.read, req.IDs...)
	for _, e := range f.entries {
		for _, id := range req.IDs {
			if e.ID == id {
				e.Status = "read"
			}
		}
	}
	f.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (f *fakeMiniflux) bookmark(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := f.find(r)
	if e == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	e.Starred = !e.Starred
	f.toggles++
	w.WriteHeader(http.StatusNoContent)
}

func (f *fakeMiniflux) starred(id int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.entries {
		if e.ID == id {
			return e.Starred
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestFeedAndActions(t *testing.T) {
	f := newFake(t)
	b := New(f.URL, testKey)
	ctx := context.Background()

	items, err := b.Feed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, int64(11), items[0].ID)
	assert.Equal(t, "blog.example", items[0].SourceDomain)
	assert.Equal(t, "news.example", items[1].SourceDomain)
	assert.Contains(t, f.query, "status=unread")
	assert.Contains(t, f.query, "limit=10")

	require.NoError(t, b.Act(ctx, 12, model.ActionUseful))
	require.NoError(t, b.Act(ctx, 11, model.ActionHide))
	require.NoError(t, b.Refresh(ctx))
	assert.Equal(t, []int64{12, 11}, f.read)
	assert.True(t, f.starred(12))
	assert.False(t, f.starred(11))

	err = b.Suppress(ctx, 11, "First", 5)
	assert.ErrorIs(t, err, api.ErrValidation)
}

func TestUsefulLeavesFeedAndStaysBookmarked(t *testing.T) {
	f := newFake(t)
	b := New(f.URL, testKey)
	sess := session.New(session.Options{Auth: b.Auth(), Identity: constants.UserScope})
	ctl := feed.New(feed.Options{Backend: b, Session: sess})
	ctx := context.Background()

	require.NoError(t, ctl.Init(ctx))
	require.Equal(t, 2, ctl.View().Len())

	require.NoError(t, ctl.Apply(ctx, 12, model.ActionUseful))
	assert.True(t, f.starred(12))

	_, err := ctl.Advance(ctx)
	require.NoError(t, err)
	assert.False(t, ctl.View().Has(12))
	assert.Zero(t, ctl.View().Len())

	// a second useful on an already starred entry keeps the bookmark
	require.NoError(t, b.Act(ctx, 12, model.ActionUseful))
	assert.True(t, f.starred(12))
	assert.Equal(t, 1, f.toggles)
}

func TestLoginCancelledIsTransportError(t *testing.T) {
	f := newFake(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(f.URL, "").Auth().Login(ctx, session.Credentials{Username: "alice", Secret: "pw"})
	assert.ErrorIs(t, err, api.ErrTransport)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestUnauthorizedIsAuthError(t *testing.T) {
	f := newFake(t)
	b := New(f.URL, "wrong")

	_, err := b.Feed(context.Background(), 5)
	assert.ErrorIs(t, err, api.ErrAuth)

	_, err = New(f.URL, "").Feed(context.Background(), 5)
	assert.ErrorIs(t, err, session.ErrSignedOut)
}

func TestSessionOverMiniflux(t *testing.T) {
	f := newFake(t)
	b := New(f.URL, "")
	sess := session.New(session.Options{Auth: b.Auth(), Identity: constants.UserScope})
	ctl := feed.New(feed.Options{Backend: b, Session: sess})
	ctx := context.Background()

	require.NoError(t, ctl.Init(ctx))
	assert.False(t, sess.Authenticated())

	err := ctl.Login(ctx, session.Credentials{Username: "alice", Secret: "nope"})
	assert.ErrorIs(t, err, api.ErrAuth)

	require.NoError(t, ctl.Login(ctx, session.Credentials{Username: "alice", Secret: "pw"}))
	assert.Equal(t, 2, ctl.View().Len())

	f.mu.Lock()
	f.revoked = true
	f.mu.Unlock()
	_, err = ctl.LoadPage(ctx)
	assert.ErrorIs(t, err, session.ErrSessionExpired)
	assert.False(t, sess.Authenticated())
	assert.Zero(t, ctl.View().Len())
}
