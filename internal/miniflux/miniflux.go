// Package miniflux serves the user feed from a Miniflux server. Unread
// entries stand in for ranked items; every action marks its entry read and
// useful also bookmarks it. Miniflux has no penalty rules, so suppress
// actions are refused locally.
package miniflux

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"miniflux.app/client"

	"github.com/luxzg/discoverctl/internal/api"
	"github.com/luxzg/discoverctl/internal/model"
	"github.com/luxzg/discoverctl/internal/session"
)

type Backend struct {
	endpoint string
	apiKey   string

	mu sync.Mutex
	mc *client.Client
}

// New returns a backend for the server at endpoint, with or without the
// /v1 API prefix. With a non-empty apiKey a session is available without
// signing in.
func New(endpoint, apiKey string) *Backend {
	endpoint = strings.TrimSuffix(strings.TrimSuffix(endpoint, "/"), "/v1") + "/v1"
	b := &Backend{endpoint: endpoint, apiKey: apiKey}
	if apiKey != "" {
		b.mc = client.New(endpoint, apiKey)
	}
	return b
}

func (b *Backend) current() (*client.Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.mc == nil {
		return nil, session.ErrSignedOut
	}
	return b.mc, nil
}

// call runs fn unless ctx is already done. The client has no context
// support, so an in-flight call is not interrupted.
func (b *Backend) call(ctx context.Context, fn func(c *client.Client) error) error {
	if err := ctx.Err(); err != nil {
		return &api.Error{Kind: api.KindTransport, Message: err.Error(), Err: err}
	}
	c, err := b.current()
	if err != nil {
		return err
	}
	return wrap(fn(c))
}

func (b *Backend) Feed(ctx context.Context, limit int) ([]model.Item, error) {
	var items []model.Item
	err := b.call(ctx, func(c *client.Client) error {
		res, err := c.Entries(&client.Filter{
			Status:    client.EntryStatusUnread,
			Limit:     limit,
			Order:     "published_at",
			Direction: "desc",
		})
		if err != nil {
			return err
		}
		items = make([]model.Item, 0, len(res.Entries))
		for _, e := range res.Entries {
			items = append(items, toItem(e))
		}
		return nil
	})
	return items, err
}

func toItem(e *client.Entry) model.Item {
	return model.Item{
		ID:           e.ID,
		Title:        e.Title,
		URL:          e.URL,
		SourceDomain: domainOf(e),
		PublishedAt:  e.Date,
	}
}

func domainOf(e *client.Entry) string {
	raw := e.URL
	if e.Feed != nil && e.Feed.SiteURL != "" {
		raw = e.Feed.SiteURL
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}

func (b *Backend) MarkSeen(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	return b.call(ctx, func(c *client.Client) error {
		return c.UpdateEntries(ids, client.EntryStatusRead)
	})
}

func (b *Backend) Refresh(ctx context.Context) error {
	return b.call(ctx, func(c *client.Client) error {
		return c.RefreshAllFeeds()
	})
}

func (b *Backend) Act(ctx context.Context, id int64, action model.Action) error {
	switch action {
	case model.ActionUseful:
		// bookmarking toggles, so a starred entry is only marked read
		return b.call(ctx, func(c *client.Client) error {
			e, err := c.Entry(id)
			if err != nil {
				return err
			}
			if !e.Starred {
				if err := c.ToggleBookmark(id); err != nil {
					return err
				}
			}
			return c.UpdateEntries([]int64{id}, client.EntryStatusRead)
		})
	case model.ActionHide:
		return b.MarkSeen(ctx, []int64{id})
	}
	return api.Validation("miniflux does not support " + string(action))
}

func (b *Backend) Suppress(context.Context, int64, string, float64) error {
	return api.Validation("miniflux does not support suppress rules")
}

// Click marks the opened entry read.
func (b *Backend) Click(ctx context.Context, id int64) error {
	return b.MarkSeen(ctx, []int64{id})
}

// Auth returns the session authenticator for the backend. Signing in uses
// a username and password; probing succeeds with a configured API key.
func (b *Backend) Auth() session.Authenticator { return authenticator{b} }

type authenticator struct{ b *Backend }

func (a authenticator) Login(ctx context.Context, creds session.Credentials) (model.SessionInfo, error) {
	if err := ctx.Err(); err != nil {
		return model.SessionInfo{}, &api.Error{Kind: api.KindTransport, Message: err.Error(), Err: err}
	}
	c := client.New(a.b.endpoint, creds.Username, creds.Secret)
	if _, err := c.Me(); err != nil {
		return model.SessionInfo{}, wrap(err)
	}
	a.b.mu.Lock()
	a.b.mc = c
	a.b.mu.Unlock()
	return model.SessionInfo{OK: true}, nil
}

func (a authenticator) Probe(ctx context.Context) (model.SessionInfo, error) {
	err := a.b.call(ctx, func(c *client.Client) error {
		_, err := c.Me()
		return err
	})
	if err != nil {
		return model.SessionInfo{}, err
	}
	return model.SessionInfo{OK: true}, nil
}

// Logout forgets the credentials. A configured API key is kept so the next
// probe can sign in again.
func (a authenticator) Logout(context.Context) error {
	a.b.mu.Lock()
	defer a.b.mu.Unlock()
	a.b.mc = nil
	if a.b.apiKey != "" {
		a.b.mc = client.New(a.b.endpoint, a.b.apiKey)
	}
	return nil
}

func wrap(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		return err
	}
	switch {
	case errors.Is(err, client.ErrNotAuthorized):
		return &api.Error{Kind: api.KindAuth, Status: http.StatusUnauthorized, Message: err.Error(), Err: err}
	case errors.Is(err, client.ErrForbidden):
		return &api.Error{Kind: api.KindAuth, Status: http.StatusForbidden, Message: err.Error(), Err: err}
	}
	return &api.Error{Kind: api.KindTransport, Message: err.Error(), Err: err}
}
