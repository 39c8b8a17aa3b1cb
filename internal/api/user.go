package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/luxzg/discoverctl/internal/model"
)

// UserAPI is the end-user surface of the backend.
type UserAPI struct {
	c *Client
}

func NewUserAPI(c *Client) *UserAPI {
	return &UserAPI{c: c}
}

func (u *UserAPI) Client() *Client { return u.c }

func (u *UserAPI) Login(ctx context.Context, username, secret string) (model.SessionInfo, error) {
	var out model.SessionInfo
	in := map[string]string{"username": username, "secret": secret}
	err := u.c.Do(ctx, http.MethodPost, "/api/login", nil, in, &out)
	return out, err
}

func (u *UserAPI) Probe(ctx context.Context) (model.SessionInfo, error) {
	var out model.SessionInfo
	err := u.c.Do(ctx, http.MethodGet, "/api/session", nil, nil, &out)
	return out, err
}

func (u *UserAPI) Logout(ctx context.Context) error {
	return u.c.Do(ctx, http.MethodPost, "/api/logout", nil, struct{}{}, nil)
}

func (u *UserAPI) Feed(ctx context.Context, limit int) ([]model.Item, error) {
	var out struct {
		Items []model.Item `json:"items"`
	}
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if err := u.c.Do(ctx, http.MethodGet, "/api/feed", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

func (u *UserAPI) MarkSeen(ctx context.Context, ids []int64) error {
	in := struct {
		IDs []int64 `json:"ids"`
	}{IDs: ids}
	return u.c.Do(ctx, http.MethodPost, "/api/feed/seen", nil, in, nil)
}

func (u *UserAPI) Refresh(ctx context.Context) error {
	return u.c.Do(ctx, http.MethodPost, "/api/feed/refresh", nil, struct{}{}, nil)
}

// Act sends a useful or hide action.
func (u *UserAPI) Act(ctx context.Context, id int64, action model.Action) error {
	in := struct {
		ID     int64  `json:"id"`
		Action string `json:"action"`
	}{ID: id, Action: action.Wire()}
	return u.c.Do(ctx, http.MethodPost, "/api/articles/action", nil, in, nil)
}

// Suppress submits a penalty rule derived from the item.
func (u *UserAPI) Suppress(ctx context.Context, id int64, pattern string, penalty float64) error {
	in := struct {
		ID      int64   `json:"id"`
		Pattern string  `json:"pattern"`
		Penalty float64 `json:"penalty"`
	}{ID: id, Pattern: pattern, Penalty: penalty}
	return u.c.Do(ctx, http.MethodPost, "/api/articles/dontshow", nil, in, nil)
}

// Click records that the item was opened.
func (u *UserAPI) Click(ctx context.Context, id int64) error {
	in := struct {
		ID int64 `json:"id"`
	}{ID: id}
	return u.c.Do(ctx, http.MethodPost, "/api/articles/click", nil, in, nil)
}
