package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/luxzg/discoverctl/internal/model"
)

// AdminAPI is the administrator surface of the backend.
type AdminAPI struct {
	c *Client
}

func NewAdminAPI(c *Client) *AdminAPI {
	return &AdminAPI{c: c}
}

func (a *AdminAPI) Client() *Client { return a.c }

func (a *AdminAPI) Login(ctx context.Context, secret string) (model.SessionInfo, error) {
	var out model.SessionInfo
	in := map[string]string{"secret": secret}
	err := a.c.Do(ctx, http.MethodPost, "/admin/api/login", nil, in, &out)
	return out, err
}

func (a *AdminAPI) Probe(ctx context.Context) (model.SessionInfo, error) {
	var out model.SessionInfo
	err := a.c.Do(ctx, http.MethodGet, "/admin/api/session", nil, nil, &out)
	return out, err
}

func (a *AdminAPI) Logout(ctx context.Context) error {
	return a.c.Do(ctx, http.MethodPost, "/admin/api/logout", nil, struct{}{}, nil)
}

func (a *AdminAPI) Status(ctx context.Context) (model.Status, error) {
	var out model.Status
	err := a.c.Do(ctx, http.MethodGet, "/admin/api/status", nil, nil, &out)
	return out, err
}

// Topics returns the topic list and per-topic counts keyed by topic id.
func (a *AdminAPI) Topics(ctx context.Context) ([]model.Topic, map[string]model.TopicStats, error) {
	var out struct {
		Items      []model.Topic                `json:"items"`
		TopicStats map[string]model.TopicStats `json:"topic_stats"`
	}
	if err := a.c.Do(ctx, http.MethodGet, "/admin/api/topics", nil, nil, &out); err != nil {
		return nil, nil, err
	}
	return out.Items, out.TopicStats, nil
}

func (a *AdminAPI) CreateTopic(ctx context.Context, t model.Topic) error {
	return a.c.Do(ctx, http.MethodPost, "/admin/api/topics", nil, t, nil)
}

func (a *AdminAPI) DeleteTopic(ctx context.Context, id int64) error {
	return a.c.Do(ctx, http.MethodDelete, "/admin/api/topics", idQuery(id), nil, nil)
}

func (a *AdminAPI) Rules(ctx context.Context) ([]model.Rule, error) {
	var out struct {
		Items []model.Rule `json:"items"`
	}
	if err := a.c.Do(ctx, http.MethodGet, "/admin/api/rules", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

func (a *AdminAPI) CreateRule(ctx context.Context, r model.Rule) error {
	return a.c.Do(ctx, http.MethodPost, "/admin/api/rules", nil, r, nil)
}

func (a *AdminAPI) DeleteRule(ctx context.Context, id int64) error {
	return a.c.Do(ctx, http.MethodDelete, "/admin/api/rules", idQuery(id), nil, nil)
}

// TriggerIngest asks the backend scheduler for a manual run. A 409 means the
// scheduler refused; see IsCooldown and IsAlreadyRunning.
func (a *AdminAPI) TriggerIngest(ctx context.Context) error {
	return a.c.Do(ctx, http.MethodPost, "/admin/api/ingest", nil, struct{}{}, nil)
}

func (a *AdminAPI) Dedupe(ctx context.Context) (model.DedupeResult, error) {
	var out model.DedupeResult
	err := a.c.Do(ctx, http.MethodPost, "/admin/api/dedupe", nil, struct{}{}, &out)
	return out, err
}

func idQuery(id int64) url.Values {
	return url.Values{"id": []string{strconv.FormatInt(id, 10)}}
}
