package resource

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/luxzg/discoverctl/internal/api"
	"github.com/luxzg/discoverctl/internal/model"
)

const (
	DefaultTopicWeight = 1.0
	DefaultRulePenalty = 5.0
)

// TopicCollection is /admin/api/topics. It keeps the per-topic counts
// returned with the last list.
type TopicCollection struct {
	api *api.AdminAPI

	mu    sync.Mutex
	stats map[string]model.TopicStats
}

func Topics(a *api.AdminAPI) *TopicCollection {
	return &TopicCollection{api: a}
}

func (c *TopicCollection) Name() string { return "topics" }

func (c *TopicCollection) List(ctx context.Context) ([]model.Topic, error) {
	items, stats, err := c.api.Topics(ctx)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.stats = stats
	c.mu.Unlock()
	return items, nil
}

// Stats returns the counts for a topic from the last list.
func (c *TopicCollection) Stats(id int64) (model.TopicStats, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.stats[strconv.FormatInt(id, 10)]
	return s, ok
}

func (c *TopicCollection) Create(ctx context.Context, t model.Topic) error {
	return c.api.CreateTopic(ctx, t)
}

func (c *TopicCollection) Delete(ctx context.Context, id int64) error {
	return c.api.DeleteTopic(ctx, id)
}

func (c *TopicCollection) ID(t model.Topic) int64 { return t.ID }

func (c *TopicCollection) Label(t model.Topic) string { return t.Query }

func (c *TopicCollection) Prepare(t model.Topic) model.Topic {
	t.Query = strings.TrimSpace(t.Query)
	if t.Weight == 0 {
		t.Weight = DefaultTopicWeight
	}
	return t
}

// RuleCollection is /admin/api/rules.
type RuleCollection struct {
	api *api.AdminAPI
}

func Rules(a *api.AdminAPI) *RuleCollection {
	return &RuleCollection{api: a}
}

func (c *RuleCollection) Name() string { return "rules" }

func (c *RuleCollection) List(ctx context.Context) ([]model.Rule, error) {
	return c.api.Rules(ctx)
}

func (c *RuleCollection) Create(ctx context.Context, r model.Rule) error {
	return c.api.CreateRule(ctx, r)
}

func (c *RuleCollection) Delete(ctx context.Context, id int64) error {
	return c.api.DeleteRule(ctx, id)
}

func (c *RuleCollection) ID(r model.Rule) int64 { return r.ID }

func (c *RuleCollection) Label(r model.Rule) string { return r.Pattern }

func (c *RuleCollection) Prepare(r model.Rule) model.Rule {
	r.Pattern = strings.TrimSpace(r.Pattern)
	if r.Penalty == 0 {
		r.Penalty = DefaultRulePenalty
	}
	return r
}
