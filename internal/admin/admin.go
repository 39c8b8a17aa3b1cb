// Package admin composes the administrator console: the admin session, the
// topic and rule editors, and the ingest mirror with its manual trigger.
package admin

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/luxzg/discoverctl/internal/api"
	"github.com/luxzg/discoverctl/internal/ingest"
	"github.com/luxzg/discoverctl/internal/logging"
	"github.com/luxzg/discoverctl/internal/model"
	"github.com/luxzg/discoverctl/internal/resource"
	"github.com/luxzg/discoverctl/internal/session"
	"github.com/luxzg/discoverctl/internal/status"
)

type Options struct {
	API     *api.AdminAPI
	Session *session.Manager
	Status  *status.Board
	// PollInterval is the status polling period; the default applies when
	// zero.
	PollInterval time.Duration
	Logger       *zap.Logger
}

type Controller struct {
	api     *api.AdminAPI
	session *session.Manager
	status  *status.Board
	logger  *zap.Logger

	topicColl *resource.TopicCollection
	topics    *resource.Editor[model.Topic]
	rules     *resource.Editor[model.Rule]
	poller    *ingest.Poller
	guard     *ingest.Guard

	mu    sync.Mutex
	unsub func()
}

func New(opts Options) *Controller {
	board := opts.Status
	if board == nil {
		board = status.NewBoard()
	}
	logger := logging.OrNop(opts.Logger).Named("admin")
	edOpts := resource.Options{Session: opts.Session, Status: board, Logger: logger}
	ingOpts := ingest.Options{
		Backend:  opts.API,
		Session:  opts.Session,
		Status:   board,
		Interval: opts.PollInterval,
		Logger:   logger,
	}

	c := &Controller{
		api:       opts.API,
		session:   opts.Session,
		status:    board,
		logger:    logger,
		topicColl: resource.Topics(opts.API),
	}
	c.topics = resource.NewEditor[model.Topic](c.topicColl, edOpts)
	c.rules = resource.NewEditor[model.Rule](resource.Rules(opts.API), edOpts)
	c.poller = ingest.NewPoller(ingOpts)
	c.guard = ingest.NewGuard(ingOpts, c.poller)
	c.unsub = c.session.OnChange(func(s session.Session) {
		if !s.Authenticated {
			c.clear()
		}
	})
	return c
}

func (c *Controller) clear() {
	c.topics.Clear()
	c.rules.Clear()
	c.guard.Reset()
	c.poller.Reset()
}

// Init recovers an existing admin session, loads the console when there is
// one and starts polling.
func (c *Controller) Init(ctx context.Context) error {
	defer c.poller.Start()
	if s := c.session.Probe(ctx); !s.Authenticated {
		return nil
	}
	return c.Bootstrap(ctx)
}

// Bootstrap fetches topics, rules and the scheduler status.
func (c *Controller) Bootstrap(ctx context.Context) error {
	if _, err := c.topics.List(ctx); err != nil {
		return err
	}
	if _, err := c.rules.List(ctx); err != nil {
		return err
	}
	_, err := c.poller.Refresh(ctx)
	return err
}

func (c *Controller) Login(ctx context.Context, secret string) error {
	if _, err := c.session.Login(ctx, session.Credentials{Secret: secret}); err != nil {
		c.status.Error(err.Error())
		return err
	}
	c.status.Info("signed in")
	return c.Bootstrap(ctx)
}

// Logout signs out; the lists and the ingest mirror are cleared by the
// session observer.
func (c *Controller) Logout(ctx context.Context) {
	c.session.Logout(ctx)
	c.status.Info("signed out")
}

// Trigger starts a manual ingest through the guard.
func (c *Controller) Trigger(ctx context.Context) (ingest.Outcome, error) {
	return c.guard.Trigger(ctx)
}

// Dedupe hides duplicate titles on the backend and re-polls the status.
func (c *Controller) Dedupe(ctx context.Context) (model.DedupeResult, error) {
	t, ok := c.session.Begin()
	if !ok {
		return model.DedupeResult{}, session.ErrSignedOut
	}
	res, err := c.api.Dedupe(ctx)
	if err = c.session.Settle(t, err); err != nil {
		c.status.Error("dedupe failed: " + err.Error())
		return model.DedupeResult{}, err
	}
	hidden := res.Stats.SameRunHidden + res.Stats.HistoricalHidden
	c.logger.Info("dedupe", zap.Int64("hidden", hidden), zap.Int("total", res.DedupeHiddenTotal))
	c.status.Info("dedupe hid " + strconv.FormatInt(hidden, 10) + " items (" +
		strconv.Itoa(res.DedupeHiddenTotal) + " in total)")
	if _, perr := c.poller.Refresh(ctx); perr != nil {
		c.logger.Debug("re-poll after dedupe failed", zap.Error(perr))
	}
	return res, nil
}

// Dispose stops polling and detaches from the session.
func (c *Controller) Dispose() {
	c.poller.Stop()
	c.mu.Lock()
	unsub := c.unsub
	c.unsub = nil
	c.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

func (c *Controller) Session() *session.Manager { return c.session }

func (c *Controller) Status() *status.Board { return c.status }

func (c *Controller) Topics() *resource.Editor[model.Topic] { return c.topics }

func (c *Controller) Rules() *resource.Editor[model.Rule] { return c.rules }

// TopicStats returns the counts listed with the topic.
func (c *Controller) TopicStats(id int64) (model.TopicStats, bool) {
	return c.topicColl.Stats(id)
}

func (c *Controller) Poller() *ingest.Poller { return c.poller }

// Ingest returns the scheduler mirror and the manual in-flight flag.
func (c *Controller) Ingest() ingest.State { return c.guard.Snapshot() }
