// Package feed drives the end-user feed: loading pages, advancing to the next
// batch and applying per-item actions.
package feed

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/luxzg/discoverctl/internal/api"
	"github.com/luxzg/discoverctl/internal/constants"
	"github.com/luxzg/discoverctl/internal/logging"
	"github.com/luxzg/discoverctl/internal/model"
	"github.com/luxzg/discoverctl/internal/session"
	"github.com/luxzg/discoverctl/internal/status"
	"github.com/luxzg/discoverctl/internal/store"
)

const msgNoItems = "no items available"

// ErrSignedOut is returned by operations that need a session when there is
// none.
var ErrSignedOut = session.ErrSignedOut

// Backend is the feed surface of a server.
type Backend interface {
	Feed(ctx context.Context, limit int) ([]model.Item, error)
	MarkSeen(ctx context.Context, ids []int64) error
	Refresh(ctx context.Context) error
	Act(ctx context.Context, id int64, action model.Action) error
	Suppress(ctx context.Context, id int64, pattern string, penalty float64) error
	Click(ctx context.Context, id int64) error
}

type Options struct {
	Backend Backend
	Session *session.Manager
	// Status receives human readable outcomes; a private board is used
	// when nil.
	Status *status.Board
	// Journal, if set, records every action attempt.
	Journal   store.Store
	BatchSize int
	Logger    *zap.Logger
}

// AdvanceResult describes one advance.
type AdvanceResult struct {
	Count     int
	Refreshed bool
	// RefreshErr is the refresh failure that did not abort the retry.
	RefreshErr error
	Empty      bool
}

type Controller struct {
	backend Backend
	session *session.Manager
	status  *status.Board
	journal store.Store
	batch   int
	logger  *zap.Logger
	menu    Menu

	mu      sync.Mutex
	view    View
	loadSeq uint64
	unsub   func()
}

func New(opts Options) *Controller {
	batch := opts.BatchSize
	if batch <= 0 {
		batch = constants.DefaultBatchSize
	}
	if batch > constants.MaxBatchSize {
		batch = constants.MaxBatchSize
	}
	board := opts.Status
	if board == nil {
		board = status.NewBoard()
	}
	c := &Controller{
		backend: opts.Backend,
		session: opts.Session,
		status:  board,
		journal: opts.Journal,
		batch:   batch,
		logger:  logging.OrNop(opts.Logger).Named("feed"),
	}
	c.unsub = c.session.OnChange(func(s session.Session) {
		if !s.Authenticated {
			c.setView(View{})
		}
	})
	return c
}

// Init recovers an existing session and loads the first page.
func (c *Controller) Init(ctx context.Context) error {
	if s := c.session.Probe(ctx); !s.Authenticated {
		return nil
	}
	_, err := c.LoadPage(ctx)
	return err
}

// Dispose detaches the controller from its session.
func (c *Controller) Dispose() {
	c.mu.Lock()
	unsub := c.unsub
	c.unsub = nil
	c.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	c.menu.CloseAll()
}

func (c *Controller) Session() *session.Manager { return c.session }

func (c *Controller) Status() *status.Board { return c.status }

func (c *Controller) Menu() *Menu { return &c.menu }

func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view
}

func (c *Controller) setView(v View) {
	c.mu.Lock()
	c.view = v
	c.mu.Unlock()
}

// Login signs in and loads the first page.
func (c *Controller) Login(ctx context.Context, creds session.Credentials) error {
	if _, err := c.session.Login(ctx, creds); err != nil {
		c.status.Error(err.Error())
		return err
	}
	c.status.Info("signed in")
	_, err := c.LoadPage(ctx)
	return err
}

func (c *Controller) Logout(ctx context.Context) {
	c.session.Logout(ctx)
	c.setView(View{})
	c.menu.CloseAll()
	c.status.Info("signed out")
}

// LoadPage replaces the view with a fresh page and returns its size. When
// signed out it clears the view and returns 0.
func (c *Controller) LoadPage(ctx context.Context) (int, error) {
	t, ok := c.session.Begin()
	if !ok {
		c.setView(View{})
		return 0, nil
	}

	c.mu.Lock()
	c.loadSeq++
	seq := c.loadSeq
	c.mu.Unlock()

	items, err := c.backend.Feed(ctx, c.batch)
	if err = c.session.Settle(t, err); err != nil {
		c.status.Error(err.Error())
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.session.Valid(t) || seq != c.loadSeq {
		c.logger.Debug("discarding stale page", zap.Int("items", len(items)))
		return c.view.Len(), nil
	}
	c.view = NewView(items)
	return len(items), nil
}

// Advance marks the displayed items seen and loads the next batch,
// escalating to one backend refresh when the feed is exhausted.
func (c *Controller) Advance(ctx context.Context) (AdvanceResult, error) {
	t, ok := c.session.Begin()
	if !ok {
		c.setView(View{})
		return AdvanceResult{}, ErrSignedOut
	}

	if ids := c.View().Pending(); len(ids) > 0 {
		err := c.session.Settle(t, c.backend.MarkSeen(ctx, ids))
		if err != nil {
			c.status.Error("mark seen failed: " + err.Error())
			return AdvanceResult{}, err
		}
		c.setView(View{})
	}

	n, err := c.LoadPage(ctx)
	if err != nil {
		return AdvanceResult{}, err
	}
	res := AdvanceResult{Count: n}
	if n > 0 {
		c.status.Clear()
		return res, nil
	}

	res.Refreshed = true
	if err := c.session.Settle(t, c.backend.Refresh(ctx)); err != nil {
		if errors.Is(err, session.ErrSessionExpired) {
			c.status.Error(err.Error())
			return res, err
		}
		res.RefreshErr = err
		c.logger.Warn("refresh failed", zap.Error(err))
	}

	n, err = c.LoadPage(ctx)
	if err != nil {
		return res, err
	}
	res.Count = n
	if n == 0 {
		res.Empty = true
		c.status.Info(msgNoItems)
		return res, nil
	}
	c.status.Clear()
	return res, nil
}

// Apply sends a useful or hide action for a displayed item.
func (c *Controller) Apply(ctx context.Context, id int64, action model.Action) error {
	if action.Suppress() {
		return api.Validation("use Suppress for " + string(action))
	}
	return c.act(ctx, id, action, store.ActionRecord{}, func(ctx context.Context) error {
		return c.backend.Act(ctx, id, action)
	})
}

// SuppressDraft returns a prefilled request for a displayed item.
func (c *Controller) SuppressDraft(id int64, kind model.Action) (SuppressRequest, error) {
	item, ok := c.View().Item(id)
	if !ok {
		return SuppressRequest{}, api.Validation("item is not displayed")
	}
	return NewSuppressRequest(item, kind, c.session.DefaultPenalty()), nil
}

// Suppress submits a penalty rule. An invalid request never reaches the
// backend.
func (c *Controller) Suppress(ctx context.Context, req SuppressRequest) error {
	if err := req.Validate(); err != nil {
		c.status.Error(err.Error())
		c.record(store.ActionRecord{ItemID: req.ItemID, Kind: string(req.Kind), Pattern: req.Pattern, Penalty: req.Penalty}, err)
		return err
	}
	rec := store.ActionRecord{Pattern: req.Pattern, Penalty: req.Penalty}
	return c.act(ctx, req.ItemID, req.Kind, rec, func(ctx context.Context) error {
		return c.backend.Suppress(ctx, req.ItemID, req.Pattern, req.Penalty)
	})
}

func (c *Controller) act(ctx context.Context, id int64, kind model.Action, rec store.ActionRecord, call func(context.Context) error) error {
	rec.ItemID, rec.Kind = id, string(kind)

	t, ok := c.session.Begin()
	if !ok {
		c.record(rec, ErrSignedOut)
		return ErrSignedOut
	}
	if !c.View().Has(id) {
		return api.Validation("item is not displayed")
	}

	err := c.session.Settle(t, call(ctx))
	c.record(rec, err)
	if err != nil {
		c.status.Error(string(kind) + " failed: " + err.Error())
		return err
	}

	c.mu.Lock()
	if c.session.Valid(t) {
		c.view = Reduce(c.view, id, Result{})
	}
	c.mu.Unlock()
	c.menu.CloseAll()
	c.status.Info(string(kind) + " recorded")
	return nil
}

// Open returns a displayed item and records the click on the backend. A
// failed click is reported but the item stays displayed.
func (c *Controller) Open(ctx context.Context, id int64) (model.Item, error) {
	item, ok := c.View().Item(id)
	if !ok {
		return model.Item{}, api.Validation("item is not displayed")
	}
	t, ok := c.session.Begin()
	if !ok {
		return item, ErrSignedOut
	}
	if err := c.session.Settle(t, c.backend.Click(ctx, id)); err != nil {
		c.status.Error("click tracking failed: " + err.Error())
		return item, err
	}
	return item, nil
}

func (c *Controller) record(rec store.ActionRecord, err error) {
	if c.journal == nil {
		return
	}
	rec.Identity = c.session.Identity()
	rec.OK = err == nil
	if err != nil {
		rec.Message = err.Error()
	}
	if jerr := c.journal.RecordAction(&rec); jerr != nil {
		c.logger.Warn("journal write failed", zap.Error(jerr))
	}
}
