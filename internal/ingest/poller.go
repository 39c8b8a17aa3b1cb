// Package ingest mirrors the backend ingestion scheduler and guards the
// manual trigger so at most one run is requested at a time.
package ingest

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/luxzg/discoverctl/internal/constants"
	"github.com/luxzg/discoverctl/internal/logging"
	"github.com/luxzg/discoverctl/internal/model"
	"github.com/luxzg/discoverctl/internal/session"
	"github.com/luxzg/discoverctl/internal/status"
)

// Backend is the part of the admin API the scheduler mirror needs.
type Backend interface {
	Status(ctx context.Context) (model.Status, error)
	TriggerIngest(ctx context.Context) error
}

type Options struct {
	Backend  Backend
	Session  *session.Manager
	Status   *status.Board
	Interval time.Duration
	Logger   *zap.Logger
}

// Poller refreshes the status mirror every interval while the session is
// authenticated.
type Poller struct {
	backend  Backend
	session  *session.Manager
	status   *status.Board
	interval time.Duration
	logger   *zap.Logger
	unsub    func()

	group singleflight.Group

	mu        sync.Mutex
	last      model.Status
	known     bool
	issued    uint64
	applied   uint64
	observers []func(model.Status)

	ctx       context.Context
	cancel    context.CancelFunc
	startOnce sync.Once
	stopOnce  sync.Once
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

func NewPoller(opts Options) *Poller {
	interval := opts.Interval
	if interval <= 0 {
		interval = constants.DefaultPollInterval
	}
	board := opts.Status
	if board == nil {
		board = status.NewBoard()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Poller{
		backend:  opts.Backend,
		session:  opts.Session,
		status:   board,
		interval: interval,
		logger:   logging.OrNop(opts.Logger).Named("poller"),
		ctx:      ctx,
		cancel:   cancel,
		stopChan: make(chan struct{}),
	}
	p.unsub = opts.Session.OnChange(func(s session.Session) {
		if !s.Authenticated {
			p.Reset()
		}
	})
	return p
}

// Start runs the loop in the background. Calling it again is a no-op.
func (p *Poller) Start() {
	p.startOnce.Do(func() {
		p.wg.Add(1)
		go p.loop()
	})
}

func (p *Poller) loop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopChan:
			return
		case <-ticker.C:
		}
		if !p.session.Authenticated() {
			continue
		}
		if _, err := p.Refresh(p.ctx); err != nil {
			p.logger.Debug("poll failed", zap.Error(err))
		}
	}
}

// Stop ends the loop, cancels an in-flight poll and waits for the loop to
// return. It is safe to call more than once.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopChan)
		p.cancel()
		p.unsub()
	})
	p.wg.Wait()
}

// Refresh fetches the status now. Calls made while one is in flight share
// its result.
func (p *Poller) Refresh(ctx context.Context) (model.Status, error) {
	v, err, _ := p.group.Do("status", func() (any, error) {
		return p.fetch(ctx)
	})
	st, _ := v.(model.Status)
	return st, err
}

// Force fetches the status with a request issued after the call, instead of
// joining one already in flight.
func (p *Poller) Force(ctx context.Context) (model.Status, error) {
	p.group.Forget("status")
	return p.Refresh(ctx)
}

func (p *Poller) fetch(ctx context.Context) (model.Status, error) {
	t, ok := p.session.Begin()
	if !ok {
		return model.Status{}, session.ErrSignedOut
	}
	p.mu.Lock()
	p.issued++
	seq := p.issued
	p.mu.Unlock()

	st, err := p.backend.Status(ctx)
	if err = p.session.Settle(t, err); err != nil {
		if err != session.ErrSessionExpired && ctx.Err() == nil {
			p.status.Error("status poll failed: " + err.Error())
		}
		return model.Status{}, err
	}

	p.mu.Lock()
	if !p.session.Valid(t) || seq <= p.applied {
		p.mu.Unlock()
		return st, nil
	}
	p.applied = seq
	p.last = st
	p.known = true
	obs := append([]func(model.Status){}, p.observers...)
	p.mu.Unlock()

	for _, fn := range obs {
		if fn != nil {
			fn(st)
		}
	}
	return st, nil
}

// Last returns the most recent status; false before the first successful
// poll of the current session.
func (p *Poller) Last() (model.Status, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last, p.known
}

// OnUpdate registers fn to run after every applied poll. The returned func
// removes it.
func (p *Poller) OnUpdate(fn func(model.Status)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, fn)
	idx := len(p.observers) - 1
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if idx < len(p.observers) {
			p.observers[idx] = nil
		}
	}
}

// Reset drops the mirror.
func (p *Poller) Reset() {
	p.mu.Lock()
	p.last = model.Status{}
	p.known = false
	p.applied = p.issued
	p.mu.Unlock()
}
