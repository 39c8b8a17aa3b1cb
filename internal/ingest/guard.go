package ingest

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/luxzg/discoverctl/internal/api"
	"github.com/luxzg/discoverctl/internal/constants"
	"github.com/luxzg/discoverctl/internal/logging"
	"github.com/luxzg/discoverctl/internal/model"
	"github.com/luxzg/discoverctl/internal/session"
	"github.com/luxzg/discoverctl/internal/status"
)

// Outcome is the result of a manual trigger.
type Outcome int

const (
	Completed Outcome = iota
	// Ignored means a run was already known to be in progress and no
	// request was sent.
	Ignored
	// Cooldown is the backend refusing a run right after one finished.
	Cooldown
	// Busy is the backend reporting a run it started on its own.
	Busy
	Failed
	Expired
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case Ignored:
		return "ignored"
	case Cooldown:
		return "cooldown"
	case Busy:
		return "busy"
	case Expired:
		return "expired"
	}
	return "failed"
}

// Informational reports outcomes that are not failures of the trigger.
func (o Outcome) Informational() bool {
	return o == Ignored || o == Cooldown || o == Busy
}

const ignoredMessage = "manual ingest ignored: already running"

// State combines the polled mirror with the local in-flight flag.
type State struct {
	Status         model.Status
	Known          bool
	ManualInFlight bool
}

// Running reports a run in progress, local or backend side.
func (s State) Running() bool {
	return s.ManualInFlight || s.Status.Ingest.State.Running
}

// Guard sends manual ingest requests, at most one at a time.
type Guard struct {
	backend Backend
	session *session.Manager
	status  *status.Board
	poller  *Poller
	logger  *zap.Logger

	mu       sync.Mutex
	inFlight bool
}

func NewGuard(opts Options, poller *Poller) *Guard {
	board := opts.Status
	if board == nil {
		board = status.NewBoard()
	}
	return &Guard{
		backend: opts.Backend,
		session: opts.Session,
		status:  board,
		poller:  poller,
		logger:  logging.OrNop(opts.Logger).Named("ingest"),
	}
}

// Trigger requests a run and waits for the backend to finish it. Whatever
// the result, the in-flight flag is cleared and the status re-polled.
func (g *Guard) Trigger(ctx context.Context) (Outcome, error) {
	if !g.session.Authenticated() {
		return Failed, session.ErrSignedOut
	}

	g.mu.Lock()
	if g.inFlight || g.mirrorRunning() {
		g.mu.Unlock()
		g.status.Info(ignoredMessage)
		return Ignored, nil
	}
	g.inFlight = true
	g.mu.Unlock()

	err := g.send(ctx)

	g.mu.Lock()
	g.inFlight = false
	g.mu.Unlock()
	if g.session.Authenticated() {
		if _, perr := g.poller.Force(ctx); perr != nil {
			g.logger.Debug("re-poll after trigger failed", zap.Error(perr))
		}
	}

	outcome := classify(err)
	g.logger.Info("manual ingest", zap.Stringer("outcome", outcome), zap.Error(err))
	switch outcome {
	case Completed:
		g.status.Info("manual ingest completed")
	case Cooldown, Busy:
		g.status.Notice(err.Error())
	case Expired:
		g.status.Error(err.Error())
	default:
		g.status.Error("manual ingest failed: " + err.Error())
	}
	return outcome, err
}

func (g *Guard) send(ctx context.Context) error {
	t, ok := g.session.Begin()
	if !ok {
		return session.ErrSignedOut
	}
	if _, has := ctx.Deadline(); !has {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, constants.IngestTimeout)
		defer cancel()
	}
	return g.session.Settle(t, g.backend.TriggerIngest(ctx))
}

func (g *Guard) mirrorRunning() bool {
	if g.poller == nil {
		return false
	}
	st, ok := g.poller.Last()
	return ok && st.Ingest.State.Running
}

func classify(err error) Outcome {
	switch {
	case err == nil:
		return Completed
	case api.IsCooldown(err):
		return Cooldown
	case api.IsAlreadyRunning(err):
		return Busy
	case err == session.ErrSessionExpired:
		return Expired
	}
	return Failed
}

func (g *Guard) InFlight() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inFlight
}

func (g *Guard) Snapshot() State {
	st, known := g.poller.Last()
	return State{Status: st, Known: known, ManualInFlight: g.InFlight()}
}

// Reset clears the in-flight flag, e.g. on sign-out.
func (g *Guard) Reset() {
	g.mu.Lock()
	g.inFlight = false
	g.mu.Unlock()
}
