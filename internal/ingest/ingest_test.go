package ingest

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luxzg/discoverctl/internal/api"
	"github.com/luxzg/discoverctl/internal/backendtest"
	"github.com/luxzg/discoverctl/internal/constants"
	"github.com/luxzg/discoverctl/internal/model"
	"github.com/luxzg/discoverctl/internal/session"
	"github.com/luxzg/discoverctl/internal/status"
)

type harness struct {
	fake   *backendtest.Server
	sess   *session.Manager
	board  *status.Board
	poller *Poller
	guard  *Guard
}

func setup(t *testing.T, interval time.Duration) *harness {
	t.Helper()
	fake := backendtest.New()
	t.Cleanup(fake.Close)

	c, err := api.New(api.Options{BaseURL: fake.URL})
	require.NoError(t, err)
	admin := api.NewAdminAPI(c)
	sess := session.New(session.Options{Auth: session.AdminAuth(admin), Tokens: c, Identity: constants.AdminScope})
	_, err = sess.Login(context.Background(), session.Credentials{Secret: backendtest.AdminSecret})
	require.NoError(t, err)

	board := status.NewBoard()
	opts := Options{Backend: admin, Session: sess, Status: board, Interval: interval}
	poller := NewPoller(opts)
	t.Cleanup(poller.Stop)
	return &harness{fake: fake, sess: sess, board: board, poller: poller, guard: NewGuard(opts, poller)}
}

func TestSecondTriggerIsIgnored(t *testing.T) {
	h := setup(t, time.Hour)
	entered, release := h.fake.BlockIngest()

	done := make(chan Outcome, 1)
	go func() {
		o, _ := h.guard.Trigger(context.Background())
		done <- o
	}()
	<-entered
	assert.True(t, h.guard.Snapshot().Running())

	o, err := h.guard.Trigger(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Ignored, o)
	assert.Equal(t, "manual ingest ignored: already running", h.board.Current().Text)

	close(release)
	assert.Equal(t, Completed, <-done)
	assert.Equal(t, 1, h.fake.Calls("POST /admin/api/ingest"))

	snap := h.guard.Snapshot()
	assert.False(t, snap.ManualInFlight)
	require.True(t, snap.Known, "status re-polled after the trigger")
	assert.Equal(t, "manual", snap.Status.Ingest.State.LastSource)
	assert.False(t, snap.Running())
}

func TestTriggerIgnoredWhileBackendRuns(t *testing.T) {
	h := setup(t, time.Hour)
	h.fake.SetIngestState(model.IngestState{Running: true, CurrentSource: "schedule"})
	_, err := h.poller.Refresh(context.Background())
	require.NoError(t, err)

	o, err := h.guard.Trigger(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Ignored, o)
	assert.Zero(t, h.fake.Calls("POST /admin/api/ingest"))
}

func TestTriggerConflicts(t *testing.T) {
	tests := []struct {
		msg  string
		want Outcome
	}{
		{backendtest.CooldownMessage, Cooldown},
		{backendtest.BusyMessage, Busy},
	}
	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			h := setup(t, time.Hour)
			h.fake.IngestConflict(tt.msg)

			o, err := h.guard.Trigger(context.Background())
			assert.Equal(t, tt.want, o)
			assert.ErrorIs(t, err, api.ErrConflict)
			assert.True(t, o.Informational())
			assert.False(t, h.guard.InFlight())

			line := h.board.Current()
			assert.Equal(t, status.Notice, line.Level)
			assert.Equal(t, tt.msg, line.Text)
			assert.True(t, h.sess.Authenticated())
		})
	}
}

func TestTriggerFailureClearsFlag(t *testing.T) {
	h := setup(t, time.Hour)
	h.fake.ForceStatus(http.StatusInternalServerError)

	o, err := h.guard.Trigger(context.Background())
	assert.Equal(t, Failed, o)
	assert.Error(t, err)
	assert.False(t, h.guard.InFlight())
	assert.Equal(t, status.Error, h.board.Current().Level)
	assert.True(t, strings.HasPrefix(h.board.Current().Text, "manual ingest failed"))

	h.fake.ForceStatus(0)
	o, err = h.guard.Trigger(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Completed, o)
}

func TestTriggerSessionExpired(t *testing.T) {
	h := setup(t, time.Hour)
	h.fake.ExpireSessions()

	o, err := h.guard.Trigger(context.Background())
	assert.Equal(t, Expired, o)
	assert.ErrorIs(t, err, session.ErrSessionExpired)
	assert.False(t, h.sess.Authenticated())
	assert.Zero(t, h.fake.Calls("GET /admin/api/status"))

	before := h.fake.TotalCalls()
	o, err = h.guard.Trigger(context.Background())
	assert.Equal(t, Failed, o)
	assert.ErrorIs(t, err, session.ErrSignedOut)
	assert.Equal(t, before, h.fake.TotalCalls())
}

func TestPollAuthFailureSignsOut(t *testing.T) {
	h := setup(t, time.Hour)
	_, err := h.poller.Refresh(context.Background())
	require.NoError(t, err)
	_, known := h.poller.Last()
	require.True(t, known)

	h.fake.ExpireSessions()
	_, err = h.poller.Refresh(context.Background())
	assert.ErrorIs(t, err, session.ErrSessionExpired)
	assert.False(t, h.sess.Authenticated())
	_, known = h.poller.Last()
	assert.False(t, known, "mirror cleared with the session")
}

func TestPollLoopSurvivesFailures(t *testing.T) {
	h := setup(t, 10*time.Millisecond)
	h.fake.FailStatus(true)
	updates := make(chan model.Status, 16)
	h.poller.OnUpdate(func(st model.Status) {
		select {
		case updates <- st:
		default:
		}
	})
	h.poller.Start()

	require.Eventually(t, func() bool {
		return strings.HasPrefix(h.board.Current().Text, "status poll failed")
	}, time.Second, 5*time.Millisecond)

	h.fake.FailStatus(false)
	select {
	case <-updates:
	case <-time.After(time.Second):
		t.Fatal("loop stopped after a failed poll")
	}
	assert.True(t, h.sess.Authenticated())

	h.poller.Stop()
	h.poller.Stop()
}

func TestPollSkippedWhileAnonymous(t *testing.T) {
	h := setup(t, 5*time.Millisecond)
	h.sess.Logout(context.Background())
	h.poller.Start()
	time.Sleep(50 * time.Millisecond)
	h.poller.Stop()

	assert.Zero(t, h.fake.Calls("GET /admin/api/status"))
	_, err := h.poller.Refresh(context.Background())
	assert.ErrorIs(t, err, session.ErrSignedOut)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "cooldown", Cooldown.String())
	assert.Equal(t, "failed", Outcome(42).String())
	assert.False(t, Failed.Informational())
}

func TestRefreshNotifiesObservers(t *testing.T) {
	h := setup(t, time.Hour)
	h.fake.SetIngestState(model.IngestState{Running: true, CurrentSource: "hn"})

	var got []model.Status
	h.poller.OnUpdate(func(st model.Status) { got = append(got, st) })
	dropped := 0
	unsub := h.poller.OnUpdate(func(model.Status) { dropped++ })
	unsub()

	st, err := h.poller.Refresh(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, st, got[0])
	assert.True(t, got[0].Ingest.State.Running)
	assert.Zero(t, dropped)

	last, ok := h.poller.Last()
	assert.True(t, ok)
	assert.Equal(t, st, last)
}
