package feed

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luxzg/discoverctl/internal/api"
	"github.com/luxzg/discoverctl/internal/backendtest"
	"github.com/luxzg/discoverctl/internal/model"
	"github.com/luxzg/discoverctl/internal/session"
	"github.com/luxzg/discoverctl/internal/status"
	"github.com/luxzg/discoverctl/internal/store/memorystore"
)

type harness struct {
	fake    *backendtest.Server
	ctrl    *Controller
	journal *memorystore.MemoryStore
}

func newHarness(t *testing.T, batch int) *harness {
	t.Helper()
	fake := backendtest.New()
	t.Cleanup(fake.Close)

	c, err := api.New(api.Options{BaseURL: fake.URL})
	require.NoError(t, err)
	user := api.NewUserAPI(c)
	sess := session.New(session.Options{Auth: session.UserAuth(user), Tokens: c})
	journal := memorystore.NewMemoryStore()
	ctrl := New(Options{Backend: user, Session: sess, Status: status.NewBoard(), Journal: journal, BatchSize: batch})
	t.Cleanup(ctrl.Dispose)
	return &harness{fake: fake, ctrl: ctrl, journal: journal}
}

func (h *harness) login(t *testing.T) {
	t.Helper()
	require.NoError(t, h.ctrl.Login(context.Background(), session.Credentials{
		Username: backendtest.Username,
		Secret:   backendtest.UserSecret,
	}))
}

func ids(items []model.Item) []int64 {
	out := make([]int64, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func TestLoadPageSignedOut(t *testing.T) {
	h := newHarness(t, 5)
	h.fake.AddItems(model.Item{}, model.Item{})

	n, err := h.ctrl.LoadPage(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, h.ctrl.View().Len())
	assert.Zero(t, h.fake.TotalCalls())
}

func TestInitRecoversSession(t *testing.T) {
	h := newHarness(t, 5)
	h.fake.AddItems(model.Item{}, model.Item{})
	h.login(t)

	// a second controller on the same cookie jar
	c := h.ctrl.backend.(*api.UserAPI).Client()
	sess := session.New(session.Options{Auth: session.UserAuth(api.NewUserAPI(c)), Tokens: c})
	other := New(Options{Backend: api.NewUserAPI(c), Session: sess})
	defer other.Dispose()

	require.NoError(t, other.Init(context.Background()))
	assert.True(t, sess.Authenticated())
	assert.Equal(t, 2, other.View().Len())
}

func TestExampleScenario(t *testing.T) {
	h := newHarness(t, 10)
	added := h.fake.AddItems(make([]model.Item, 8)...)
	ctx := context.Background()

	h.login(t)
	assert.True(t, h.ctrl.Session().Authenticated())
	assert.NotEmpty(t, h.ctrl.Session().Snapshot().CSRFToken)
	require.Equal(t, 8, h.ctrl.View().Len())

	require.NoError(t, h.ctrl.Apply(ctx, 7, model.ActionUseful))
	assert.False(t, h.ctrl.View().Has(7))
	assert.Equal(t, 7, h.ctrl.View().Len())
	assert.Equal(t, "up", h.fake.Action(7))

	remaining := h.ctrl.View().Pending()
	more := h.fake.AddItems(model.Item{}, model.Item{})

	res, err := h.ctrl.Advance(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, remaining, h.fake.Seen())
	assert.Equal(t, 2, res.Count)
	assert.False(t, res.Refreshed)
	assert.Equal(t, ids(more), h.ctrl.View().Pending())
	assert.Len(t, added, 8)
}

func TestAdvanceNeverReshowsPending(t *testing.T) {
	h := newHarness(t, 3)
	h.fake.AddItems(make([]model.Item, 7)...)
	h.login(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		before := h.ctrl.View().Pending()
		_, err := h.ctrl.Advance(ctx)
		require.NoError(t, err)
		for _, id := range before {
			assert.False(t, h.ctrl.View().Has(id), "id %d shown again", id)
		}
	}
}

func TestAdvanceMarkSeenFailureAborts(t *testing.T) {
	h := newHarness(t, 5)
	h.fake.AddItems(model.Item{}, model.Item{})
	h.login(t)
	h.fake.FailSeen(true)

	before := h.ctrl.View().Pending()
	_, err := h.ctrl.Advance(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, api.ErrTransport)
	assert.Equal(t, 1, h.fake.Calls("GET /api/feed"), "no reload after failed mark-seen")
	assert.Zero(t, h.fake.Calls("POST /api/feed/refresh"))
	assert.Equal(t, before, h.ctrl.View().Pending())
	assert.Equal(t, status.Error, h.ctrl.Status().Current().Level)
}

func TestAdvanceEscalatesOnce(t *testing.T) {
	h := newHarness(t, 5)
	h.login(t)

	res, err := h.ctrl.Advance(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Empty)
	assert.True(t, res.Refreshed)
	assert.NoError(t, res.RefreshErr)
	assert.Equal(t, 1, h.fake.Calls("POST /api/feed/refresh"))
	// one load at login, two in advance
	assert.Equal(t, 3, h.fake.Calls("GET /api/feed"))
	assert.Equal(t, "no items available", h.ctrl.Status().Current().Text)
	assert.Zero(t, h.fake.Calls("POST /api/feed/seen"))
}

func TestAdvanceRetriesAfterFailedRefresh(t *testing.T) {
	h := newHarness(t, 5)
	h.login(t)
	h.fake.FailRefresh(true)

	res, err := h.ctrl.Advance(context.Background())
	require.NoError(t, err, "empty feed is not an error")
	assert.True(t, res.Empty)
	assert.ErrorIs(t, res.RefreshErr, api.ErrTransport)
	assert.Equal(t, 3, h.fake.Calls("GET /api/feed"))
	assert.Equal(t, "no items available", h.ctrl.Status().Current().Text)
	assert.Equal(t, status.Info, h.ctrl.Status().Current().Level)
}

func TestAdvanceRefreshConflictStillRetries(t *testing.T) {
	h := newHarness(t, 5)
	h.login(t)
	h.fake.IngestConflict(backendtest.BusyMessage)

	res, err := h.ctrl.Advance(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Empty)
	assert.ErrorIs(t, res.RefreshErr, api.ErrConflict)
	assert.Equal(t, 3, h.fake.Calls("GET /api/feed"))
}

func TestAdvanceRefreshFindsItems(t *testing.T) {
	h := newHarness(t, 5)
	h.login(t)
	fresh := h.fake.RefillOnRefresh(model.Item{}, model.Item{}, model.Item{})

	res, err := h.ctrl.Advance(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Empty)
	assert.True(t, res.Refreshed)
	assert.Equal(t, 3, res.Count)
	assert.Equal(t, ids(fresh), h.ctrl.View().Pending())
}

func TestAdvanceSignedOut(t *testing.T) {
	h := newHarness(t, 5)
	_, err := h.ctrl.Advance(context.Background())
	assert.ErrorIs(t, err, ErrSignedOut)
	assert.Zero(t, h.fake.TotalCalls())
}

func TestActionFailureKeepsItem(t *testing.T) {
	h := newHarness(t, 5)
	items := h.fake.AddItems(model.Item{}, model.Item{})
	h.login(t)
	h.fake.FailAction(items[0].ID)

	err := h.ctrl.Apply(context.Background(), items[0].ID, model.ActionHide)
	require.Error(t, err)
	assert.True(t, h.ctrl.View().Has(items[0].ID))
	assert.Contains(t, h.ctrl.Status().Current().Text, "hide failed")

	require.NoError(t, h.ctrl.Apply(context.Background(), items[1].ID, model.ActionHide))
	assert.False(t, h.ctrl.View().Has(items[1].ID))

	recs, err := h.journal.GetActions("asc", 0)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.False(t, recs[0].OK)
	assert.True(t, recs[1].OK)
	assert.Equal(t, "user", recs[1].Identity)
}

func TestItemPresentIffNoActionSucceeded(t *testing.T) {
	h := newHarness(t, 10)
	items := h.fake.AddItems(make([]model.Item, 6)...)
	h.login(t)
	h.fake.FailAction(items[1].ID)
	h.fake.FailAction(items[4].ID)
	ctx := context.Background()

	succeeded := map[int64]bool{}
	var wg sync.WaitGroup
	var mu sync.Mutex
	for i, it := range items {
		wg.Add(1)
		go func(id int64, action model.Action) {
			defer wg.Done()
			if err := h.ctrl.Apply(ctx, id, action); err == nil {
				mu.Lock()
				succeeded[id] = true
				mu.Unlock()
			}
		}(it.ID, []model.Action{model.ActionUseful, model.ActionHide}[i%2])
	}
	wg.Wait()

	for _, it := range items {
		assert.Equal(t, !succeeded[it.ID], h.ctrl.View().Has(it.ID), "item %d", it.ID)
	}
	assert.Len(t, succeeded, 4)
}

func TestSuppressValidationMakesNoCall(t *testing.T) {
	h := newHarness(t, 5)
	items := h.fake.AddItems(model.Item{Title: "Crypto news"})
	h.login(t)
	before := h.fake.TotalCalls()

	for _, req := range []SuppressRequest{
		{ItemID: items[0].ID, Kind: model.ActionSuppressItem, Pattern: "", Penalty: 5},
		{ItemID: items[0].ID, Kind: model.ActionSuppressItem, Pattern: "   ", Penalty: 5},
		{ItemID: items[0].ID, Kind: model.ActionSuppressItem, Pattern: "x", Penalty: 0},
		{ItemID: items[0].ID, Kind: model.ActionSuppressDomain, Pattern: "x", Penalty: -1},
	} {
		err := h.ctrl.Suppress(context.Background(), req)
		assert.ErrorIs(t, err, api.ErrValidation)
	}
	assert.Equal(t, before, h.fake.TotalCalls())
	assert.True(t, h.ctrl.View().Has(items[0].ID))
}

func TestSuppressDraftAndSubmit(t *testing.T) {
	h := newHarness(t, 5)
	items := h.fake.AddItems(
		model.Item{Title: "Crypto news", SourceDomain: "coins.example"},
		model.Item{Title: "Other", SourceDomain: "spam.example"},
	)
	h.login(t)
	ctx := context.Background()

	draft, err := h.ctrl.SuppressDraft(items[0].ID, model.ActionSuppressItem)
	require.NoError(t, err)
	assert.Equal(t, "Crypto news", draft.Pattern)
	assert.Equal(t, 7.0, draft.Penalty, "penalty defaults to the session value")
	draft.Pattern = "crypto"
	require.NoError(t, h.ctrl.Suppress(ctx, draft))
	assert.False(t, h.ctrl.View().Has(items[0].ID))

	domain, err := h.ctrl.SuppressDraft(items[1].ID, model.ActionSuppressDomain)
	require.NoError(t, err)
	assert.Equal(t, "spam.example", domain.Pattern)
	require.NoError(t, h.ctrl.Suppress(ctx, domain))

	rules := h.fake.Rules()
	require.Len(t, rules, 2)
	assert.Equal(t, "crypto", rules[0].Pattern)
	assert.Equal(t, 7.0, rules[0].Penalty)
	assert.Equal(t, "spam.example", rules[1].Pattern)

	_, err = h.ctrl.SuppressDraft(999, model.ActionSuppressItem)
	assert.ErrorIs(t, err, api.ErrValidation)
}

func TestSessionExpiryClearsView(t *testing.T) {
	h := newHarness(t, 5)
	items := h.fake.AddItems(model.Item{}, model.Item{})
	h.login(t)
	h.fake.ForceStatus(http.StatusUnauthorized)

	err := h.ctrl.Apply(context.Background(), items[0].ID, model.ActionUseful)
	assert.ErrorIs(t, err, session.ErrSessionExpired)
	assert.False(t, h.ctrl.Session().Authenticated())
	assert.Zero(t, h.ctrl.View().Len())
	assert.Equal(t, "useful failed: session expired; sign in again", h.ctrl.Status().Current().Text)
}

func TestConcurrentExpiryLogsOutOnce(t *testing.T) {
	h := newHarness(t, 10)
	items := h.fake.AddItems(make([]model.Item, 5)...)
	h.login(t)

	transitions := 0
	var mu sync.Mutex
	h.ctrl.Session().OnChange(func(s session.Session) {
		mu.Lock()
		if !s.Authenticated {
			transitions++
		}
		mu.Unlock()
	})
	all, release := h.fake.HoldActions(len(items))
	h.fake.ForceStatus(http.StatusForbidden)

	var wg sync.WaitGroup
	errs := make([]error, len(items))
	for i, it := range items {
		wg.Add(1)
		go func(i int, id int64) {
			defer wg.Done()
			errs[i] = h.ctrl.Apply(context.Background(), id, model.ActionHide)
		}(i, it.ID)
	}

	select {
	case <-all:
	case <-time.After(5 * time.Second):
		close(release)
		t.Fatal("action calls did not reach the backend together")
	}
	close(release)
	wg.Wait()

	assert.Equal(t, len(items), h.fake.Calls("POST /api/articles/action"))
	for _, err := range errs {
		assert.ErrorIs(t, err, session.ErrSessionExpired)
	}
	assert.Equal(t, 1, transitions)
	assert.False(t, h.ctrl.Session().Authenticated())
}

func TestOpenRecordsClick(t *testing.T) {
	h := newHarness(t, 5)
	items := h.fake.AddItems(model.Item{URL: "https://example.com/a"})
	h.login(t)

	item, err := h.ctrl.Open(context.Background(), items[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/a", item.URL)
	assert.Equal(t, []int64{items[0].ID}, h.fake.Clicks())
	assert.True(t, h.ctrl.View().Has(items[0].ID))

	h.fake.FailAction(items[0].ID)
	_, err = h.ctrl.Open(context.Background(), items[0].ID)
	assert.Error(t, err)
	assert.True(t, h.ctrl.View().Has(items[0].ID))
}

func TestLogoutClearsView(t *testing.T) {
	h := newHarness(t, 5)
	h.fake.AddItems(model.Item{})
	h.login(t)
	h.ctrl.Menu().Toggle(1)

	h.ctrl.Logout(context.Background())
	assert.Zero(t, h.ctrl.View().Len())
	_, open := h.ctrl.Menu().Open()
	assert.False(t, open)
}

func TestApplyRequiresDisplayedItem(t *testing.T) {
	h := newHarness(t, 5)
	h.fake.AddItems(model.Item{})
	h.login(t)
	before := h.fake.TotalCalls()

	err := h.ctrl.Apply(context.Background(), 999, model.ActionHide)
	assert.ErrorIs(t, err, api.ErrValidation)
	assert.Equal(t, before, h.fake.TotalCalls())
}
