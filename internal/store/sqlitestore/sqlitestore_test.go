package sqlitestore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luxzg/discoverctl/internal/constants"
	"github.com/luxzg/discoverctl/internal/store"
)

func newStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCookiesRoundTrip(t *testing.T) {
	s := newStore(t)
	expires := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, s.SaveCookies(constants.UserScope, []store.Cookie{
		{Name: "discover_session", Value: "abc", Path: "/", Expires: expires, HTTPOnly: true},
		{Name: "b", Value: "2"},
	}))

	got, err := s.LoadCookies(constants.UserScope)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].Name)
	assert.Equal(t, "discover_session", got[1].Name)
	assert.True(t, got[1].HTTPOnly)
	assert.True(t, expires.Equal(got[1].Expires))
	assert.True(t, got[0].Expires.IsZero())

	require.NoError(t, s.SaveCookies(constants.UserScope, nil))
	got, err = s.LoadCookies(constants.UserScope)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestClearCookiesKeepsOtherScopes(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.SaveCookies(constants.UserScope, []store.Cookie{{Name: "u", Value: "1"}}))
	require.NoError(t, s.SaveCookies(constants.AdminScope, []store.Cookie{{Name: "a", Value: "1"}}))

	require.NoError(t, s.ClearCookies(constants.AdminScope))

	user, err := s.LoadCookies(constants.UserScope)
	require.NoError(t, err)
	assert.Len(t, user, 1)
	admin, err := s.LoadCookies(constants.AdminScope)
	require.NoError(t, err)
	assert.Empty(t, admin)
}

func TestActions(t *testing.T) {
	s := newStore(t)

	for i, kind := range []string{"useful", "hide", "suppress-domain"} {
		rec := store.ActionRecord{
			Identity: constants.UserScope,
			ItemID:   int64(i + 1),
			Kind:     kind,
			OK:       i != 1,
		}
		if kind == "suppress-domain" {
			rec.Pattern = "example.com"
			rec.Penalty = 10
		}
		require.NoError(t, s.RecordAction(&rec))
		assert.Equal(t, i+1, rec.ID)
	}

	count, err := s.CountActions()
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	desc, err := s.GetActions(constants.DescendingOrdering, 2)
	require.NoError(t, err)
	require.Len(t, desc, 2)
	assert.Equal(t, "suppress-domain", desc[0].Kind)
	assert.Equal(t, "example.com", desc[0].Pattern)
	assert.Equal(t, 10.0, desc[0].Penalty)
	assert.False(t, desc[1].OK)

	asc, err := s.GetActions(constants.AscendingOrdering, 0)
	require.NoError(t, err)
	require.Len(t, asc, 3)
	assert.Equal(t, int64(1), asc[0].ItemID)
}
