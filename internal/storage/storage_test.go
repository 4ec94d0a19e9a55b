package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/C4T-BuT-S4D/hokd/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const lifetime = 30 * 24 * time.Hour

func newTestStorage(t *testing.T, content string, opts ...Option) (*Storage, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "users_data.json")
	if content != "" {
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	s, err := Load(path, lifetime, opts...)
	require.NoError(t, err)
	return s, path
}

func readDocument(t *testing.T, path string) map[string]*models.User {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]*models.User
	require.NoError(t, json.Unmarshal(data, &doc))
	return doc
}

func TestLoad_MissingFileCreated(t *testing.T) {
	s, path := newTestStorage(t, "")
	assert.False(t, s.HasUser(1))
	assert.Empty(t, readDocument(t, path))
}

func TestLoad_Corrupt(t *testing.T) {
	for _, content := range []string{
		"{",
		"[]",
		`{"abc": {}}`,
		`{"1": {"problem": {"time": 0, "text": "no prefix"}}}`,
		`{"1": {"account_ban_state": 2}}`,
	} {
		path := filepath.Join(t.TempDir(), "users_data.json")
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		_, err := Load(path, lifetime)
		assert.Error(t, err, content)
	}
}

func TestLoad_LegacyDocument(t *testing.T) {
	s, path := newTestStorage(t, `{
		"5": {"account_ban_state": 0, "problem_pending_state": 0, "problem_description_state": 0,
		      "problem": {"time": 100, "text": "@bob: printer: broken"}},
		"3": {"account_ban_state": 1, "problem_pending_state": 1, "problem_description_state": 0},
		"8": {"account_ban_state": 0}
	}`)

	user, ok := s.GetUser(5)
	require.True(t, ok)
	assert.False(t, user.AccountBanState)
	assert.False(t, user.ProblemPendingState)
	require.NotNil(t, user.Problem)
	assert.Equal(t, "bob", user.Problem.Username)
	assert.Equal(t, "printer: broken", user.Problem.Body())
	assert.EqualValues(t, 100, user.Problem.CreatedAt)

	banned, ok := s.GetUser(3)
	require.True(t, ok)
	assert.True(t, banned.AccountBanState)
	assert.True(t, banned.ProblemPendingState)

	// Missing keys keep their defaults.
	partial, ok := s.GetUser(8)
	require.True(t, ok)
	assert.True(t, partial.ProblemPendingState)

	// The next write stores booleans and the parsed username.
	require.NoError(t, s.SetState(context.Background(), 3, models.FlagBan, false))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"account_ban_state": false`)
	assert.Contains(t, string(data), `"username": "bob"`)
	assert.Equal(t, "@bob: printer: broken", readDocument(t, path)["5"].Problem.Text)
}

func TestGetOrCreateUser(t *testing.T) {
	s, path := newTestStorage(t, "{}")
	ctx := context.Background()

	user, err := s.GetOrCreateUser(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, models.NewUser(), user)
	assert.True(t, s.HasUser(42))

	doc := readDocument(t, path)
	require.Contains(t, doc, "42")
	assert.True(t, doc["42"].ProblemPendingState)
	assert.Nil(t, doc["42"].Problem)
}

func TestReadsDoNotCreate(t *testing.T) {
	s, path := newTestStorage(t, "{}")

	assert.False(t, s.GetState(7, models.FlagBan))
	assert.True(t, s.GetState(7, models.FlagPendingProblem))
	assert.False(t, s.HasProblem(7))
	_, ok := s.GetUser(7)
	assert.False(t, ok)
	assert.False(t, s.HasUser(7))
	assert.Empty(t, readDocument(t, path))
}

func TestSetStateAndProblem(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	s, path := newTestStorage(t, "{}", WithClock(func() time.Time { return now }))
	ctx := context.Background()

	require.NoError(t, s.SetState(ctx, 1, models.FlagDescribingProblem, true))
	assert.True(t, s.GetState(1, models.FlagDescribingProblem))

	require.NoError(t, s.SetProblem(ctx, 1, "alice", "my printer is broken", true))
	require.NoError(t, s.SetProblem(ctx, 2, "root", "admin problem", false))

	doc := readDocument(t, path)
	assert.Equal(t, "@alice: my printer is broken", doc["1"].Problem.Text)
	assert.Equal(t, now.Unix(), doc["1"].Problem.CreatedAt)
	assert.Zero(t, doc["2"].Problem.CreatedAt)

	modified, err := s.ModifyProblem(ctx, 1, "alice2")
	require.NoError(t, err)
	assert.True(t, modified)
	user, _ := s.GetUser(1)
	assert.Equal(t, "@alice2: my printer is broken", user.Problem.Text)
	assert.Equal(t, now.Unix(), user.Problem.CreatedAt)

	require.NoError(t, s.UnsetProblem(ctx, 1))
	assert.False(t, s.HasProblem(1))

	modified, err = s.ModifyProblem(ctx, 1, "alice3")
	require.NoError(t, err)
	assert.False(t, modified)
	assert.False(t, s.HasProblem(1))
}

func TestPersistedOrderAndReload(t *testing.T) {
	s, path := newTestStorage(t, "{}")
	ctx := context.Background()

	for _, id := range []int64{30, -10, 20} {
		require.NoError(t, s.SetProblem(ctx, id, "u", "p", true))
		require.NoError(t, s.SetState(ctx, id, models.FlagPendingProblem, false))
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	raw := string(data)
	assert.Less(t, strings.Index(raw, `"30"`), strings.Index(raw, `"-10"`))
	assert.Less(t, strings.Index(raw, `"-10"`), strings.Index(raw, `"20"`))

	reloaded, err := Load(path, lifetime)
	require.NoError(t, err)
	var ids []int64
	for _, e := range reloaded.ListProblems(ProblemFilter{}) {
		ids = append(ids, e.ChatID)
	}
	assert.Equal(t, []int64{30, -10, 20}, ids)
}

func TestUpdate_ErrorLeavesRecord(t *testing.T) {
	s, path := newTestStorage(t, "{}")
	ctx := context.Background()

	err := s.Update(ctx, 9, func(u *models.User) error {
		u.AccountBanState = true
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)
	assert.False(t, s.HasUser(9))
	assert.Empty(t, readDocument(t, path))
}

func TestUpdate_PersistFailureRollsBack(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data", "users_data.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	s, err := Load(path, lifetime)
	require.NoError(t, err)

	require.NoError(t, os.RemoveAll(filepath.Dir(path)))

	err = s.SetState(context.Background(), 1, models.FlagBan, true)
	require.ErrorIs(t, err, ErrPersist)
	assert.False(t, s.HasUser(1))
}

func TestListProblems_Filter(t *testing.T) {
	s, _ := newTestStorage(t, "{}")
	ctx := context.Background()

	set := func(id int64, pending, banned bool) {
		require.NoError(t, s.Update(ctx, id, func(u *models.User) error {
			u.Problem = models.NewProblem(1, "u", "p")
			u.ProblemPendingState = pending
			u.AccountBanState = banned
			return nil
		}))
	}
	set(1, true, false)
	set(2, false, false)
	set(3, false, true)
	set(4, true, true)
	require.NoError(t, s.SetState(ctx, 5, models.FlagPendingProblem, false))

	ids := func(f ProblemFilter) []int64 {
		var res []int64
		for _, e := range s.ListProblems(f) {
			res = append(res, e.ChatID)
		}
		return res
	}

	assert.Equal(t, []int64{1}, ids(ProblemFilter{Pending: true}))
	assert.Equal(t, []int64{2}, ids(ProblemFilter{}))
	assert.Equal(t, []int64{3}, ids(ProblemFilter{Banned: true}))
	assert.Equal(t, []int64{4}, ids(ProblemFilter{Pending: true, Banned: true}))

	entry := s.ListProblems(ProblemFilter{})[0]
	assert.Equal(t, "(2) @u: p", entry.Format(true))
	assert.Equal(t, "@u: p", entry.Format(false))
	assert.Equal(t, "u", entry.Username)
	assert.Equal(t, "p", entry.Body)
}

func TestListExpiredProblemChatIDs(t *testing.T) {
	now := time.Unix(10_000_000, 0)
	s, _ := newTestStorage(t, "{}", WithClock(func() time.Time { return now }))
	ctx := context.Background()
	window := int64(lifetime / time.Second)

	set := func(id int64, createdAt int64, pending, banned bool) {
		require.NoError(t, s.Update(ctx, id, func(u *models.User) error {
			u.Problem = models.NewProblem(createdAt, "u", "p")
			u.ProblemPendingState = pending
			u.AccountBanState = banned
			return nil
		}))
	}
	set(1, now.Unix()-window-1, false, false)
	set(2, now.Unix()-window, false, false)
	set(3, 0, false, false)
	set(4, now.Unix()-window-1, true, false)
	set(5, now.Unix()-window-1, false, true)
	set(6, now.Unix()-window-100, false, false)

	assert.Equal(t, []int64{1, 6}, s.ListExpiredProblemChatIDs())
}

func TestConcurrentUpdates(t *testing.T) {
	s, path := newTestStorage(t, "{}")
	ctx := context.Background()

	const workers = 16
	wg := sync.WaitGroup{}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				assert.NoError(t, s.SetState(ctx, id, models.FlagDescribingProblem, j%2 == 0))
				assert.NoError(t, s.SetProblem(ctx, id, "u", "p", true))
				_ = s.ListProblems(ProblemFilter{Pending: true})
			}
		}(int64(i))
	}
	wg.Wait()

	doc := readDocument(t, path)
	assert.Len(t, doc, workers)
	for _, user := range doc {
		assert.False(t, user.ProblemDescriptionState)
		require.NotNil(t, user.Problem)
	}
}
