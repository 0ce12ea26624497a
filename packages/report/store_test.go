package report

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStoreSaveAndGet(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	r := New("r1", "login-case")
	r.PolicySnapshot = map[string]any{"max_attempts": float64(3)}
	r.AttemptsUsed = 2
	r.RequestPayload = map[string]any{"method": "GET", "url": "https://api.example.com"}
	r.ResponseBody = map[string]any{"status_code": float64(200)}
	r.Assertions = []map[string]any{{"name": "status", "passed": true}}
	r.Metrics = map[string]any{"duration_ms": float64(42)}
	require.NoError(t, r.Transition(StatusRunning))
	require.NoError(t, r.Transition(StatusPassed))
	require.NoError(t, store.Save(ctx, r))

	loaded, err := store.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "login-case", loaded.CaseName)
	assert.Equal(t, StatusPassed, loaded.Status)
	assert.Equal(t, 2, loaded.AttemptsUsed)
	assert.Equal(t, r.PolicySnapshot, loaded.PolicySnapshot)
	assert.Equal(t, r.RequestPayload, loaded.RequestPayload)
	assert.Equal(t, r.Assertions, loaded.Assertions)
	require.NotNil(t, loaded.StartedAt)
	require.NotNil(t, loaded.FinishedAt)
}

func TestStoreSaveUpserts(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	r := New("r1", "case")
	require.NoError(t, store.Save(ctx, r))

	require.NoError(t, r.Transition(StatusRunning))
	require.NoError(t, r.Transition(StatusError))
	r.ErrorMessage = "connection refused"
	require.NoError(t, store.Save(ctx, r))

	loaded, err := store.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, StatusError, loaded.Status)
	assert.Equal(t, "connection refused", loaded.ErrorMessage)
}

func TestStoreGetMissing(t *testing.T) {
	store := openTestStore(t)
	_, err := store.Get(context.Background(), "absent")
	assert.Error(t, err)
}

func TestStoreListByCase(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.Save(ctx, New(id, "shared-case")))
	}
	require.NoError(t, store.Save(ctx, New("z", "other-case")))

	reports, err := store.ListByCase(ctx, "shared-case", 10)
	require.NoError(t, err)
	assert.Len(t, reports, 3)
	for _, r := range reports {
		assert.Equal(t, "shared-case", r.CaseName)
	}
}
