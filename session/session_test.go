package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSnapshot(id string, updatedAt time.Time) *Snapshot {
	return &Snapshot{
		SessionID:    id,
		SystemPrompt: "you are a helpful task engine",
		Messages: []MessageSnapshot{
			{Role: "user", Content: "do the thing"},
			{Role: "assistant", Content: "working on it"},
		},
		Todos: TodosSnapshot{Items: []TodoSnapshot{
			{Description: "fetch data", Status: TodoDone, CreatedAt: updatedAt},
			{Description: "write report", Status: TodoFailed, CreatedAt: updatedAt},
		}},
		WorkingDir:    "/tmp/work",
		Model:         "claude-sonnet",
		Temperature:   0.2,
		MaxIterations: 25,
		CreatedAt:     updatedAt,
		UpdatedAt:     updatedAt,
	}
}

func testStoreRoundTrip(t *testing.T, store Store) {
	ctx := context.Background()

	older := sampleSnapshot("sess-older", time.Now().Add(-time.Hour).UTC().Truncate(time.Second))
	newer := sampleSnapshot("sess-newer", time.Now().UTC().Truncate(time.Second))

	require.NoError(t, store.Save(ctx, older))
	require.NoError(t, store.Save(ctx, newer))

	loaded, err := store.Load(ctx, "sess-newer")
	require.NoError(t, err)
	assert.Equal(t, newer.SystemPrompt, loaded.SystemPrompt)
	assert.Equal(t, newer.Messages, loaded.Messages)
	assert.Equal(t, newer.Todos, loaded.Todos)
	assert.Equal(t, newer.Model, loaded.Model)

	_, err = store.Load(ctx, "does-not-exist")
	assert.ErrorIs(t, err, ErrNotFound)

	all, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "sess-newer", all[0].SessionID)
	assert.Equal(t, "sess-older", all[1].SessionID)

	updated := sampleSnapshot("sess-older", time.Now().UTC().Truncate(time.Second))
	updated.SystemPrompt = "updated prompt"
	require.NoError(t, store.Save(ctx, updated))
	reloaded, err := store.Load(ctx, "sess-older")
	require.NoError(t, err)
	assert.Equal(t, "updated prompt", reloaded.SystemPrompt)

	require.NoError(t, store.Delete(ctx, "sess-newer"))
	_, err = store.Load(ctx, "sess-newer")
	assert.ErrorIs(t, err, ErrNotFound)

	err = store.Delete(ctx, "sess-newer")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileStore_RoundTrip(t *testing.T) {
	store, err := OpenFileStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()
	testStoreRoundTrip(t, store)
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	store, err := OpenSQLiteStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()
	testStoreRoundTrip(t, store)
}

func TestLister_ListSummariesSortedAndCounted(t *testing.T) {
	store, err := OpenFileStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	older := sampleSnapshot("a", time.Now().Add(-time.Minute).UTC().Truncate(time.Second))
	newer := sampleSnapshot("b", time.Now().UTC().Truncate(time.Second))
	require.NoError(t, store.Save(ctx, older))
	require.NoError(t, store.Save(ctx, newer))

	lister := Lister{Store: store}
	summaries := lister.ListSummaries()
	require.Len(t, summaries, 2)
	assert.Equal(t, "b", summaries[0].ID)
	assert.Equal(t, 2, summaries[0].TasksTotal)
	assert.Equal(t, 1, summaries[0].TasksCompleted)
	assert.Equal(t, 1, summaries[0].TasksFailed)
}
