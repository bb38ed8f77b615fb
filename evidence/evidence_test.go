package evidence

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_FetchRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	require.NoError(t, err)
	defer store.Close()

	t.Run("classify html success", func(t *testing.T) {
		e := FetchEntry{URL: "https://example.com/data.csv", FinalURL: "https://example.com/data.csv", StatusCode: 200, ContentType: "text/html", Success: true}
		ClassifyFetch(&e, "<html><body>hello</body></html>")
		require.NoError(t, store.RecordFetch(e))

		found, ok := store.FindFetchForURL("https://example.com/data.csv/")
		require.True(t, ok)
		assert.True(t, found.IsHTML)
		assert.False(t, found.IsErrorPage)
	})

	t.Run("classify error page", func(t *testing.T) {
		e := FetchEntry{URL: "https://example.com/missing", StatusCode: 404, ContentType: "text/html", Success: true}
		ClassifyFetch(&e, "<html><title>404 Not Found</title></html>")
		require.NoError(t, store.RecordFetch(e))

		found, ok := store.FindFetchForURL("https://example.com/missing")
		require.True(t, ok)
		assert.True(t, found.IsErrorPage)
		assert.Contains(t, found.ErrorIndicators, "404")
	})

	t.Run("most recent wins", func(t *testing.T) {
		require.NoError(t, store.RecordFetch(FetchEntry{URL: "https://a.test", StatusCode: 500}))
		require.NoError(t, store.RecordFetch(FetchEntry{URL: "https://a.test", StatusCode: 200, Success: true}))
		found, ok := store.FindFetchForURL("https://a.test")
		require.True(t, ok)
		assert.Equal(t, 200, found.StatusCode)
	})
}

func TestStore_ExecQueriesAndReplay(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	require.NoError(t, err)

	e1 := ExecEntry{Command: "go test ./...", ExitCode: 0, Success: true}
	ClassifyExec(&e1)
	require.NoError(t, store.RecordExec(e1))

	e2 := ExecEntry{Command: "ls -la", ExitCode: 0, Success: true}
	ClassifyExec(&e2)
	require.NoError(t, store.RecordExec(e2))

	e3 := ExecEntry{Command: "go test ./pkg/...", ExitCode: 1, Success: false}
	ClassifyExec(&e3)
	require.NoError(t, store.RecordExec(e3))
	require.NoError(t, store.Close())

	// Reopen and verify the log replays into memory.
	reopened, err := Open(dir)
	require.NoError(t, err)
	defer reopened.Close()

	matches := reopened.FindExecution("go test")
	require.Len(t, matches, 2)
	assert.Equal(t, "go test ./...", matches[0].Command)

	runs := reopened.VerificationRuns()
	assert.Len(t, runs, 2)

	summary := reopened.ExecutionSummary()
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 2, summary.VerificationCommands)

	assert.FileExists(t, filepath.Join(dir, "exec.log"))
}

func TestStore_RecentN(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	require.NoError(t, err)
	defer store.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.RecordExec(ExecEntry{Command: "echo hi"}))
	}
	assert.Len(t, store.RecentExecutions(3), 3)
	assert.Len(t, store.RecentExecutions(100), 5)
	assert.Len(t, store.RecentExecutions(0), 0)
}
