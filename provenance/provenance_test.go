package provenance

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskforge/engine/evidence"
)

func newTestChecker(t *testing.T) (*Checker, *evidence.Store, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := evidence.Open(filepath.Join(dir, "_logs"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return New(store, dir), store, dir
}

func TestVerifyDataAcquisition_NoFetchRecord(t *testing.T) {
	checker, _, _ := newTestChecker(t)
	result := checker.VerifyDataAcquisition(DataAcquisitionClaim{URL: "https://example.org/x.csv"})
	assert.False(t, result.Valid)
	require.Len(t, result.Errors(), 1)
	assert.Equal(t, "no_fetch_record", result.Errors()[0].Category)
}

func TestVerifyDataAcquisition_FetchSucceeded(t *testing.T) {
	checker, store, _ := newTestChecker(t)
	require.NoError(t, store.RecordFetch(evidence.FetchEntry{
		URL: "https://example.org/x.csv", StatusCode: 200, Success: true, ContentLength: 40,
	}))

	result := checker.VerifyDataAcquisition(DataAcquisitionClaim{URL: "https://example.org/x.csv"})
	assert.True(t, result.Valid)
	assert.Equal(t, true, result.Metadata["fetch_verified"])
}

func TestVerifyDataAcquisition_HTTPError(t *testing.T) {
	checker, store, _ := newTestChecker(t)
	require.NoError(t, store.RecordFetch(evidence.FetchEntry{
		URL: "https://example.org/missing.csv", StatusCode: 404, Success: true,
	}))
	result := checker.VerifyDataAcquisition(DataAcquisitionClaim{URL: "https://example.org/missing.csv"})
	assert.False(t, result.Valid)
	assert.Equal(t, "http_error", result.Errors()[0].Category)
}

func TestVerifyDataAcquisition_FileNotFound(t *testing.T) {
	checker, _, _ := newTestChecker(t)
	result := checker.VerifyDataAcquisition(DataAcquisitionClaim{File: "out/missing.csv"})
	assert.False(t, result.Valid)
	assert.Equal(t, "file_not_found", result.Errors()[0].Category)
}

func TestVerifyDataAcquisition_CSVContentAndCrossReference(t *testing.T) {
	checker, store, dir := newTestChecker(t)
	csvBody := "a,b\n1,2\n3,4\n"
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "out"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "out", "data.csv"), []byte(csvBody), 0o644))

	require.NoError(t, store.RecordFetch(evidence.FetchEntry{
		URL: "https://example.org/x.csv", StatusCode: 200, Success: true, ContentLength: len(csvBody),
	}))

	rows := 2
	result := checker.VerifyDataAcquisition(DataAcquisitionClaim{
		URL: "https://example.org/x.csv", File: "out/data.csv", ExpectedType: "csv", ExpectedRows: &rows,
	})
	assert.True(t, result.Valid, "%+v", result.Issues)
}

func TestVerifyDataAcquisition_FabricationScenario(t *testing.T) {
	// Scenario 4 from spec §8: a task claims produces=file:...:csv:100 and a
	// URL, the file may even exist, but there is no fetch log entry for the
	// claimed URL at all.
	checker, _, dir := newTestChecker(t)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "out"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "out", "data.csv"), []byte("a\n1\n"), 0o644))

	result := checker.VerifyDataAcquisition(DataAcquisitionClaim{
		URL: "https://example.org/x.csv", File: "out/data.csv",
	})
	assert.False(t, result.Valid)
	assert.Equal(t, "no_fetch_record", result.Errors()[0].Category)
}

func TestVerifyExecution_NoRecord(t *testing.T) {
	checker, _, _ := newTestChecker(t)
	result := checker.VerifyExecution("pytest", true, true)
	assert.False(t, result.Valid)
	assert.Equal(t, "no_execution_record", result.Errors()[0].Category)
}

func TestVerifyExecution_Failed(t *testing.T) {
	checker, store, _ := newTestChecker(t)
	require.NoError(t, store.RecordExec(evidence.ExecEntry{Command: "pytest tests/", ExitCode: 1, Success: false}))
	result := checker.VerifyExecution("pytest", true, true)
	assert.False(t, result.Valid)
	assert.Equal(t, "execution_failed", result.Errors()[0].Category)
}

func TestVerifyTestsRan_None(t *testing.T) {
	checker, _, _ := newTestChecker(t)
	result := checker.VerifyTestsRan()
	assert.False(t, result.Valid)
	assert.Equal(t, "no_tests_run", result.Errors()[0].Category)
}

func TestVerifyTestsRan_AllFailed(t *testing.T) {
	checker, store, _ := newTestChecker(t)
	require.NoError(t, store.RecordExec(evidence.ExecEntry{Command: "go test ./...", Success: false, IsVerification: true}))
	result := checker.VerifyTestsRan()
	assert.False(t, result.Valid)
	assert.Equal(t, "all_tests_failed", result.Errors()[0].Category)
}

func TestVerifyTestsRan_SomeFailed(t *testing.T) {
	checker, store, _ := newTestChecker(t)
	require.NoError(t, store.RecordExec(evidence.ExecEntry{Command: "go test ./a", Success: true, IsVerification: true}))
	require.NoError(t, store.RecordExec(evidence.ExecEntry{Command: "go test ./b", Success: false, IsVerification: true}))
	result := checker.VerifyTestsRan()
	assert.True(t, result.Valid, "warnings alone must not invalidate the result")
	require.Len(t, result.Warnings(), 1)
	assert.Equal(t, "some_tests_failed", result.Warnings()[0].Category)
}

func TestExecutionSummary(t *testing.T) {
	checker, store, _ := newTestChecker(t)
	require.NoError(t, store.RecordExec(evidence.ExecEntry{Command: "go build", Success: true}))
	require.NoError(t, store.RecordExec(evidence.ExecEntry{Command: "go test ./...", Success: false, IsVerification: true}))
	summary := checker.ExecutionSummary()
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.VerificationCommands)
}
