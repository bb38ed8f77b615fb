package tool

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskforge/engine/evidence"
)

func TestRegistry_UnknownToolNeverRaises(t *testing.T) {
	r := NewRegistry()
	result := r.Execute(context.Background(), "does_not_exist", map[string]interface{}{"x": 1})
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "unknown tool")
}

func TestRegistry_EmptyArgsIsFailure(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(NewTodoTool()))
	result := r.Execute(context.Background(), "todo_write", map[string]interface{}{})
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "empty arguments")
}

func TestRegistry_MissingRequiredArgIsFailure(t *testing.T) {
	dir := t.TempDir()
	r := NewRegistry()
	require.NoError(t, r.Register(NewFileTool(dir)))
	result := r.Execute(context.Background(), "file_op", map[string]interface{}{"path": "a.txt"})
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "missing required argument")
}

func TestFileTool_WriteReadEdit(t *testing.T) {
	dir := t.TempDir()
	ft := NewFileTool(dir)
	ctx := context.Background()

	res, err := ft.Execute(ctx, map[string]interface{}{"action": "write", "path": "note.txt", "content": "hello world"})
	require.NoError(t, err)
	require.True(t, res.Success)

	res, err = ft.Execute(ctx, map[string]interface{}{"action": "read", "path": "note.txt"})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, "hello world", res.Content)

	res, err = ft.Execute(ctx, map[string]interface{}{"action": "edit", "path": "note.txt", "old_string": "world", "new_string": "there"})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.FileExists(t, filepath.Join(dir, "note.txt.bak"))

	res, err = ft.Execute(ctx, map[string]interface{}{"action": "read", "path": "note.txt"})
	require.NoError(t, err)
	assert.Equal(t, "hello there", res.Content)
}

func TestFileTool_RejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	ft := NewFileTool(dir)
	res, err := ft.Execute(context.Background(), map[string]interface{}{"action": "read", "path": "../../etc/passwd"})
	require.NoError(t, err)
	assert.False(t, res.Success)
}

func TestSearchContentTool_FindsMatches(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.go"), []byte("package a\nfunc Foo() {}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.go"), []byte("package b\nfunc Bar() {}\n"), 0o644))

	st := NewSearchContentTool(dir)
	res, err := st.Execute(context.Background(), map[string]interface{}{"query": "func Foo"})
	require.NoError(t, err)
	require.True(t, res.Success)
	matches := res.Output.([]SearchContentMatch)
	require.Len(t, matches, 1)
	assert.Equal(t, "a.go", matches[0].Path)
}

func TestSearchFilesTool_MatchesGlob(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "x.go"), []byte("package x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "x.md"), []byte("# x"), 0o644))

	sf := NewSearchFilesTool(dir)
	res, err := sf.Execute(context.Background(), map[string]interface{}{"pattern": "*.go"})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, []string{"x.go"}, res.Output)
}

func TestShellExecTool_RecordsEvidence(t *testing.T) {
	dir := t.TempDir()
	store, err := evidence.Open(filepath.Join(dir, "ev"))
	require.NoError(t, err)
	defer store.Close()

	sh := NewShellExecTool(dir, 0, store)
	res, err := sh.Execute(context.Background(), map[string]interface{}{"command": "echo hi"})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Contains(t, res.Content, "hi")

	runs := store.RecentExecutions(10)
	require.Len(t, runs, 1)
	assert.Equal(t, "echo hi", runs[0].Command)
}

func TestTodoTool_WriteThenRead(t *testing.T) {
	tt := NewTodoTool()
	ctx := context.Background()
	_, err := tt.Execute(ctx, map[string]interface{}{
		"action": "write",
		"items": []interface{}{
			map[string]interface{}{"content": "step 1", "status": "pending"},
		},
	})
	require.NoError(t, err)

	res, err := tt.Execute(ctx, map[string]interface{}{"action": "read"})
	require.NoError(t, err)
	assert.Contains(t, res.Content, "step 1")
}

func TestRegistry_Filtered_HidesUnlistedTools(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(NewTodoTool()))
	require.NoError(t, r.Register(NewAskUserTool(nil)))

	restricted := r.Filtered([]string{"todo_write"})
	assert.Equal(t, []string{"todo_write"}, restricted.ListNames())

	_, ok := restricted.Get("ask_user")
	assert.False(t, ok)
}
