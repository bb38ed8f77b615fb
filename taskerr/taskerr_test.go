package taskerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessage(t *testing.T) {
	err := New(CatFileNotFound, "out/report.csv missing")
	assert.Equal(t, "file_not_found: out/report.csv missing", err.Error())
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(CatToolInternalFailure, cause)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "tool_internal_failure: boom", err.Error())
}

func TestIsMatchesByCategoryOnly(t *testing.T) {
	a := New(CatExecutionTimeout, "first message")
	b := New(CatExecutionTimeout, "different message")
	c := New(CatExecutionFailed, "first message")

	assert.True(t, errors.Is(a, b))
	assert.False(t, errors.Is(a, c))
}
