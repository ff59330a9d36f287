package execution

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestNewAssignsRunID(t *testing.T) {
	a := New(Scope{Owner: "acme", Repo: "widgets"}, "main")
	b := New(Scope{Owner: "acme", Repo: "widgets"}, "main")

	assert.NotEqual(t, uuid.Nil, a.RunID)
	assert.NotEqual(t, a.RunID, b.RunID)
	assert.Equal(t, "main", a.Branch)
}

func TestResultHelpers(t *testing.T) {
	runID := uuid.New()

	ok := Succeeded("Task", runID, "did the thing")
	assert.True(t, ok.Success)
	assert.True(t, ok.Executed)
	assert.Equal(t, []string{"did the thing"}, ok.Steps)

	failed := Failed("Task", runID, fmt.Errorf("boom"))
	assert.False(t, failed.Success)
	assert.True(t, failed.Executed)
	assert.Equal(t, []string{"boom"}, failed.Errors)

	failedf := Failedf("Task", runID, "boom %d", 2)
	assert.Equal(t, []string{"boom 2"}, failedf.Errors)

	skipped := NotExecuted("Task", runID)
	assert.True(t, skipped.Success)
	assert.False(t, skipped.Executed)
}
