package execution

import (
	"fmt"

	"github.com/google/uuid"
)

// Result is the structured outcome record an orchestrator emits instead of
// letting errors escape. Executed=false means the run's preconditions were
// not met and nothing was attempted; that is not a failure.
type Result struct {
	ID       string
	RunID    uuid.UUID
	Success  bool
	Executed bool
	Steps    []string
	Errors   []string
}

// Succeeded builds a successful Result with optional step descriptions.
func Succeeded(id string, runID uuid.UUID, steps ...string) Result {
	return Result{ID: id, RunID: runID, Success: true, Executed: true, Steps: steps}
}

// Failed builds a failed Result from an error.
func Failed(id string, runID uuid.UUID, err error) Result {
	return Result{
		ID:       id,
		RunID:    runID,
		Success:  false,
		Executed: true,
		Errors:   []string{err.Error()},
	}
}

// NotExecuted marks a run whose preconditions were not met.
func NotExecuted(id string, runID uuid.UUID) Result {
	return Result{ID: id, RunID: runID, Success: true, Executed: false}
}

// Failedf builds a failed Result from a format string.
func Failedf(id string, runID uuid.UUID, format string, args ...any) Result {
	return Failed(id, runID, fmt.Errorf(format, args...))
}
