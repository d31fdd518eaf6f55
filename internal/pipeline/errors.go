package pipeline

import (
	"errors"
	"fmt"
)

// StageError reports a failed pipeline stage: the external tool exited
// non-zero, or exited cleanly without producing its declared artifact.
// Stages are deterministic, so a StageError is never retried.
type StageError struct {
	// Stage names the failing stage.
	Stage State

	// Tool is the external binary that was invoked, if any.
	Tool string

	// ExitCode is the subprocess exit code, when one was observed.
	ExitCode int

	// Artifact is the expected output path, set when the failure is a
	// missing artifact rather than a non-zero exit.
	Artifact string

	// Err is the underlying cause.
	Err error
}

func (e *StageError) Error() string {
	if e.Artifact != "" {
		return fmt.Sprintf("stage %s: tool %q exited cleanly but artifact %s is missing", e.Stage, e.Tool, e.Artifact)
	}
	if e.Tool != "" {
		return fmt.Sprintf("stage %s: tool %q failed (exit %d): %v", e.Stage, e.Tool, e.ExitCode, e.Err)
	}
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// IsStageError reports whether err is a StageError, unwrapping as needed.
func IsStageError(err error) bool {
	var se *StageError
	return errors.As(err, &se)
}

// FailedStage returns the stage named by a StageError, or "" when err is
// not one.
func FailedStage(err error) State {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}
