package app

import (
	"context"
	"errors"

	"gwflasher/internal/prompt"
	"gwflasher/internal/runner"
)

// ExitCodeCancelled is returned when the operator interrupts the run.
const ExitCodeCancelled = 3

// ExitCode maps the result of Run to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exit *runner.ExitError
	if errors.As(err, &exit) && exit.Code > 0 {
		return exit.Code
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, prompt.ErrInterrupted) {
		return ExitCodeCancelled
	}
	return 1
}
