package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"tollgate/internal/services"
)

// exitDeferred tells schedulers the run was postponed by quota or an open
// circuit rather than failing (EX_TEMPFAIL).
const exitDeferred = 75

func main() {
	err := newRootCommand().Execute()
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(exitCode(err))
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, context.Canceled):
		return 1
	}
	switch services.Disposition(err) {
	case services.ActionDefer, services.ActionBackoff:
		return exitDeferred
	default:
		return 1
	}
}
