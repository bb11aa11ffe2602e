package cli

import (
	"context"
	"fmt"
	"io"
	"os"
)

// ConnectionTester verifies the Unit4 credentials.
type ConnectionTester interface {
	TestConnection(ctx context.Context) bool
}

// CheckOptions configures the check command.
type CheckOptions struct {
	Stdout io.Writer
	Stderr io.Writer
}

// CheckCommand acquires a token and reports whether the API is reachable.
func CheckCommand(ctx context.Context, tester ConnectionTester, opts CheckOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if tester == nil || !tester.TestConnection(ctx) {
		fmt.Fprintln(opts.Stderr, "check: unit4 connection failed")
		return ExitError
	}
	fmt.Fprintln(opts.Stdout, "check: unit4 connection ok")
	return ExitOK
}
