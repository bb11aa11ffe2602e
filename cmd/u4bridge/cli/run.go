// Package cli implements the operator commands behind the u4bridge binary.
// Commands write to the provided streams and return a process exit code.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/odyssey-erp/unit4-bridge/internal/integration"
)

// Exit codes shared by the commands.
const (
	ExitOK         = 0
	ExitError      = 1
	ExitInProgress = 3
	// ExitFilesFailed reports a completed run in which some files failed.
	ExitFilesFailed = 10
)

// Runner executes one import run.
type Runner interface {
	RunOnce(ctx context.Context, filter integration.Filter) (integration.Summary, error)
}

// RunOptions configures the run command.
type RunOptions struct {
	Filter     integration.Filter
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// RunCommand performs a synchronous run and prints its summary.
func RunCommand(ctx context.Context, runner Runner, opts RunOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if runner == nil {
		fmt.Fprintln(opts.Stderr, "run: runner not configured")
		return ExitError
	}
	summary, err := runner.RunOnce(ctx, opts.Filter)
	if errors.Is(err, integration.ErrRunInProgress) {
		fmt.Fprintf(opts.Stderr, "run: another run holds the lock for %s\n", opts.Filter.LockKey())
		return ExitInProgress
	}
	if writeErr := writeSummary(opts, summary); writeErr != nil {
		fmt.Fprintf(opts.Stderr, "run: %v\n", writeErr)
		return ExitError
	}
	if err != nil {
		fmt.Fprintf(opts.Stderr, "run: %v\n", err)
		return ExitError
	}
	if summary.Failed > 0 {
		return ExitFilesFailed
	}
	return ExitOK
}

func writeSummary(opts RunOptions, summary integration.Summary) error {
	if opts.JSONOutput {
		enc := json.NewEncoder(opts.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}
	mode := "live"
	if summary.DryRun {
		mode = "dry run"
	}
	_, err := fmt.Fprintf(opts.Stdout,
		"execution %s (%s): %d processed, %d succeeded, %d failed across %d source systems in %s\n",
		summary.ExecutionID, mode, summary.Processed, summary.Succeeded, summary.Failed,
		summary.SourceSystems, summary.Duration.Round(time.Millisecond))
	return err
}
