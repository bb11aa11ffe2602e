package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/unit4-bridge/cmd/u4bridge/cli"
	"github.com/odyssey-erp/unit4-bridge/internal/app"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

// exitCode carries a command's exit status through cobra's error return.
type exitCode int

func (e exitCode) Error() string {
	return fmt.Sprintf("exit status %d", int(e))
}

// environment is the configuration shared by all subcommands.
type environment struct {
	cfg    *app.Config
	logger *slog.Logger
	stdout io.Writer
	stderr io.Writer
}

func execute(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(&environment{stdout: os.Stdout, stderr: os.Stderr})
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return cli.ExitOK
	}
	var code exitCode
	if errors.As(err, &code) {
		return int(code)
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return cli.ExitError
}

func newRootCmd(env *environment) *cobra.Command {
	root := &cobra.Command{
		Use:   "u4bridge",
		Short: "Import ABW transaction exports into Unit4",
		Long: `u4bridge picks up ABW XML transaction exports from local folders, mounted shares
or blob storage, converts them into Unit4 transaction batches and posts them.
Processed files move to the archive folder, failures to the error folder.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Annotations:   map[string]string{"config": "none"},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations["config"] == "none" {
				return nil
			}
			cfg, err := app.LoadConfig()
			if err != nil {
				return err
			}
			env.cfg = cfg
			env.logger = app.NewLogger(cfg)
			slog.SetDefault(env.logger)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.SetOut(env.stdout)
	root.SetErr(env.stderr)

	root.AddCommand(
		newServeCmd(env),
		newWorkerCmd(env),
		newRunCmd(env),
		newEnqueueCmd(env),
		newQueueCmd(env),
		newMigrateCmd(env),
		newCheckCmd(env),
		newVersionCmd(env),
	)
	return root
}

func newVersionCmd(env *environment) *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print the build version",
		Annotations: map[string]string{"config": "none"},
		Args:        cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(env.stdout, "u4bridge %s\n", version)
		},
	}
}

func withExit(code int) error {
	if code == cli.ExitOK {
		return nil
	}
	return exitCode(code)
}
