package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/unit4-bridge/cmd/u4bridge/cli"
	"github.com/odyssey-erp/unit4-bridge/internal/app"
	"github.com/odyssey-erp/unit4-bridge/internal/integration"
	"github.com/odyssey-erp/unit4-bridge/jobs"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(env *environment) *cobra.Command {
	var withWorker bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the trigger API, optionally with an embedded worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if app.InTestMode() {
				env.logger.Info("test mode detected, skipping runtime startup")
				return nil
			}
			ctx := cmd.Context()
			svc, err := app.Bootstrap(ctx, env.cfg, env.logger)
			if err != nil {
				return err
			}
			defer svc.Close()

			queue := jobs.NewClient(svc.RedisOpts())
			defer queue.Close()
			inspector := asynq.NewInspector(svc.RedisOpts())
			defer func() {
				if err := inspector.Close(); err != nil {
					env.logger.Warn("inspector close", slog.Any("error", err))
				}
			}()
			server := svc.NewHTTPServer(queue, inspector)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				env.logger.Info("starting http server", slog.String("addr", server.Addr))
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("http server: %w", err)
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				env.logger.Info("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			})
			if withWorker {
				worker, err := svc.NewWorker()
				if err != nil {
					return err
				}
				g.Go(func() error {
					if err := worker.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
						return fmt.Errorf("worker: %w", err)
					}
					return nil
				})
			}
			return g.Wait()
		},
	}
	cmd.Flags().BoolVar(&withWorker, "worker", false, "Also process queued and scheduled runs in this process")
	return cmd
}

func newWorkerCmd(env *environment) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Process queued and scheduled import runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if app.InTestMode() {
				env.logger.Info("test mode detected, skipping worker startup")
				return nil
			}
			svc, err := app.Bootstrap(cmd.Context(), env.cfg, env.logger)
			if err != nil {
				return err
			}
			defer svc.Close()
			worker, err := svc.NewWorker()
			if err != nil {
				return err
			}
			if err := worker.Run(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}

// filterFlags binds the run filter shared by run and enqueue.
func filterFlags(cmd *cobra.Command, filter *integration.Filter) {
	cmd.Flags().StringVarP(&filter.SourceSystemCode, "source-system", "s", "", "Only process this source system code")
	cmd.Flags().StringVarP(&filter.FileName, "file", "f", "", "Only process this file name")
	cmd.Flags().BoolVar(&filter.DryRun, "dry-run", false, "Transform without posting or moving files")
}

func newRunCmd(env *environment) *cobra.Command {
	var filter integration.Filter
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one import synchronously and print the summary",
		Long: `Run processes every active source system, or the one named by --source-system,
and exits 0 when all files succeeded, 10 when some files failed, 3 when another
run holds the lock and 1 on errors.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := app.Bootstrap(cmd.Context(), env.cfg, env.logger)
			if err != nil {
				return err
			}
			defer svc.Close()
			return withExit(cli.RunCommand(cmd.Context(), svc.Runner, cli.RunOptions{
				Filter:     filter,
				JSONOutput: jsonOutput,
				Stdout:     env.stdout,
				Stderr:     env.stderr,
			}))
		},
	}
	filterFlags(cmd, &filter)
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the summary as JSON")
	return cmd
}

func newEnqueueCmd(env *environment) *cobra.Command {
	var filter integration.Filter
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Queue an import run for the worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			helper := cli.NewJobsCLI(asynq.RedisClientOpt{Addr: env.cfg.RedisAddr})
			defer helper.Close()
			info, err := helper.Enqueue(cmd.Context(), jobs.RunPayload{
				SourceSystemCode: filter.SourceSystemCode,
				FileName:         filter.FileName,
				DryRun:           filter.DryRun,
			})
			if errors.Is(err, asynq.ErrDuplicateTask) || errors.Is(err, asynq.ErrTaskIDConflict) {
				fmt.Fprintf(env.stderr, "enqueue: a run for %s is already queued\n", filter.LockKey())
				return withExit(cli.ExitInProgress)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(env.stdout, "queued %s on %s\n", info.ID, info.Queue)
			return nil
		},
	}
	filterFlags(cmd, &filter)
	return cmd
}

func newQueueCmd(env *environment) *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "Show the import queue state as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			helper := cli.NewJobsCLI(asynq.RedisClientOpt{Addr: env.cfg.RedisAddr})
			defer helper.Close()
			stats, err := helper.InspectQueue(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(env.stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		},
	}
}

func newMigrateCmd(env *environment) *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:       "migrate [up|down|version]",
		Short:     "Apply or roll back the database schema",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"up", "down", "version"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withExit(cli.MigrateCommand(cli.DSNMigrator(env.cfg.PGDSN), cli.MigrateOptions{
				Direction: args[0],
				Steps:     steps,
				Stdout:    env.stdout,
				Stderr:    env.stderr,
			}))
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 1, "Number of migrations to roll back with down")
	return cmd
}

func newCheckCmd(env *environment) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify the Unit4 credentials by requesting a token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := app.NewUnit4Client(env.cfg, env.logger, nil)
			return withExit(cli.CheckCommand(cmd.Context(), client, cli.CheckOptions{
				Stdout: env.stdout,
				Stderr: env.stderr,
			}))
		},
	}
}
