package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Satyampatil513/resume-editor/autofix"
	"github.com/Satyampatil513/resume-editor/config"
	"github.com/Satyampatil513/resume-editor/gateway"
	"github.com/Satyampatil513/resume-editor/logging"
	"github.com/Satyampatil513/resume-editor/pipeline"
	"github.com/Satyampatil513/resume-editor/queue"
	"github.com/Satyampatil513/resume-editor/runner"
	"github.com/Satyampatil513/resume-editor/server"
	"github.com/Satyampatil513/resume-editor/worker"
)

var (
	cfgFile string
	verbose bool

	cfg    *config.Config
	logger *zap.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "resume-editor",
		Short: "LaTeX compile queue, worker and auto-fix service",
		Long: `resume-editor compiles LaTeX documents through a job queue.

The serve command exposes the HTTP API and, with the memory queue or
server.embedded_worker set, runs a worker in the same process. The worker
command runs a standalone consumer against a shared Redis or Postgres queue.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			level := cfg.Log.Level
			if verbose {
				level = "debug"
			}
			logger, err = logging.New(level, cfg.Log.Development)
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./"+config.DefaultPath+" if present)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd(), workerCmd(), lintCmd(), fixCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()

			store, closeStore, err := buildStore(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			gw := gateway.New(store, cfg.GatewayOptions(), logger.Named("gateway"))
			srv := server.NewServer(gw, server.Options{
				Addr:          cfg.Server.Addr,
				AllowedOrigin: cfg.Server.AllowedOrigin,
			}, logger.Named("server"))

			if mem, ok := store.(*queue.MemoryQueue); ok {
				srv.SetTracker(mem)
			}

			if orch, err := buildAutoFix(ctx, gw); err != nil {
				logger.Warn("auto-fix disabled", zap.Error(err))
			} else {
				srv.SetAutoFix(orch)
			}

			// The memory queue lives in this process, so only an
			// embedded worker can drain it.
			var w *worker.Worker
			if cfg.Server.EmbeddedWorker || cfg.Queue.Backend == config.BackendMemory {
				if w, err = buildWorker(store); err != nil {
					return err
				}
				w.SetNotifier(srv.NotifyJobEvent)
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return srv.Run(gctx) })
			if w != nil {
				g.Go(func() error { return w.Run(gctx) })
			}

			logger.Info("service started", zap.String("queue", cfg.Queue.Backend), zap.String("addr", cfg.Server.Addr))
			if err := g.Wait(); err != nil {
				return err
			}
			logger.Info("shutting down gracefully")
			return nil
		},
	}
}

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run a standalone queue consumer",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.Queue.Backend == config.BackendMemory {
				return errors.New("a standalone worker needs a shared queue; set queue.backend to redis or postgres")
			}
			ctx, stop := signalContext(cmd)
			defer stop()

			store, closeStore, err := buildStore(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			w, err := buildWorker(store)
			if err != nil {
				return err
			}
			return w.Run(ctx)
		},
	}
}

func lintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lint <file.tex>",
		Short: "Check a document with chktex and print the issues as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}
			compiler, err := buildPipeline()
			if err != nil {
				return err
			}

			issues, err := compiler.CheckSyntax(cmd.Context(), uuid.New().String(), string(content))
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(issues)
		},
	}
}

func fixCmd() *cobra.Command {
	var (
		out     string
		pdfPath string
	)
	cmd := &cobra.Command{
		Use:   "fix <file.tex>",
		Short: "Compile a document locally, auto-fixing it on failure",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()

			content, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}
			compiler, err := buildPipeline()
			if err != nil {
				return err
			}
			local := autofix.CompilerFunc(func(ctx context.Context, content string) (string, error) {
				return compiler.CompileContent(ctx, uuid.New().String(), content)
			})
			orch, err := buildAutoFix(ctx, local)
			if err != nil {
				return err
			}

			outcome, runErr := orch.Run(ctx, string(content))
			if outcome != nil && out != "" && outcome.Content != string(content) {
				if err := os.WriteFile(out, []byte(outcome.Content), 0o644); err != nil {
					return fmt.Errorf("failed to write %s: %w", out, err)
				}
			}
			if runErr != nil {
				if logs := pipeline.LogsOf(runErr); logs != "" {
					fmt.Fprintln(cmd.ErrOrStderr(), logs)
				}
				return runErr
			}

			if pdfPath != "" {
				data, err := base64.StdEncoding.DecodeString(outcome.PDF)
				if err != nil {
					return fmt.Errorf("failed to decode PDF: %w", err)
				}
				if err := os.WriteFile(pdfPath, data, 0o644); err != nil {
					return fmt.Errorf("failed to write %s: %w", pdfPath, err)
				}
			}
			for _, f := range outcome.Fixes {
				fmt.Fprintf(cmd.OutOrStdout(), "fix (%s): %s\n", f.Type, f.Explanation)
				for _, w := range f.Warnings {
					fmt.Fprintf(cmd.OutOrStdout(), "  warning: %s\n", w)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "compiled after %d attempt(s)\n", outcome.Attempts)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the fixed document here")
	cmd.Flags().StringVar(&pdfPath, "pdf", "", "write the compiled PDF here")
	return cmd
}

// buildStore opens the configured queue backend
func buildStore(ctx context.Context) (queue.Store, func(), error) {
	switch cfg.Queue.Backend {
	case config.BackendRedis:
		client, err := queue.DialRedis(ctx, cfg.Queue.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return queue.NewRedisQueue(client, cfg.QueueKeys()), func() { client.Close() }, nil
	case config.BackendPostgres:
		pool, err := queue.ConnectPostgres(ctx, cfg.Queue.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		q := queue.NewPostgresQueue(pool)
		if err := q.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return q, pool.Close, nil
	default:
		return queue.NewMemoryQueue(logger.Named("queue")), func() {}, nil
	}
}

func buildPipeline() (*pipeline.Compiler, error) {
	return pipeline.New(cfg.PipelineOptions(), runner.NewExec(logger.Named("runner")), logger.Named("pipeline"))
}

func buildWorker(store queue.Store) (*worker.Worker, error) {
	compiler, err := buildPipeline()
	if err != nil {
		return nil, err
	}
	return worker.NewWorker(cfg.Worker.ID, store, compiler, cfg.WorkerOptions(), logger.Named("worker")), nil
}

func buildAutoFix(ctx context.Context, compiler autofix.Compiler) (*autofix.Orchestrator, error) {
	fixer, err := autofix.NewGemini(ctx, cfg.AutoFix.APIKey, cfg.AutoFix.Model, logger.Named("gemini"))
	if err != nil {
		return nil, err
	}
	return autofix.New(compiler, fixer, cfg.AutoFix.MaxAttempts, logger.Named("autofix"))
}
