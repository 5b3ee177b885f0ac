package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	httpadapter "siteaudit/internal/adapters/http"
	"siteaudit/internal/adapters/fetch"
	"siteaudit/internal/adapters/llm"
	"siteaudit/internal/adapters/memory"
	pg "siteaudit/internal/adapters/postgres"
	"siteaudit/internal/adapters/snapshots"
	"siteaudit/internal/config"
	"siteaudit/internal/logging"
	"siteaudit/internal/ports"
	"siteaudit/internal/services/analyzer"
	auditsvc "siteaudit/internal/services/audits"
	"siteaudit/internal/workers/auditrunner"
)

// store is what both the Postgres and in-memory adapters provide.
type store interface {
	ports.AuditRepository
	ports.JobRepository
}

type app struct {
	configPath string
	cfg        config.Config
	log        *zap.Logger
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "siteaudit",
		Short:         "Website audit service: SEO, AEO, GEO and Google Business Profile scoring",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "Optional path to a YAML configuration file.")
	root.AddCommand(a.serveCommand(), a.migrateCommand(), a.sweepCommand())
	return root
}

func (a *app) init() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("unable to load configuration: %w", err)
	}
	log, err := logging.NewFactory().New(logging.Level(cfg.Log.Level), logging.Format(cfg.Log.Format))
	if err != nil {
		return fmt.Errorf("unable to create logger: %w", err)
	}
	a.cfg = cfg
	a.log = log.With(zap.String("env", cfg.Env))
	return nil
}

func (a *app) serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the audit workers and the stale-audit sweeper",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
}

func (a *app) migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfg.DatabaseURL == "" {
				return errors.New("database_url is required for migrate")
			}
			db, err := pg.Connect(cmd.Context(), a.cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := db.Migrate(cmd.Context()); err != nil {
				return err
			}
			a.log.Info("migrations applied")
			return nil
		},
	}
}

func (a *app) sweepCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Fail audits stuck in processing longer than workers.stale_after",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfg.DatabaseURL == "" {
				return errors.New("database_url is required for sweep")
			}
			db, err := pg.Connect(cmd.Context(), a.cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()
			ids, err := auditrunner.SweepOnce(cmd.Context(), db, a.cfg.Workers.StaleAfter, time.Now())
			if err != nil {
				return err
			}
			a.log.Info("sweep finished", zap.Int("failed", len(ids)), zap.Int64s("audit_ids", ids))
			return nil
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	cfg := a.cfg
	st, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	pipeline := auditrunner.Pipeline{
		Repo:     st,
		Fetcher:  fetch.New(cfg.Fetch.Timeout, cfg.Fetch.MaxBytes, a.log.Named("fetch")),
		Analyzer: analyzer.New(a.completer(), analyzer.Options{ExcerptLimit: cfg.Analyzer.ExcerptLimit, MaxAttempts: cfg.LLM.MaxAttempts}, a.log.Named("analyzer")),
		Log:      a.log.Named("pipeline"),
	}
	if cfg.Snapshots.Endpoint != "" {
		snaps, err := snapshots.New(cfg.Snapshots.Endpoint, cfg.Snapshots.AccessKey, cfg.Snapshots.SecretKey, cfg.Snapshots.Bucket, cfg.Snapshots.UseSSL)
		if err != nil {
			return fmt.Errorf("snapshot store: %w", err)
		}
		pipeline.Snapshots = snaps
	}

	audits := auditsvc.New(st, st, a.log.Named("audits"))
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           httpadapter.New(audits, st, pipeline, st, a.log.Named("http")).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Workers and sweeper stop on ctx; in-flight audits are failed, not left processing.
	workCtx, cancelWork := context.WithCancel(ctx)
	defer cancelWork()
	done := make(chan struct{}, 2)
	go func() {
		auditrunner.Run(workCtx, st, pipeline, cfg.Workers.Count, cfg.Workers.PollInterval, a.log.Named("worker"))
		done <- struct{}{}
	}()
	go func() {
		auditrunner.RunSweeper(workCtx, st, cfg.Workers.StaleAfter, cfg.Workers.SweepInterval, a.log.Named("sweeper"))
		done <- struct{}{}
	}()
	a.log.Info("audit workers started", zap.Int("workers", cfg.Workers.Count))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	a.log.Info("listening", zap.String("addr", cfg.ListenAddr))

	var serveErr error
	select {
	case <-ctx.Done():
		a.log.Info("shutting down")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("http shutdown", zap.Error(err))
	}
	cancelWork()
	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-shutdownCtx.Done():
			a.log.Warn("workers did not stop in time")
			return serveErr
		}
	}
	return serveErr
}

// openStore picks Postgres when a database URL is configured and the
// in-memory store otherwise.
func (a *app) openStore(ctx context.Context) (store, func(), error) {
	if a.cfg.DatabaseURL == "" {
		a.log.Warn("database_url not set, audits are kept in memory only")
		return memory.New(), func() {}, nil
	}
	db, err := pg.Connect(ctx, a.cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("db connect: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		if !isInsufficientPrivilege(err) {
			db.Close()
			return nil, nil, err
		}
		a.log.Warn("migrations skipped", zap.Error(err))
	}
	return db, db.Close, nil
}

func (a *app) completer() ports.Completer {
	c, err := llm.New(llm.Options{
		Provider: a.cfg.LLM.Provider,
		Model:    a.cfg.LLM.Model,
		APIKey:   a.cfg.LLM.APIKey,
		BaseURL:  a.cfg.LLM.BaseURL,
		Timeout:  a.cfg.LLM.Timeout,
	})
	if err != nil {
		a.log.Warn("completion model unavailable, analyses will use fallback scores", zap.Error(err))
		return llm.Disabled(err)
	}
	return c
}

func isInsufficientPrivilege(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "42501"
}
