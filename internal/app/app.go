package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	_ "github.com/lib/pq"

	"taskflow/dashboard/internal/apiclient"
	"taskflow/dashboard/internal/audit"
	"taskflow/dashboard/internal/config"
	"taskflow/dashboard/internal/dashboard"
	"taskflow/dashboard/internal/httpserver"
	"taskflow/dashboard/internal/observability"
	"taskflow/dashboard/internal/routing"
	"taskflow/dashboard/internal/session"
	"taskflow/dashboard/internal/storage"
)

type App struct {
	cfg     config.Config
	log     *slog.Logger
	closer  io.Closer
	gate    *session.Gate
	guard   *routing.Guard
	history *routing.History
	server  *httpserver.Server
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger := observability.NewLogger(os.Stderr, cfg.LogLevel)

	store, closer, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	closeStore := func() {
		if closer != nil {
			_ = closer.Close()
		}
	}

	auditLogger := audit.NewLogger(cfg.AuditLogFile)
	history := routing.NewHistory(routing.RootPath)

	gate, err := session.NewGate(session.GateConfig{
		Store:     store,
		Navigator: history,
		Audit:     auditLogger,
		Logger:    logger.With("component", "session"),
	})
	if err != nil {
		closeStore()
		return nil, fmt.Errorf("create session gate: %w", err)
	}

	client, err := apiclient.New(apiclient.Config{
		BaseURL: cfg.API.BaseURL,
		Timeout: cfg.API.Timeout,
		Tokens:  gate,
		Logger:  logger.With("component", "apiclient"),
	})
	if err != nil {
		closeStore()
		return nil, fmt.Errorf("create api client: %w", err)
	}

	agg, err := dashboard.New(dashboard.Config{
		Gate:    gate,
		Fetcher: client,
		Audit:   auditLogger,
		Logger:  logger.With("component", "dashboard"),
	})
	if err != nil {
		closeStore()
		return nil, fmt.Errorf("create dashboard aggregator: %w", err)
	}

	guard := routing.NewGuard(gate)
	server := httpserver.New(cfg.HTTP, httpserver.Deps{
		Gate:        gate,
		Auth:        client,
		Dashboard:   agg,
		Guard:       guard,
		Navigation:  history,
		Logger:      logger.With("component", "http"),
		CORSOrigins: cfg.CORSOrigins,
	})

	return &App{
		cfg:     cfg,
		log:     logger,
		closer:  closer,
		gate:    gate,
		guard:   guard,
		history: history,
		server:  server,
	}, nil
}

func openStore(ctx context.Context, cfg config.StorageConfig) (storage.Store, io.Closer, error) {
	switch cfg.Driver {
	case config.StorageMemory:
		return storage.NewMemoryStore(), nil, nil
	case config.StorageSQLite:
		s, err := storage.OpenSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite session store: %w", err)
		}
		return s, s, nil
	case config.StoragePostgres:
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open database: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("ping database: %w", err)
		}
		s, err := storage.NewPostgresStore(ctx, db)
		if err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("create postgres session store: %w", err)
		}
		return s, s, nil
	default:
		s, err := storage.NewFileStore(cfg.FilePath)
		if err != nil {
			return nil, nil, fmt.Errorf("create file session store: %w", err)
		}
		return s, nil, nil
	}
}

func (a *App) Run(ctx context.Context) error {
	defer func() {
		if a.closer != nil {
			_ = a.closer.Close()
		}
	}()

	errCh := make(chan error, 1)

	go func() {
		a.log.Info("http server starting", "addr", a.cfg.HTTP.Addr)
		errCh <- a.server.Start()
	}()

	a.initializeSession(ctx)

	select {
	case <-ctx.Done():
		a.log.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server exited: %w", err)
	}
}

// initializeSession reads the persisted session and moves the shell from
// the root path to its initial route. Until it returns, route decisions
// report loading.
func (a *App) initializeSession(ctx context.Context) {
	authed, err := a.gate.Initialize(ctx)
	if err != nil {
		a.log.Error("session initialization failed, continuing unauthenticated", "error", err)
	}
	d := a.guard.Resolve(routing.RootPath)
	if d.Outcome == routing.OutcomeRedirect {
		a.history.Navigate(d.Target)
	}
	a.log.Info("initial route selected", "authenticated", authed, "location", a.history.Current())
}
