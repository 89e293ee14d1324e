// Package app wires the database, blob store, metrics and engine for a
// workspace. The CLI and the HTTP server share it.
package app

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"lettertrack/internal/blob"
	"lettertrack/internal/config"
	"lettertrack/internal/db"
	"lettertrack/internal/engine"
	"lettertrack/internal/identity"
	"lettertrack/internal/metrics"
	"lettertrack/internal/migrate"
)

type App struct {
	Workspace string
	Config    *config.Config
	DB        *sql.DB
	Engine    engine.Engine
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

// Open loads the workspace config (unless cfg is given), opens and migrates
// the database and builds the engine.
func Open(ctx context.Context, workspace string, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if cfg == nil {
		loaded, err := config.Load(workspace)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, err := db.Open(db.Config{Workspace: workspace, BusyTimeoutMS: cfg.Database.BusyTimeoutMS})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	store, err := blob.New(ctx, cfg.Blob)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("blob store: %w", err)
	}
	m := metrics.New()
	e := engine.New(conn, cfg)
	e.Blob = store
	e.Metrics = m
	e.Logger = logger
	logger.Debug("workspace opened",
		zap.String("workspace", workspace),
		zap.String("db", db.Path(workspace)),
		zap.String("blob_driver", cfg.Blob.Driver))
	return &App{
		Workspace: workspace,
		Config:    cfg,
		DB:        conn,
		Engine:    e,
		Metrics:   m,
		Logger:    logger,
	}, nil
}

func (a *App) Resolver() identity.ProfileResolver {
	return identity.ProfileResolver{Repo: a.Engine.Repo}
}

// Caller resolves actorID to an identity for CLI commands.
func (a *App) Caller(ctx context.Context, actorID string) (identity.Identity, error) {
	return a.Resolver().Resolve(ctx, actorID)
}

func (a *App) Close() error {
	if a == nil || a.DB == nil {
		return nil
	}
	return a.DB.Close()
}
