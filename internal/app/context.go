package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"fastvote/internal/config"
	"fastvote/internal/db"
	"fastvote/internal/engine"
	"fastvote/internal/handoff"
	"fastvote/internal/metrics"
	"fastvote/internal/migrate"
)

// Options tune how a workspace engine is built. Zero values fall back to
// discard metrics and the default logger.
type Options struct {
	Logger  *slog.Logger
	Metrics *metrics.EngineMetrics
}

// Workspace is an opened workspace: its database, resolved config and the
// engine wired over them. Close releases everything Open acquired.
type Workspace struct {
	Dir     string
	DB      *sql.DB
	Config  *config.Config
	Engine  engine.Engine
	closers []func() error
}

// ResolveConfig loads fastvote.yml from the workspace, or returns the
// defaults when the file does not exist.
func ResolveConfig(workspace string) (*config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return cfg, nil
}

// Open migrates the workspace database and builds the engine with the
// committer selected by the handoff driver.
func Open(ctx context.Context, workspace string, opts Options) (*Workspace, error) {
	cfg, err := ResolveConfig(workspace)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	ws := &Workspace{Dir: workspace, DB: conn, Config: cfg}
	ws.closers = append(ws.closers, conn.Close)
	if _, err := migrate.Apply(ctx, conn); err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	e := engine.New(conn, cfg)
	if opts.Logger != nil {
		e.Logger = opts.Logger
	}
	if opts.Metrics != nil {
		e.Metrics = opts.Metrics
	}
	archive, closeArchive, err := NewArchive(workspace, cfg)
	if err != nil {
		_ = ws.Close()
		return nil, err
	}
	if closeArchive != nil {
		ws.closers = append(ws.closers, closeArchive)
	}
	e.Archive = archive
	ws.Engine = e
	e.Logger.Debug("workspace opened", "dir", workspace, "handoff", cfg.Handoff.Driver)
	return ws, nil
}

// NewArchive opens the external archive selected by the handoff driver. The
// ledger driver has none and returns a nil committer. Finalize always records
// into the local ledger; the archive receives the record after that commits.
func NewArchive(workspace string, cfg *config.Config) (handoff.Committer, func() error, error) {
	switch cfg.Handoff.Driver {
	case "", config.HandoffLedger:
		return nil, nil, nil
	case config.HandoffRedis:
		r := handoff.NewRedis(cfg.Handoff.Redis)
		return r, r.Close, nil
	case config.HandoffLevelDB:
		path := cfg.Handoff.LevelDB.Path
		if !filepath.IsAbs(path) {
			path = filepath.Join(workspace, path)
		}
		l, err := handoff.OpenLevelDB(path)
		if err != nil {
			return nil, nil, err
		}
		return l, l.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown handoff driver %q", cfg.Handoff.Driver)
	}
}

func (w *Workspace) Close() error {
	var errs []error
	for i := len(w.closers) - 1; i >= 0; i-- {
		if err := w.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	w.closers = nil
	return errors.Join(errs...)
}
