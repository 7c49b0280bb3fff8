package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/archivekeep/mailarchiver/internal/archive"
	"github.com/archivekeep/mailarchiver/internal/buildinfo"
	"github.com/archivekeep/mailarchiver/internal/config"
	"github.com/archivekeep/mailarchiver/internal/health"
	"github.com/archivekeep/mailarchiver/internal/httpkit"
	"github.com/archivekeep/mailarchiver/internal/routine"
	"github.com/archivekeep/mailarchiver/internal/scheduler"

	_ "github.com/mattn/go-sqlite3"
)

// daemon bundles every collaborator runServe needs, plus the smaller
// subset (Store/Writer/Registry/Runner without a Scheduler) the one-shot
// subcommands use.
type daemon struct {
	Store     *archive.Store
	Blobs     *archive.BlobStore
	Writer    *archive.Writer
	Health    *health.Tracker
	Registry  *routine.Registry
	Runner    *routine.Runner
	Scheduler *scheduler.Scheduler
}

func (d *daemon) Close() {
	if d.Scheduler != nil {
		d.Scheduler.Stop()
	}
	if d.Store != nil {
		d.Store.Close()
	}
}

// buildDaemon opens the archive store and blob store under cfg.DataDir
// /cfg.StorageRoot and wires the full C2→C8 pipeline plus the scheduler
// that drives it, in the order runServe opens its own collaborators
// (data dir first, then persistence, then the pieces that depend on it).
func buildDaemon(logger *slog.Logger, cfg *config.Config) (*daemon, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	if err := os.MkdirAll(cfg.LogRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create log root: %w", err)
	}

	store, err := archive.NewStore(filepath.Join(cfg.DataDir, "archive.db"), logger)
	if err != nil {
		return nil, fmt.Errorf("open archive store: %w", err)
	}

	blobs, err := archive.NewBlobStore(cfg.StorageRoot)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open blob store: %w", err)
	}

	writer := archive.NewWriter(store, blobs, logger)
	tracker := health.New(store, logger)
	registry := routine.NewRegistry(store)

	httpClient := httpkit.NewClient(httpkit.WithUserAgent("archiverd/" + buildinfo.Version))

	runner := &routine.Runner{
		Store:                    store,
		Writer:                   writer,
		Health:                   tracker,
		HTTPClient:               httpClient,
		Logger:                   logger,
		AllowInsecureConnections: cfg.AllowInsecureConnections,
	}

	sched := scheduler.New(registry, runner, logger, cfg.LogRoot, cfg.DaemonLogBackupCountDefault, cfg.DaemonLogfileSizeDefault)

	return &daemon{
		Store:     store,
		Blobs:     blobs,
		Writer:    writer,
		Health:    tracker,
		Registry:  registry,
		Runner:    runner,
		Scheduler: sched,
	}, nil
}
