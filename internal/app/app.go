package app

import (
	"context"
	"fmt"
	"time"

	"nostrgraph/pkg/archive"
	"nostrgraph/pkg/config"
	"nostrgraph/pkg/ingest"
	"nostrgraph/pkg/ingest/queue"
	"nostrgraph/pkg/logger"
	"nostrgraph/pkg/state"
	"nostrgraph/pkg/store"

	"nostrgraph/internal/snapshotter"
)

// rebuildInterval is how often the follower graph and search index are
// rebuilt from the accumulated contact lists.
const rebuildInterval = 5 * time.Minute

// App encapsulates the server components and lifecycle.
type App struct {
	cfg     *config.Config
	sources string
	version string

	st    *store.Store
	coord *ingest.Coordinator

	resumed bool
}

// New initializes resources that do not require a running context: the data
// dir layout, the raw-event archive, the index store (optionally restored
// from the last snapshot), and the ingestion coordinator. Call Run to start
// serving and block until shutdown.
func New(cfg *config.Config, sources, version string) (*App, error) {
	if err := state.EnsureStateDirs(cfg.Storage.DataDir); err != nil {
		return nil, fmt.Errorf("state dirs under %s: %w", cfg.Storage.DataDir, err)
	}
	if err := archive.Open(state.ArchiveDir(cfg.Storage.DataDir)); err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	st := store.New()
	resumed := false
	if cfg.Ingest.Resume {
		resumed = st.Load(state.SnapshotDir(cfg.Storage.DataDir))
	}

	if n := cfg.Ingest.MaxPooledBuf.Int64(); n > 0 {
		queue.SetMaxPooledBuffer(int(n))
	}
	q := queue.New(cfg.Ingest.QueueCapacity)
	coord := ingest.New(st, q, nil, cfg.Ingest.PageLimit)

	// fold archived events into whatever the snapshot restored, then derive
	// the graph and search indices once before serving
	coord.MergeArchive()
	coord.Rebuild()

	a := &App{cfg: cfg, sources: sources, version: version, st: st, coord: coord, resumed: resumed}
	return a, nil
}

// Store exposes the index store, mainly for tests and tooling.
func (a *App) Store() *store.Store { return a.st }

// Run starts ingestion, the snapshot scheduler, and the combined
// HTTP/WebSocket listener, and blocks until ctx is canceled or a fatal
// server error occurs. A final snapshot is written on the way out.
func (a *App) Run(ctx context.Context) error {
	sources, err := ingest.DiscoverRelays(ctx, a.cfg.Relays.RegistryURL, a.cfg.Relays.Static, a.cfg.Relays.FetchTimeout.Duration())
	if err != nil {
		return fmt.Errorf("discover relays: %w", err)
	}
	logger.Info("sources_discovered", "count", len(sources), "resumed", a.resumed)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ingestDone := make(chan error, 1)
	go func() { ingestDone <- a.coord.Run(runCtx, sources) }()

	snapDir := state.SnapshotDir(a.cfg.Storage.DataDir)
	stopSnap, err := snapshotter.Start(runCtx, a.st, snapDir,
		a.cfg.Snapshot.InitialDelay.Duration(), a.cfg.Snapshot.Cron)
	if err != nil {
		return err
	}
	defer stopSnap()

	go a.rebuildLoop(runCtx)

	a.printBanner()
	srv, errCh := a.startHTTP()

	select {
	case <-ctx.Done():
	case err = <-errCh:
		logger.Error("http_server_failed", "error", err)
		cancel()
	}

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutCancel()
	_ = srv.Shutdown(shutCtx)

	cancel()
	if ierr := <-ingestDone; ierr != nil && ierr != context.Canceled {
		logger.Warn("ingest_stopped", "error", ierr)
	}

	if serr := snapshotter.SaveNow(a.st, snapDir); serr == nil {
		logger.Info("final_snapshot_written", "path", snapDir)
	}
	if cerr := archive.Close(); cerr != nil {
		logger.Warn("archive_close_failed", "error", cerr)
	}
	return err
}

// rebuildLoop periodically re-derives the follower graph and the search
// index so live ingestion becomes visible to graph queries.
func (a *App) rebuildLoop(ctx context.Context) {
	t := time.NewTicker(rebuildInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			start := time.Now()
			a.coord.Rebuild()
			logger.Debug("indices_rebuilt", "took", time.Since(start).String())
		}
	}
}
