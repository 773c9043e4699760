// Package app wires the relay's services together and owns their
// lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"

	"waypointrelay/internal/config"
	"waypointrelay/internal/destinations"
	"waypointrelay/internal/forward"
	"waypointrelay/internal/mirror"
	"waypointrelay/internal/model"
	"waypointrelay/internal/monitor"
	"waypointrelay/internal/queue"
	"waypointrelay/internal/store"
)

// App wires together the relay services and manages their lifecycle.
type App struct {
	cfg    config.Config
	logger *slog.Logger

	store   *store.Store
	queue   *queue.Store
	dests   *destinations.File
	monitor *monitor.Monitor
	mirror  *mirror.Publisher
	mdns    *zeroconf.Server

	statusMu    sync.RWMutex
	status      []model.ItemStatus
	sourceError string
}

// New constructs a new application instance.
func New(cfg config.Config, logger *slog.Logger) *App {
	return &App{cfg: cfg, logger: logger}
}

// Run starts all configured services and blocks until the context is
// cancelled or an error occurs.
func (a *App) Run(ctx context.Context) error {
	db, err := store.Open(a.cfg.HistoryDBPath)
	if err != nil {
		return err
	}
	a.store = db

	if err := a.store.InitSchema(ctx); err != nil {
		return err
	}

	defer func() {
		if cerr := a.store.Close(); cerr != nil {
			a.logger.Error("close store", "error", cerr)
		}
	}()

	a.queue = queue.Open(a.cfg.QueuePath, a.logger)

	dests, err := destinations.Open(a.cfg.DestinationsPath, a.logger)
	if err != nil {
		a.logger.Error("destinations file unreadable, starting with empty list",
			"path", a.cfg.DestinationsPath, "error", err)
	}
	a.dests = dests

	deps := monitor.Deps{
		Queue:         a.queue,
		Destinations:  a.dests,
		Attempter:     forward.NewAttempter(a.queue, a.cfg.HTTPTimeout, a.logger),
		History:       a.store,
		OnUpdate:      a.setStatus,
		OnSourceError: a.setSourceError,
	}

	if a.cfg.Mirror.Enabled {
		pub, err := mirror.Connect(a.cfg.Mirror.BrokerURL, a.cfg.Mirror.TopicPrefix, a.logger)
		if err != nil {
			a.logger.Warn("mqtt mirror unavailable, continuing without it", "error", err)
		} else {
			a.mirror = pub
			deps.Mirror = pub
			defer a.mirror.Close()
		}
	}

	a.monitor = monitor.New(monitor.Settings{
		SnapshotPath: a.cfg.SnapshotPath,
		PollInterval: a.cfg.PollInterval,
	}, deps, a.logger)

	if err := a.monitor.Start(ctx); err != nil {
		return err
	}

	httpErrCh := make(chan error, 1)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.cfg.StatusPort),
		Handler: a.routes(),
	}

	go func() {
		a.logger.Info("status server started", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErrCh <- fmt.Errorf("status server: %w", err)
		}
	}()

	if a.cfg.MDNSEnabled {
		if err := a.startMDNS(a.cfg.StatusPort); err != nil {
			a.logger.Warn("mDNS advertisement failed, continuing without it", "error", err)
		}
		defer a.stopMDNS()
	}

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("status server shutdown: %w", err)
			}
			a.logger.Info("status server stopped")

			a.monitor.Stop()
			a.logger.Info("monitor stopped")
			return nil
		case err := <-httpErrCh:
			if err != nil {
				a.monitor.Stop()
				return err
			}
		}
	}
}

// setStatus receives the display model after every completed cycle. A
// completed cycle also clears any surfaced source error.
func (a *App) setStatus(status []model.ItemStatus) {
	a.statusMu.Lock()
	defer a.statusMu.Unlock()
	a.status = status
	a.sourceError = ""
}

func (a *App) setSourceError(err error) {
	a.statusMu.Lock()
	defer a.statusMu.Unlock()
	a.sourceError = err.Error()
}

func (a *App) currentStatus() ([]model.ItemStatus, string) {
	a.statusMu.RLock()
	defer a.statusMu.RUnlock()
	return a.status, a.sourceError
}
