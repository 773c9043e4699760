// Package monitor drives the poll cycle: read the snapshot, diff against
// the previous item set, fan changed fixes out to every configured
// destination's pending queue, then flush every non-empty queue key.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"waypointrelay/internal/forward"
	"waypointrelay/internal/model"
	"waypointrelay/internal/queue"
	"waypointrelay/internal/snapshot"
)

// ErrAlreadyPolling is returned by Start when the monitor is already in the
// polling state.
var ErrAlreadyPolling = errors.New("monitor already polling")

// Settings holds the monitor's tunables.
type Settings struct {
	SnapshotPath string
	PollInterval time.Duration
}

// DestinationSource supplies the destination rows read once per cycle. The
// monitor never mutates the list.
type DestinationSource interface {
	Snapshot() []model.Destination
}

// Attempter flushes one pending queue key.
type Attempter interface {
	Attempt(ctx context.Context, key, apiKey string) forward.Result
}

// History records observed fixes and attempt outcomes. Failures are logged
// and never abort a cycle.
type History interface {
	InsertFix(ctx context.Context, serial, name string, p model.Point) error
	InsertDeliveryAttempt(ctx context.Context, a model.DeliveryAttempt) error
}

// Publisher receives points after a confirmed delivery.
type Publisher interface {
	PublishDelivered(serial string, points []model.Point)
}

// Deps are the monitor's collaborators. History, Mirror, OnUpdate, and
// OnSourceError may be nil; ReadSnapshot defaults to snapshot.Read.
type Deps struct {
	Queue        *queue.Store
	Destinations DestinationSource
	Attempter    Attempter
	History      History
	Mirror       Publisher
	ReadSnapshot func(path string) ([]model.Item, error)

	// OnUpdate receives the display model after every completed cycle.
	OnUpdate func([]model.ItemStatus)
	// OnSourceError is called when the snapshot cannot be read; the cycle
	// aborts but the scheduler keeps running.
	OnSourceError func(error)
}

// Monitor is a two-state scheduler (idle, polling). Cycles are serialized:
// scheduled, forced, and overlapping callers all run through one mutex, so
// at most one cycle is ever active and delivery attempts for the same key
// never run concurrently.
type Monitor struct {
	settings Settings
	deps     Deps
	logger   *slog.Logger

	cycleMu sync.Mutex

	stateMu sync.Mutex
	polling bool
	stop    chan struct{}

	// lastItems and lastSent are only touched under cycleMu.
	lastItems []model.Item
	lastSent  map[string]time.Time
}

// New constructs a Monitor. Start must be called to begin polling.
func New(settings Settings, deps Deps, logger *slog.Logger) *Monitor {
	if deps.ReadSnapshot == nil {
		deps.ReadSnapshot = snapshot.Read
	}
	return &Monitor{
		settings: settings,
		deps:     deps,
		logger:   logger,
		lastSent: make(map[string]time.Time),
	}
}

// Start transitions idle to polling: one cycle runs immediately, then one
// per poll interval until Stop or context cancellation.
func (m *Monitor) Start(ctx context.Context) error {
	m.stateMu.Lock()
	if m.polling {
		m.stateMu.Unlock()
		return ErrAlreadyPolling
	}
	m.polling = true
	m.stop = make(chan struct{})
	stop := m.stop
	m.stateMu.Unlock()

	go m.loop(ctx, stop)
	return nil
}

// Stop prevents future cycles from being scheduled. A cycle already in
// progress runs to completion.
func (m *Monitor) Stop() {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()

	if !m.polling {
		return
	}
	m.polling = false
	close(m.stop)
}

// ForceRefresh runs one forced cycle immediately, treating every item as
// changed. It does not reset the periodic schedule and works in both
// states.
func (m *Monitor) ForceRefresh(ctx context.Context) {
	m.runCycle(ctx, true)
}

func (m *Monitor) loop(ctx context.Context, stop <-chan struct{}) {
	m.runCycle(ctx, false)

	ticker := time.NewTicker(m.settings.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.Stop()
			return
		case <-stop:
			return
		case <-ticker.C:
			m.runCycle(ctx, false)
		}
	}
}

// runCycle executes one read → diff → enqueue → flush pass. No failure
// inside a cycle is fatal; the scheduler outlives them all.
func (m *Monitor) runCycle(ctx context.Context, force bool) {
	m.cycleMu.Lock()
	defer m.cycleMu.Unlock()

	log := m.logger.With("cycle", uuid.NewString()[:8])

	items, err := m.deps.ReadSnapshot(m.settings.SnapshotPath)
	if err != nil {
		log.Error("snapshot read failed", "error", err)
		if m.deps.OnSourceError != nil {
			m.deps.OnSourceError(err)
		}
		return
	}

	dests := m.deps.Destinations.Snapshot()

	for _, item := range items {
		if !force && !snapshot.Changed(m.lastItems, item) {
			continue
		}
		if item.Location == nil {
			log.Debug("item has no location, skipping", "serial", item.Serial)
			continue
		}

		point := model.PointFromFix(*item.Location)
		enqueued := false
		for _, row := range dests {
			if row.Serial != item.Serial {
				continue
			}
			if row.ServerURL == "" {
				log.Debug("destination has no server url, skipping", "serial", item.Serial)
				continue
			}
			key := queue.Key(item.Serial, row.ServerURL)
			if err := m.deps.Queue.Append(key, point); err != nil {
				log.Error("failed to queue point", "serial", item.Serial, "url", row.ServerURL, "error", err)
				continue
			}
			enqueued = true
		}

		if enqueued && m.deps.History != nil {
			if err := m.deps.History.InsertFix(ctx, item.Serial, item.Name, point); err != nil {
				log.Warn("failed to record fix history", "serial", item.Serial, "error", err)
			}
		}
	}

	// Retry is queue-driven: every non-empty key with a matching destination
	// row is flushed, including keys left over from failed cycles with no
	// new append this cycle.
	for _, key := range m.deps.Queue.Keys() {
		serial, baseURL, ok := queue.SplitKey(key)
		if !ok {
			log.Warn("malformed queue key", "key", key)
			continue
		}

		row, found := matchRow(dests, serial, baseURL)
		if !found {
			log.Debug("queued points have no destination row, keeping", "key", key)
			continue
		}

		res := m.deps.Attempter.Attempt(ctx, key, row.APIKey)
		m.recordAttempt(ctx, log, serial, baseURL, res)

		switch res.Outcome {
		case forward.OutcomeDelivered:
			m.lastSent[serial] = time.Now()
			if m.deps.Mirror != nil {
				m.deps.Mirror.PublishDelivered(serial, res.Sent)
			}
		case forward.OutcomeSkipped:
			if res.Err == nil {
				break
			}
			var cfgErr *forward.ConfigurationError
			if errors.As(res.Err, &cfgErr) {
				log.Warn("destination misconfigured", "serial", serial, "url", baseURL, "reason", cfgErr.Reason)
			} else {
				log.Warn("delivery skipped", "key", key, "error", res.Err)
			}
		}
	}

	m.lastItems = items

	if m.deps.OnUpdate != nil {
		m.deps.OnUpdate(m.buildStatus(items))
	}
}

func (m *Monitor) recordAttempt(ctx context.Context, log *slog.Logger, serial, baseURL string, res forward.Result) {
	if m.deps.History == nil {
		return
	}
	if res.Outcome == forward.OutcomeSkipped && res.Err == nil {
		return
	}

	attempt := model.DeliveryAttempt{
		Serial:      serial,
		BaseURL:     baseURL,
		Outcome:     res.Outcome.String(),
		StatusCode:  res.StatusCode,
		Points:      res.Points,
		AttemptedAt: time.Now().UTC(),
	}
	if res.Err != nil {
		attempt.Error = res.Err.Error()
	}

	if err := m.deps.History.InsertDeliveryAttempt(ctx, attempt); err != nil {
		log.Warn("failed to record delivery attempt", "serial", serial, "error", err)
	}
}

// buildStatus assembles the display model. Pending counts every queued
// point whose key belongs to the item's serial, across all destinations.
func (m *Monitor) buildStatus(items []model.Item) []model.ItemStatus {
	depths := m.deps.Queue.Depths()

	statuses := make([]model.ItemStatus, 0, len(items))
	for _, item := range items {
		status := model.ItemStatus{
			Name:          item.Name,
			Serial:        item.Serial,
			BatteryStatus: item.BatteryStatus,
		}
		if sent, ok := m.lastSent[item.Serial]; ok {
			t := sent
			status.LastSent = &t
		}
		for key, depth := range depths {
			if serial, _, ok := queue.SplitKey(key); ok && serial == item.Serial {
				status.Pending += depth
			}
		}
		statuses = append(statuses, status)
	}
	return statuses
}

// matchRow finds the destination row whose serial and base URL correspond
// to a queue key. With duplicate rows the first match wins, so its API key
// is the one used for the flush.
func matchRow(dests []model.Destination, serial, baseURL string) (model.Destination, bool) {
	for _, row := range dests {
		if row.Serial == serial && row.ServerURL == baseURL {
			return row, true
		}
	}
	return model.Destination{}, false
}

// String implements fmt.Stringer for log lines that include the state.
func (m *Monitor) String() string {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	if m.polling {
		return fmt.Sprintf("monitor(polling, every %s)", m.settings.PollInterval)
	}
	return "monitor(idle)"
}
