// Package progress mirrors server-side playback activity into the local
// catalog so resume positions stay current even when playback happens on
// another client.
package progress

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/medleyhq/medley/internal/catalog"
	"github.com/medleyhq/medley/internal/servers"
	"github.com/medleyhq/medley/internal/source"
	"github.com/medleyhq/medley/internal/web/sse"
)

const reconcileInterval = 30 * time.Second

// Watcher keeps one WebSocket progress subscription per enabled server
type Watcher struct {
	servers  *servers.Manager
	catalog  *catalog.Store
	resolver *source.Resolver
	broker   *sse.Broker

	mu      sync.Mutex
	running map[int64]context.CancelFunc
	wg      sync.WaitGroup
}

// NewWatcher creates a progress watcher
func NewWatcher(srv *servers.Manager, cat *catalog.Store, res *source.Resolver, broker *sse.Broker) *Watcher {
	return &Watcher{
		servers:  srv,
		catalog:  cat,
		resolver: res,
		broker:   broker,
		running:  make(map[int64]context.CancelFunc),
	}
}

// Run blocks until the context is cancelled, reconciling subscriptions
// against the enabled server list on an interval so added or removed
// servers are picked up without a restart.
func (w *Watcher) Run(ctx context.Context) {
	w.reconcile(ctx)

	ticker := time.NewTicker(reconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.stopAll()
			w.wg.Wait()
			return
		case <-ticker.C:
			w.reconcile(ctx)
		}
	}
}

func (w *Watcher) reconcile(ctx context.Context) {
	rows, err := w.servers.List()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to list servers for progress watching")
		return
	}

	want := make(map[int64]struct{}, len(rows))
	for _, row := range rows {
		want[row.ID] = struct{}{}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	for id, cancel := range w.running {
		if _, ok := want[id]; !ok {
			cancel()
			delete(w.running, id)
		}
	}

	for _, row := range rows {
		if _, ok := w.running[row.ID]; ok {
			continue
		}
		w.startLocked(ctx, row.ID, row.Name)
	}
}

func (w *Watcher) startLocked(ctx context.Context, serverID int64, name string) {
	watchCtx, cancel := context.WithCancel(ctx)
	w.running[serverID] = cancel

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()

		client, err := w.servers.Get(serverID)
		if err != nil {
			log.Warn().Err(err).Int64("server_id", serverID).Msg("Progress watch skipped")
			return
		}

		log.Info().Str("server", name).Msg("Watching server playback progress")
		err = client.WatchProgress(watchCtx, w.handleEvent)
		if err != nil && watchCtx.Err() == nil {
			log.Error().Err(err).Str("server", name).Msg("Progress watch stopped")
		}
	}()
}

func (w *Watcher) handleEvent(ev servers.ProgressEvent) {
	if ev.ItemID == "" {
		return
	}

	if err := w.catalog.RecordViewOffset(ev.ServerID, ev.ItemID, ev.PositionMs); err != nil {
		log.Warn().Err(err).Str("item_id", ev.ItemID).Msg("Failed to record view offset")
	}
	if ev.State == "stopped" {
		// Resume position changed remotely, cached resolutions are stale
		w.resolver.Invalidate(ev.ServerID, ev.ItemID)
	}

	w.broker.Broadcast(sse.Event{Type: sse.EventServerProgress, Data: ev})
}

func (w *Watcher) stopAll() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for id, cancel := range w.running {
		cancel()
		delete(w.running, id)
	}
}
