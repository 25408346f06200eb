// Package maintenance runs scheduled housekeeping: sweeping expired resolver
// cache entries and pruning watched-through progress rows.
package maintenance

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/medleyhq/medley/internal/config"
	"github.com/medleyhq/medley/internal/database"
	"github.com/medleyhq/medley/internal/source"
)

const (
	defaultSchedule  = "@every 1h"
	defaultRetention = 90 * 24 * time.Hour
)

// Manager owns the cron scheduler for housekeeping jobs
type Manager struct {
	db       *database.DB
	resolver *source.Resolver
	loader   *config.Loader

	mu      sync.Mutex
	cron    *cron.Cron
	entryID cron.EntryID
	running bool
}

// NewManager creates a maintenance manager
func NewManager(db *database.DB, res *source.Resolver, loader *config.Loader) *Manager {
	return &Manager{
		db:       db,
		resolver: res,
		loader:   loader,
		cron:     cron.New(),
	}
}

// Start begins the scheduler
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}

	schedule := m.loader.String(config.KeyMaintenanceSchedule, defaultSchedule)
	id, err := m.cron.AddFunc(schedule, m.run)
	if err != nil {
		return err
	}
	m.entryID = id
	m.cron.Start()
	m.running = true

	log.Info().Str("schedule", schedule).Msg("Maintenance scheduler started")
	return nil
}

// Stop halts the scheduler, waiting for a running job to finish
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	m.cron.Remove(m.entryID)
	<-m.cron.Stop().Done()
	m.running = false

	log.Info().Msg("Maintenance scheduler stopped")
}

// Reschedule replaces the cron entry, picking up a changed schedule setting
func (m *Manager) Reschedule() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}

	schedule := m.loader.String(config.KeyMaintenanceSchedule, defaultSchedule)
	id, err := m.cron.AddFunc(schedule, m.run)
	if err != nil {
		return err
	}
	m.cron.Remove(m.entryID)
	m.entryID = id

	log.Info().Str("schedule", schedule).Msg("Maintenance schedule updated")
	return nil
}

func (m *Manager) run() {
	swept := m.resolver.Sweep()

	retention := m.loader.Duration(config.KeyProgressRetention, defaultRetention)
	pruned, err := m.db.PruneWatchedProgress(retention)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to prune watched progress")
	}

	log.Debug().
		Int("cache_swept", swept).
		Int64("progress_pruned", pruned).
		Msg("Maintenance run complete")
}
