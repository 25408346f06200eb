// Package servers manages the registered media-server backends and the HTTP
// clients used to search them, fetch item detail, build stream URLs and push
// playback state back.
package servers

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/medleyhq/medley/internal/database"
	"github.com/medleyhq/medley/internal/media"
)

// StreamOptions carries the negotiated playback parameters into URL building
type StreamOptions struct {
	// DirectPlay requests the original file unmodified
	DirectPlay bool
	// BitrateBps is the transcode target bitrate; ignored for direct play
	BitrateBps int64
	// AudioStreamIndex / SubtitleStreamIndex select streams for the
	// server-side transcode. -1 means "server default" (audio) or "none"
	// (subtitles).
	AudioStreamIndex    int
	SubtitleStreamIndex int
}

// ProgressEvent is a server-side playback progress notification observed over
// the backend's websocket. It keeps the local view-offset cache current so a
// later load() resumes where an external player on the same account left off.
type ProgressEvent struct {
	ServerID   int64
	ItemID     string
	PositionMs int64
	State      string // playing, paused, stopped
}

// Client is the narrow per-backend contract the orchestration core consumes
type Client interface {
	// Server returns the registry row this client was built from
	Server() *database.Server

	// Search runs a title search across the backend's libraries
	Search(ctx context.Context, title string) ([]media.PlayableItem, error)

	// ItemDetail fetches one item with full technical metadata
	ItemDetail(ctx context.Context, itemID string) (*media.PlayableItem, error)

	// Children lists the child items of a show or season in hierarchy order
	Children(ctx context.Context, parentID string) ([]media.PlayableItem, error)

	// SetStreamSelection persists the chosen default streams on the backend.
	// Best-effort: callers log and continue on failure.
	SetStreamSelection(ctx context.Context, itemID string, audioStreamIndex, subtitleStreamIndex int) error

	// ReportProgress pushes the playback position to the backend
	ReportProgress(ctx context.Context, itemID string, positionMs int64, paused bool) error

	// StreamURL builds a playable URL for the given part
	StreamURL(itemID string, part *media.MediaPart, opts StreamOptions) (string, error)

	// TestConnection verifies the backend is reachable and the key valid
	TestConnection(ctx context.Context) error

	// WatchProgress maintains a websocket subscription for session progress
	// notifications, reconnecting with backoff until the context ends
	WatchProgress(ctx context.Context, callback func(ProgressEvent)) error
}

// Manager caches one client per registered server
type Manager struct {
	db      *database.DB
	mu      sync.Mutex
	clients map[int64]Client
}

// NewManager creates a new server manager
func NewManager(db *database.DB) *Manager {
	return &Manager{
		db:      db,
		clients: make(map[int64]Client),
	}
}

// Get returns a client for the given server ID, creating one if needed
func (m *Manager) Get(serverID int64) (Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if client, ok := m.clients[serverID]; ok {
		return client, nil
	}

	server, err := m.db.GetServer(serverID)
	if err != nil {
		return nil, fmt.Errorf("failed to get server: %w", err)
	}
	if server == nil {
		return nil, fmt.Errorf("server not found: %d", serverID)
	}

	client, err := newClient(server)
	if err != nil {
		return nil, err
	}

	m.clients[serverID] = client
	return client, nil
}

// List returns the enabled server rows
func (m *Manager) List() ([]*database.Server, error) {
	return m.db.ListServers(true)
}

// Invalidate drops the cached client for a server after its row changed
func (m *Manager) Invalidate(serverID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.clients, serverID)
}

// TestAll verifies connectivity of all enabled servers, logging failures
func (m *Manager) TestAll(ctx context.Context) {
	servers, err := m.List()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to list servers for connectivity check")
		return
	}
	for _, s := range servers {
		client, err := m.Get(s.ID)
		if err != nil {
			log.Warn().Err(err).Str("server", s.Name).Msg("Failed to create server client")
			continue
		}
		if err := client.TestConnection(ctx); err != nil {
			log.Warn().Err(err).Str("server", s.Name).Msg("Server connectivity check failed")
		} else {
			log.Info().Str("server", s.Name).Msg("Server reachable")
		}
	}
}

func newClient(server *database.Server) (Client, error) {
	switch server.Type {
	case database.ServerTypeJellyfin:
		return NewJellyfinClient(server), nil
	case database.ServerTypeEmby:
		return NewEmbyClient(server), nil
	default:
		return nil, fmt.Errorf("unknown server type: %s", server.Type)
	}
}
