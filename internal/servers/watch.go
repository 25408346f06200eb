package servers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/medleyhq/medley/internal/config"
)

// WatchProgress maintains a WebSocket subscription for playback progress
// notifications from the backend. It blocks until the context is cancelled,
// reconnecting internally with exponential backoff.
func (c *MediaBrowserClient) WatchProgress(ctx context.Context, callback func(ProgressEvent)) error {
	const (
		initialBackoff = 1 * time.Second
		maxBackoff     = 5 * time.Minute
	)

	pingInterval := config.GetTimeouts().WebSocketPing
	backoff := initialBackoff

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := c.watchProgressOnce(ctx, callback, pingInterval)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			log.Warn().
				Err(err).
				Str("server", c.server.Name).
				Dur("backoff", backoff).
				Msgf("%s WebSocket disconnected, reconnecting", c.config.ServerName)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}

			backoff = min(backoff*2, maxBackoff)
		} else {
			backoff = initialBackoff
		}
	}
}

func (c *MediaBrowserClient) watchProgressOnce(ctx context.Context, callback func(ProgressEvent), pingInterval time.Duration) error {
	wsURL, err := c.buildWebSocketURL()
	if err != nil {
		return fmt.Errorf("failed to build WebSocket URL: %w", err)
	}

	log.Debug().
		Str("server", c.server.Name).
		Str("url", wsURL).
		Msgf("Connecting to %s WebSocket", c.config.ServerName)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("WebSocket dial failed: %w", err)
	}
	defer conn.Close()

	log.Info().
		Str("server", c.server.Name).
		Msgf("Connected to %s WebSocket", c.config.ServerName)

	subscribeMsg := mediaBrowserWSMessage{
		MessageType: "SessionsStart",
		Data:        c.config.SessionsStartData,
	}
	if err := conn.WriteJSON(subscribeMsg); err != nil {
		return fmt.Errorf("failed to send subscription message: %w", err)
	}

	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	readErrCh := make(chan error, 1)
	mapper := newProgressMapper(c.server.ID)

	go func() {
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				readErrCh <- err
				return
			}

			var msg mediaBrowserWSResponse
			if err := json.Unmarshal(message, &msg); err != nil {
				log.Debug().
					Err(err).
					Str("server", c.server.Name).
					Msg("Failed to parse WebSocket message")
				continue
			}

			if msg.MessageType != "Sessions" {
				continue
			}

			var sessions []mediaBrowserWSSession
			if err := json.Unmarshal(msg.Data, &sessions); err != nil {
				log.Debug().
					Err(err).
					Str("server", c.server.Name).
					Msg("Failed to parse sessions payload")
				continue
			}

			for _, ev := range mapper.update(sessions) {
				callback(ev)
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return ctx.Err()
		case err := <-readErrCh:
			return err
		case <-pingTicker.C:
			keepAlive := mediaBrowserWSMessage{MessageType: "KeepAlive"}
			if err := conn.WriteJSON(keepAlive); err != nil {
				return fmt.Errorf("keep-alive failed: %w", err)
			}
		}
	}
}

func (c *MediaBrowserClient) buildWebSocketURL() (string, error) {
	parsed, err := url.Parse(c.server.URL)
	if err != nil {
		return "", fmt.Errorf("failed to parse URL: %w", err)
	}

	switch parsed.Scheme {
	case "https":
		parsed.Scheme = "wss"
	default:
		parsed.Scheme = "ws"
	}

	parsed.Path = c.config.WebSocketPath
	parsed.RawQuery = c.config.WebSocketQueryParams(c.server.APIKey).Encode()

	return parsed.String(), nil
}

// progressMapper turns successive session snapshots into progress events. It
// remembers what each backend session was playing, so an item that vanishes
// from a snapshot is reported as stopped with its last known position.
type progressMapper struct {
	serverID int64
	active   map[string]ProgressEvent
}

func newProgressMapper(serverID int64) *progressMapper {
	return &progressMapper{serverID: serverID, active: map[string]ProgressEvent{}}
}

func (m *progressMapper) update(sessions []mediaBrowserWSSession) []ProgressEvent {
	events := make([]ProgressEvent, 0, len(sessions))
	seen := make(map[string]bool, len(sessions))

	for _, ss := range sessions {
		if ss.NowPlayingItem.ID == "" {
			continue
		}
		seen[ss.ID] = true

		state := "playing"
		if ss.PlayState.IsPaused {
			state = "paused"
		}
		ev := ProgressEvent{
			ServerID:   m.serverID,
			ItemID:     ss.NowPlayingItem.ID,
			PositionMs: ss.PlayState.PositionTicks / ticksPerMs,
			State:      state,
		}
		if prev, ok := m.active[ss.ID]; ok && prev.ItemID != ev.ItemID {
			// The session moved on to another item remotely
			prev.State = "stopped"
			events = append(events, prev)
		}
		m.active[ss.ID] = ev
		events = append(events, ev)
	}

	for id, last := range m.active {
		if seen[id] {
			continue
		}
		delete(m.active, id)
		last.State = "stopped"
		events = append(events, last)
	}
	return events
}

// WebSocket message structures
type mediaBrowserWSMessage struct {
	MessageType string `json:"MessageType"`
	Data        string `json:"Data,omitempty"`
}

type mediaBrowserWSResponse struct {
	MessageType string          `json:"MessageType"`
	Data        json.RawMessage `json:"Data,omitempty"`
}

type mediaBrowserWSSession struct {
	ID             string `json:"Id"`
	NowPlayingItem struct {
		ID string `json:"Id"`
	} `json:"NowPlayingItem"`
	PlayState struct {
		PositionTicks int64 `json:"PositionTicks"`
		IsPaused      bool  `json:"IsPaused"`
	} `json:"PlayState"`
}
