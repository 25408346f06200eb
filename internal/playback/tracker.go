package playback

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/medleyhq/medley/internal/config"
)

const (
	defaultPositionInterval = 1 * time.Second
	defaultScrobbleInterval = 10 * time.Second

	// autoAdvanceRatio is the fraction of the duration after which the
	// auto-advance prompt fires
	autoAdvanceRatio = 0.90
)

// trackPosition republishes the engine's live position on a short interval.
// It is the only reader feeding auto-advance detection.
func (s *Session) trackPosition(ctx context.Context) {
	interval := s.loader.Duration(config.KeyPositionInterval, defaultPositionInterval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tickPosition()
		}
	}
}

func (s *Session) tickPosition() {
	eng := s.activeEngine()
	if eng == nil {
		return
	}

	status, err := eng.Status()
	if err != nil {
		return
	}

	s.mu.Lock()
	st := s.state
	switch st.Phase {
	case StateReady, StatePlaying, StatePaused, StateBuffering:
	default:
		s.mu.Unlock()
		return
	}

	st.PositionMs = status.PositionMs
	if status.DurationMs > 0 {
		st.DurationMs = status.DurationMs
	}
	st.BufferedMs = status.BufferedMs

	switch {
	case status.Buffering:
		st.Phase = StateBuffering
	case status.Playing:
		st.Phase = StatePlaying
	default:
		st.Phase = StatePaused
	}

	// Latched: fires once per load, never re-arms as position keeps
	// advancing past the threshold
	if !s.autoAdvFired && st.Next != nil && st.DurationMs > 0 &&
		float64(st.PositionMs)/float64(st.DurationMs) >= autoAdvanceRatio {
		s.autoAdvFired = true
		st.AutoAdvancePending = true
		log.Debug().Str("next", st.Next.ItemID).Msg("Auto-advance threshold reached")
	}

	changed := st != s.state
	s.state = st
	listeners := make([]func(State), len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	if changed {
		for _, fn := range listeners {
			fn(st)
		}
	}
}

// scrobble pushes playback progress to the originating backend and to the
// local watch-continuation store on a coarse interval. The two pushes are
// independently best-effort.
func (s *Session) scrobble(ctx context.Context) {
	interval := s.loader.Duration(config.KeyScrobbleInterval, defaultScrobbleInterval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tickScrobble(ctx)
		}
	}
}

func (s *Session) tickScrobble(ctx context.Context) {
	st := s.State()
	if st.Phase != StatePlaying || st.ItemID == "" {
		return
	}

	if client, err := s.servers.Get(st.ServerID); err == nil {
		if err := client.ReportProgress(ctx, st.ItemID, st.PositionMs, false); err != nil {
			log.Debug().Err(err).Str("item", st.ItemID).Msg("Progress report failed")
		}
	} else {
		log.Debug().Err(err).Msg("Progress report skipped, no client")
	}

	if err := s.db.SavePlaybackProgress(st.ServerID, st.ItemID, st.PositionMs, st.DurationMs); err != nil {
		log.Warn().Err(err).Str("item", st.ItemID).Msg("Failed to save playback progress")
	}
	if err := s.catalog.RecordViewOffset(st.ServerID, st.ItemID, st.PositionMs); err != nil {
		log.Debug().Err(err).Str("item", st.ItemID).Msg("Failed to update view offset")
	}
}
