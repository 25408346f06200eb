package playback

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/medleyhq/medley/internal/database"
	"github.com/medleyhq/medley/internal/media"
	"github.com/medleyhq/medley/internal/tracks"
)

// AudioTracks lists the selectable audio tracks of the loaded item
func (s *Session) AudioTracks() []tracks.Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return tracks.AudioTracksFrom(s.part)
}

// SubtitleTracks lists the selectable subtitle tracks of the loaded item
func (s *Session) SubtitleTracks() []tracks.Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return tracks.SubtitleTracksFrom(s.part)
}

// Sources resolves the playback candidates for the loaded item across all
// registered backends
func (s *Session) Sources(ctx context.Context) ([]media.MediaSource, error) {
	s.mu.Lock()
	item := s.item
	s.mu.Unlock()
	if item == nil {
		return nil, fmt.Errorf("no item loaded")
	}
	resolved := s.resolver.Resolve(ctx, item)
	return resolved.Sources, nil
}

// SelectAudioTrack switches the audio track mid-playback. Direct-played
// streams switch in place on the engine; transcoded streams reload so the
// server re-negotiates the transcode with the new stream index.
func (s *Session) SelectAudioTrack(ctx context.Context, trackID int64) error {
	s.mu.Lock()
	part := s.part
	s.mu.Unlock()

	t := byID(tracks.AudioTracksFrom(part), trackID)
	if t == nil {
		return fmt.Errorf("unknown audio track %d", trackID)
	}

	s.persistSelection(ctx, t, nil)

	st := s.State()
	if st.DirectPlay {
		if eng := s.activeEngine(); eng != nil && eng.CanSwitchTracks() {
			if err := eng.SetAudioTrack(ordinalOf(tracks.AudioTracksFrom(part), trackID)); err != nil {
				return err
			}
			s.mu.Lock()
			s.carryAudio = t
			st = s.state
			st.Audio = t
			s.mu.Unlock()
			s.publish(st)
			return nil
		}
	}

	ov := s.reloadOverrides()
	ov.AudioStreamID = trackID
	return s.Load(ctx, st.ServerID, st.ItemID, &ov)
}

// SelectSubtitleTrack switches the subtitle track mid-playback; trackID -1
// turns subtitles off
func (s *Session) SelectSubtitleTrack(ctx context.Context, trackID int64) error {
	s.mu.Lock()
	part := s.part
	s.mu.Unlock()

	selected := tracks.Off
	if trackID != tracks.Off.ID {
		t := byID(tracks.SubtitleTracksFrom(part), trackID)
		if t == nil {
			return fmt.Errorf("unknown subtitle track %d", trackID)
		}
		selected = *t
	}

	s.persistSelection(ctx, nil, &selected)

	st := s.State()
	if st.DirectPlay {
		if eng := s.activeEngine(); eng != nil && eng.CanSwitchTracks() {
			idx := -1
			if !selected.IsOff() {
				idx = ordinalOf(tracks.SubtitleTracksFrom(part), trackID)
			}
			if err := eng.SetSubtitleTrack(idx); err != nil {
				return err
			}
			s.mu.Lock()
			s.carrySubtitle = &selected
			st = s.state
			st.Subtitle = selected
			s.mu.Unlock()
			s.publish(st)
			return nil
		}
	}

	ov := s.reloadOverrides()
	ov.SubtitleStreamID = trackID
	return s.Load(ctx, st.ServerID, st.ItemID, &ov)
}

// reloadOverrides rebuilds the overrides for a track-change reload, keeping
// the current selections and position
func (s *Session) reloadOverrides() StreamOverrides {
	s.mu.Lock()
	defer s.mu.Unlock()

	ov := s.lastOverrides
	ov.StartMs = s.state.PositionMs
	if s.state.Audio != nil {
		ov.AudioStreamID = s.state.Audio.ID
	}
	ov.SubtitleStreamID = s.state.Subtitle.ID
	return ov
}

// persistSelection stores the track choice locally and best-effort syncs it
// to the backend. Failures are logged, never surfaced.
func (s *Session) persistSelection(ctx context.Context, audio *tracks.Track, subtitle *tracks.Track) {
	st := s.State()

	pref := &database.TrackPreference{ItemID: st.ItemID, ServerID: st.ServerID}
	if st.Audio != nil {
		pref.AudioStreamID = st.Audio.ID
	}
	pref.SubtitleStreamID = st.Subtitle.ID
	if audio != nil {
		pref.AudioStreamID = audio.ID
	}
	if subtitle != nil {
		pref.SubtitleStreamID = subtitle.ID
	}

	if err := s.db.SaveTrackPreference(pref); err != nil {
		log.Warn().Err(err).Str("item", st.ItemID).Msg("Failed to persist track preference")
	}

	client, err := s.servers.Get(st.ServerID)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to sync stream selection")
		return
	}

	audioIdx, subIdx := -1, -1
	if audio != nil {
		audioIdx = audio.Index
	} else if st.Audio != nil {
		audioIdx = st.Audio.Index
	}
	if subtitle != nil && !subtitle.IsOff() {
		subIdx = subtitle.Index
	} else if subtitle == nil && !st.Subtitle.IsOff() {
		subIdx = st.Subtitle.Index
	}

	go func() {
		if err := client.SetStreamSelection(context.WithoutCancel(ctx), st.ItemID, audioIdx, subIdx); err != nil {
			log.Debug().Err(err).Str("item", st.ItemID).Msg("Stream selection sync failed")
		}
	}()
}
