// Package playback orchestrates a playback session: source and stream
// resolution, engine lifecycle and failover, track selection, position
// tracking and progress reporting.
package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/medleyhq/medley/internal/catalog"
	"github.com/medleyhq/medley/internal/config"
	"github.com/medleyhq/medley/internal/database"
	"github.com/medleyhq/medley/internal/engine"
	"github.com/medleyhq/medley/internal/media"
	"github.com/medleyhq/medley/internal/servers"
	"github.com/medleyhq/medley/internal/source"
	"github.com/medleyhq/medley/internal/tracks"
)

// EngineFactory abstracts engine creation and codec capability checks
type EngineFactory interface {
	New(kind engine.Kind) (engine.Engine, error)
	Supports(kind engine.Kind, codec string) bool
}

// StreamOverrides carries explicit per-load parameters. Zero values mean
// "no override"; SubtitleStreamID -1 forces subtitles off.
type StreamOverrides struct {
	AudioStreamID    int64
	SubtitleStreamID int64
	StartMs          int64
	Quality          string
	BitrateBps       int64
}

// Session owns at most one active engine and drives the playback state
// machine. Loads are serialized; a load started while another is in flight
// supersedes it, and the superseded load discards its result.
type Session struct {
	db       *database.DB
	catalog  *catalog.Store
	servers  *servers.Manager
	resolver *source.Resolver
	factory  EngineFactory
	loader   *config.Loader

	gen    atomic.Int64
	loadMu sync.Mutex

	mu            sync.Mutex
	state         State
	eng           engine.Engine
	engKind       engine.Kind
	onFallback    bool
	item          *media.PlayableItem
	part          *media.MediaPart
	lastOverrides StreamOverrides
	queue         []NextItem
	carryAudio    *tracks.Track
	carrySubtitle *tracks.Track
	autoAdvFired  bool
	listeners     []func(State)
	closed        bool

	cancel context.CancelFunc
}

// NewSession creates a playback session and starts its background position
// and scrobble loops; both stop when the session closes.
func NewSession(db *database.DB, cat *catalog.Store, srv *servers.Manager, res *source.Resolver, factory EngineFactory, loader *config.Loader) *Session {
	s := &Session{
		db:       db,
		catalog:  cat,
		servers:  srv,
		resolver: res,
		factory:  factory,
		loader:   loader,
		state:    State{Phase: StateIdle, Speed: 1.0, Subtitle: tracks.Off},
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.trackPosition(ctx)
	go s.scrobble(ctx)
	return s
}

// Subscribe registers a state listener. Listeners receive every published
// snapshot and must not block.
func (s *Session) Subscribe(fn func(State)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// State returns the current state snapshot
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetQueue sets the explicit play queue used for auto-advance. An empty
// queue falls back to sequential lookup within the season.
func (s *Session) SetQueue(queue []NextItem) {
	s.mu.Lock()
	s.queue = queue
	s.mu.Unlock()
}

func (s *Session) publish(st State) {
	s.mu.Lock()
	s.state = st
	listeners := make([]func(State), len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(st)
	}
}

func (s *Session) stale(gen int64) bool {
	return s.gen.Load() != gen
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Load starts playback of an item. A Load issued while another is in flight
// supersedes it.
func (s *Session) Load(ctx context.Context, serverID int64, itemID string, overrides *StreamOverrides) error {
	gen := s.gen.Add(1)

	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	if s.isClosed() {
		return ErrSessionClosed
	}
	if s.stale(gen) {
		// A newer load queued up behind us; let it win
		return nil
	}

	var ov StreamOverrides
	if overrides != nil {
		ov = *overrides
	}
	return s.load(ctx, gen, serverID, itemID, ov)
}

func (s *Session) load(ctx context.Context, gen int64, serverID int64, itemID string, ov StreamOverrides) error {
	s.mu.Lock()
	resumeMs := int64(0)
	if s.item != nil && s.item.ServerID == serverID && s.item.ID == itemID {
		resumeMs = s.state.PositionMs
	} else {
		// Fresh item starts over on the preferred engine
		s.onFallback = false
	}
	prev := s.state
	s.mu.Unlock()

	prev.Phase = StateLoading
	prev.ServerID = serverID
	prev.ItemID = itemID
	prev.Err = nil
	prev.ErrMessage = ""
	s.publish(prev)

	quality := ov.Quality
	if quality == "" {
		quality = s.loader.String(config.KeyQuality, config.QualityMaximum)
	}
	bitrate := ov.BitrateBps
	if bitrate == 0 {
		bitrate = s.loader.Int64(config.KeyBitrate, 8_000_000)
	}

	detail, err := s.catalog.ItemDetail(ctx, serverID, itemID)
	if err != nil {
		return s.fail(gen, fmt.Errorf("%w: %v", ErrDetailFetch, err))
	}

	part := detail.FirstPart()
	if part == nil {
		return s.fail(gen, fmt.Errorf("%w: item %s has no media parts", ErrInvalidStream, itemID))
	}

	// Codec compatibility is checked before any stream URL is built
	kind := s.currentKind()
	if v := part.VideoStream(); v != nil && !s.factory.Supports(kind, v.Codec) {
		if !s.onFallbackEngine() {
			next := engine.Fallback(kind)
			log.Info().
				Str("codec", v.Codec).
				Str("from", string(kind)).
				Str("to", string(next)).
				Msg("Codec unsupported, switching engine")
			s.publishPhase(StateSwitchingEngine)
			s.setFallback()
			kind = next
		}
	}

	audio, subtitle, err := s.resolveTracks(detail, part, ov)
	if err != nil {
		log.Warn().Err(err).Str("item", itemID).Msg("Track resolution degraded")
	}

	direct := quality == config.QualityMaximum && part.Key != ""

	opts := servers.StreamOptions{
		DirectPlay:          direct,
		BitrateBps:          bitrate,
		AudioStreamIndex:    -1,
		SubtitleStreamIndex: -1,
	}
	if !direct {
		if audio != nil {
			opts.AudioStreamIndex = audio.Index
		}
		if !subtitle.IsOff() {
			opts.SubtitleStreamIndex = subtitle.Index
		}
	}

	client, err := s.servers.Get(serverID)
	if err != nil {
		return s.fail(gen, fmt.Errorf("%w: %v", ErrDetailFetch, err))
	}

	url, err := client.StreamURL(itemID, part, opts)
	if err != nil {
		return s.fail(gen, fmt.Errorf("%w: %v", ErrInvalidStream, err))
	}

	eng, err := s.ensureEngine(kind)
	if err != nil {
		return s.fail(gen, err)
	}

	startMs := max(resumeMs, ov.StartMs, detail.ViewOffsetMs)
	if err := eng.Load(ctx, url, detail.Title, startMs); err != nil {
		return s.fail(gen, fmt.Errorf("%w: %v", ErrInvalidStream, err))
	}

	if direct && !subtitle.IsOff() {
		if idx := ordinalOf(tracks.SubtitleTracksFrom(part), subtitle.ID); idx >= 0 {
			eng.SetSubtitleTrack(idx)
		}
	} else if direct {
		eng.SetSubtitleTrack(-1)
	}
	if direct && audio != nil {
		if idx := ordinalOf(tracks.AudioTracksFrom(part), audio.ID); idx >= 0 {
			eng.SetAudioTrack(idx)
		}
	}

	if s.stale(gen) {
		// A newer load superseded us while the engine was loading; it will
		// overwrite the engine state, so ours must not apply
		return nil
	}

	s.mu.Lock()
	s.item = detail
	s.part = part
	s.lastOverrides = ov
	s.autoAdvFired = false
	s.carryAudio = audio
	s.carrySubtitle = &subtitle
	st := State{
		Phase:      StateReady,
		ServerID:   serverID,
		ItemID:     itemID,
		Title:      detail.Title,
		PositionMs: startMs,
		DurationMs: detail.DurationMs,
		Speed:      1.0,
		Audio:      audio,
		Subtitle:   subtitle,
		DirectPlay: direct,
		Engine:     kind,
	}
	s.mu.Unlock()
	s.publish(st)

	go s.prefetchNext(gen, detail)

	log.Info().
		Str("title", detail.Title).
		Int64("server_id", serverID).
		Bool("direct_play", direct).
		Str("engine", string(kind)).
		Msg("Playback started")
	return nil
}

// resolveTracks picks the initial audio and subtitle streams: explicit
// override, then persisted preference, then language override and profile,
// then server default.
func (s *Session) resolveTracks(item *media.PlayableItem, part *media.MediaPart, ov StreamOverrides) (*tracks.Track, tracks.Track, error) {
	audioTracks := tracks.AudioTracksFrom(part)
	subTracks := tracks.SubtitleTracksFrom(part)

	var audio *tracks.Track
	subtitle := tracks.Track{}
	subtitleSet := false

	if ov.AudioStreamID > 0 {
		audio = byID(audioTracks, ov.AudioStreamID)
	}
	switch {
	case ov.SubtitleStreamID == tracks.Off.ID:
		subtitle, subtitleSet = tracks.Off, true
	case ov.SubtitleStreamID > 0:
		if t := byID(subTracks, ov.SubtitleStreamID); t != nil {
			subtitle, subtitleSet = *t, true
		}
	}

	var resolveErr error
	pref, err := s.db.GetTrackPreference(item.ID, item.ServerID)
	if err != nil {
		resolveErr = err
	}
	if pref != nil {
		if audio == nil && pref.AudioStreamID > 0 {
			audio = byID(audioTracks, pref.AudioStreamID)
		}
		if !subtitleSet {
			switch {
			case pref.SubtitleStreamID == tracks.Off.ID:
				subtitle, subtitleSet = tracks.Off, true
			case pref.SubtitleStreamID > 0:
				if t := byID(subTracks, pref.SubtitleStreamID); t != nil {
					subtitle, subtitleSet = *t, true
				}
			}
		}
	}

	langOv, err := s.db.GetLanguageOverride(item.ServerID, item.ID)
	if err != nil {
		resolveErr = errors.Join(resolveErr, err)
	}
	audioLang, subLang := "", ""
	if langOv != nil {
		audioLang = langOv.AudioLanguage
		subLang = langOv.SubtitleLanguage
		if langOv.SubtitleLanguage == "" {
			subLang = tracks.LanguageOff
		}
	}

	profile := tracks.LoadProfile(s.loader)

	s.mu.Lock()
	carryAudio, carrySub := s.carryAudio, s.carrySubtitle
	s.mu.Unlock()

	if audio == nil {
		audio = tracks.SelectAudio(audioTracks, carryAudio, -1, audioLang, profile)
	}
	if !subtitleSet {
		subtitle = tracks.SelectSubtitle(subTracks, carrySub, -1, subLang, profile, audio)
	}

	return audio, subtitle, resolveErr
}

func byID(list []tracks.Track, id int64) *tracks.Track {
	for i := range list {
		if list[i].ID == id {
			return &list[i]
		}
	}
	return nil
}

func ordinalOf(list []tracks.Track, id int64) int {
	for i := range list {
		if list[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Session) currentKind() engine.Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.engKind != "" {
		return s.engKind
	}
	return engine.Kind(s.loader.String(config.KeyEngine, string(engine.KindMPV)))
}

func (s *Session) onFallbackEngine() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.onFallback
}

func (s *Session) setFallback() {
	s.mu.Lock()
	s.onFallback = true
	s.mu.Unlock()
}

// ensureEngine returns the active engine, swapping implementations when the
// kind changed. The old handle is released before the new one is acquired.
func (s *Session) ensureEngine(kind engine.Kind) (engine.Engine, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	current, currentKind := s.eng, s.engKind
	s.mu.Unlock()

	if current != nil && currentKind == kind {
		return current, nil
	}
	if current != nil {
		current.Close()
	}

	eng, err := s.factory.New(kind)
	if err != nil {
		return nil, fmt.Errorf("failed to start %s engine: %w", kind, err)
	}
	eng.OnError(s.handleEngineError)

	s.mu.Lock()
	if s.closed {
		// Close raced the load; the fresh engine must not outlive the session.
		s.mu.Unlock()
		eng.Close()
		return nil, ErrSessionClosed
	}
	s.eng = eng
	s.engKind = kind
	s.mu.Unlock()
	return eng, nil
}

// handleEngineError implements engine failover: a decode error while not yet
// on the fallback engine reloads the same item there from the last known
// position; every other error surfaces on the session state.
func (s *Session) handleEngineError(err error) {
	var decodeErr *engine.DecodeError
	if errors.As(err, &decodeErr) && !s.onFallbackEngine() {
		s.mu.Lock()
		item := s.item
		ov := s.lastOverrides
		ov.StartMs = s.state.PositionMs
		s.onFallback = true
		next := engine.Fallback(s.engKind)
		s.mu.Unlock()

		if item == nil {
			return
		}

		log.Warn().
			Err(err).
			Str("to", string(next)).
			Msg("Engine decode error, failing over")
		s.publishPhase(StateSwitchingEngine)

		// Force the next ensureEngine call onto the fallback kind
		s.mu.Lock()
		if s.eng != nil {
			s.eng.Close()
			s.eng = nil
		}
		s.engKind = next
		s.mu.Unlock()

		go func() {
			gen := s.gen.Add(1)
			s.loadMu.Lock()
			defer s.loadMu.Unlock()
			if s.isClosed() || s.stale(gen) {
				return
			}
			s.load(context.Background(), gen, item.ServerID, item.ID, ov)
		}()
		return
	}

	log.Error().Err(err).Msg("Engine error")
	s.publish(s.State().withError(err))
}

func (s *Session) fail(gen int64, err error) error {
	if s.stale(gen) {
		return nil
	}
	log.Error().Err(err).Msg("Load failed")
	s.publish(s.State().withError(err))
	return err
}

func (s *Session) publishPhase(phase SessionState) {
	st := s.State()
	st.Phase = phase
	s.publish(st)
}

// prefetchNext determines the auto-advance target without blocking playback:
// the explicit queue wins, else the next episode in the same season.
func (s *Session) prefetchNext(gen int64, item *media.PlayableItem) {
	s.mu.Lock()
	queue := s.queue
	s.mu.Unlock()

	var next *NextItem
	for i := range queue {
		if queue[i].ServerID == item.ServerID && queue[i].ItemID == item.ID {
			if i+1 < len(queue) {
				next = &queue[i+1]
			}
			break
		}
	}

	if next == nil && item.IsEpisode() && item.ParentID != "" {
		siblings, err := s.catalog.Children(context.Background(), item.ServerID, item.ParentID)
		if err != nil {
			log.Debug().Err(err).Str("item", item.ID).Msg("Next episode lookup failed")
			return
		}
		for i := range siblings {
			if siblings[i].ParentIndex == item.ParentIndex && siblings[i].EpisodeIndex == item.EpisodeIndex+1 {
				next = &NextItem{
					ServerID: siblings[i].ServerID,
					ItemID:   siblings[i].ID,
					Title:    siblings[i].Title,
				}
				break
			}
		}
	}

	if next == nil || s.stale(gen) {
		return
	}

	st := s.State()
	st.Next = next
	s.publish(st)
}

// Play resumes playback
func (s *Session) Play() error {
	eng := s.activeEngine()
	if eng == nil {
		return ErrSessionClosed
	}
	if err := eng.Play(); err != nil {
		return err
	}
	s.publishPhase(StatePlaying)
	return nil
}

// Pause suspends playback
func (s *Session) Pause() error {
	eng := s.activeEngine()
	if eng == nil {
		return ErrSessionClosed
	}
	if err := eng.Pause(); err != nil {
		return err
	}
	s.publishPhase(StatePaused)
	return nil
}

// SeekTo jumps to an absolute position
func (s *Session) SeekTo(ms int64) error {
	eng := s.activeEngine()
	if eng == nil {
		return ErrSessionClosed
	}
	if err := eng.SeekTo(ms); err != nil {
		return err
	}

	st := s.State()
	st.PositionMs = ms
	s.publish(st)
	return nil
}

// SetSpeed adjusts the playback rate
func (s *Session) SetSpeed(rate float64) error {
	eng := s.activeEngine()
	if eng == nil {
		return ErrSessionClosed
	}
	if err := eng.SetSpeed(rate); err != nil {
		return err
	}

	st := s.State()
	st.Speed = rate
	s.publish(st)
	return nil
}

// DismissAutoAdvance clears the pending auto-advance prompt. The flag is
// latched and will not re-fire until the next load.
func (s *Session) DismissAutoAdvance() {
	st := s.State()
	st.AutoAdvancePending = false
	s.publish(st)
}

func (s *Session) activeEngine() engine.Engine {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	return s.eng
}

// Close ends the session, cancels the background loops and releases the
// engine. No in-flight load may apply state after Close returns.
func (s *Session) Close() error {
	s.gen.Add(1)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	eng := s.eng
	s.eng = nil
	s.mu.Unlock()

	s.cancel()
	if eng != nil {
		eng.Close()
	}
	s.publish(State{Phase: StateClosed, Subtitle: tracks.Off})
	return nil
}
