// Package engine drives the native playback engines (mpv and VLC) over their
// local IPC interfaces. Engines are launched with explicit argument slices,
// never through a shell.
package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/medleyhq/medley/internal/config"
)

// Kind identifies a playback engine
type Kind string

const (
	KindMPV Kind = "mpv"
	KindVLC Kind = "vlc"
)

// Fallback returns the engine to switch to after a decode failure
func Fallback(k Kind) Kind {
	if k == KindMPV {
		return KindVLC
	}
	return KindMPV
}

// Status is a snapshot of the engine's playback state
type Status struct {
	PositionMs int64
	DurationMs int64
	BufferedMs int64
	Playing    bool
	Buffering  bool
}

// Engine is a running playback engine process
type Engine interface {
	// Kind identifies the engine implementation
	Kind() Kind

	// Load replaces the current media with the given URL and starts
	// playback from startMs
	Load(ctx context.Context, url, title string, startMs int64) error

	// Play resumes playback
	Play() error

	// Pause suspends playback
	Pause() error

	// SeekTo jumps to an absolute position
	SeekTo(ms int64) error

	// SetSpeed adjusts the playback rate (1.0 is normal)
	SetSpeed(rate float64) error

	// SetAudioTrack switches to the audio track at the given ordinal
	SetAudioTrack(index int) error

	// SetSubtitleTrack switches subtitle tracks; -1 disables subtitles
	SetSubtitleTrack(index int) error

	// CanSwitchTracks reports whether tracks can change without a reload
	CanSwitchTracks() bool

	// Status reads the current playback state
	Status() (Status, error)

	// OnError registers a callback for asynchronous engine failures.
	// Decode errors are delivered as *DecodeError.
	OnError(fn func(error))

	// Close stops the engine process
	Close() error
}

// DecodeError is an engine failure attributable to the media format rather
// than the transport; it triggers failover to the other engine.
type DecodeError struct {
	Engine Kind
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s decode error: %s", e.Engine, e.Reason)
}

// Factory creates engines from the bootstrap configuration
type Factory struct {
	mu  sync.RWMutex
	cfg config.EngineSection
}

// NewFactory creates an engine factory
func NewFactory(cfg config.EngineSection) *Factory {
	return &Factory{cfg: cfg}
}

// Reload replaces the engine configuration. Running engines are unaffected;
// the new binaries and codec lists apply from the next launch.
func (f *Factory) Reload(cfg config.EngineSection) {
	f.mu.Lock()
	f.cfg = cfg
	f.mu.Unlock()
}

// New launches an engine of the given kind
func (f *Factory) New(kind Kind) (Engine, error) {
	f.mu.RLock()
	cfg := f.cfg
	f.mu.RUnlock()

	switch kind {
	case KindMPV:
		return newMPV(cfg.MPVBinary)
	case KindVLC:
		return newVLC(cfg.VLCBinary)
	default:
		return nil, fmt.Errorf("unknown engine kind: %s", kind)
	}
}

// Supports reports whether the engine can decode the given codec on this
// device, per the configured unsupported-codec lists
func (f *Factory) Supports(kind Kind, codec string) bool {
	if codec == "" {
		return true
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, c := range f.cfg.UnsupportedCodecs[string(kind)] {
		if strings.EqualFold(c, codec) {
			return false
		}
	}
	return true
}
