package playback

import (
	"github.com/medleyhq/medley/internal/engine"
	"github.com/medleyhq/medley/internal/tracks"
)

// SessionState is the playback state machine's current phase
type SessionState string

const (
	StateIdle            SessionState = "idle"
	StateLoading         SessionState = "loading"
	StateReady           SessionState = "ready"
	StatePlaying         SessionState = "playing"
	StatePaused          SessionState = "paused"
	StateBuffering       SessionState = "buffering"
	StateSwitchingEngine SessionState = "switching_engine"
	StateError           SessionState = "error"
	StateClosed          SessionState = "closed"
)

// NextItem identifies the item queued for auto-advance
type NextItem struct {
	ServerID int64  `json:"serverId"`
	ItemID   string `json:"itemId"`
	Title    string `json:"title"`
}

// State is an immutable snapshot of the session, republished wholesale on
// every change. Consumers receive copies and never share mutable state with
// the session.
type State struct {
	Phase    SessionState `json:"phase"`
	ServerID int64        `json:"serverId"`
	ItemID   string       `json:"itemId"`
	Title    string       `json:"title"`

	PositionMs int64   `json:"positionMs"`
	DurationMs int64   `json:"durationMs"`
	BufferedMs int64   `json:"bufferedMs"`
	Speed      float64 `json:"speed"`

	Audio    *tracks.Track `json:"audio,omitempty"`
	Subtitle tracks.Track  `json:"subtitle"`

	DirectPlay bool        `json:"directPlay"`
	Engine     engine.Kind `json:"engine"`

	AutoAdvancePending bool      `json:"autoAdvancePending"`
	Next               *NextItem `json:"next,omitempty"`

	Err error `json:"-"`
	// ErrMessage mirrors Err for JSON consumers
	ErrMessage string `json:"error,omitempty"`
}

func (s State) withError(err error) State {
	s.Phase = StateError
	s.Err = err
	if err != nil {
		s.ErrMessage = err.Error()
	}
	return s
}
