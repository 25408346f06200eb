package playback

import "errors"

// Session error taxonomy. Detail-fetch and invalid-stream failures end a
// load attempt and surface on the session state; codec failures trigger
// engine failover instead and only surface when the fallback also fails.
// Preference and scrobble write failures are logged and never surfaced.
var (
	// ErrDetailFetch marks a failed item detail fetch
	ErrDetailFetch = errors.New("item detail fetch failed")

	// ErrInvalidStream marks a load for which no playable URL could be built
	ErrInvalidStream = errors.New("no playable stream")

	// ErrSessionClosed marks operations on a closed session
	ErrSessionClosed = errors.New("session closed")
)
