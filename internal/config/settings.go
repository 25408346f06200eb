package config

import (
	"strconv"
	"strings"
	"time"
)

// Setting keys used by the playback engine. Values live in the settings
// table and are edited through the control API.
const (
	// KeyQuality is the target playback quality: "maximum" enables direct
	// play; anything else is a transcode bitrate preset name.
	KeyQuality = "playback.quality"
	// KeyBitrate is the transcode target bitrate in bits per second.
	KeyBitrate = "playback.bitrate"
	// KeyEngine is the preferred playback engine ("mpv" or "vlc").
	KeyEngine = "playback.engine"
	// KeyPositionInterval is the position poll cadence.
	KeyPositionInterval = "playback.position_interval"
	// KeyScrobbleInterval is the progress report cadence.
	KeyScrobbleInterval = "playback.scrobble_interval"

	KeyAudioLanguages    = "profile.audio_languages"
	KeySubtitleLanguages = "profile.subtitle_languages"
	KeySubtitleMode      = "profile.subtitle_mode"
	KeySDHPreference     = "profile.sdh_preference"
	KeyForcedOnly        = "profile.forced_only"

	KeySourceCacheTTL      = "resolver.cache_ttl"
	KeySearchConcurrency   = "resolver.search_concurrency"
	KeyMaintenanceSchedule = "maintenance.schedule"
	KeyProgressRetention   = "maintenance.progress_retention"
)

// QualityMaximum requests the original file without transcoding
const QualityMaximum = "maximum"

// SettingsGetter is an interface for retrieving settings from storage
type SettingsGetter interface {
	GetSetting(key string) (string, error)
}

// Loader provides typed access to settings with default values
type Loader struct {
	db SettingsGetter
}

// NewLoader creates a new settings loader
func NewLoader(db SettingsGetter) *Loader {
	return &Loader{db: db}
}

// Int retrieves an integer setting, returning defaultVal if not found or invalid
func (l *Loader) Int(key string, defaultVal int) int {
	if val, _ := l.db.GetSetting(key); val != "" {
		if v, err := strconv.Atoi(val); err == nil {
			return v
		}
	}
	return defaultVal
}

// Int64 retrieves an int64 setting, returning defaultVal if not found or invalid
func (l *Loader) Int64(key string, defaultVal int64) int64 {
	if val, _ := l.db.GetSetting(key); val != "" {
		if v, err := strconv.ParseInt(val, 10, 64); err == nil {
			return v
		}
	}
	return defaultVal
}

// Bool retrieves a boolean setting, returning defaultVal if not found.
// Recognizes "true" as true, anything else as false.
func (l *Loader) Bool(key string, defaultVal bool) bool {
	if val, _ := l.db.GetSetting(key); val != "" {
		return val == "true"
	}
	return defaultVal
}

// String retrieves a string setting, returning defaultVal if not found or empty
func (l *Loader) String(key, defaultVal string) string {
	if val, _ := l.db.GetSetting(key); val != "" {
		return val
	}
	return defaultVal
}

// Strings retrieves a comma-separated list setting
func (l *Loader) Strings(key string, defaultVal []string) []string {
	val, _ := l.db.GetSetting(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for part := range strings.SplitSeq(val, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}

// Duration retrieves a duration setting in Go duration format (e.g. "5s"),
// returning defaultVal if not found or invalid
func (l *Loader) Duration(key string, defaultVal time.Duration) time.Duration {
	if val, _ := l.db.GetSetting(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

// Float64 retrieves a float64 setting, returning defaultVal if not found or invalid
func (l *Loader) Float64(key string, defaultVal float64) float64 {
	if val, _ := l.db.GetSetting(key); val != "" {
		if v, err := strconv.ParseFloat(val, 64); err == nil {
			return v
		}
	}
	return defaultVal
}
