// Package tracks picks audio and subtitle tracks for playback, layering
// navigation carry-over, server selections, per-item overrides and the user's
// language profile.
package tracks

import (
	"strings"

	"github.com/medleyhq/medley/internal/config"
	"github.com/medleyhq/medley/internal/media"
)

// Track is a selectable audio or subtitle stream as shown to the user
type Track struct {
	ID       int64
	Index    int
	Title    string
	Language string
	Codec    string
	Channels int
	Default  bool
	Forced   bool
}

// Off is the sentinel subtitle track for "no subtitles"
var Off = Track{ID: -1, Title: "None"}

// IsOff reports whether the track is the subtitles-off sentinel
func (t Track) IsOff() bool {
	return t.ID == Off.ID
}

// LanguageOff is the per-item override value that forces subtitles off
const LanguageOff = "none"

func trackFrom(s media.Stream) Track {
	return Track{
		ID:       s.ID,
		Index:    s.Index,
		Title:    s.Title,
		Language: s.Language,
		Codec:    s.Codec,
		Channels: s.Channels,
		Default:  s.Default,
		Forced:   s.Forced,
	}
}

// AudioTracksFrom lists the audio tracks of a media part
func AudioTracksFrom(part *media.MediaPart) []Track {
	if part == nil {
		return nil
	}
	streams := part.AudioStreams()
	out := make([]Track, 0, len(streams))
	for _, s := range streams {
		out = append(out, trackFrom(s))
	}
	return out
}

// SubtitleTracksFrom lists the subtitle tracks of a media part
func SubtitleTracksFrom(part *media.MediaPart) []Track {
	if part == nil {
		return nil
	}
	streams := part.SubtitleStreams()
	out := make([]Track, 0, len(streams))
	for _, s := range streams {
		out = append(out, trackFrom(s))
	}
	return out
}

// SubtitleMode controls when subtitles are shown by default
type SubtitleMode string

const (
	// SubtitleAlways shows subtitles whenever any are available
	SubtitleAlways SubtitleMode = "always"
	// SubtitleForeign shows subtitles only when the audio language differs
	// from the profile's default subtitle language
	SubtitleForeign SubtitleMode = "foreign"
	// SubtitleManual never enables subtitles automatically
	SubtitleManual SubtitleMode = "manual"
)

// SDHPreference filters subtitle candidates by accessibility variant
type SDHPreference string

const (
	SDHEither SDHPreference = "either"
	SDHOnly   SDHPreference = "only"
	SDHAvoid  SDHPreference = "avoid"
)

// Profile is the user's language and subtitle preferences
type Profile struct {
	AudioLanguages    []string
	SubtitleLanguages []string
	SubtitleMode      SubtitleMode
	SDH               SDHPreference
	ForcedOnly        bool
}

// LoadProfile reads the profile from settings
func LoadProfile(loader *config.Loader) *Profile {
	return &Profile{
		AudioLanguages:    loader.Strings(config.KeyAudioLanguages, []string{"en"}),
		SubtitleLanguages: loader.Strings(config.KeySubtitleLanguages, []string{"en"}),
		SubtitleMode:      SubtitleMode(loader.String(config.KeySubtitleMode, string(SubtitleForeign))),
		SDH:               SDHPreference(loader.String(config.KeySDHPreference, string(SDHEither))),
		ForcedOnly:        loader.Bool(config.KeyForcedOnly, false),
	}
}

// defaultSubtitleLanguage is the profile's primary subtitle language
func (p *Profile) defaultSubtitleLanguage() string {
	if len(p.SubtitleLanguages) > 0 {
		return p.SubtitleLanguages[0]
	}
	return ""
}

// isSDH detects accessibility subtitles from the track title
func isSDH(title string) bool {
	lower := strings.ToLower(title)
	if strings.Contains(lower, "sdh") ||
		strings.Contains(lower, "hearing impaired") ||
		strings.Contains(lower, "deaf") {
		return true
	}
	return containsWord(lower, "cc")
}

// isForced detects forced-narrative subtitles from the track title
func isForced(t Track) bool {
	return t.Forced || strings.Contains(strings.ToLower(t.Title), "forced")
}

// containsWord reports whether word appears in s delimited by non-letters,
// so "cc" matches "English (CC)" but not "Soccer"
func containsWord(s, word string) bool {
	for start := 0; ; {
		i := strings.Index(s[start:], word)
		if i < 0 {
			return false
		}
		i += start
		end := i + len(word)
		beforeOK := i == 0 || !isLetter(s[i-1])
		afterOK := end == len(s) || !isLetter(s[end])
		if beforeOK && afterOK {
			return true
		}
		start = i + 1
	}
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
