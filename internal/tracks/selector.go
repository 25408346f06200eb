package tracks

import (
	"github.com/rs/zerolog/log"

	"github.com/medleyhq/medley/internal/language"
)

// SelectAudio picks the audio track for playback. The cascade order is a
// hard contract: navigation carry-over, server selection, per-item language
// override, profile languages, default/first. Returns nil only when no audio
// tracks exist.
func SelectAudio(available []Track, preferred *Track, serverSelected int, itemLanguage string, profile *Profile) *Track {
	if len(available) == 0 {
		return nil
	}

	if match := carryOver(available, preferred); match != nil {
		log.Debug().Str("track", match.Title).Msg("Audio selected by carry-over")
		return match
	}

	if serverSelected >= 0 && serverSelected < len(available) {
		return &available[serverSelected]
	}

	if itemLanguage != "" {
		if match := byLanguage(available, itemLanguage); match != nil {
			return match
		}
	}

	if profile != nil {
		for _, lang := range profile.AudioLanguages {
			if match := byLanguage(available, lang); match != nil {
				return match
			}
		}
	}

	return defaultOrFirst(available)
}

// SelectSubtitle picks the subtitle track for playback, defaulting to Off.
// selectedAudio feeds the foreign-audio short-circuit: when the profile shows
// subtitles only for foreign audio and the audio already matches the default
// subtitle language, the result is Off before any language matching runs.
func SelectSubtitle(available []Track, preferred *Track, serverSelected int, itemLanguage string, profile *Profile, selectedAudio *Track) Track {
	if preferred != nil && preferred.IsOff() {
		return Off
	}
	if match := carryOver(available, preferred); match != nil {
		log.Debug().Str("track", match.Title).Msg("Subtitle selected by carry-over")
		return *match
	}

	if serverSelected >= 0 && serverSelected < len(available) {
		return available[serverSelected]
	}

	if itemLanguage != "" {
		if itemLanguage == LanguageOff {
			return Off
		}
		if match := byLanguage(available, itemLanguage); match != nil {
			return *match
		}
	}

	if profile != nil {
		if profile.SubtitleMode == SubtitleManual {
			return Off
		}
		if profile.SubtitleMode == SubtitleForeign && selectedAudio != nil &&
			language.Equal(selectedAudio.Language, profile.defaultSubtitleLanguage()) {
			return Off
		}

		candidates := filterSubtitles(available, profile)
		for _, lang := range profile.SubtitleLanguages {
			if match := byLanguage(candidates, lang); match != nil {
				return *match
			}
		}

		if profile.SubtitleMode != SubtitleAlways {
			return Off
		}
	}

	if match := defaultOrFirst(available); match != nil {
		return *match
	}
	return Off
}

// carryOver matches a track kept from the previous episode or session, trying
// successively looser identities before giving up
func carryOver(available []Track, preferred *Track) *Track {
	if preferred == nil || preferred.IsOff() {
		return nil
	}

	for i := range available {
		t := &available[i]
		if t.ID == preferred.ID && t.Title == preferred.Title &&
			language.Equal(t.Language, preferred.Language) {
			return t
		}
	}
	for i := range available {
		t := &available[i]
		if t.Title == preferred.Title && language.Equal(t.Language, preferred.Language) {
			return t
		}
	}
	if language.IsUndefined(preferred.Language) {
		return nil
	}
	return byLanguage(available, preferred.Language)
}

func byLanguage(available []Track, lang string) *Track {
	if language.IsUndefined(lang) {
		return nil
	}
	for i := range available {
		if language.Equal(available[i].Language, lang) {
			return &available[i]
		}
	}
	return nil
}

func defaultOrFirst(available []Track) *Track {
	if len(available) == 0 {
		return nil
	}
	for i := range available {
		if available[i].Default {
			return &available[i]
		}
	}
	return &available[0]
}

// filterSubtitles applies the SDH and forced-only preferences. A filter that
// would leave zero candidates is ignored for that pass.
func filterSubtitles(available []Track, profile *Profile) []Track {
	candidates := available

	switch profile.SDH {
	case SDHOnly:
		candidates = keepOrAll(candidates, func(t Track) bool { return isSDH(t.Title) })
	case SDHAvoid:
		candidates = keepOrAll(candidates, func(t Track) bool { return !isSDH(t.Title) })
	}

	if profile.ForcedOnly {
		candidates = keepOrAll(candidates, isForced)
	} else {
		candidates = keepOrAll(candidates, func(t Track) bool { return !isForced(t) })
	}

	return candidates
}

func keepOrAll(in []Track, keep func(Track) bool) []Track {
	var out []Track
	for _, t := range in {
		if keep(t) {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return in
	}
	return out
}
