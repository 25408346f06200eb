package tracks

import (
	"testing"
)

func audio(id int64, title, lang string, def bool) Track {
	return Track{ID: id, Index: int(id), Title: title, Language: lang, Default: def}
}

func sub(id int64, title, lang string, def bool) Track {
	return Track{ID: id, Index: int(id), Title: title, Language: lang, Default: def}
}

func profileWith(mode SubtitleMode) *Profile {
	return &Profile{
		AudioLanguages:    []string{"en", "ja"},
		SubtitleLanguages: []string{"en"},
		SubtitleMode:      mode,
		SDH:               SDHEither,
	}
}

func TestSelectAudioNoTracks(t *testing.T) {
	if got := SelectAudio(nil, nil, -1, "", profileWith(SubtitleAlways)); got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
}

func TestSelectAudioCarryOver(t *testing.T) {
	available := []Track{
		audio(1, "English", "en", true),
		audio(2, "Japanese", "ja", false),
		audio(3, "Commentary", "en", false),
	}

	t.Run("exact match", func(t *testing.T) {
		pref := audio(3, "Commentary", "en", false)
		got := SelectAudio(available, &pref, -1, "", profileWith(SubtitleAlways))
		if got == nil || got.ID != 3 {
			t.Errorf("expected track 3, got %+v", got)
		}
	})

	t.Run("id changed, title and language survive", func(t *testing.T) {
		pref := audio(99, "Commentary", "en", false)
		got := SelectAudio(available, &pref, -1, "", profileWith(SubtitleAlways))
		if got == nil || got.ID != 3 {
			t.Errorf("expected track 3, got %+v", got)
		}
	})

	t.Run("language only", func(t *testing.T) {
		pref := audio(99, "Nihongo", "ja", false)
		got := SelectAudio(available, &pref, -1, "", profileWith(SubtitleAlways))
		if got == nil || got.ID != 2 {
			t.Errorf("expected track 2, got %+v", got)
		}
	})

	t.Run("undefined preferred language gives up", func(t *testing.T) {
		pref := audio(99, "Mystery", "und", false)
		got := SelectAudio(available, &pref, -1, "", profileWith(SubtitleAlways))
		if got == nil || got.ID != 1 {
			t.Errorf("expected fallthrough to profile match, got %+v", got)
		}
	})
}

func TestSelectAudioServerSelected(t *testing.T) {
	available := []Track{
		audio(1, "English", "en", true),
		audio(2, "Japanese", "ja", false),
	}

	got := SelectAudio(available, nil, 1, "", profileWith(SubtitleAlways))
	if got == nil || got.ID != 2 {
		t.Errorf("expected server-selected track 2, got %+v", got)
	}

	// Out-of-range index falls through to the profile
	got = SelectAudio(available, nil, 7, "", profileWith(SubtitleAlways))
	if got == nil || got.ID != 1 {
		t.Errorf("expected profile match, got %+v", got)
	}
}

func TestSelectAudioItemOverride(t *testing.T) {
	available := []Track{
		audio(1, "English", "en", true),
		audio(2, "French", "fra", false),
	}

	got := SelectAudio(available, nil, -1, "fr", profileWith(SubtitleAlways))
	if got == nil || got.ID != 2 {
		t.Errorf("expected override match on normalized language, got %+v", got)
	}
}

func TestSelectAudioProfileOrder(t *testing.T) {
	available := []Track{
		audio(1, "Japanese", "ja", false),
		audio(2, "German", "de", true),
	}

	got := SelectAudio(available, nil, -1, "", profileWith(SubtitleAlways))
	if got == nil || got.ID != 1 {
		t.Errorf("expected first profile language hit (ja), got %+v", got)
	}
}

func TestSelectAudioDefaultOrFirst(t *testing.T) {
	available := []Track{
		audio(1, "Korean", "ko", false),
		audio(2, "Thai", "th", true),
	}

	got := SelectAudio(available, nil, -1, "", profileWith(SubtitleAlways))
	if got == nil || got.ID != 2 {
		t.Errorf("expected default-flagged track, got %+v", got)
	}

	available[1].Default = false
	got = SelectAudio(available, nil, -1, "", profileWith(SubtitleAlways))
	if got == nil || got.ID != 1 {
		t.Errorf("expected first track, got %+v", got)
	}
}

func TestSelectSubtitleAlwaysOff(t *testing.T) {
	got := SelectSubtitle(nil, nil, -1, "", profileWith(SubtitleAlways), nil)
	if !got.IsOff() {
		t.Errorf("expected Off with no subtitle streams, got %+v", got)
	}
}

func TestSelectSubtitlePreferredOff(t *testing.T) {
	available := []Track{sub(1, "English", "en", true)}
	off := Off
	got := SelectSubtitle(available, &off, -1, "", profileWith(SubtitleAlways), nil)
	if !got.IsOff() {
		t.Errorf("expected carried-over Off, got %+v", got)
	}
}

func TestSelectSubtitleOverrideNone(t *testing.T) {
	available := []Track{sub(1, "English", "en", true)}
	got := SelectSubtitle(available, nil, -1, LanguageOff, profileWith(SubtitleAlways), nil)
	if !got.IsOff() {
		t.Errorf("expected Off from item override, got %+v", got)
	}
}

func TestSelectSubtitleForeignAudioShortCircuit(t *testing.T) {
	available := []Track{sub(1, "English", "en", true)}
	profile := profileWith(SubtitleForeign)

	english := audio(1, "English", "en-US", true)
	got := SelectSubtitle(available, nil, -1, "", profile, &english)
	if !got.IsOff() {
		t.Errorf("expected Off for native audio, got %+v", got)
	}

	japanese := audio(2, "Japanese", "ja", false)
	got = SelectSubtitle(available, nil, -1, "", profile, &japanese)
	if got.IsOff() || got.ID != 1 {
		t.Errorf("expected English subtitles for foreign audio, got %+v", got)
	}
}

func TestSelectSubtitleSDHPreference(t *testing.T) {
	available := []Track{
		sub(1, "English", "en", true),
		sub(2, "English (SDH)", "en", false),
	}

	profile := profileWith(SubtitleAlways)
	profile.SDH = SDHOnly
	got := SelectSubtitle(available, nil, -1, "", profile, nil)
	if got.ID != 2 {
		t.Errorf("expected SDH track, got %+v", got)
	}

	profile.SDH = SDHAvoid
	got = SelectSubtitle(available, nil, -1, "", profile, nil)
	if got.ID != 1 {
		t.Errorf("expected non-SDH track, got %+v", got)
	}
}

func TestSelectSubtitleFilterNeverEmpties(t *testing.T) {
	// Every track is SDH; SDHAvoid must not produce "no candidates"
	available := []Track{
		sub(1, "English (SDH)", "en", true),
		sub(2, "English CC", "en", false),
	}
	profile := profileWith(SubtitleAlways)
	profile.SDH = SDHAvoid

	got := SelectSubtitle(available, nil, -1, "", profile, nil)
	if got.IsOff() {
		t.Error("filter emptied the candidate set")
	}
}

func TestSelectSubtitleForcedOnly(t *testing.T) {
	available := []Track{
		sub(1, "English", "en", true),
		sub(2, "English (Forced)", "en", false),
	}

	profile := profileWith(SubtitleAlways)
	profile.ForcedOnly = true
	got := SelectSubtitle(available, nil, -1, "", profile, nil)
	if got.ID != 2 {
		t.Errorf("expected forced track, got %+v", got)
	}

	profile.ForcedOnly = false
	got = SelectSubtitle(available, nil, -1, "", profile, nil)
	if got.ID != 1 {
		t.Errorf("expected full track, got %+v", got)
	}
}

func TestSelectSubtitleManualModeStaysOff(t *testing.T) {
	available := []Track{sub(1, "Korean", "ko", true)}
	got := SelectSubtitle(available, nil, -1, "", profileWith(SubtitleManual), nil)
	if !got.IsOff() {
		t.Errorf("expected Off when no language matches in manual mode, got %+v", got)
	}
}

func TestSelectSubtitleDefaultFirstOnlyInAlwaysMode(t *testing.T) {
	available := []Track{
		sub(1, "Korean", "ko", false),
		sub(2, "Thai", "th", true),
	}

	got := SelectSubtitle(available, nil, -1, "", profileWith(SubtitleAlways), nil)
	if got.ID != 2 {
		t.Errorf("expected default track in always mode, got %+v", got)
	}

	got = SelectSubtitle(available, nil, -1, "", profileWith(SubtitleForeign), nil)
	if !got.IsOff() {
		t.Errorf("expected Off in foreign mode with no language match, got %+v", got)
	}
}

func TestIsSDHWordBoundary(t *testing.T) {
	cases := []struct {
		title string
		want  bool
	}{
		{"English (SDH)", true},
		{"English CC", true},
		{"Hearing Impaired", true},
		{"For the Deaf", true},
		{"Soccer Documentary Subs", false},
		{"English", false},
	}
	for _, tc := range cases {
		if got := isSDH(tc.title); got != tc.want {
			t.Errorf("isSDH(%q) = %v, want %v", tc.title, got, tc.want)
		}
	}
}
