package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/medleyhq/medley/internal/media"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db, err := New(dbPath)
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func TestServerCRUD(t *testing.T) {
	db := openTestDB(t)

	s := &Server{
		Name:    "Den",
		Type:    ServerTypeJellyfin,
		URL:     "http://jellyfin.local:8096",
		APIKey:  "key-1",
		Enabled: true,
	}
	if err := db.CreateServer(s); err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	if s.ID == 0 {
		t.Fatal("expected server ID to be assigned")
	}

	got, err := db.GetServer(s.ID)
	if err != nil {
		t.Fatalf("failed to get server: %v", err)
	}
	if got == nil || got.Name != "Den" || got.Type != ServerTypeJellyfin {
		t.Fatalf("unexpected server row: %+v", got)
	}

	got.Enabled = false
	if err := db.UpdateServer(got); err != nil {
		t.Fatalf("failed to update server: %v", err)
	}
	enabled, err := db.ListServers(true)
	if err != nil {
		t.Fatalf("failed to list servers: %v", err)
	}
	if len(enabled) != 0 {
		t.Fatalf("expected no enabled servers, got %d", len(enabled))
	}

	if err := db.DeleteServer(s.ID); err != nil {
		t.Fatalf("failed to delete server: %v", err)
	}
	gone, err := db.GetServer(s.ID)
	if err != nil {
		t.Fatalf("failed to get deleted server: %v", err)
	}
	if gone != nil {
		t.Fatal("expected server to be deleted")
	}
}

func TestUpsertItemRoundTrip(t *testing.T) {
	db := openTestDB(t)

	item := &media.PlayableItem{
		ServerID:      1,
		ID:            "m1",
		Type:          media.ItemMovie,
		Title:         "Heat",
		Year:          1995,
		IMDBID:        "tt0113277",
		UnificationID: "imdb:tt0113277",
		DurationMs:    10_200_000,
		Parts: []media.MediaPart{{
			Key: "/Videos/m1/stream",
			Streams: []media.Stream{
				{ID: 1, Type: media.StreamVideo, Index: 0, Codec: "h264", Width: 1920, Height: 1080},
				{ID: 2, Type: media.StreamAudio, Index: 1, Codec: "ac3", Language: "en"},
			},
		}},
	}
	if err := db.UpsertItem(item); err != nil {
		t.Fatalf("failed to upsert item: %v", err)
	}

	got, err := db.GetItem(1, "m1")
	if err != nil {
		t.Fatalf("failed to get item: %v", err)
	}
	if got == nil {
		t.Fatal("expected item, got nil")
	}
	if got.Title != "Heat" || got.Year != 1995 {
		t.Fatalf("unexpected item: %+v", got)
	}
	if len(got.Parts) != 1 || len(got.Parts[0].Streams) != 2 {
		t.Fatalf("parts not preserved: %+v", got.Parts)
	}
	audio := got.Parts[0].AudioStreams()
	if len(audio) != 1 || audio[0].Language != "en" {
		t.Fatalf("audio stream not preserved: %+v", got.Parts[0].Streams)
	}

	// Second upsert replaces rather than duplicates
	item.Year = 1996
	if err := db.UpsertItem(item); err != nil {
		t.Fatalf("failed to re-upsert item: %v", err)
	}
	got, err = db.GetItem(1, "m1")
	if err != nil {
		t.Fatalf("failed to get item after update: %v", err)
	}
	if got.Year != 1996 {
		t.Fatalf("expected updated year, got %d", got.Year)
	}
}

func TestGetItemsByUnificationID(t *testing.T) {
	db := openTestDB(t)

	for serverID := int64(1); serverID <= 3; serverID++ {
		item := &media.PlayableItem{
			ServerID:      serverID,
			ID:            "m1",
			Type:          media.ItemMovie,
			Title:         "Heat",
			UnificationID: "imdb:tt0113277",
		}
		if err := db.UpsertItem(item); err != nil {
			t.Fatalf("failed to upsert item for server %d: %v", serverID, err)
		}
	}

	matches, err := db.GetItemsByUnificationID("imdb:tt0113277", 1)
	if err != nil {
		t.Fatalf("failed to get matches: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches excluding origin server, got %d", len(matches))
	}
	for _, m := range matches {
		if m.ServerID == 1 {
			t.Fatal("origin server must be excluded")
		}
	}
}

func TestGetEpisodeMatches(t *testing.T) {
	db := openTestDB(t)

	ep := &media.PlayableItem{
		ServerID:     2,
		ID:           "e1",
		Type:         media.ItemEpisode,
		Title:        "Pilot",
		ShowTitle:    "The Wire",
		ParentIndex:  1,
		EpisodeIndex: 1,
	}
	if err := db.UpsertItem(ep); err != nil {
		t.Fatalf("failed to upsert episode: %v", err)
	}

	matches, err := db.GetEpisodeMatches("the wire", 1, 1, 1)
	if err != nil {
		t.Fatalf("failed to get episode matches: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected case-insensitive show match, got %d rows", len(matches))
	}

	none, err := db.GetEpisodeMatches("The Wire", 1, 2, 1)
	if err != nil {
		t.Fatalf("failed to get episode matches: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no match for wrong episode, got %d rows", len(none))
	}

	// Pattern metacharacters in a title must compare literally
	wild, err := db.GetEpisodeMatches("%Wire", 1, 1, 1)
	if err != nil {
		t.Fatalf("failed to get episode matches: %v", err)
	}
	if len(wild) != 0 {
		t.Fatalf("expected no match for wildcard title, got %d rows", len(wild))
	}
}

func TestPlaybackProgressWatchedThreshold(t *testing.T) {
	db := openTestDB(t)

	if err := db.SavePlaybackProgress(1, "m1", 4_000_000, 10_000_000); err != nil {
		t.Fatalf("failed to save progress: %v", err)
	}
	if err := db.SavePlaybackProgress(1, "m2", 9_500_000, 10_000_000); err != nil {
		t.Fatalf("failed to save progress: %v", err)
	}

	p, err := db.GetPlaybackProgress(1, "m2")
	if err != nil {
		t.Fatalf("failed to get progress: %v", err)
	}
	if !p.Watched {
		t.Fatal("expected item past threshold to be watched")
	}

	cw, err := db.ListContinueWatching(10)
	if err != nil {
		t.Fatalf("failed to list continue watching: %v", err)
	}
	if len(cw) != 1 || cw[0].ItemID != "m1" {
		t.Fatalf("expected only the unfinished item, got %+v", cw)
	}
}

func TestPruneWatchedProgress(t *testing.T) {
	db := openTestDB(t)

	if err := db.SavePlaybackProgress(1, "old", 9_900_000, 10_000_000); err != nil {
		t.Fatalf("failed to save progress: %v", err)
	}
	if err := db.SavePlaybackProgress(1, "fresh", 9_900_000, 10_000_000); err != nil {
		t.Fatalf("failed to save progress: %v", err)
	}
	if _, err := db.Exec(`UPDATE playback_progress SET updated_at = ? WHERE item_id = 'old'`,
		time.Now().Add(-48*time.Hour)); err != nil {
		t.Fatalf("failed to age progress row: %v", err)
	}

	pruned, err := db.PruneWatchedProgress(24 * time.Hour)
	if err != nil {
		t.Fatalf("failed to prune: %v", err)
	}
	if pruned != 1 {
		t.Fatalf("expected 1 pruned row, got %d", pruned)
	}
	if p, _ := db.GetPlaybackProgress(1, "fresh"); p == nil {
		t.Fatal("recent watched row must survive pruning")
	}
}

func TestTrackPreferenceUpsert(t *testing.T) {
	db := openTestDB(t)

	pref := &TrackPreference{ItemID: "m1", ServerID: 1, AudioStreamID: 2, SubtitleStreamID: 4}
	if err := db.SaveTrackPreference(pref); err != nil {
		t.Fatalf("failed to save preference: %v", err)
	}

	pref.SubtitleStreamID = -1
	if err := db.SaveTrackPreference(pref); err != nil {
		t.Fatalf("failed to update preference: %v", err)
	}

	got, err := db.GetTrackPreference("m1", 1)
	if err != nil {
		t.Fatalf("failed to get preference: %v", err)
	}
	if got == nil || got.AudioStreamID != 2 || got.SubtitleStreamID != -1 {
		t.Fatalf("unexpected preference: %+v", got)
	}

	missing, err := db.GetTrackPreference("nope", 1)
	if err != nil {
		t.Fatalf("failed to get missing preference: %v", err)
	}
	if missing != nil {
		t.Fatal("expected nil for unknown item")
	}
}

func TestLanguageOverrideUpsert(t *testing.T) {
	db := openTestDB(t)

	o := &LanguageOverride{ServerID: 1, ItemID: "m1", AudioLanguage: "ja", SubtitleLanguage: "en"}
	if err := db.SaveLanguageOverride(o); err != nil {
		t.Fatalf("failed to save override: %v", err)
	}

	o.SubtitleLanguage = "none"
	if err := db.SaveLanguageOverride(o); err != nil {
		t.Fatalf("failed to update override: %v", err)
	}

	got, err := db.GetLanguageOverride(1, "m1")
	if err != nil {
		t.Fatalf("failed to get override: %v", err)
	}
	if got == nil || got.AudioLanguage != "ja" || got.SubtitleLanguage != "none" {
		t.Fatalf("unexpected override: %+v", got)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	db := openTestDB(t)

	if err := db.SetSetting("playback.quality", "high"); err != nil {
		t.Fatalf("failed to set setting: %v", err)
	}
	if err := db.SetSetting("playback.quality", "maximum"); err != nil {
		t.Fatalf("failed to overwrite setting: %v", err)
	}

	v, err := db.GetSetting("playback.quality")
	if err != nil {
		t.Fatalf("failed to get setting: %v", err)
	}
	if v != "maximum" {
		t.Fatalf("expected overwritten value, got %q", v)
	}

	all, err := db.GetAllSettings()
	if err != nil {
		t.Fatalf("failed to list settings: %v", err)
	}
	if all["playback.quality"] != "maximum" {
		t.Fatalf("unexpected settings map: %+v", all)
	}
}

func TestSetItemViewOffset(t *testing.T) {
	db := openTestDB(t)

	item := &media.PlayableItem{ServerID: 1, ID: "m1", Type: media.ItemMovie, Title: "Heat"}
	if err := db.UpsertItem(item); err != nil {
		t.Fatalf("failed to upsert item: %v", err)
	}

	if err := db.SetItemViewOffset(1, "m1", 123_000); err != nil {
		t.Fatalf("failed to set view offset: %v", err)
	}

	got, err := db.GetItem(1, "m1")
	if err != nil {
		t.Fatalf("failed to get item: %v", err)
	}
	if got.ViewOffsetMs != 123_000 {
		t.Fatalf("expected view offset 123000, got %d", got.ViewOffsetMs)
	}
}
