package database

import (
	"database/sql"
	"fmt"
	"time"
)

// TrackPreference is the last chosen audio/subtitle stream pair for an item.
// Stream ID 0 means "no preference recorded"; subtitle stream ID -1 means the
// user explicitly turned subtitles off.
type TrackPreference struct {
	ItemID           string
	ServerID         int64
	AudioStreamID    int64
	SubtitleStreamID int64
	UpdatedAt        time.Time
}

// GetTrackPreference retrieves the stored preference for an item, or nil
func (db *DB) GetTrackPreference(itemID string, serverID int64) (*TrackPreference, error) {
	pref := &TrackPreference{}
	err := db.QueryRow(`
		SELECT item_id, server_id, audio_stream_id, subtitle_stream_id, updated_at
		FROM track_preferences WHERE item_id = ? AND server_id = ?
	`, itemID, serverID).Scan(&pref.ItemID, &pref.ServerID, &pref.AudioStreamID,
		&pref.SubtitleStreamID, &pref.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get track preference for %s: %w", itemID, err)
	}
	return pref, nil
}

// SaveTrackPreference stores or replaces the preference for an item
func (db *DB) SaveTrackPreference(pref *TrackPreference) error {
	_, err := db.Exec(`
		INSERT INTO track_preferences (item_id, server_id, audio_stream_id, subtitle_stream_id, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(item_id, server_id) DO UPDATE SET
			audio_stream_id = excluded.audio_stream_id,
			subtitle_stream_id = excluded.subtitle_stream_id,
			updated_at = excluded.updated_at
	`, pref.ItemID, pref.ServerID, pref.AudioStreamID, pref.SubtitleStreamID, time.Now())
	if err != nil {
		return fmt.Errorf("failed to save track preference for %s: %w", pref.ItemID, err)
	}
	return nil
}

// LanguageOverride is a per-item forced language pair. Empty strings mean no
// override; the literal "none" for subtitles maps to subtitles off.
type LanguageOverride struct {
	ServerID         int64
	ItemID           string
	AudioLanguage    string
	SubtitleLanguage string
}

// GetLanguageOverride retrieves the language override for an item, or nil
func (db *DB) GetLanguageOverride(serverID int64, itemID string) (*LanguageOverride, error) {
	o := &LanguageOverride{}
	err := db.QueryRow(`
		SELECT server_id, item_id, audio_language, subtitle_language
		FROM item_language_overrides WHERE server_id = ? AND item_id = ?
	`, serverID, itemID).Scan(&o.ServerID, &o.ItemID, &o.AudioLanguage, &o.SubtitleLanguage)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get language override for %s: %w", itemID, err)
	}
	return o, nil
}

// SaveLanguageOverride stores or replaces the language override for an item
func (db *DB) SaveLanguageOverride(o *LanguageOverride) error {
	_, err := db.Exec(`
		INSERT INTO item_language_overrides (server_id, item_id, audio_language, subtitle_language, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(server_id, item_id) DO UPDATE SET
			audio_language = excluded.audio_language,
			subtitle_language = excluded.subtitle_language,
			updated_at = excluded.updated_at
	`, o.ServerID, o.ItemID, o.AudioLanguage, o.SubtitleLanguage, time.Now())
	if err != nil {
		return fmt.Errorf("failed to save language override for %s: %w", o.ItemID, err)
	}
	return nil
}
