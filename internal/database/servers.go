package database

import (
	"database/sql"
	"fmt"
	"time"
)

// ServerType identifies the backend flavour of a registered server
type ServerType string

const (
	ServerTypeJellyfin ServerType = "jellyfin"
	ServerTypeEmby     ServerType = "emby"
)

// Server represents a registered media-server backend
type Server struct {
	ID        int64      `json:"id"`
	Name      string     `json:"name"`
	Type      ServerType `json:"type"`
	URL       string     `json:"url"`
	APIKey    string     `json:"-"`
	Enabled   bool       `json:"enabled"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// CreateServer inserts a new server record
func (db *DB) CreateServer(s *Server) error {
	now := time.Now()
	result, err := db.Exec(`
		INSERT INTO servers (name, type, url, api_key, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, s.Name, string(s.Type), s.URL, s.APIKey, s.Enabled, now, now)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get server id: %w", err)
	}
	s.ID = id
	s.CreatedAt = now
	s.UpdatedAt = now
	return nil
}

// GetServer retrieves a server by ID
func (db *DB) GetServer(id int64) (*Server, error) {
	s := &Server{}
	var typ string
	err := db.QueryRow(`
		SELECT id, name, type, url, api_key, enabled, created_at, updated_at
		FROM servers WHERE id = ?
	`, id).Scan(&s.ID, &s.Name, &typ, &s.URL, &s.APIKey, &s.Enabled, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get server %d: %w", id, err)
	}
	s.Type = ServerType(typ)
	return s, nil
}

// ListServers retrieves all servers, enabled first
func (db *DB) ListServers(enabledOnly bool) ([]*Server, error) {
	query := `
		SELECT id, name, type, url, api_key, enabled, created_at, updated_at
		FROM servers`
	if enabledOnly {
		query += " WHERE enabled = 1"
	}
	query += " ORDER BY id"

	rows, err := db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list servers: %w", err)
	}
	defer rows.Close()

	var servers []*Server
	for rows.Next() {
		s := &Server{}
		var typ string
		if err := rows.Scan(&s.ID, &s.Name, &typ, &s.URL, &s.APIKey, &s.Enabled, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan server: %w", err)
		}
		s.Type = ServerType(typ)
		servers = append(servers, s)
	}
	return servers, rows.Err()
}

// UpdateServer updates a server record
func (db *DB) UpdateServer(s *Server) error {
	_, err := db.Exec(`
		UPDATE servers SET name = ?, type = ?, url = ?, api_key = ?, enabled = ?, updated_at = ?
		WHERE id = ?
	`, s.Name, string(s.Type), s.URL, s.APIKey, s.Enabled, time.Now(), s.ID)
	if err != nil {
		return fmt.Errorf("failed to update server %d: %w", s.ID, err)
	}
	return nil
}

// DeleteServer removes a server and, via foreign keys, its catalog items
func (db *DB) DeleteServer(id int64) error {
	_, err := db.Exec("DELETE FROM servers WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete server %d: %w", id, err)
	}
	return nil
}
