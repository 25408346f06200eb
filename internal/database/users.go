package database

import (
	"database/sql"
	"fmt"
	"time"
)

// UserRecord represents the (single) control-API user account.
type UserRecord struct {
	ID           int64
	Username     string
	PasswordHash string
	APIKey       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CreateUser inserts a new user record.
func (db *DB) CreateUser(username, passwordHash, apiKey string) (*UserRecord, error) {
	now := time.Now()
	result, err := db.Exec(`
		INSERT INTO users (username, password_hash, api_key, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, username, passwordHash, apiKey, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get user id: %w", err)
	}

	return &UserRecord{
		ID:           id,
		Username:     username,
		PasswordHash: passwordHash,
		APIKey:       apiKey,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// GetUserByUsername retrieves a user by username.
func (db *DB) GetUserByUsername(username string) (*UserRecord, error) {
	user := &UserRecord{}
	err := db.QueryRow(`
		SELECT id, username, password_hash, api_key, created_at, updated_at
		FROM users WHERE username = ?
	`, username).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.APIKey, &user.CreatedAt, &user.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// GetUserByAPIKey retrieves a user by API key.
func (db *DB) GetUserByAPIKey(apiKey string) (*UserRecord, error) {
	if apiKey == "" {
		return nil, nil
	}
	user := &UserRecord{}
	err := db.QueryRow(`
		SELECT id, username, password_hash, api_key, created_at, updated_at
		FROM users WHERE api_key = ?
	`, apiKey).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.APIKey, &user.CreatedAt, &user.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by api key: %w", err)
	}
	return user, nil
}

// IsFirstRun checks if this is the first run (no users exist)
func (db *DB) IsFirstRun() (bool, error) {
	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM users").Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check users: %w", err)
	}
	return count == 0, nil
}
