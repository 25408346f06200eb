// Package auth manages the control-API credential: a single user with a
// bcrypt-hashed password and a generated API key.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/medleyhq/medley/internal/database"
)

// APIKeyLength is the length of generated API keys in bytes (hex encoded)
const APIKeyLength = 32

// ErrInvalidCredentials indicates a failed username/password check
var ErrInvalidCredentials = errors.New("invalid credentials")

// Service handles credential verification against the database
type Service struct {
	db *database.DB
}

// NewService creates a new auth service
func NewService(db *database.DB) *Service {
	return &Service{db: db}
}

// GenerateAPIKey creates a new cryptographically secure API key
func GenerateAPIKey() (string, error) {
	bytes := make([]byte, APIKeyLength)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate api key: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

// Setup creates the initial user account. Returns the generated API key.
func (s *Service) Setup(username, password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}

	apiKey, err := GenerateAPIKey()
	if err != nil {
		return "", err
	}

	if _, err := s.db.CreateUser(username, string(hash), apiKey); err != nil {
		return "", err
	}
	return apiKey, nil
}

// VerifyPassword checks a username/password pair
func (s *Service) VerifyPassword(username, password string) (*database.UserRecord, error) {
	user, err := s.db.GetUserByUsername(username)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// ValidateAPIKey checks an API key, returning the matching user or nil
func (s *Service) ValidateAPIKey(apiKey string) (*database.UserRecord, error) {
	return s.db.GetUserByAPIKey(apiKey)
}
