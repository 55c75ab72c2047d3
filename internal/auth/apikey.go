package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrAPIKeyNotFound = errors.New("API key not found")
	ErrAPIKeyExpired  = errors.New("API key has expired")
	ErrAPIKeyInactive = errors.New("API key is inactive")
)

// APIKeyService handles API key operations
type APIKeyService struct {
	keys map[string]*APIKey // Map of hashed key -> APIKey
	mu   sync.RWMutex
}

// NewAPIKeyService creates a new API key service
func NewAPIKeyService() *APIKeyService {
	return &APIKeyService{
		keys: make(map[string]*APIKey),
	}
}

// CreateAPIKey creates a new API key and returns the plaintext once
func (s *APIKeyService) CreateAPIKey(req *CreateAPIKeyRequest) (*CreateAPIKeyResponse, error) {
	plainKey, err := GenerateAPIKey()
	if err != nil {
		return nil, err
	}

	hashedKey := hashAPIKey(plainKey)

	apiKey := &APIKey{
		ID:        uuid.New().String(),
		Key:       hashedKey,
		Name:      req.Name,
		ExpiresAt: req.ExpiresAt,
		CreatedAt: time.Now(),
		IsActive:  true,
	}

	s.mu.Lock()
	s.keys[hashedKey] = apiKey
	s.mu.Unlock()

	return &CreateAPIKeyResponse{
		ID:        apiKey.ID,
		Key:       plainKey,
		Name:      apiKey.Name,
		ExpiresAt: apiKey.ExpiresAt,
		CreatedAt: apiKey.CreatedAt,
	}, nil
}

// ValidateAPIKey validates an API key and returns the stored record
func (s *APIKeyService) ValidateAPIKey(plainKey string) (*APIKey, error) {
	hashedKey := hashAPIKey(plainKey)

	s.mu.RLock()
	apiKey, exists := s.keys[hashedKey]
	s.mu.RUnlock()

	if !exists {
		return nil, ErrAPIKeyNotFound
	}
	if !apiKey.IsActive {
		return nil, ErrAPIKeyInactive
	}
	if apiKey.ExpiresAt != nil && time.Now().After(*apiKey.ExpiresAt) {
		return nil, ErrAPIKeyExpired
	}

	return apiKey, nil
}

// RevokeAPIKey deactivates a key by ID
func (s *APIKeyService) RevokeAPIKey(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, apiKey := range s.keys {
		if apiKey.ID == id {
			apiKey.IsActive = false
			return nil
		}
	}
	return ErrAPIKeyNotFound
}

// GenerateAPIKey produces a 64-hex-character random key
func GenerateAPIKey() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

func hashAPIKey(plainKey string) string {
	sum := sha256.Sum256([]byte(plainKey))
	return hex.EncodeToString(sum[:])
}
