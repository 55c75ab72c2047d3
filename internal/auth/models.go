package auth

import "time"

// APIKey represents a stored API key. Key holds the sha256 digest; the
// plaintext is only returned once at creation time.
type APIKey struct {
	ID        string     `json:"id"`
	Key       string     `json:"-"`
	Name      string     `json:"name"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	IsActive  bool       `json:"is_active"`
}

// CreateAPIKeyRequest is the creation payload.
type CreateAPIKeyRequest struct {
	Name      string     `json:"name" binding:"required"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// CreateAPIKeyResponse carries the plaintext key back to the caller.
type CreateAPIKeyResponse struct {
	ID        string     `json:"id"`
	Key       string     `json:"key"`
	Name      string     `json:"name"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}
