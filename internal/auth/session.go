// Package auth provides session management types.
package auth

import (
	"time"
)

// SessionConfig defines session parameters.
type SessionConfig struct {
	AccessTokenTTL        time.Duration
	RefreshTokenTTL       time.Duration
	IdleTimeout           time.Duration
	AbsoluteTimeout       time.Duration
	MaxConcurrentSessions int
}

// DefaultSessionConfig returns the default session configuration.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		AccessTokenTTL:        15 * time.Minute,
		RefreshTokenTTL:       8 * time.Hour,
		IdleTimeout:           30 * time.Minute,
		AbsoluteTimeout:       12 * time.Hour,
		MaxConcurrentSessions: 3,
	}
}

// Session represents an active user session.
type Session struct {
	ID          string       `json:"id"`
	UserID      string       `json:"user_id"`
	UserType    string       `json:"user_type"` // staff, affiliate, admin
	TenantID    string       `json:"tenant_id,omitempty"`
	AffiliateID string       `json:"affiliate_id,omitempty"` // partner sessions only
	Roles       []Role       `json:"roles"`
	Permissions []Permission `json:"permissions"`

	MFAVerified bool `json:"mfa_verified"`

	// Timestamps
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	ExpiresAt      time.Time `json:"expires_at"`

	// Client info
	IPAddress string `json:"ip_address"`
	UserAgent string `json:"user_agent"`
}

// IsExpired checks if the session has expired.
func (s *Session) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}

// IsIdle checks if the session has been idle too long.
func (s *Session) IsIdle(timeout time.Duration) bool {
	return time.Since(s.LastActivityAt) > timeout
}

// JWTClaims represents the JWT token structure.
type JWTClaims struct {
	Subject   string `json:"sub"`
	Issuer    string `json:"iss"`
	Audience  string `json:"aud"`
	ExpiresAt int64  `json:"exp"`
	IssuedAt  int64  `json:"iat"`

	UserType    string   `json:"user_type"` // staff, affiliate, admin
	TenantID    string   `json:"tenant_id"`
	AffiliateID string   `json:"affiliate_id,omitempty"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`

	SessionID   string `json:"session_id"`
	MFAVerified bool   `json:"mfa_verified"`
}
