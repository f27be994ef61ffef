// Package auth provides account management and authentication.
// This file defines the public API of the auth bounded context.
// Only types defined here should be imported by other domains.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Profile represents user information that can be shared with other domains.
type Profile struct {
	ID            uuid.UUID `json:"id"`
	Email         string    `json:"email"`
	EmailVerified bool      `json:"emailVerified"`
	DisplayName   string    `json:"displayName"`
	Role          string    `json:"role"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// UserSummary represents minimal user information for admin listings.
type UserSummary struct {
	ID          uuid.UUID `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName"`
	Role        string    `json:"role"`
}
