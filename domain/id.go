package domain

import "github.com/google/uuid"

// NewID generates a new unique entity identifier. Centralized here so
// tests can substitute a deterministic generator if ever needed.
func NewID() string {
	return uuid.New().String()
}
