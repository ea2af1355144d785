package domain

import (
	"errors"
	"time"
)

var (
	// ErrSessionNotFound is returned by session stores for unknown or expired ids.
	ErrSessionNotFound = errors.New("session not found")
	// ErrVersionConflict is returned when a conditional write loses a race.
	ErrVersionConflict = errors.New("session version conflict")
)

// SessionRecord is the persisted envelope of one conversation.
type SessionRecord struct {
	SessionID string
	State     []byte
	Version   int64
	Turns     int
	UpdatedAt time.Time
	TTL       int64
}

// TurnRecord stores a single accepted user turn for later inspection.
type TurnRecord struct {
	SessionID string
	Turn      int
	Text      string
	Template  string
	Topic     string
	CreatedAt time.Time
	TTL       int64
}
