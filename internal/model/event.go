package model

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

type EventType string

const (
	EventIssued      EventType = "issued"
	EventActivated   EventType = "activated"
	EventDeactivated EventType = "deactivated"
	EventUpdated     EventType = "updated"
	EventPurged      EventType = "purged"
	EventValidated   EventType = "validated"
	EventRejected    EventType = "rejected"
)

func (t EventType) String() string { return string(t) }

func (t EventType) Valid() bool {
	switch t {
	case EventIssued, EventActivated, EventDeactivated, EventUpdated,
		EventPurged, EventValidated, EventRejected:
		return true
	default:
		return false
	}
}

// Event is the payload published to Kafka and stored in ClickHouse.
// Credential holds Fingerprint(id); the credential itself never leaves the store.
type Event struct {
	ID         string    `json:"id" db:"id"` // event ULID
	Type       EventType `json:"type" db:"type"`
	Credential string    `json:"credential" db:"credential"`
	Reason     string    `json:"reason,omitempty" db:"reason"`
	OccurredAt time.Time `json:"occurred_at" db:"occurred_at"`
}

// Fingerprint is a stable, non-reversible reference to a credential id.
func Fingerprint(id string) string {
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:8])
}
