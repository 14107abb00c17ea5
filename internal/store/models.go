package store

import (
	"encoding/json"
	"time"
)

type User struct {
	ID          string
	DisplayName string
	CreatedAt   time.Time
}

// Trip is one remote trip row: the shared planner document and status map
// plus the metadata the sync layer needs (who wrote last, and when).
type Trip struct {
	ID           string
	Title        string
	OwnerID      string
	Planner      json.RawMessage
	Status       json.RawMessage
	JoinCodeHash string
	UpdatedBy    string
	UpdatedAt    time.Time
}

type Membership struct {
	TripID   string
	UserID   string
	JoinedAt time.Time
}
