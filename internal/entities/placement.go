package entities

import (
	"time"

	"github.com/google/uuid"
)

// Placement is the current canvas coordinate of an entry. There is at most one
// per (RoomID, EntryID); later drags overwrite it.
type Placement struct {
	RoomID    uuid.UUID  `gorm:"type:uuid;primaryKey" json:"room_id"`
	EntryID   uuid.UUID  `gorm:"type:uuid;primaryKey" json:"entry_id"`
	UpdatedAt time.Time  `json:"updated_at"`
	X         float64    `json:"x"`
	Y         float64    `json:"y"`
	PlacedBy  *uuid.UUID `gorm:"type:uuid" json:"placed_by,omitempty"`
}

// Position is a normalized canvas coordinate.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}
