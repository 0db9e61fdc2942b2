package entities

import (
	"time"

	"github.com/google/uuid"
)

type Category string

const (
	CategoryWildest Category = "wildest"
)

func (c Category) Valid() bool {
	return c == CategoryWildest
}

type Vote struct {
	ID            uuid.UUID `gorm:"type:uuid;primary_key;" json:"id"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	RoomID        uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_vote_voter;not null" json:"room_id"`
	Category      Category  `gorm:"size:32;uniqueIndex:idx_vote_voter;not null" json:"category"`
	VoterPlayerID uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_vote_voter;not null" json:"voter_player_id"`
	EntryID       uuid.UUID `gorm:"type:uuid;not null" json:"entry_id"`
	Value         int       `json:"value"`
}
