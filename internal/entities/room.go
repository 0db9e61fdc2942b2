package entities

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusLobby  Status = "lobby"
	StatusReveal Status = "reveal"
	StatusVoting Status = "voting"
	StatusDone   Status = "done"
)

// Rank orders statuses along the room lifecycle.
func (s Status) Rank() int {
	switch s {
	case StatusLobby:
		return 0
	case StatusReveal:
		return 1
	case StatusVoting:
		return 2
	case StatusDone:
		return 3
	}
	return -1
}

func (s Status) Valid() bool {
	return s.Rank() >= 0
}

type Room struct {
	ID          uuid.UUID `gorm:"type:uuid;primary_key;" json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Code        string    `gorm:"uniqueIndex;size:8;not null" json:"code"`
	Status      Status    `gorm:"size:16;not null" json:"status"`
	RevealIndex int       `json:"reveal_index"`
	Version     uint64    `json:"version"`
}
