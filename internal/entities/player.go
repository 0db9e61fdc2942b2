package entities

import (
	"time"

	"github.com/google/uuid"
)

type Player struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key;" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	RoomID    uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_player_device;not null" json:"room_id"`
	DeviceID  string    `gorm:"uniqueIndex:idx_player_device;size:64;not null" json:"device_id"`
	Name      string    `json:"name"`
	IsHost    bool      `json:"is_host"`
}
