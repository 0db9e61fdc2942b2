package entities

import (
	"time"

	"github.com/google/uuid"
)

// Source names the catalog an entry's image was picked from.
type Source string

const (
	SourceTMDB     Source = "tmdb"
	SourceWikidata Source = "wikidata"
)

func (s Source) Valid() bool {
	return s == SourceTMDB || s == SourceWikidata
}

type Entry struct {
	ID             uuid.UUID `gorm:"type:uuid;primary_key;" json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	RoomID         uuid.UUID `gorm:"type:uuid;index;not null" json:"room_id"`
	PlayerID       uuid.UUID `gorm:"type:uuid;not null" json:"player_id"`
	Ordinal        int       `json:"ordinal"`
	Title          string    `json:"title"`
	Caption        string    `json:"caption,omitempty"`
	ImageReference string    `gorm:"not null" json:"image_reference"`
	Source         Source    `gorm:"size:16" json:"source"`
}
