package database

import (
	"github.com/rs/zerolog/log"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"cake-server/internal/entities"
)

// Open connects to the sqlite file at path and migrates every collection.
// Each entity is its own table; the uniqueness rules live in the schema.
func Open(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	models := []interface{}{
		&entities.Room{},
		&entities.Player{},
		&entities.Entry{},
		&entities.Placement{},
		&entities.Vote{},
	}
	for _, model := range models {
		if err := db.AutoMigrate(model); err != nil {
			log.Error().Err(err).Msgf("Impossible to migrate %T table", model)
			return nil, err
		}
	}

	log.Info().Str("path", path).Msg("DB Init finished")
	return db, nil
}
