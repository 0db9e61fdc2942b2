package database

import (
	"sync"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"cake-server/internal/core"
	"cake-server/internal/entities"
	"cake-server/internal/fanout"
)

const DefaultQueue = 1024

type record struct {
	room   entities.Room
	events []fanout.Event
}

// Journal writes committed room state to the database behind the rooms'
// backs: Record only queues, one goroutine applies records in order.
type Journal struct {
	db    *gorm.DB
	queue chan record
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewJournal(db *gorm.DB, queue int) *Journal {
	if queue <= 0 {
		queue = DefaultQueue
	}
	j := &Journal{
		db:    db,
		queue: make(chan record, queue),
		done:  make(chan struct{}),
	}
	go j.run()
	return j
}

func (j *Journal) Record(room entities.Room, events ...fanout.Event) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		log.Warn().Str("room_id", room.ID.String()).Msg("Journal closed, dropping record")
		return
	}
	j.queue <- record{room: room, events: events}
}

func (j *Journal) run() {
	defer close(j.done)
	for rec := range j.queue {
		if err := j.write(rec); err != nil {
			log.Error().Err(err).
				Str("room_id", rec.room.ID.String()).
				Uint64("version", rec.room.Version).
				Msg("Journal write failed")
		}
	}
}

func (j *Journal) write(rec record) error {
	return j.db.Transaction(func(tx *gorm.DB) error {
		room := rec.room
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"status", "reveal_index", "version", "updated_at"}),
		}).Create(&room).Error
		if err != nil {
			return err
		}

		for _, ev := range rec.events {
			if err := upsert(tx, ev); err != nil {
				return err
			}
		}
		return nil
	})
}

func upsert(tx *gorm.DB, ev fanout.Event) error {
	switch ev.Kind {
	case fanout.KindPlayer:
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "room_id"}, {Name: "device_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "updated_at"}),
		}).Create(ev.Player).Error
	case fanout.KindEntry:
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(ev.Entry).Error
	case fanout.KindPlacement:
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "room_id"}, {Name: "entry_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"x", "y", "placed_by", "updated_at"}),
		}).Create(ev.Placement).Error
	case fanout.KindVote:
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "room_id"}, {Name: "category"}, {Name: "voter_player_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"entry_id", "value", "updated_at"}),
		}).Create(ev.Vote).Error
	}
	// Room rows are written from the record itself.
	return nil
}

// Close flushes queued records and stops the writer.
func (j *Journal) Close() {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return
	}
	j.closed = true
	close(j.queue)
	j.mu.Unlock()
	<-j.done
}

// Load reads every persisted room with its collections.
func (j *Journal) Load() ([]core.RoomState, error) {
	var rooms []entities.Room
	if err := j.db.Order("created_at").Find(&rooms).Error; err != nil {
		return nil, err
	}

	states := make([]core.RoomState, len(rooms))
	index := make(map[string]int, len(rooms))
	for i, r := range rooms {
		states[i].Room = r
		index[r.ID.String()] = i
	}

	var players []entities.Player
	if err := j.db.Order("created_at").Find(&players).Error; err != nil {
		return nil, err
	}
	for _, p := range players {
		if i, ok := index[p.RoomID.String()]; ok {
			states[i].Players = append(states[i].Players, p)
		}
	}

	var entries []entities.Entry
	if err := j.db.Order("ordinal").Find(&entries).Error; err != nil {
		return nil, err
	}
	for _, e := range entries {
		if i, ok := index[e.RoomID.String()]; ok {
			states[i].Entries = append(states[i].Entries, e)
		}
	}

	var placements []entities.Placement
	if err := j.db.Find(&placements).Error; err != nil {
		return nil, err
	}
	for _, p := range placements {
		if i, ok := index[p.RoomID.String()]; ok {
			states[i].Placements = append(states[i].Placements, p)
		}
	}

	var votes []entities.Vote
	if err := j.db.Find(&votes).Error; err != nil {
		return nil, err
	}
	for _, v := range votes {
		if i, ok := index[v.RoomID.String()]; ok {
			states[i].Votes = append(states[i].Votes, v)
		}
	}

	return states, nil
}
