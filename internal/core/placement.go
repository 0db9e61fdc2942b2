package core

import (
	"context"
	"math"

	"cake-server/internal/entities"
	"cake-server/internal/fanout"
	"cake-server/internal/store"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Ring radii for the default layout, by entry count: <=6, <=12, more.
const (
	smallRing  = 0.22
	mediumRing = 0.28
	largeRing  = 0.34
)

// DefaultPosition places entry index of total evenly on a ring centred on the
// canvas, starting at twelve o'clock.
func DefaultPosition(index, total int) entities.Position {
	if total < 1 {
		total = 1
	}

	radius := largeRing
	switch {
	case total <= 6:
		radius = smallRing
	case total <= 12:
		radius = mediumRing
	}

	angle := float64(index)/float64(total)*2*math.Pi - math.Pi/2
	return entities.Position{
		X: 0.5 + math.Cos(angle)*radius,
		Y: 0.5 + math.Sin(angle)*radius,
	}
}

func inUnit(v float64) bool {
	return v >= 0 && v <= 1
}

// PlaceEntry stores the position of an entry, replacing any previous one.
// The last committed call wins.
func (r *Rooms) PlaceEntry(ctx context.Context, roomID, entryID uuid.UUID, x, y float64, placedBy *uuid.UUID) (entities.Placement, error) {
	if !inUnit(x) || !inUnit(y) {
		return entities.Placement{}, errors.Wrapf(ErrOutOfBounds, "(%v, %v)", x, y)
	}

	var placement entities.Placement
	err := r.do(ctx, roomID, Placed, func(tx *store.WriteTx, rm *entities.Room) ([]fanout.Event, error) {
		if rm.Status == entities.StatusDone {
			return nil, errors.Wrap(ErrWrongPhase, "room is done")
		}
		if _, err := tx.Entry(entryID); err != nil {
			if err == store.ErrNotFound {
				return nil, errors.Wrapf(ErrInvalidEntry, "id %s", entryID)
			}
			return nil, err
		}
		if placedBy != nil {
			if _, err := tx.Player(*placedBy); err != nil {
				return nil, invalid("player %s does not belong to room", *placedBy)
			}
		}

		p := entities.Placement{
			RoomID:    rm.ID,
			EntryID:   entryID,
			UpdatedAt: r.now(),
			X:         x,
			Y:         y,
			PlacedBy:  placedBy,
		}
		if _, err := tx.UpsertPlacement(p); err != nil {
			return nil, err
		}
		placement = p
		return []fanout.Event{fanout.PlacementEvent(p)}, nil
	})
	if err != nil {
		return entities.Placement{}, err
	}
	return placement, nil
}

// ListPlacements returns only the placements users have set.
func (r *Rooms) ListPlacements(roomID uuid.UUID) ([]entities.Placement, error) {
	rm, err := r.room(roomID)
	if err != nil {
		return nil, err
	}
	return rm.db.Read().Placements()
}

type Slot struct {
	EntryID  uuid.UUID         `json:"entry_id"`
	Position entities.Position `json:"position"`
	Placed   bool              `json:"placed"`
}

// Layout resolves every entry to its stored placement or its ring default.
func (r *Rooms) Layout(roomID uuid.UUID) ([]Slot, error) {
	rm, err := r.room(roomID)
	if err != nil {
		return nil, err
	}

	read := rm.db.Read()
	entries, err := read.Entries()
	if err != nil {
		return nil, err
	}
	placements, err := read.Placements()
	if err != nil {
		return nil, err
	}
	return layout(entries, placements), nil
}

func layout(entries []entities.Entry, placements []entities.Placement) []Slot {
	placed := make(map[uuid.UUID]entities.Position, len(placements))
	for _, p := range placements {
		placed[p.EntryID] = entities.Position{X: p.X, Y: p.Y}
	}

	slots := make([]Slot, 0, len(entries))
	for i, e := range entries {
		if pos, ok := placed[e.ID]; ok {
			slots = append(slots, Slot{EntryID: e.ID, Position: pos, Placed: true})
			continue
		}
		slots = append(slots, Slot{EntryID: e.ID, Position: DefaultPosition(i, len(entries))})
	}
	return slots
}
