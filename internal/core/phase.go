package core

import (
	"context"

	"cake-server/internal/entities"
	"cake-server/internal/fanout"
	"cake-server/internal/store"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Cursor is the part of a room the phase machine owns.
type Cursor struct {
	Status      entities.Status `json:"status"`
	RevealIndex int             `json:"reveal_index"`
}

func CursorOf(room entities.Room) Cursor {
	return Cursor{Status: room.Status, RevealIndex: room.RevealIndex}
}

// Next returns the cursor after one "advance" with the given number of entries.
// In reveal the index moves one step at a time; advancing from the last entry
// (or with no entries) moves to voting. Phases never go backwards.
func (c Cursor) Next(entries int) (Cursor, error) {
	switch c.Status {
	case entities.StatusLobby:
		return Cursor{Status: entities.StatusReveal}, nil
	case entities.StatusReveal:
		if c.RevealIndex < entries-1 {
			return Cursor{Status: entities.StatusReveal, RevealIndex: c.RevealIndex + 1}, nil
		}
		return Cursor{Status: entities.StatusVoting}, nil
	case entities.StatusVoting:
		return Cursor{Status: entities.StatusDone}, nil
	case entities.StatusDone:
		return c, errors.Wrap(ErrWrongPhase, "room is done")
	}
	return c, errors.Wrapf(ErrConflict, "unknown status %q", c.Status)
}

func (c Cursor) apply(room *entities.Room) {
	room.Status = c.Status
	room.RevealIndex = c.RevealIndex
}

// Matches reports whether the room is at c. The reveal index only counts in
// reveal.
func (c Cursor) Matches(other Cursor) bool {
	if c.Status != other.Status {
		return false
	}
	return c.Status != entities.StatusReveal || c.RevealIndex == other.RevealIndex
}

func requirePhase(room *entities.Room, allowed ...entities.Status) error {
	for _, s := range allowed {
		if room.Status == s {
			return nil
		}
	}
	return errors.Wrapf(ErrWrongPhase, "room is in %s", room.Status)
}

// AdvancePhase moves the room one step along its lifecycle on behalf of
// playerID, who must be the host. When expect is set and the room is no
// longer at that cursor the call changes nothing and returns the current
// room, so two host sessions pressing "next" on the same view advance once.
func (r *Rooms) AdvancePhase(ctx context.Context, roomID, playerID uuid.UUID, expect *Cursor) (entities.Room, error) {
	// result points at the room as committed; commit stamps the new version
	// after apply returns and before do does.
	var result *entities.Room
	err := r.do(ctx, roomID, Advanced, func(tx *store.WriteTx, rm *entities.Room) ([]fanout.Event, error) {
		p, err := tx.Player(playerID)
		if err == store.ErrNotFound || (err == nil && !p.IsHost) {
			return nil, ErrNotHost
		}
		if err != nil {
			return nil, err
		}

		result = rm
		if expect != nil && !expect.Matches(CursorOf(*rm)) {
			return nil, nil
		}

		entries, err := tx.Entries()
		if err != nil {
			return nil, err
		}
		next, err := CursorOf(*rm).Next(len(entries))
		if err != nil {
			return nil, err
		}
		next.apply(rm)
		return []fanout.Event{fanout.RoomEvent(*rm)}, nil
	})
	if err != nil {
		return entities.Room{}, err
	}
	return *result, nil
}
