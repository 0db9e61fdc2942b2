package core

import (
	"context"
	"strings"

	"cake-server/internal/entities"
	"cake-server/internal/fanout"
	"cake-server/internal/store"

	"github.com/google/uuid"
)

type EntryInput struct {
	Title          string          `json:"title"`
	Caption        string          `json:"caption"`
	ImageReference string          `json:"image_reference"`
	Source         entities.Source `json:"source"`
}

func (in *EntryInput) normalize() error {
	in.Title = strings.TrimSpace(in.Title)
	in.Caption = strings.TrimSpace(in.Caption)
	in.ImageReference = strings.TrimSpace(in.ImageReference)

	switch {
	case in.ImageReference == "":
		return invalid("image reference is required")
	case in.Title == "":
		return invalid("title is required")
	case !in.Source.Valid():
		return invalid("unknown source %q", in.Source)
	}
	return nil
}

// SubmitEntry appends an entry attributed to playerID. Entries are accepted
// while the room is in the lobby and are never changed afterwards.
func (r *Rooms) SubmitEntry(ctx context.Context, roomID, playerID uuid.UUID, in EntryInput) (entities.Entry, error) {
	if err := in.normalize(); err != nil {
		return entities.Entry{}, err
	}

	var entry entities.Entry
	err := r.do(ctx, roomID, Submitted, func(tx *store.WriteTx, rm *entities.Room) ([]fanout.Event, error) {
		if err := requirePhase(rm, entities.StatusLobby); err != nil {
			return nil, err
		}
		if _, err := tx.Player(playerID); err != nil {
			if err == store.ErrNotFound {
				return nil, invalid("player %s does not belong to room", playerID)
			}
			return nil, err
		}

		existing, err := tx.Entries()
		if err != nil {
			return nil, err
		}

		e := entities.Entry{
			ID:             uuid.New(),
			CreatedAt:      r.now(),
			RoomID:         rm.ID,
			PlayerID:       playerID,
			Ordinal:        len(existing),
			Title:          in.Title,
			Caption:        in.Caption,
			ImageReference: in.ImageReference,
			Source:         in.Source,
		}
		if err := tx.InsertEntry(e); err != nil {
			return nil, err
		}
		entry = e
		return []fanout.Event{fanout.EntryEvent(e)}, nil
	})
	if err != nil {
		return entities.Entry{}, err
	}
	return entry, nil
}

// ListEntries returns the room's entries in submission order.
func (r *Rooms) ListEntries(roomID uuid.UUID) ([]entities.Entry, error) {
	rm, err := r.room(roomID)
	if err != nil {
		return nil, err
	}
	return rm.db.Read().Entries()
}
