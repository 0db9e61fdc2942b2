package core

import (
	"context"
	"strings"
	"unicode/utf8"

	"cake-server/internal/entities"
	"cake-server/internal/fanout"
	"cake-server/internal/store"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	DefaultPlayerName = "Anonymous"
	maxNameLength     = 32
)

func normalizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return DefaultPlayerName
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		name = string([]rune(name)[:maxNameLength])
	}
	return name
}

// ResolvePlayer returns the player of deviceID in the room with the given
// code, creating a non-host player on first contact. Repeated calls from the
// same device return the same player unchanged, including concurrent ones.
func (r *Rooms) ResolvePlayer(ctx context.Context, code, deviceID, name string) (entities.Room, entities.Player, error) {
	if deviceID == "" {
		return entities.Room{}, entities.Player{}, invalid("device id is required")
	}

	current, err := r.Lookup(code)
	if err != nil {
		return entities.Room{}, entities.Player{}, err
	}

	if player, err := r.PlayerByDevice(current.ID, deviceID); err == nil {
		return current, player, nil
	}

	candidate := entities.Player{
		ID:       uuid.New(),
		RoomID:   current.ID,
		DeviceID: deviceID,
		Name:     normalizeName(name),
	}

	var player entities.Player
	err = r.do(ctx, current.ID, Joined, func(tx *store.WriteTx, rm *entities.Room) ([]fanout.Event, error) {
		now := r.now()
		candidate.CreatedAt, candidate.UpdatedAt = now, now

		got, created, err := tx.InsertPlayerIfAbsent(candidate)
		if err != nil {
			return nil, err
		}
		player = got
		if !created {
			return nil, nil
		}
		return []fanout.Event{fanout.PlayerEvent(got)}, nil
	})
	if err != nil {
		return entities.Room{}, entities.Player{}, err
	}

	current, err = r.Room(current.ID)
	return current, player, err
}

// RenamePlayer is the only mutation a player ever sees.
func (r *Rooms) RenamePlayer(ctx context.Context, roomID, playerID uuid.UUID, name string) (entities.Player, error) {
	name = normalizeName(name)

	var player entities.Player
	err := r.do(ctx, roomID, Renamed, func(tx *store.WriteTx, rm *entities.Room) ([]fanout.Event, error) {
		p, err := tx.Player(playerID)
		if err == store.ErrNotFound {
			return nil, errors.Wrapf(ErrPlayerNotFound, "id %s", playerID)
		}
		if err != nil {
			return nil, err
		}

		player = p
		if p.Name == name {
			return nil, nil
		}
		p.Name = name
		p.UpdatedAt = r.now()
		if err := tx.ReplacePlayer(p); err != nil {
			return nil, err
		}
		player = p
		return []fanout.Event{fanout.PlayerEvent(p)}, nil
	})
	if err != nil {
		return entities.Player{}, err
	}
	return player, nil
}

func (r *Rooms) PlayerByDevice(roomID uuid.UUID, deviceID string) (entities.Player, error) {
	rm, err := r.room(roomID)
	if err != nil {
		return entities.Player{}, err
	}
	p, err := rm.db.Read().PlayerByDevice(deviceID)
	if err == store.ErrNotFound {
		return entities.Player{}, errors.Wrap(ErrPlayerNotFound, "no player for this device")
	}
	return p, err
}

func (r *Rooms) ListPlayers(roomID uuid.UUID) ([]entities.Player, error) {
	rm, err := r.room(roomID)
	if err != nil {
		return nil, err
	}
	return rm.db.Read().Players()
}
