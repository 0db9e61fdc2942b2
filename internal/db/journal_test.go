package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cake-server/internal/core"
	"cake-server/internal/entities"
	"cake-server/internal/fanout"
)

func openTestJournal(t *testing.T, path string) *Journal {
	t.Helper()
	db, err := Open(path)
	require.NoError(t, err)
	return NewJournal(db, 16)
}

func TestJournal_PersistsAndRestores(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cake.db")
	ctx := context.Background()

	journal := openTestJournal(t, path)
	bus := fanout.NewBus(16, zerolog.Nop())
	rooms, err := core.NewRooms(bus, core.Options{Journal: journal})
	require.NoError(t, err)

	room, host, err := rooms.CreateRoom(ctx, "Host", "host-dev")
	require.NoError(t, err)
	_, guest, err := rooms.ResolvePlayer(ctx, room.Code, "guest-dev", "Guest")
	require.NoError(t, err)
	_, err = rooms.RenamePlayer(ctx, room.ID, guest.ID, "Renamed")
	require.NoError(t, err)

	var entries []entities.Entry
	for _, title := range []string{"a", "b"} {
		e, err := rooms.SubmitEntry(ctx, room.ID, guest.ID, core.EntryInput{Title: title, ImageReference: "img-" + title, Source: entities.SourceTMDB})
		require.NoError(t, err)
		entries = append(entries, e)
	}
	_, err = rooms.PlaceEntry(ctx, room.ID, entries[0].ID, 0.1, 0.2, nil)
	require.NoError(t, err)
	_, err = rooms.PlaceEntry(ctx, room.ID, entries[0].ID, 0.3, 0.4, &guest.ID)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		_, err = rooms.AdvancePhase(ctx, room.ID, host.ID, nil)
		require.NoError(t, err)
	}
	_, err = rooms.CastVote(ctx, room.ID, entries[0].ID, guest.ID, entities.CategoryWildest, 1)
	require.NoError(t, err)
	_, err = rooms.CastVote(ctx, room.ID, entries[1].ID, guest.ID, entities.CategoryWildest, 2)
	require.NoError(t, err)

	before, err := rooms.Snapshot(room.ID)
	require.NoError(t, err)

	rooms.Close()
	journal.Close()
	require.NoError(t, bus.Close())

	reopened := openTestJournal(t, path)
	defer reopened.Close()
	states, err := reopened.Load()
	require.NoError(t, err)
	require.Len(t, states, 1)

	state := states[0]
	assert.Equal(t, room.Code, state.Room.Code)
	assert.Equal(t, entities.StatusVoting, state.Room.Status)
	assert.Equal(t, before.Seq, state.Room.Version)
	require.Len(t, state.Players, 2)
	assert.Equal(t, "Renamed", state.Players[1].Name)
	assert.True(t, state.Players[0].IsHost)
	require.Len(t, state.Entries, 2)
	assert.Equal(t, "a", state.Entries[0].Title)
	require.Len(t, state.Placements, 1)
	assert.Equal(t, 0.3, state.Placements[0].X)
	require.NotNil(t, state.Placements[0].PlacedBy)
	require.Len(t, state.Votes, 1)
	assert.Equal(t, entries[1].ID, state.Votes[0].EntryID)
	assert.Equal(t, 2, state.Votes[0].Value)

	bus2 := fanout.NewBus(16, zerolog.Nop())
	defer bus2.Close()
	restored, err := core.NewRooms(bus2, core.Options{})
	require.NoError(t, err)
	defer restored.Close()
	require.NoError(t, restored.Restore(states))

	after, err := restored.Snapshot(room.ID)
	require.NoError(t, err)
	assert.Equal(t, before.Seq, after.Seq)
	assert.Len(t, after.Entries, 2)
	assert.Len(t, after.Players, 2)
}

func TestJournal_RecordAfterCloseIsDropped(t *testing.T) {
	journal := openTestJournal(t, filepath.Join(t.TempDir(), "cake.db"))
	journal.Close()
	journal.Close()

	assert.NotPanics(t, func() {
		journal.Record(entities.Room{})
	})
}
