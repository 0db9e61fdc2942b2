package core

import (
	"cake-server/internal/entities"
	"cake-server/internal/fanout"

	"github.com/google/uuid"
)

// Snapshot is a room as of one committed version.
type Snapshot struct {
	Seq        uint64               `json:"seq"`
	Room       entities.Room        `json:"room"`
	Players    []entities.Player    `json:"players"`
	Entries    []entities.Entry     `json:"entries"`
	Placements []entities.Placement `json:"placements"`
	Votes      []entities.Vote      `json:"votes"`
}

// Snapshot reads all collections of a room in one read transaction, so it
// never shows half of a mutation.
func (r *Rooms) Snapshot(roomID uuid.UUID) (Snapshot, error) {
	rm, err := r.room(roomID)
	if err != nil {
		return Snapshot{}, err
	}

	read := rm.db.Read()
	var snap Snapshot
	if snap.Room, err = read.Room(); err != nil {
		return Snapshot{}, err
	}
	if snap.Players, err = read.Players(); err != nil {
		return Snapshot{}, err
	}
	if snap.Entries, err = read.Entries(); err != nil {
		return Snapshot{}, err
	}
	if snap.Placements, err = read.Placements(); err != nil {
		return Snapshot{}, err
	}
	if snap.Votes, err = read.Votes(); err != nil {
		return Snapshot{}, err
	}
	snap.Seq = snap.Room.Version
	return snap, nil
}

// Subscribe delivers every event committed on the room after the call.
func (r *Rooms) Subscribe(roomID uuid.UUID, onEvent func(fanout.Event)) (func(), error) {
	if _, err := r.room(roomID); err != nil {
		return nil, err
	}
	return r.bus.Subscribe(roomID, onEvent)
}

// Connect subscribes, then snapshots, then hands over. onSnapshot runs
// before any onEvent, and onEvent sees exactly the events newer than the
// snapshot, so the client's view never skips or repeats a change.
func (r *Rooms) Connect(roomID uuid.UUID, onSnapshot func(Snapshot), onEvent func(fanout.Event)) (func(), error) {
	ready := make(chan struct{})
	var seq uint64

	unsubscribe, err := r.Subscribe(roomID, func(ev fanout.Event) {
		<-ready
		if ev.Kind != fanout.KindResync && ev.Seq <= seq {
			return
		}
		onEvent(ev)
	})
	if err != nil {
		return nil, err
	}

	snap, err := r.Snapshot(roomID)
	if err != nil {
		unsubscribe()
		close(ready)
		return nil, err
	}

	onSnapshot(snap)
	seq = snap.Seq
	close(ready)
	return unsubscribe, nil
}
