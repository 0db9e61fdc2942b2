package core

import (
	"context"
	"sync"
	"time"

	"cake-server/internal/entities"
	"cake-server/internal/fanout"
	"cake-server/internal/store"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/iter"
)

const DefaultMailbox = 32

type CmdType uint

const (
	Joined CmdType = iota
	Renamed
	Submitted
	Placed
	Voted
	Advanced
)

func (t CmdType) String() string {
	switch t {
	case Joined:
		return "join"
	case Renamed:
		return "rename"
	case Submitted:
		return "submit_entry"
	case Placed:
		return "place_entry"
	case Voted:
		return "cast_vote"
	case Advanced:
		return "advance_phase"
	}
	return "unknown"
}

// RoomCmd is one mutation queued for a room. apply runs on the room's own
// goroutine inside a write transaction; it may change *room and returns the
// events to publish. Returning no events aborts the transaction.
type RoomCmd struct {
	Type  CmdType
	apply func(tx *store.WriteTx, room *entities.Room) ([]fanout.Event, error)
	done  chan error
}

// Bus is the fan-out used to publish committed events.
type Bus interface {
	Publish(events ...fanout.Event) error
	Subscribe(roomID uuid.UUID, onEvent func(fanout.Event)) (func(), error)
}

// Journal durably records committed state. Record is called on the room's
// goroutine in commit order.
type Journal interface {
	Record(room entities.Room, events ...fanout.Event)
}

// Recorder observes mutation outcomes.
type Recorder interface {
	Mutation(op string, err error)
}

type nopRecorder struct{}

func (nopRecorder) Mutation(string, error) {}

type Options struct {
	Mailbox  int
	Journal  Journal
	Recorder Recorder
	NewCode  func() (string, error)
	Now      func() time.Time
}

type room struct {
	id   uuid.UUID
	db   *store.RoomDB
	cmds chan RoomCmd
}

// Rooms owns every live room. Each room has one goroutine (roomCycle) that is
// the only writer of its state, so a room's mutations are totally ordered
// while different rooms never wait on each other.
type Rooms struct {
	registry *store.Registry
	bus      Bus
	journal  Journal
	recorder Recorder
	mailbox  int
	newCode  func() (string, error)
	now      func() time.Time

	roomsIndex map[uuid.UUID]*room
	roomsMutex sync.RWMutex

	quit      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewRooms(bus Bus, opts Options) (*Rooms, error) {
	registry, err := store.NewRegistry()
	if err != nil {
		return nil, err
	}

	r := &Rooms{
		registry:   registry,
		bus:        bus,
		journal:    opts.Journal,
		recorder:   opts.Recorder,
		mailbox:    opts.Mailbox,
		newCode:    opts.NewCode,
		now:        opts.Now,
		roomsIndex: make(map[uuid.UUID]*room),
		quit:       make(chan struct{}),
	}
	if r.recorder == nil {
		r.recorder = nopRecorder{}
	}
	if r.mailbox <= 0 {
		r.mailbox = DefaultMailbox
	}
	if r.newCode == nil {
		r.newCode = NewRoomCode
	}
	if r.now == nil {
		r.now = func() time.Time { return time.Now().UTC() }
	}
	return r, nil
}

// RoomState is the full persisted content of one room.
type RoomState struct {
	Room       entities.Room
	Players    []entities.Player
	Entries    []entities.Entry
	Placements []entities.Placement
	Votes      []entities.Vote
}

// Restore brings previously persisted rooms back to life.
func (r *Rooms) Restore(states []RoomState) error {
	errs := iter.Map(states, func(state *RoomState) error {
		db, err := store.NewRoomDB(state.Room)
		if err != nil {
			return err
		}

		err = db.Write(func(tx *store.WriteTx) (bool, error) {
			for _, p := range state.Players {
				if _, _, err := tx.InsertPlayerIfAbsent(p); err != nil {
					return false, err
				}
			}
			for _, e := range state.Entries {
				if err := tx.InsertEntry(e); err != nil {
					return false, err
				}
			}
			for _, p := range state.Placements {
				if _, err := tx.UpsertPlacement(p); err != nil {
					return false, err
				}
			}
			for _, v := range state.Votes {
				if _, _, err := tx.UpsertVote(v); err != nil {
					return false, err
				}
			}
			return true, nil
		})
		if err != nil {
			return errors.Wrapf(err, "restore room %s", state.Room.Code)
		}

		if err := r.registry.Register(store.Registration{ID: state.Room.ID, Code: state.Room.Code}); err != nil {
			return errors.Wrapf(err, "register room %s", state.Room.Code)
		}
		r.startRoom(state.Room.ID, db)
		return nil
	})

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	log.Info().Int("rooms", len(states)).Msg("Rooms restored")
	return nil
}

// CreateRoom is the privileged path that makes a room and its host in one
// step. The host is the only player ever created with IsHost set.
func (r *Rooms) CreateRoom(ctx context.Context, hostName, deviceID string) (entities.Room, entities.Player, error) {
	if err := ctx.Err(); err != nil {
		return entities.Room{}, entities.Player{}, err
	}
	if deviceID == "" {
		return entities.Room{}, entities.Player{}, invalid("device id is required")
	}

	now := r.now()
	roomID := uuid.New()
	code, err := r.reserveCode(roomID)
	if err != nil {
		return entities.Room{}, entities.Player{}, err
	}

	newRoom := entities.Room{
		ID:        roomID,
		CreatedAt: now,
		UpdatedAt: now,
		Code:      code,
		Status:    entities.StatusLobby,
		Version:   1,
	}
	host := entities.Player{
		ID:        uuid.New(),
		CreatedAt: now,
		UpdatedAt: now,
		RoomID:    roomID,
		DeviceID:  deviceID,
		Name:      normalizeName(hostName),
		IsHost:    true,
	}

	db, err := store.NewRoomDB(newRoom)
	if err != nil {
		return entities.Room{}, entities.Player{}, err
	}
	err = db.Write(func(tx *store.WriteTx) (bool, error) {
		_, _, err := tx.InsertPlayerIfAbsent(host)
		return true, err
	})
	if err != nil {
		return entities.Room{}, entities.Player{}, err
	}

	events := []fanout.Event{fanout.RoomEvent(newRoom), fanout.PlayerEvent(host)}
	for i := range events {
		events[i].Seq = newRoom.Version
	}
	if r.journal != nil {
		r.journal.Record(newRoom, events...)
	}
	r.startRoom(roomID, db)
	r.recorder.Mutation("create_room", nil)

	log.Info().Str("room_id", roomID.String()).Str("code", code).Msg("Room created")
	return newRoom, host, nil
}

func (r *Rooms) reserveCode(roomID uuid.UUID) (string, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := r.newCode()
		if err != nil {
			return "", err
		}
		err = r.registry.Register(store.Registration{ID: roomID, Code: code})
		if err == nil {
			return code, nil
		}
		if err != store.ErrConflict {
			return "", err
		}
		log.Debug().Str("code", code).Msg("Room code collision, retrying")
	}
	return "", errors.Wrap(ErrConflict, "could not find a free room code")
}

func (r *Rooms) startRoom(id uuid.UUID, db *store.RoomDB) {
	rm := &room{id: id, db: db, cmds: make(chan RoomCmd, r.mailbox)}

	r.roomsMutex.Lock()
	r.roomsIndex[id] = rm
	r.roomsMutex.Unlock()

	r.wg.Add(1)
	go r.roomCycle(rm)
}

func (r *Rooms) roomCycle(rm *room) {
	defer r.wg.Done()
	for {
		select {
		case cmd := <-rm.cmds:
			err := r.commit(rm, cmd)
			r.recorder.Mutation(cmd.Type.String(), err)
			cmd.done <- err
		case <-r.quit:
			return
		}
	}
}

func (r *Rooms) commit(rm *room, cmd RoomCmd) error {
	var committed entities.Room
	var events []fanout.Event

	err := rm.db.Write(func(tx *store.WriteTx) (bool, error) {
		current, err := tx.Room()
		if err != nil {
			return false, err
		}

		next := current
		evs, err := cmd.apply(tx, &next)
		if err != nil || len(evs) == 0 {
			return false, err
		}

		next.Version = current.Version + 1
		next.UpdatedAt = r.now()
		if err := tx.PutRoom(next); err != nil {
			return false, err
		}
		for i := range evs {
			evs[i].Seq = next.Version
			if evs[i].Kind == fanout.KindRoom {
				roomCopy := next
				evs[i].Room = &roomCopy
			}
		}

		committed, events = next, evs
		return true, nil
	})
	if err != nil || len(events) == 0 {
		return err
	}

	if r.journal != nil {
		r.journal.Record(committed, events...)
	}
	if err := r.bus.Publish(events...); err != nil {
		log.Error().Err(err).Str("room_id", rm.id.String()).Uint64("seq", committed.Version).Msg("Publish failed")
	}
	return nil
}

// do queues cmd on the room and waits for its outcome. Once queued, a command
// is committed even if ctx ends first. Values the apply func captures are only
// safe to read when do returns nil: on any error the room goroutine may still
// be writing them.
func (r *Rooms) do(ctx context.Context, roomID uuid.UUID, typ CmdType, apply func(tx *store.WriteTx, room *entities.Room) ([]fanout.Event, error)) error {
	rm, err := r.room(roomID)
	if err != nil {
		r.recorder.Mutation(typ.String(), err)
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	cmd := RoomCmd{Type: typ, apply: apply, done: make(chan error, 1)}
	select {
	case rm.cmds <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	case <-r.quit:
		return ErrClosed
	}

	// The outcome is recorded by roomCycle, which sees the commit itself.
	select {
	case err = <-cmd.done:
	case <-ctx.Done():
		err = ctx.Err()
	case <-r.quit:
		err = ErrClosed
	}
	return err
}

func (r *Rooms) room(id uuid.UUID) (*room, error) {
	r.roomsMutex.RLock()
	defer r.roomsMutex.RUnlock()
	rm, ok := r.roomsIndex[id]
	if !ok {
		return nil, errors.Wrapf(ErrRoomNotFound, "id %s", id)
	}
	return rm, nil
}

// Lookup resolves a human-typed code to its room.
func (r *Rooms) Lookup(code string) (entities.Room, error) {
	reg, err := r.registry.Lookup(NormalizeRoomCode(code))
	if err == store.ErrNotFound {
		return entities.Room{}, errors.Wrapf(ErrRoomNotFound, "code %q", code)
	}
	if err != nil {
		return entities.Room{}, err
	}
	return r.Room(reg.ID)
}

func (r *Rooms) Room(id uuid.UUID) (entities.Room, error) {
	rm, err := r.room(id)
	if err != nil {
		return entities.Room{}, err
	}
	return rm.db.Read().Room()
}

// Count is the number of live rooms.
func (r *Rooms) Count() int {
	r.roomsMutex.RLock()
	defer r.roomsMutex.RUnlock()
	return len(r.roomsIndex)
}

// Close stops every room goroutine. Pending callers get ErrClosed.
func (r *Rooms) Close() {
	r.closeOnce.Do(func() {
		close(r.quit)
	})
	r.wg.Wait()
}
