package store

import (
	"sort"

	"cake-server/internal/entities"

	"github.com/google/uuid"
	"github.com/hashicorp/go-memdb"
)

const (
	tableRoom       = "room"
	tablePlayers    = "players"
	tableEntries    = "entries"
	tablePlacements = "placements"
	tableVotes      = "votes"
)

func roomSchema() *memdb.DBSchema {
	byID := func(field string) *memdb.IndexSchema {
		return &memdb.IndexSchema{Name: "id", Unique: true, Indexer: &uuidFieldIndex{Field: field}}
	}

	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			tableRoom: {
				Name:    tableRoom,
				Indexes: map[string]*memdb.IndexSchema{"id": byID("ID")},
			},
			tablePlayers: {
				Name: tablePlayers,
				Indexes: map[string]*memdb.IndexSchema{
					"id": byID("ID"),
					"device": {
						Name:    "device",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "DeviceID"},
					},
				},
			},
			tableEntries: {
				Name:    tableEntries,
				Indexes: map[string]*memdb.IndexSchema{"id": byID("ID")},
			},
			tablePlacements: {
				Name:    tablePlacements,
				Indexes: map[string]*memdb.IndexSchema{"id": byID("EntryID")},
			},
			tableVotes: {
				Name: tableVotes,
				Indexes: map[string]*memdb.IndexSchema{
					"id": byID("ID"),
					"voter": {
						Name:   "voter",
						Unique: true,
						Indexer: &memdb.CompoundIndex{
							Indexes: []memdb.Indexer{
								&memdb.StringFieldIndex{Field: "Category"},
								&uuidFieldIndex{Field: "VoterPlayerID"},
							},
						},
					},
				},
			},
		},
	}
}

// RoomDB holds the authoritative state of a single room. Every room gets its
// own memdb so writers of different rooms never share a lock. Writes are
// expected to come from one goroutine; reads may run concurrently and always
// observe a committed state.
type RoomDB struct {
	db *memdb.MemDB
}

func NewRoomDB(room entities.Room) (*RoomDB, error) {
	db, err := memdb.NewMemDB(roomSchema())
	if err != nil {
		return nil, err
	}

	txn := db.Txn(true)
	if err := txn.Insert(tableRoom, &room); err != nil {
		txn.Abort()
		return nil, err
	}
	txn.Commit()

	return &RoomDB{db: db}, nil
}

// Read opens a read-only view pinned to the latest committed state.
func (s *RoomDB) Read() *ReadTx {
	return &ReadTx{txn: s.db.Txn(false)}
}

// Write runs fn in a write transaction. The transaction commits only when fn
// returns commit=true and a nil error; otherwise nothing fn did is visible.
func (s *RoomDB) Write(fn func(tx *WriteTx) (commit bool, err error)) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	commit, err := fn(&WriteTx{ReadTx{txn: txn}})
	if err != nil {
		return err
	}
	if commit {
		txn.Commit()
	}
	return nil
}

type ReadTx struct {
	txn *memdb.Txn
}

func (tx *ReadTx) Room() (entities.Room, error) {
	it, err := tx.txn.Get(tableRoom, "id")
	if err != nil {
		return entities.Room{}, err
	}
	raw := it.Next()
	if raw == nil {
		return entities.Room{}, ErrNotFound
	}
	return *raw.(*entities.Room), nil
}

func (tx *ReadTx) Player(id uuid.UUID) (entities.Player, error) {
	raw, err := tx.txn.First(tablePlayers, "id", id)
	if err != nil {
		return entities.Player{}, err
	}
	if raw == nil {
		return entities.Player{}, ErrNotFound
	}
	return *raw.(*entities.Player), nil
}

func (tx *ReadTx) PlayerByDevice(deviceID string) (entities.Player, error) {
	raw, err := tx.txn.First(tablePlayers, "device", deviceID)
	if err != nil {
		return entities.Player{}, err
	}
	if raw == nil {
		return entities.Player{}, ErrNotFound
	}
	return *raw.(*entities.Player), nil
}

// Players returns all players in join order.
func (tx *ReadTx) Players() ([]entities.Player, error) {
	it, err := tx.txn.Get(tablePlayers, "id")
	if err != nil {
		return nil, err
	}
	players := make([]entities.Player, 0)
	for raw := it.Next(); raw != nil; raw = it.Next() {
		players = append(players, *raw.(*entities.Player))
	}
	sort.SliceStable(players, func(i, j int) bool {
		return players[i].CreatedAt.Before(players[j].CreatedAt)
	})
	return players, nil
}

func (tx *ReadTx) Entry(id uuid.UUID) (entities.Entry, error) {
	raw, err := tx.txn.First(tableEntries, "id", id)
	if err != nil {
		return entities.Entry{}, err
	}
	if raw == nil {
		return entities.Entry{}, ErrNotFound
	}
	return *raw.(*entities.Entry), nil
}

// Entries returns all entries ordered by ordinal.
func (tx *ReadTx) Entries() ([]entities.Entry, error) {
	it, err := tx.txn.Get(tableEntries, "id")
	if err != nil {
		return nil, err
	}
	entries := make([]entities.Entry, 0)
	for raw := it.Next(); raw != nil; raw = it.Next() {
		entries = append(entries, *raw.(*entities.Entry))
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Ordinal < entries[j].Ordinal
	})
	return entries, nil
}

func (tx *ReadTx) Placement(entryID uuid.UUID) (entities.Placement, error) {
	raw, err := tx.txn.First(tablePlacements, "id", entryID)
	if err != nil {
		return entities.Placement{}, err
	}
	if raw == nil {
		return entities.Placement{}, ErrNotFound
	}
	return *raw.(*entities.Placement), nil
}

func (tx *ReadTx) Placements() ([]entities.Placement, error) {
	it, err := tx.txn.Get(tablePlacements, "id")
	if err != nil {
		return nil, err
	}
	placements := make([]entities.Placement, 0)
	for raw := it.Next(); raw != nil; raw = it.Next() {
		placements = append(placements, *raw.(*entities.Placement))
	}
	return placements, nil
}

func (tx *ReadTx) VoteByVoter(category entities.Category, voter uuid.UUID) (entities.Vote, error) {
	raw, err := tx.txn.First(tableVotes, "voter", string(category), voter)
	if err != nil {
		return entities.Vote{}, err
	}
	if raw == nil {
		return entities.Vote{}, ErrNotFound
	}
	return *raw.(*entities.Vote), nil
}

func (tx *ReadTx) Votes() ([]entities.Vote, error) {
	it, err := tx.txn.Get(tableVotes, "id")
	if err != nil {
		return nil, err
	}
	votes := make([]entities.Vote, 0)
	for raw := it.Next(); raw != nil; raw = it.Next() {
		votes = append(votes, *raw.(*entities.Vote))
	}
	return votes, nil
}

type WriteTx struct {
	ReadTx
}

// PutRoom replaces the room row.
func (tx *WriteTx) PutRoom(room entities.Room) error {
	return tx.txn.Insert(tableRoom, &room)
}

// InsertPlayerIfAbsent stores p unless a player already exists for its device,
// in which case the existing player is returned and created is false.
func (tx *WriteTx) InsertPlayerIfAbsent(p entities.Player) (player entities.Player, created bool, err error) {
	existing, err := tx.PlayerByDevice(p.DeviceID)
	switch {
	case err == nil:
		return existing, false, nil
	case err != ErrNotFound:
		return entities.Player{}, false, err
	}

	if _, err := tx.Player(p.ID); err == nil {
		return entities.Player{}, false, ErrConflict
	}
	if err := tx.txn.Insert(tablePlayers, &p); err != nil {
		return entities.Player{}, false, err
	}
	return p, true, nil
}

// ReplacePlayer overwrites an existing player row keyed by id.
func (tx *WriteTx) ReplacePlayer(p entities.Player) error {
	current, err := tx.Player(p.ID)
	if err != nil {
		return err
	}
	if current.DeviceID != p.DeviceID {
		return ErrConflict
	}
	return tx.txn.Insert(tablePlayers, &p)
}

// InsertEntry appends an entry; ids are never reused.
func (tx *WriteTx) InsertEntry(e entities.Entry) error {
	if _, err := tx.Entry(e.ID); err == nil {
		return ErrConflict
	}
	return tx.txn.Insert(tableEntries, &e)
}

// UpsertPlacement replaces the placement of p.EntryID if present and inserts
// it otherwise.
func (tx *WriteTx) UpsertPlacement(p entities.Placement) (replaced bool, err error) {
	_, err = tx.Placement(p.EntryID)
	switch {
	case err == nil:
		replaced = true
	case err != ErrNotFound:
		return false, err
	}
	return replaced, tx.txn.Insert(tablePlacements, &p)
}

// UpsertVote keeps one vote per (category, voter). An existing vote keeps its
// id and creation time and takes the new entry and value.
func (tx *WriteTx) UpsertVote(v entities.Vote) (entities.Vote, bool, error) {
	existing, err := tx.VoteByVoter(v.Category, v.VoterPlayerID)
	switch {
	case err == nil:
		existing.EntryID = v.EntryID
		existing.Value = v.Value
		existing.UpdatedAt = v.UpdatedAt
		return existing, true, tx.txn.Insert(tableVotes, &existing)
	case err != ErrNotFound:
		return entities.Vote{}, false, err
	}

	raw, err := tx.txn.First(tableVotes, "id", v.ID)
	if err != nil {
		return entities.Vote{}, false, err
	}
	if raw != nil {
		return entities.Vote{}, false, ErrConflict
	}
	return v, false, tx.txn.Insert(tableVotes, &v)
}
