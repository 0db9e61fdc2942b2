package store

import (
	"strings"

	"github.com/google/uuid"
	"github.com/hashicorp/go-memdb"
)

const tableRegistrations = "registrations"

// Registration maps a human-typed room code to the room id. Both are immutable.
type Registration struct {
	ID   uuid.UUID
	Code string
}

// Registry is the global code -> room index. It is written once per room, on
// creation, so it is the only state shared across rooms.
type Registry struct {
	db *memdb.MemDB
}

func NewRegistry() (*Registry, error) {
	schema := &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			tableRegistrations: {
				Name: tableRegistrations,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &uuidFieldIndex{Field: "ID"},
					},
					"code": {
						Name:    "code",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "Code"},
					},
				},
			},
		},
	}

	db, err := memdb.NewMemDB(schema)
	if err != nil {
		return nil, err
	}
	return &Registry{db: db}, nil
}

// Register inserts reg unless its id or code is already taken.
func (r *Registry) Register(reg Registration) error {
	txn := r.db.Txn(true)
	defer txn.Abort()

	for index, arg := range map[string]interface{}{"id": reg.ID, "code": reg.Code} {
		existing, err := txn.First(tableRegistrations, index, arg)
		if err != nil {
			return err
		}
		if existing != nil {
			return ErrConflict
		}
	}

	if err := txn.Insert(tableRegistrations, &reg); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

// Lookup resolves a code, case-insensitively, to its registration.
func (r *Registry) Lookup(code string) (Registration, error) {
	txn := r.db.Txn(false)
	raw, err := txn.First(tableRegistrations, "code", strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return Registration{}, err
	}
	if raw == nil {
		return Registration{}, ErrNotFound
	}
	return *raw.(*Registration), nil
}

func (r *Registry) Len() int {
	txn := r.db.Txn(false)
	it, err := txn.Get(tableRegistrations, "id")
	if err != nil {
		return 0
	}
	n := 0
	for obj := it.Next(); obj != nil; obj = it.Next() {
		n++
	}
	return n
}
