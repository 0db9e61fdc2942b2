package store

import (
	"fmt"
	"reflect"

	"github.com/google/uuid"
)

// uuidFieldIndex indexes a uuid.UUID struct field by its 16 raw bytes.
// memdb.UUIDFieldIndex only understands string-encoded ids.
type uuidFieldIndex struct {
	Field string
}

func (u *uuidFieldIndex) FromObject(obj interface{}) (bool, []byte, error) {
	v := reflect.Indirect(reflect.ValueOf(obj))
	fv := v.FieldByName(u.Field)
	if !fv.IsValid() {
		return false, nil, fmt.Errorf("field '%s' for %#v is invalid", u.Field, obj)
	}

	id, ok := fv.Interface().(uuid.UUID)
	if !ok {
		return false, nil, fmt.Errorf("field '%s' is not a uuid.UUID", u.Field)
	}
	if id == uuid.Nil {
		return false, nil, nil
	}

	key := make([]byte, len(id))
	copy(key, id[:])
	return true, key, nil
}

func (u *uuidFieldIndex) FromArgs(args ...interface{}) ([]byte, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("must provide only a single argument")
	}
	id, ok := args[0].(uuid.UUID)
	if !ok {
		return nil, fmt.Errorf("argument must be a uuid.UUID: %#v", args[0])
	}

	key := make([]byte, len(id))
	copy(key, id[:])
	return key, nil
}
