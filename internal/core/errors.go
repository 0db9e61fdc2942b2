package core

import (
	"github.com/pkg/errors"
)

// Error kinds. Every error returned by this package wraps exactly one of them.
var (
	ErrNotFound            = errors.New("not found")
	ErrValidation          = errors.New("invalid input")
	ErrConflict            = errors.New("conflict")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

var (
	ErrRoomNotFound   = errors.Wrap(ErrNotFound, "room")
	ErrPlayerNotFound = errors.Wrap(ErrNotFound, "player")
	ErrInvalidEntry   = errors.Wrap(ErrNotFound, "entry is not part of this room")
	ErrOutOfBounds    = errors.Wrap(ErrValidation, "coordinate outside [0,1]")
	ErrWrongPhase     = errors.Wrap(ErrConflict, "not allowed in the current phase")
	ErrNotHost        = errors.Wrap(ErrUnauthorized, "only the host can change the phase")
	ErrClosed         = errors.New("rooms are shut down")
)

var kinds = []error{ErrNotFound, ErrValidation, ErrConflict, ErrUnauthorized, ErrUpstreamUnavailable}

// Kind returns the kind err belongs to, or nil for unclassified errors.
func Kind(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

func invalid(format string, args ...interface{}) error {
	return errors.Wrapf(ErrValidation, format, args...)
}
