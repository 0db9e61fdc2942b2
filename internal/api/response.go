package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"cake-server/internal/core"
	"cake-server/internal/entities"
)

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Warn().Err(err).Msg("Failed to write response")
	}
}

func statusOf(err error) int {
	switch core.Kind(err) {
	case core.ErrNotFound:
		return http.StatusNotFound
	case core.ErrValidation:
		return http.StatusBadRequest
	case core.ErrConflict:
		return http.StatusConflict
	case core.ErrUnauthorized:
		return http.StatusForbidden
	case core.ErrUpstreamUnavailable:
		return http.StatusBadGateway
	}
	if errors.Is(err, core.ErrClosed) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
		writeJSON(w, status, errorBody{Error: "internal error"})
		return
	}
	log.Debug().Err(err).Str("path", r.URL.Path).Int("status", status).Msg("Request rejected")
	writeJSON(w, status, errorBody{Error: err.Error()})
}

// decode reads a JSON body into dst. An empty body leaves dst untouched.
func decode(r *http.Request, dst interface{}) error {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || err == io.EOF {
		return nil
	}
	return errors.Wrap(core.ErrValidation, "malformed request body")
}

func (s *Server) roomOf(r *http.Request) (entities.Room, error) {
	return s.rooms.Lookup(mux.Vars(r)["code"])
}

// member is the player acting for this request's device in room.
func (s *Server) member(r *http.Request, room entities.Room) (entities.Player, error) {
	player, err := s.rooms.PlayerByDevice(room.ID, deviceFrom(r.Context()).ID)
	if errors.Is(err, core.ErrPlayerNotFound) {
		return entities.Player{}, errors.Wrap(core.ErrUnauthorized, "join the room first")
	}
	return player, err
}

func parseID(raw, what string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, errors.Wrapf(core.ErrValidation, "invalid %s %q", what, raw)
	}
	return id, nil
}

func errValidation(format string, args ...interface{}) error {
	return errors.Wrapf(core.ErrValidation, format, args...)
}
