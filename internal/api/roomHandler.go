package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"cake-server/internal/core"
	"cake-server/internal/entities"
)

type CreateRoomRequest struct {
	HostName string `json:"host_name"`
}

type CreateRoomResponse struct {
	RoomCode string          `json:"room_code"`
	Room     entities.Room   `json:"room"`
	Player   entities.Player `json:"player"`
}

type JoinRequest struct {
	Name string `json:"name"`
}

type MembershipResponse struct {
	Room   entities.Room   `json:"room"`
	Player entities.Player `json:"player"`
}

type PlacementRequest struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
}

type VoteRequest struct {
	EntryID string `json:"entry_id"`
	Value   *int   `json:"value"`
}

type AdvanceRequest struct {
	Expect *core.Cursor `json:"expect"`
}

type RenameRequest struct {
	Name string `json:"name"`
}

type TallyResponse struct {
	Category entities.Category `json:"category"`
	Rows     []core.TallyRow   `json:"rows"`
	Winner   *core.TallyRow    `json:"winner"`
}

func (s *Server) CreateRoomHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	room, host, err := s.rooms.CreateRoom(r.Context(), req.HostName, deviceFrom(r.Context()).ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, CreateRoomResponse{RoomCode: room.Code, Room: room, Player: host})
}

func (s *Server) JoinHandler(w http.ResponseWriter, r *http.Request) {
	var req JoinRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	room, player, err := s.rooms.ResolvePlayer(r.Context(), mux.Vars(r)["code"], deviceFrom(r.Context()).ID, req.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MembershipResponse{Room: room, Player: player})
}

func (s *Server) SnapshotHandler(w http.ResponseWriter, r *http.Request) {
	room, err := s.roomOf(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	snap, err := s.rooms.Snapshot(room.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) CollectionHandler(w http.ResponseWriter, r *http.Request) {
	room, err := s.roomOf(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var payload interface{}
	switch mux.Vars(r)["collection"] {
	case "players":
		payload, err = s.rooms.ListPlayers(room.ID)
	case "entries":
		payload, err = s.rooms.ListEntries(room.ID)
	case "placements":
		payload, err = s.rooms.ListPlacements(room.ID)
	case "votes":
		payload, err = s.rooms.ListVotes(room.ID)
	case "layout":
		payload, err = s.rooms.Layout(room.ID)
	default:
		http.NotFound(w, r)
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) TallyHandler(w http.ResponseWriter, r *http.Request) {
	room, err := s.roomOf(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	category := entities.Category(r.URL.Query().Get("category"))
	if category == "" {
		category = entities.CategoryWildest
	}
	if !category.Valid() {
		writeError(w, r, errValidation("unknown category %q", category))
		return
	}

	rows, err := s.rooms.Tally(room.ID, category)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res := TallyResponse{Category: category, Rows: rows}
	if len(rows) > 0 && rows[0].Votes > 0 {
		res.Winner = &rows[0]
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) SubmitEntryHandler(w http.ResponseWriter, r *http.Request) {
	room, err := s.roomOf(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	player, err := s.member(r, room)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req core.EntryInput
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	entry, err := s.rooms.SubmitEntry(r.Context(), room.ID, player.ID, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) PlaceEntryHandler(w http.ResponseWriter, r *http.Request) {
	room, err := s.roomOf(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	player, err := s.member(r, room)
	if err != nil {
		writeError(w, r, err)
		return
	}
	entryID, err := parseID(mux.Vars(r)["entry_id"], "entry id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req PlacementRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.X == nil || req.Y == nil {
		writeError(w, r, errValidation("x and y are required"))
		return
	}

	placement, err := s.rooms.PlaceEntry(r.Context(), room.ID, entryID, *req.X, *req.Y, &player.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, placement)
}

func (s *Server) CastVoteHandler(w http.ResponseWriter, r *http.Request) {
	room, err := s.roomOf(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	player, err := s.member(r, room)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req VoteRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	entryID, err := parseID(req.EntryID, "entry id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	value := 1
	if req.Value != nil {
		value = *req.Value
	}

	category := entities.Category(mux.Vars(r)["category"])
	vote, err := s.rooms.CastVote(r.Context(), room.ID, entryID, player.ID, category, value)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, vote)
}

func (s *Server) AdvanceHandler(w http.ResponseWriter, r *http.Request) {
	room, err := s.roomOf(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	player, err := s.member(r, room)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req AdvanceRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	room, err = s.rooms.AdvancePhase(r.Context(), room.ID, player.ID, req.Expect)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (s *Server) RenameHandler(w http.ResponseWriter, r *http.Request) {
	room, err := s.roomOf(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	player, err := s.member(r, room)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req RenameRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	player, err = s.rooms.RenamePlayer(r.Context(), room.ID, player.ID, req.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, player)
}
