package fanout

import (
	"cake-server/internal/entities"

	"github.com/google/uuid"
)

type Kind string

const (
	KindRoom      Kind = "room"
	KindPlayer    Kind = "player"
	KindEntry     Kind = "entry"
	KindPlacement Kind = "placement"
	KindVote      Kind = "vote"
	// KindResync tells a subscriber it fell behind and must fetch a new snapshot.
	KindResync Kind = "resync"
)

// Event is one committed change. Exactly one payload field is set, matching
// Kind, and applying it is an idempotent upsert keyed by the entity's key.
type Event struct {
	RoomID    uuid.UUID           `json:"room_id"`
	Seq       uint64              `json:"seq"`
	Kind      Kind                `json:"kind"`
	Room      *entities.Room      `json:"room,omitempty"`
	Player    *entities.Player    `json:"player,omitempty"`
	Entry     *entities.Entry     `json:"entry,omitempty"`
	Placement *entities.Placement `json:"placement,omitempty"`
	Vote      *entities.Vote      `json:"vote,omitempty"`
}

// Key identifies the entity an event upserts; events with the same key are
// delivered in commit order.
func (e Event) Key() string {
	switch e.Kind {
	case KindRoom:
		return "room/" + e.RoomID.String()
	case KindPlayer:
		return "player/" + e.Player.ID.String()
	case KindEntry:
		return "entry/" + e.Entry.ID.String()
	case KindPlacement:
		return "placement/" + e.Placement.EntryID.String()
	case KindVote:
		return "vote/" + string(e.Vote.Category) + "/" + e.Vote.VoterPlayerID.String()
	}
	return string(e.Kind)
}

func RoomEvent(r entities.Room) Event {
	return Event{RoomID: r.ID, Kind: KindRoom, Room: &r}
}

func PlayerEvent(p entities.Player) Event {
	return Event{RoomID: p.RoomID, Kind: KindPlayer, Player: &p}
}

func EntryEvent(e entities.Entry) Event {
	return Event{RoomID: e.RoomID, Kind: KindEntry, Entry: &e}
}

func PlacementEvent(p entities.Placement) Event {
	return Event{RoomID: p.RoomID, Kind: KindPlacement, Placement: &p}
}

func VoteEvent(v entities.Vote) Event {
	return Event{RoomID: v.RoomID, Kind: KindVote, Vote: &v}
}
