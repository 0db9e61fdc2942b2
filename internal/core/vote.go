package core

import (
	"context"
	"sort"

	"cake-server/internal/entities"
	"cake-server/internal/fanout"
	"cake-server/internal/store"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// CastVote records voter's choice for category, replacing their earlier one.
// Voting is open only in the voting phase.
func (r *Rooms) CastVote(ctx context.Context, roomID, entryID, voter uuid.UUID, category entities.Category, value int) (entities.Vote, error) {
	if !category.Valid() {
		return entities.Vote{}, invalid("unknown category %q", category)
	}
	if value < 1 {
		return entities.Vote{}, invalid("vote value must be positive")
	}

	var vote entities.Vote
	err := r.do(ctx, roomID, Voted, func(tx *store.WriteTx, rm *entities.Room) ([]fanout.Event, error) {
		if err := requirePhase(rm, entities.StatusVoting); err != nil {
			return nil, err
		}
		if _, err := tx.Entry(entryID); err != nil {
			if err == store.ErrNotFound {
				return nil, errors.Wrapf(ErrInvalidEntry, "id %s", entryID)
			}
			return nil, err
		}
		if _, err := tx.Player(voter); err != nil {
			if err == store.ErrNotFound {
				return nil, invalid("voter %s does not belong to room", voter)
			}
			return nil, err
		}

		if prev, err := tx.VoteByVoter(category, voter); err == nil && prev.EntryID == entryID && prev.Value == value {
			vote = prev
			return nil, nil
		}

		now := r.now()
		v, _, err := tx.UpsertVote(entities.Vote{
			ID:            uuid.New(),
			CreatedAt:     now,
			UpdatedAt:     now,
			RoomID:        rm.ID,
			Category:      category,
			VoterPlayerID: voter,
			EntryID:       entryID,
			Value:         value,
		})
		if err != nil {
			return nil, err
		}
		vote = v
		return []fanout.Event{fanout.VoteEvent(v)}, nil
	})
	if err != nil {
		return entities.Vote{}, err
	}
	return vote, nil
}

func (r *Rooms) ListVotes(roomID uuid.UUID) ([]entities.Vote, error) {
	rm, err := r.room(roomID)
	if err != nil {
		return nil, err
	}
	return rm.db.Read().Votes()
}

type TallyRow struct {
	EntryID uuid.UUID `json:"entry_id"`
	Votes   int       `json:"votes"`
	Score   int       `json:"score"`
}

// Tally folds the live votes of category over the room's entries. Every entry
// gets a row; rows are ordered by votes, then submission order. Score sums
// the vote values and is reported only.
func (r *Rooms) Tally(roomID uuid.UUID, category entities.Category) ([]TallyRow, error) {
	rm, err := r.room(roomID)
	if err != nil {
		return nil, err
	}

	read := rm.db.Read()
	entries, err := read.Entries()
	if err != nil {
		return nil, err
	}
	votes, err := read.Votes()
	if err != nil {
		return nil, err
	}
	return tally(entries, votes, category), nil
}

func tally(entries []entities.Entry, votes []entities.Vote, category entities.Category) []TallyRow {
	rows := make([]TallyRow, len(entries))
	index := make(map[uuid.UUID]int, len(entries))
	for i, e := range entries {
		rows[i] = TallyRow{EntryID: e.ID}
		index[e.ID] = i
	}

	for _, v := range votes {
		if v.Category != category {
			continue
		}
		i, ok := index[v.EntryID]
		if !ok {
			continue
		}
		rows[i].Votes++
		rows[i].Score += v.Value
	}

	// rows start in entry order, so ties keep submission order.
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Votes > rows[j].Votes
	})
	return rows
}

// Winner is the leading entry of category, if anyone voted.
func (r *Rooms) Winner(roomID uuid.UUID, category entities.Category) (TallyRow, bool, error) {
	rows, err := r.Tally(roomID, category)
	if err != nil || len(rows) == 0 || rows[0].Votes == 0 {
		return TallyRow{}, false, err
	}
	return rows[0], true, nil
}
