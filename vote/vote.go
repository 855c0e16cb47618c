// Package vote implements ingestion, deduplication, and tallying of live
// match votes. One voter holds at most one vote per match; a repeat vote
// replaces the prior choice instead of accumulating, so the tally always
// reflects each voter's latest pick. All write paths (HTTP and chat bot)
// go through Service.RecordVote.
package vote

import (
	"errors"
	"time"
)

var (
	// ErrInvalidItem is returned when the submitted item is not one of the
	// two contestants of the target match.
	ErrInvalidItem = errors.New("item is not a contestant of this match")

	// ErrUnknownMatch is returned when the tournament has no such match.
	ErrUnknownMatch = errors.New("unknown match")

	// ErrMissingVoter is returned when no voter identity was supplied.
	ErrMissingVoter = errors.New("missing voter key")
)

// Vote is one voter's current choice for a specific match.
type Vote struct {
	TournamentID string    `json:"tournamentId"`
	MatchIndex   int       `json:"matchIndex"`
	ItemID       string    `json:"itemId"`
	VoterKey     string    `json:"voterKey"`
	CastAt       time.Time `json:"castAt"`
}

// Tally is the derived per-item distinct-voter count for a match. The sum of
// Counts equals Total, the number of distinct voters who voted in the match.
// Both contestants are always present in Counts, at zero if unvoted.
type Tally struct {
	Counts map[string]int `json:"matchVoteTally"`
	Total  int            `json:"matchTotalVotes"`
}
