// Package session tracks who is watching a tournament (sessions) and where
// the tournament currently is (progress), so a returning viewer or a second
// device can resume an in-progress bracket. Progress is tournament-scoped and
// canonical; a session only records presence and recency. Tally state is
// never stored here: on resume, callers re-derive it from the vote service.
package session

import "time"

// MatchStatus classifies a match relative to the tournament's current match
// index. It is derived on load, never stored.
type MatchStatus string

const (
	MatchPassed   MatchStatus = "passed"
	MatchCurrent  MatchStatus = "current"
	MatchUpcoming MatchStatus = "upcoming"
)

// Session is one user's tracked presence in a tournament. A user may hold
// active sessions in several tournaments at once; within one tournament,
// starting a session again reactivates the existing row.
type Session struct {
	ID             string    `json:"id"`
	TournamentID   string    `json:"tournamentId"`
	UserID         string    `json:"userId"`
	DeviceID       string    `json:"deviceId,omitempty"`
	TwitchChannel  string    `json:"twitchChannel,omitempty"`
	IsActive       bool      `json:"isActive"`
	StartedAt      time.Time `json:"startedAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`
}

// Match is one bracket pairing with its recorded scores. Status is filled in
// from the tournament's current match index when progress is loaded.
type Match struct {
	Item1ID    string      `json:"item1Id"`
	Item2ID    string      `json:"item2Id"`
	Item1Score int         `json:"item1Score"`
	Item2Score int         `json:"item2Score"`
	Status     MatchStatus `json:"status,omitempty"`
}

// Progress is the canonical resumable state of a tournament's bracket.
type Progress struct {
	TournamentID       string         `json:"tournamentId"`
	CurrentMatchIndex  int            `json:"currentMatchIndex"`
	CurrentRoundNumber int            `json:"currentRoundNumber"`
	WinnerID           string         `json:"tournamentWinnerId,omitempty"`
	Matches            []Match        `json:"matches"`
	Participants       []string       `json:"participants"`
	Scores             map[string]int `json:"scores"`
}

// Classify sets each match's status by comparing its position to the current
// match index. Pure derivation; safe to call repeatedly.
func Classify(p *Progress) {
	for i := range p.Matches {
		switch {
		case i < p.CurrentMatchIndex:
			p.Matches[i].Status = MatchPassed
		case i == p.CurrentMatchIndex:
			p.Matches[i].Status = MatchCurrent
		default:
			p.Matches[i].Status = MatchUpcoming
		}
	}
}

// Completed reports whether the tournament has reached a terminal match with
// a winner recorded.
func (p *Progress) Completed() bool {
	return p.WinnerID != ""
}
