package vote

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/bracket-live/backend/room"
	"github.com/onnwee/bracket-live/backend/telemetry"
)

// Publisher fans a room event out to live subscribers. Satisfied by
// *room.Broadcaster; a nil Publisher disables broadcasting.
type Publisher interface {
	Publish(tournamentID string, ev room.Event)
}

// Service validates, deduplicates, persists, and tallies incoming votes.
type Service struct {
	db  *sql.DB
	pub Publisher
}

// NewService creates a vote service writing to db and broadcasting to pub.
func NewService(db *sql.DB, pub Publisher) *Service {
	return &Service{db: db, pub: pub}
}

// RecordVote upserts the voter's choice for (tournamentID, matchIndex) and
// returns the stored vote plus the updated tally. A prior vote by the same
// voter on the same match is replaced, never duplicated. The resulting vote
// event is broadcast to the tournament's room without blocking ingestion on
// delivery.
func (s *Service) RecordVote(ctx context.Context, tournamentID string, matchIndex int, itemID, voterKey string) (Vote, Tally, error) {
	start := time.Now()
	if voterKey == "" {
		telemetry.CountVoteRejected()
		return Vote{}, Tally{}, ErrMissingVoter
	}
	if matchIndex < 0 {
		telemetry.CountVoteRejected()
		return Vote{}, Tally{}, fmt.Errorf("match index %d: %w", matchIndex, ErrUnknownMatch)
	}

	item1, item2, err := s.matchItems(ctx, tournamentID, matchIndex)
	if err != nil {
		telemetry.CountVoteRejected()
		return Vote{}, Tally{}, err
	}
	if itemID != item1 && itemID != item2 {
		telemetry.CountVoteRejected()
		return Vote{}, Tally{}, fmt.Errorf("item %q in match %d: %w", itemID, matchIndex, ErrInvalidItem)
	}

	v := Vote{TournamentID: tournamentID, MatchIndex: matchIndex, ItemID: itemID, VoterKey: voterKey}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO votes (tournament_id, match_index, item_id, voter_key, cast_at)
		VALUES ($1,$2,$3,$4,NOW())
		ON CONFLICT (tournament_id, match_index, voter_key)
		DO UPDATE SET item_id=EXCLUDED.item_id, updated_at=NOW()
		RETURNING cast_at`,
		tournamentID, matchIndex, itemID, voterKey).Scan(&v.CastAt)
	if err != nil {
		return Vote{}, Tally{}, fmt.Errorf("upsert vote: %w", err)
	}

	tally, err := s.tally(ctx, tournamentID, matchIndex, item1, item2)
	if err != nil {
		return Vote{}, Tally{}, err
	}

	telemetry.CountVoteRecorded()
	if obs := telemetry.VoteRecordDuration; obs != nil {
		obs.Observe(time.Since(start).Seconds())
	}

	if s.pub != nil {
		s.pub.Publish(tournamentID, room.VoteCast{
			TournamentID: tournamentID,
			MatchIndex:   matchIndex,
			ItemID:       itemID,
			VoterKey:     voterKey,
			CastAt:       v.CastAt,
			Tally:        tally.Counts,
			TotalVotes:   tally.Total,
		})
	}

	return v, tally, nil
}

// GetMatchVotes returns the current tally for a match. Used by the HTTP
// endpoint and by session resume, which re-derives state from the tally
// rather than from stream history.
func (s *Service) GetMatchVotes(ctx context.Context, tournamentID string, matchIndex int) (Tally, error) {
	item1, item2, err := s.matchItems(ctx, tournamentID, matchIndex)
	if err != nil {
		return Tally{}, err
	}
	var tally Tally
	telemetry.TimeFunc(telemetry.TallyDuration, func() {
		tally, err = s.tally(ctx, tournamentID, matchIndex, item1, item2)
	})
	return tally, err
}

// HasUserVotedForMatch reports whether the voter already voted in the match.
// Fail-soft: a lookup error is logged and reported as "not voted" since this
// only feeds UI state, not correctness.
func (s *Service) HasUserVotedForMatch(ctx context.Context, tournamentID string, matchIndex int, voterKey string) bool {
	_, ok := s.GetUserMatchVote(ctx, tournamentID, matchIndex, voterKey)
	return ok
}

// GetUserMatchVote returns the voter's current vote for the match, if any.
// Fail-soft like HasUserVotedForMatch.
func (s *Service) GetUserMatchVote(ctx context.Context, tournamentID string, matchIndex int, voterKey string) (Vote, bool) {
	v := Vote{TournamentID: tournamentID, MatchIndex: matchIndex, VoterKey: voterKey}
	err := s.db.QueryRowContext(ctx, `
		SELECT item_id, cast_at FROM votes
		WHERE tournament_id=$1 AND match_index=$2 AND voter_key=$3`,
		tournamentID, matchIndex, voterKey).Scan(&v.ItemID, &v.CastAt)
	if err == sql.ErrNoRows {
		return Vote{}, false
	}
	if err != nil {
		slog.Warn("vote lookup failed; treating as not voted",
			slog.String("tournament_id", tournamentID), slog.Int("match_index", matchIndex), slog.Any("err", err))
		return Vote{}, false
	}
	return v, true
}

func (s *Service) matchItems(ctx context.Context, tournamentID string, matchIndex int) (string, string, error) {
	var item1, item2 string
	err := s.db.QueryRowContext(ctx,
		`SELECT item1_id, item2_id FROM matches WHERE tournament_id=$1 AND match_index=$2`,
		tournamentID, matchIndex).Scan(&item1, &item2)
	if err == sql.ErrNoRows {
		return "", "", fmt.Errorf("tournament %s match %d: %w", tournamentID, matchIndex, ErrUnknownMatch)
	}
	if err != nil {
		return "", "", fmt.Errorf("load match contestants: %w", err)
	}
	return item1, item2, nil
}

// tally groups current votes by item. Contestants with no votes yet are
// reported at zero so callers can render both sides of the match.
func (s *Service) tally(ctx context.Context, tournamentID string, matchIndex int, item1, item2 string) (Tally, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT item_id, COUNT(DISTINCT voter_key)
		FROM votes
		WHERE tournament_id=$1 AND match_index=$2
		GROUP BY item_id`,
		tournamentID, matchIndex)
	if err != nil {
		return Tally{}, fmt.Errorf("tally votes: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Warn("failed to close rows", slog.Any("err", err))
		}
	}()

	t := Tally{Counts: map[string]int{item1: 0, item2: 0}}
	for rows.Next() {
		var itemID string
		var count int
		if err := rows.Scan(&itemID, &count); err != nil {
			return Tally{}, fmt.Errorf("scan tally row: %w", err)
		}
		t.Counts[itemID] = count
		t.Total += count
	}
	if err := rows.Err(); err != nil {
		return Tally{}, fmt.Errorf("iterate tally rows: %w", err)
	}
	return t, nil
}
