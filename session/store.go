package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/bracket-live/backend/telemetry"
)

// Store persists sessions and tournament progress in Postgres.
//
// idleExpiry controls whether sessions abandoned without an explicit end stop
// being listed as resumable. Zero means sessions never expire server-side;
// the row simply goes stale. This is an explicit configuration choice
// (SESSION_IDLE_EXPIRY), not a hidden constant.
type Store struct {
	db         *sql.DB
	idleExpiry time.Duration
}

// NewStore creates a session store. idleExpiry of 0 disables expiry.
func NewStore(db *sql.DB, idleExpiry time.Duration) *Store {
	return &Store{db: db, idleExpiry: idleExpiry}
}

// StartSession creates a session for (tournamentID, userID), or reactivates
// the existing one: calling it twice yields one active session, with
// last_activity refreshed. twitchChannel and deviceID are optional and only
// overwrite stored values when non-empty.
func (s *Store) StartSession(ctx context.Context, tournamentID, userID, twitchChannel, deviceID string) (Session, error) {
	if tournamentID == "" || userID == "" {
		return Session{}, fmt.Errorf("start session: tournament id and user id are required")
	}
	sess := Session{
		TournamentID:  tournamentID,
		UserID:        userID,
		DeviceID:      deviceID,
		TwitchChannel: twitchChannel,
		IsActive:      true,
	}
	var device, channel sql.NullString
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO tournament_sessions (id, tournament_id, user_id, device_id, twitch_channel, is_active, started_at, last_activity_at)
		VALUES ($1,$2,$3,NULLIF($4,''),NULLIF($5,''),TRUE,NOW(),NOW())
		ON CONFLICT (tournament_id, user_id) DO UPDATE SET
			is_active=TRUE,
			last_activity_at=NOW(),
			device_id=COALESCE(EXCLUDED.device_id, tournament_sessions.device_id),
			twitch_channel=COALESCE(EXCLUDED.twitch_channel, tournament_sessions.twitch_channel)
		RETURNING id, device_id, twitch_channel, started_at, last_activity_at`,
		uuid.NewString(), tournamentID, userID, deviceID, twitchChannel).
		Scan(&sess.ID, &device, &channel, &sess.StartedAt, &sess.LastActivityAt)
	if err != nil {
		return Session{}, fmt.Errorf("upsert session: %w", err)
	}
	sess.DeviceID = device.String
	sess.TwitchChannel = channel.String
	telemetry.CountSessionStarted()
	return sess, nil
}

// Touch refreshes a session's last-activity timestamp. Missing sessions are
// a no-op; activity tracking is best-effort.
func (s *Store) Touch(ctx context.Context, tournamentID, userID string) {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tournament_sessions SET last_activity_at=NOW() WHERE tournament_id=$1 AND user_id=$2`,
		tournamentID, userID)
	if err != nil {
		slog.Warn("session touch failed", slog.String("tournament_id", tournamentID), slog.Any("err", err))
	}
}

// EndSession marks the user's session for a tournament inactive.
func (s *Store) EndSession(ctx context.Context, tournamentID, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tournament_sessions SET is_active=FALSE, last_activity_at=NOW() WHERE tournament_id=$1 AND user_id=$2`,
		tournamentID, userID)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}

// progressPayload is the JSONB shape of the bracket snapshot. Match statuses
// are derived, so they are stripped before storage.
type progressPayload struct {
	Matches      []Match        `json:"matches"`
	Participants []string       `json:"participants"`
	Scores       map[string]int `json:"scores"`
}

// SaveProgress persists the full tournament snapshot and refreshes the match
// contestant registry used by vote validation. When the snapshot carries a
// winner, every active session for the tournament is marked completed.
func (s *Store) SaveProgress(ctx context.Context, p Progress) error {
	if p.TournamentID == "" {
		return fmt.Errorf("save progress: tournament id is required")
	}

	payload := progressPayload{
		Matches:      make([]Match, len(p.Matches)),
		Participants: p.Participants,
		Scores:       p.Scores,
	}
	copy(payload.Matches, p.Matches)
	for i := range payload.Matches {
		payload.Matches[i].Status = ""
	}
	blob, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal progress payload: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin progress tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tournament_progress (tournament_id, current_match_index, current_round_number, winner_id, payload, updated_at)
		VALUES ($1,$2,$3,NULLIF($4,''),$5,NOW())
		ON CONFLICT (tournament_id) DO UPDATE SET
			current_match_index=EXCLUDED.current_match_index,
			current_round_number=EXCLUDED.current_round_number,
			winner_id=EXCLUDED.winner_id,
			payload=EXCLUDED.payload,
			updated_at=NOW()`,
		p.TournamentID, p.CurrentMatchIndex, p.CurrentRoundNumber, p.WinnerID, blob)
	if err != nil {
		return fmt.Errorf("upsert progress: %w", err)
	}

	for i, m := range p.Matches {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO matches (tournament_id, match_index, item1_id, item2_id)
			VALUES ($1,$2,$3,$4)
			ON CONFLICT (tournament_id, match_index)
			DO UPDATE SET item1_id=EXCLUDED.item1_id, item2_id=EXCLUDED.item2_id, updated_at=NOW()`,
			p.TournamentID, i, m.Item1ID, m.Item2ID)
		if err != nil {
			return fmt.Errorf("upsert match %d: %w", i, err)
		}
	}

	if p.Completed() {
		_, err = tx.ExecContext(ctx,
			`UPDATE tournament_sessions SET is_active=FALSE, last_activity_at=NOW() WHERE tournament_id=$1 AND is_active`,
			p.TournamentID)
		if err != nil {
			return fmt.Errorf("complete sessions: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit progress tx: %w", err)
	}
	telemetry.CountProgressSave()
	return nil
}

// LoadProgress returns the last-known snapshot with match statuses derived.
// A tournament with no saved progress yields the zeroed default; callers must
// treat that as "not yet started", not an error.
func (s *Store) LoadProgress(ctx context.Context, tournamentID string) (Progress, error) {
	p := Progress{
		TournamentID: tournamentID,
		Matches:      []Match{},
		Participants: []string{},
		Scores:       map[string]int{},
	}
	var winner sql.NullString
	var blob []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT current_match_index, current_round_number, winner_id, payload
		FROM tournament_progress WHERE tournament_id=$1`,
		tournamentID).Scan(&p.CurrentMatchIndex, &p.CurrentRoundNumber, &winner, &blob)
	if err == sql.ErrNoRows {
		return p, nil
	}
	if err != nil {
		return Progress{}, fmt.Errorf("load progress: %w", err)
	}
	p.WinnerID = winner.String

	var payload progressPayload
	if err := json.Unmarshal(blob, &payload); err != nil {
		return Progress{}, fmt.Errorf("unmarshal progress payload: %w", err)
	}
	if payload.Matches != nil {
		p.Matches = payload.Matches
	}
	if payload.Participants != nil {
		p.Participants = payload.Participants
	}
	if payload.Scores != nil {
		p.Scores = payload.Scores
	}

	Classify(&p)
	return p, nil
}

// ActiveSessionsForUser lists the tournaments the user can resume, most
// recently active first. When idle expiry is configured, sessions idle past
// the cutoff are omitted.
func (s *Store) ActiveSessionsForUser(ctx context.Context, userID string) ([]Session, error) {
	q := `
		SELECT id, tournament_id, user_id, device_id, twitch_channel, is_active, started_at, last_activity_at
		FROM tournament_sessions
		WHERE user_id=$1 AND is_active`
	args := []any{userID}
	if s.idleExpiry > 0 {
		q += ` AND last_activity_at > NOW() - make_interval(secs => $2)`
		args = append(args, s.idleExpiry.Seconds())
	}
	q += ` ORDER BY last_activity_at DESC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Warn("failed to close rows", slog.Any("err", err))
		}
	}()

	out := make([]Session, 0)
	for rows.Next() {
		var sess Session
		var device, channel sql.NullString
		if err := rows.Scan(&sess.ID, &sess.TournamentID, &sess.UserID, &device, &channel,
			&sess.IsActive, &sess.StartedAt, &sess.LastActivityAt); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		sess.DeviceID = device.String
		sess.TwitchChannel = channel.String
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session rows: %w", err)
	}
	return out, nil
}
