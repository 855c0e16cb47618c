package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/onnwee/bracket-live/backend/telemetry"
	"github.com/onnwee/bracket-live/backend/vote"
)

// HandleVoteSubmit records a vote for the current viewer.
// POST /tournaments/{id}/votes with {"itemId": ..., "matchIndex": ...}.
func (h *Handlers) HandleVoteSubmit(w http.ResponseWriter, r *http.Request) {
	tournamentID := r.PathValue("id")
	voter := voterKey(r)
	if voter == "" {
		http.Error(w, "missing voter identity (X-User-ID or X-Device-ID)", http.StatusBadRequest)
		return
	}

	var body struct {
		ItemID     string `json:"itemId"`
		MatchIndex int    `json:"matchIndex"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if body.ItemID == "" {
		http.Error(w, "itemId is required", http.StatusBadRequest)
		return
	}

	v, tally, err := h.votes.RecordVote(r.Context(), tournamentID, body.MatchIndex, body.ItemID, voter)
	switch {
	case errors.Is(err, vote.ErrUnknownMatch):
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	case errors.Is(err, vote.ErrInvalidItem):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		telemetry.LoggerWithCorr(r.Context()).Error("record vote failed",
			slog.String("tournament_id", tournamentID), slog.Any("err", err))
		http.Error(w, "failed to record vote", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"vote":            v,
		"matchVoteTally":  tally.Counts,
		"matchTotalVotes": tally.Total,
	})
}

// HandleMatchVotes returns the current tally for a match.
// GET /tournaments/{id}/matches/{idx}/votes.
func (h *Handlers) HandleMatchVotes(w http.ResponseWriter, r *http.Request) {
	tournamentID := r.PathValue("id")
	tally, err := h.votes.GetMatchVotes(r.Context(), tournamentID, matchIndexPath(r))
	if errors.Is(err, vote.ErrUnknownMatch) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		telemetry.LoggerWithCorr(r.Context()).Error("match tally failed",
			slog.String("tournament_id", tournamentID), slog.Any("err", err))
		http.Error(w, "failed to load tally", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"matchVoteTally":  tally.Counts,
		"matchTotalVotes": tally.Total,
	})
}

// HandleVoteCheck reports whether the viewer already voted in a match, so the
// UI can pre-highlight their prior choice on load or reconnect.
// GET /tournaments/{id}/matches/{idx}/vote-check.
func (h *Handlers) HandleVoteCheck(w http.ResponseWriter, r *http.Request) {
	tournamentID := r.PathValue("id")
	voter := voterKey(r)
	if voter == "" {
		http.Error(w, "missing voter identity (X-User-ID or X-Device-ID)", http.StatusBadRequest)
		return
	}

	out := map[string]any{"hasVoted": false}
	if v, ok := h.votes.GetUserMatchVote(r.Context(), tournamentID, matchIndexPath(r), voter); ok {
		out["hasVoted"] = true
		out["existingVote"] = v
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}
