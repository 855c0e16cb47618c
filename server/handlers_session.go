package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/onnwee/bracket-live/backend/session"
	"github.com/onnwee/bracket-live/backend/telemetry"
)

// HandleSessionStart creates or reactivates the viewer's session for a
// tournament. POST /tournaments/{id}/session.
func (h *Handlers) HandleSessionStart(w http.ResponseWriter, r *http.Request) {
	tournamentID := r.PathValue("id")
	uid := userID(r)
	if uid == "" {
		http.Error(w, "missing user identity (X-User-ID or X-Device-ID)", http.StatusBadRequest)
		return
	}

	var body struct {
		TwitchChannel string `json:"twitchChannel"`
		DeviceID      string `json:"deviceId"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
	}
	if body.DeviceID == "" {
		body.DeviceID = r.Header.Get("X-Device-ID")
	}

	sess, err := h.sessions.StartSession(r.Context(), tournamentID, uid, body.TwitchChannel, body.DeviceID)
	if err != nil {
		telemetry.LoggerWithCorr(r.Context()).Error("start session failed",
			slog.String("tournament_id", tournamentID), slog.Any("err", err))
		http.Error(w, "failed to start session", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(sess)
}

// HandleProgressLoad returns the tournament's last-known progress, or the
// zeroed default when the tournament hasn't started. The caller re-derives
// the current match tally from the votes endpoint, not from here.
// GET /tournaments/{id}/progress.
func (h *Handlers) HandleProgressLoad(w http.ResponseWriter, r *http.Request) {
	tournamentID := r.PathValue("id")
	p, err := h.sessions.LoadProgress(r.Context(), tournamentID)
	if err != nil {
		telemetry.LoggerWithCorr(r.Context()).Error("load progress failed",
			slog.String("tournament_id", tournamentID), slog.Any("err", err))
		http.Error(w, "failed to load progress", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(p)
}

// HandleProgressSave persists a full tournament progress snapshot.
// PUT /tournaments/{id}/progress.
func (h *Handlers) HandleProgressSave(w http.ResponseWriter, r *http.Request) {
	tournamentID := r.PathValue("id")
	var p session.Progress
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	p.TournamentID = tournamentID

	if err := h.sessions.SaveProgress(r.Context(), p); err != nil {
		telemetry.LoggerWithCorr(r.Context()).Error("save progress failed",
			slog.String("tournament_id", tournamentID), slog.Any("err", err))
		http.Error(w, "failed to save progress", http.StatusInternalServerError)
		return
	}

	// Best-effort recency bump for the caller's own session.
	if uid := userID(r); uid != "" {
		h.sessions.Touch(r.Context(), tournamentID, uid)
	}

	session.Classify(&p)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(p)
}

// HandleSessionsList returns the viewer's active sessions, most recent
// first, to drive a "continue tournament" affordance. GET /sessions.
func (h *Handlers) HandleSessionsList(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		http.Error(w, "missing user identity (X-User-ID or X-Device-ID)", http.StatusBadRequest)
		return
	}
	sessions, err := h.sessions.ActiveSessionsForUser(r.Context(), uid)
	if err != nil {
		telemetry.LoggerWithCorr(r.Context()).Error("list sessions failed", slog.Any("err", err))
		http.Error(w, "failed to list sessions", http.StatusInternalServerError)
		return
	}
	if limit := parseIntQuery(r, "limit", 0); limit > 0 && limit < len(sessions) {
		sessions = sessions[:limit]
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(sessions)
}
