// Package server exposes the HTTP API: vote ingestion, live vote streaming,
// session/progress endpoints, health, and metrics. It includes permissive
// CORS for development and injects correlation IDs into request contexts for
// consistent logging.
package server

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/onnwee/bracket-live/backend/room"
	"github.com/onnwee/bracket-live/backend/session"
	"github.com/onnwee/bracket-live/backend/vote"
)

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	db       *sql.DB
	votes    *vote.Service
	sessions *session.Store
	rooms    *room.Broadcaster
	started  time.Time
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(db *sql.DB, votes *vote.Service, sessions *session.Store, rooms *room.Broadcaster) *Handlers {
	return &Handlers{
		db:       db,
		votes:    votes,
		sessions: sessions,
		rooms:    rooms,
		started:  time.Now(),
	}
}

// voterKey derives the stable voter identity for a request: an authenticated
// user id header first, an anonymous device id as fallback. How the caller
// obtained these is outside the core; only stability matters.
func voterKey(r *http.Request) string {
	if id := r.Header.Get("X-User-ID"); id != "" {
		return "user:" + id
	}
	if id := r.Header.Get("X-Device-ID"); id != "" {
		return "device:" + id
	}
	return ""
}

// userID returns the session-owning identity for a request. Anonymous
// devices get sessions too, keyed by their device id.
func userID(r *http.Request) string {
	if id := r.Header.Get("X-User-ID"); id != "" {
		return id
	}
	if id := r.Header.Get("X-Device-ID"); id != "" {
		return "device:" + id
	}
	return ""
}

// matchIndexPath parses the {idx} path segment. Returns -1 on malformed
// input so the vote service rejects it as an unknown match.
func matchIndexPath(r *http.Request) int {
	idx, err := strconv.Atoi(r.PathValue("idx"))
	if err != nil {
		return -1
	}
	return idx
}
