package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/onnwee/bracket-live/backend/room"
	"github.com/onnwee/bracket-live/backend/session"
	"github.com/onnwee/bracket-live/backend/testutil"
	"github.com/onnwee/bracket-live/backend/vote"
)

func TestSessionAndProgressEndpoints(t *testing.T) {
	db := testutil.SetupTestDB(t)
	rooms := room.NewBroadcaster()
	votes := vote.NewService(db, rooms)
	sessions := session.NewStore(db, 0)
	mux := NewMux(context.Background(), db, votes, sessions, rooms)

	tid := "t-" + generateRandomID()
	uid := "user-" + generateRandomID()

	// Starting a session twice yields the same session id.
	start := func() session.Session {
		body, _ := json.Marshal(map[string]string{"twitchChannel": "somechannel"})
		req := httptest.NewRequest(http.MethodPost, "/tournaments/"+tid+"/session", bytes.NewReader(body))
		req.Header.Set("X-User-ID", uid)
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("session start status = %d, body = %s", w.Code, w.Body.String())
		}
		var s session.Session
		if err := json.Unmarshal(w.Body.Bytes(), &s); err != nil {
			t.Fatalf("decode session: %v", err)
		}
		return s
	}
	first := start()
	second := start()
	if first.ID != second.ID {
		t.Fatalf("session restart changed id: %s vs %s", first.ID, second.ID)
	}
	if !second.IsActive {
		t.Fatal("restarted session should be active")
	}

	// Save progress and read it back with derived statuses.
	p := session.Progress{
		CurrentMatchIndex:  1,
		CurrentRoundNumber: 1,
		Matches: []session.Match{
			{Item1ID: "a", Item2ID: "b", Item1Score: 2, Item2Score: 1},
			{Item1ID: "c", Item2ID: "d"},
		},
		Participants: []string{"a", "b", "c", "d"},
		Scores:       map[string]int{"a": 2, "b": 1},
	}
	body, _ := json.Marshal(p)
	req := httptest.NewRequest(http.MethodPut, "/tournaments/"+tid+"/progress", bytes.NewReader(body))
	req.Header.Set("X-User-ID", uid)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("progress save status = %d, body = %s", w.Code, w.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/tournaments/"+tid+"/progress", nil)
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("progress load status = %d", w.Code)
	}
	var loaded session.Progress
	if err := json.Unmarshal(w.Body.Bytes(), &loaded); err != nil {
		t.Fatalf("decode progress: %v", err)
	}
	if loaded.TournamentID != tid || loaded.CurrentMatchIndex != 1 {
		t.Fatalf("unexpected progress: %+v", loaded)
	}
	if loaded.Matches[0].Status != session.MatchPassed || loaded.Matches[1].Status != session.MatchCurrent {
		t.Fatalf("statuses not derived: %+v", loaded.Matches)
	}

	// The viewer's sessions list includes this tournament.
	req = httptest.NewRequest(http.MethodGet, "/sessions", nil)
	req.Header.Set("X-User-ID", uid)
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("sessions list status = %d", w.Code)
	}
	var list []session.Session
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode sessions: %v", err)
	}
	if len(list) != 1 || list[0].TournamentID != tid {
		t.Fatalf("unexpected sessions list: %+v", list)
	}

	// limit=0 default returns everything; an explicit limit truncates.
	req = httptest.NewRequest(http.MethodGet, "/sessions?limit=1", nil)
	req.Header.Set("X-User-ID", uid)
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode limited sessions: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("limited list length = %d", len(list))
	}
}

func TestProgressLoadDefault(t *testing.T) {
	db := testutil.SetupTestDB(t)
	rooms := room.NewBroadcaster()
	votes := vote.NewService(db, rooms)
	sessions := session.NewStore(db, 0)
	mux := NewMux(context.Background(), db, votes, sessions, rooms)

	tid := "t-" + generateRandomID()
	req := httptest.NewRequest(http.MethodGet, "/tournaments/"+tid+"/progress", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d for untouched tournament", w.Code)
	}
	var p session.Progress
	if err := json.Unmarshal(w.Body.Bytes(), &p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.CurrentMatchIndex != 0 || len(p.Matches) != 0 {
		t.Fatalf("expected zeroed default, got %+v", p)
	}
	if p.Matches == nil || p.Participants == nil {
		t.Fatal("slices should marshal as [] not null")
	}
}

func TestSessionsListRequiresIdentity(t *testing.T) {
	rooms := room.NewBroadcaster()
	h := NewHandlers(nil, nil, nil, rooms)
	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	w := httptest.NewRecorder()
	h.HandleSessionsList(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}
