package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/bracket-live/backend/room"
)

// flushableRecorder wraps httptest.ResponseRecorder to implement http.Flusher
type flushableRecorder struct {
	*httptest.ResponseRecorder
	mu      sync.Mutex
	flushed int
}

func newFlushableRecorder() *flushableRecorder {
	return &flushableRecorder{
		ResponseRecorder: httptest.NewRecorder(),
	}
}

func (f *flushableRecorder) Flush() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushed++
}

func (f *flushableRecorder) FlushCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flushed
}

// sseFrames splits a raw SSE response body into its data payloads.
func sseFrames(body string) []string {
	var frames []string
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "data: ") {
			frames = append(frames, strings.TrimPrefix(line, "data: "))
		}
	}
	return frames
}

func TestVoteStreamKeepaliveFirst(t *testing.T) {
	rooms := room.NewBroadcaster()
	h := NewHandlers(nil, nil, nil, rooms)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/tournaments/t1/stream", nil).WithContext(ctx)
	req.SetPathValue("id", "t1")
	w := newFlushableRecorder()

	done := make(chan struct{})
	go func() {
		h.HandleVoteStream(w, req)
		close(done)
	}()

	// Wait for the subscriber to attach, then drop the client.
	deadline := time.Now().Add(2 * time.Second)
	for rooms.Subscribers("t1") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("stream never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if got := w.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("Content-Type = %q, want text/event-stream", got)
	}
	frames := sseFrames(w.Body.String())
	if len(frames) == 0 {
		t.Fatal("expected at least the connected keepalive frame")
	}
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal([]byte(frames[0]), &env); err != nil {
		t.Fatalf("first frame is not json: %v", err)
	}
	if env.Type != "connected" {
		t.Fatalf("first frame type = %q, want connected", env.Type)
	}
	if w.FlushCount() == 0 {
		t.Fatal("expected the keepalive to be flushed immediately")
	}
	if rooms.Subscribers("t1") != 0 {
		t.Fatalf("subscriber leaked after disconnect: %d", rooms.Subscribers("t1"))
	}
}

func TestVoteStreamDeliversPublishedVotes(t *testing.T) {
	rooms := room.NewBroadcaster()
	h := NewHandlers(nil, nil, nil, rooms)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/tournaments/t1/stream", nil).WithContext(ctx)
	req.SetPathValue("id", "t1")
	w := newFlushableRecorder()

	done := make(chan struct{})
	go func() {
		h.HandleVoteStream(w, req)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for rooms.Subscribers("t1") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("stream never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	rooms.Publish("t1", room.VoteCast{
		TournamentID: "t1",
		MatchIndex:   0,
		ItemID:       "item-a",
		VoterKey:     "user:alice",
		CastAt:       time.Now().UTC(),
		Tally:        map[string]int{"item-a": 1, "item-b": 0},
		TotalVotes:   1,
	})
	// Publish to another room; it must not reach this stream.
	rooms.Publish("t2", room.VoteCast{TournamentID: "t2", ItemID: "other"})

	// Give the writer loop time to drain the sink.
	time.Sleep(100 * time.Millisecond)
	cancel()
	<-done

	frames := sseFrames(w.Body.String())
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2 (connected + voteCast): %v", len(frames), frames)
	}
	ev, err := room.DecodeEvent([]byte(frames[1]))
	if err != nil {
		t.Fatalf("decode voteCast frame: %v", err)
	}
	vc, ok := ev.(room.VoteCast)
	if !ok {
		t.Fatalf("second frame is %T, want room.VoteCast", ev)
	}
	if vc.ItemID != "item-a" || vc.TotalVotes != 1 {
		t.Fatalf("unexpected voteCast payload: %+v", vc)
	}
	if vc.Tally["item-b"] != 0 {
		t.Fatalf("expected zero-count contestant in tally, got %v", vc.Tally)
	}
}

func TestVoteStreamRequiresFlusher(t *testing.T) {
	rooms := room.NewBroadcaster()
	h := NewHandlers(nil, nil, nil, rooms)

	req := httptest.NewRequest(http.MethodGet, "/tournaments/t1/stream", nil)
	req.SetPathValue("id", "t1")
	w := &nonFlushingWriter{header: make(http.Header)}

	h.HandleVoteStream(w, req)
	if w.status != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", w.status, http.StatusInternalServerError)
	}
	if rooms.Subscribers("t1") != 0 {
		t.Fatal("non-streaming client must not be subscribed")
	}
}

// nonFlushingWriter deliberately does not implement http.Flusher.
type nonFlushingWriter struct {
	header http.Header
	status int
}

func (w *nonFlushingWriter) Header() http.Header       { return w.header }
func (w *nonFlushingWriter) Write(b []byte) (int, error) { return len(b), nil }
func (w *nonFlushingWriter) WriteHeader(status int)    { w.status = status }
