package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/onnwee/bracket-live/backend/room"
	"github.com/onnwee/bracket-live/backend/telemetry"
)

// sinkBuffer is how many events a streaming connection may fall behind
// before it is treated as dead and evicted. Delivery is best-effort;
// consumers re-derive state from the tally, never from stream history.
const sinkBuffer = 16

var errSlowConsumer = errors.New("subscriber buffer full")

// HandleVoteStream streams live vote events for one tournament as
// Server-Sent Events. GET /tournaments/{id}/stream.
func (h *Handlers) HandleVoteStream(w http.ResponseWriter, r *http.Request) {
	tournamentID := r.PathValue("id")
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	// Latency matters more than throughput here: disable intermediary
	// buffering so each event reaches the viewer immediately.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	ctx := r.Context()
	log := telemetry.LoggerWithCorr(ctx)

	// The sink never blocks the publisher: events go into a buffered
	// channel, and a full buffer fails the delivery so the broadcaster
	// evicts this connection. evicted tells the writer loop to stop.
	events := make(chan room.Event, sinkBuffer)
	evicted := make(chan struct{})
	var once sync.Once
	unsubscribe := h.rooms.Subscribe(tournamentID, func(ev room.Event) error {
		select {
		case events <- ev:
			return nil
		default:
			once.Do(func() { close(evicted) })
			return errSlowConsumer
		}
	})
	defer unsubscribe()

	writeEvent := func(ev room.Event) error {
		b, err := room.EncodeEvent(ev)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", b); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	// Synthetic keepalive so the client can tell "connected, zero votes so
	// far" apart from "not yet connected".
	if err := writeEvent(room.Connected{At: time.Now().UTC()}); err != nil {
		log.Debug("stream client gone before keepalive", slog.Any("err", err))
		return
	}

	log.Debug("vote stream attached", slog.String("tournament_id", tournamentID), slog.String("component", "stream"))
	for {
		select {
		case <-ctx.Done():
			// Transport-level disconnect; the deferred unsubscribe keeps the
			// room from leaking this sink.
			return
		case <-evicted:
			return
		case ev := <-events:
			if err := writeEvent(ev); err != nil {
				log.Debug("stream write failed; dropping client",
					slog.String("tournament_id", tournamentID), slog.Any("err", err))
				return
			}
		}
	}
}
