// Package room implements the in-process fan-out of live vote events to the
// streaming connections watching a tournament. Rooms are keyed by tournament
// id and exist only while they have subscribers; nothing here is persisted.
package room

import (
	"log/slog"
	"sync"

	"github.com/onnwee/bracket-live/backend/telemetry"
)

// Sink receives one event. A sink must not block; a sink that cannot accept
// the event returns an error and is evicted from the room.
type Sink func(Event) error

// Broadcaster is a mutex-guarded registry of per-tournament subscriber sets.
// It is constructed once in main and injected where needed.
type Broadcaster struct {
	mu     sync.Mutex
	rooms  map[string]map[int64]Sink
	nextID int64
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{rooms: make(map[string]map[int64]Sink)}
}

// Subscribe registers sink for the tournament's room and returns a disposer
// that removes exactly this subscription. Safe for concurrent use from many
// connection handlers. When the disposer drops the last subscriber, the room
// entry itself is removed.
func (b *Broadcaster) Subscribe(tournamentID string, sink Sink) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.rooms[tournamentID] == nil {
		b.rooms[tournamentID] = make(map[int64]Sink)
	}
	b.nextID++
	id := b.nextID
	b.rooms[tournamentID][id] = sink
	telemetry.AddRoomSubscribers(1)

	return func() { b.remove(tournamentID, id) }
}

// Publish delivers ev to every currently-registered sink for the tournament.
// Delivery is at-most-once and never blocks on or aborts for a failed sink:
// the failed sink is removed and the remaining sinks still receive the event.
func (b *Broadcaster) Publish(tournamentID string, ev Event) {
	// Snapshot the subscriber set so concurrent subscribe/unsubscribe cannot
	// corrupt the iteration, then invoke sinks outside the lock.
	b.mu.Lock()
	subs := b.rooms[tournamentID]
	ids := make([]int64, 0, len(subs))
	sinks := make([]Sink, 0, len(subs))
	for id, s := range subs {
		ids = append(ids, id)
		sinks = append(sinks, s)
	}
	b.mu.Unlock()

	for i, sink := range sinks {
		if err := sink(ev); err != nil {
			slog.Warn("evicting dead room subscriber",
				slog.String("tournament_id", tournamentID), slog.Any("err", err))
			b.remove(tournamentID, ids[i])
			telemetry.CountSubscriberEviction()
		}
	}
	telemetry.CountEventPublished(len(sinks))
}

// Subscribers returns the current subscriber count for one tournament.
func (b *Broadcaster) Subscribers(tournamentID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.rooms[tournamentID])
}

// RoomCounts returns a snapshot of subscriber counts per open room,
// used by the status endpoint.
func (b *Broadcaster) RoomCounts() map[string]int {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]int, len(b.rooms))
	for t, subs := range b.rooms {
		out[t] = len(subs)
	}
	return out
}

func (b *Broadcaster) remove(tournamentID string, id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.rooms[tournamentID]
	if !ok {
		return
	}
	if _, ok := subs[id]; !ok {
		// Already removed (unsubscribe raced an eviction); don't double-count.
		return
	}
	delete(subs, id)
	telemetry.AddRoomSubscribers(-1)
	if len(subs) == 0 {
		delete(b.rooms, tournamentID)
	}
}
