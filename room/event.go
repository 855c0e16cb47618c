package room

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event is the closed set of payloads delivered to room subscribers.
// Consumers switch on the concrete type rather than inspecting a type string.
type Event interface {
	eventType() string
}

// Connected is the synthetic keepalive delivered once when a stream attaches.
// It lets a consumer distinguish "live with zero votes so far" from
// "not yet connected".
type Connected struct {
	At time.Time `json:"at"`
}

func (Connected) eventType() string { return "connected" }

// VoteCast carries one stored vote together with the tally it produced.
type VoteCast struct {
	TournamentID string         `json:"tournamentId"`
	MatchIndex   int            `json:"matchIndex"`
	ItemID       string         `json:"itemId"`
	VoterKey     string         `json:"voterKey"`
	CastAt       time.Time      `json:"castAt"`
	Tally        map[string]int `json:"matchVoteTally"`
	TotalVotes   int            `json:"matchTotalVotes"`
}

func (VoteCast) eventType() string { return "vote" }

// envelope is the wire shape written to event-stream frames: {type, data, t}.
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
	T    int64           `json:"t"`
}

// EncodeEvent serializes an event into its wire envelope. The t field is the
// encode time in unix milliseconds.
func EncodeEvent(ev Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", ev.eventType(), err)
	}
	return json.Marshal(envelope{Type: ev.eventType(), Data: data, T: time.Now().UnixMilli()})
}

// DecodeEvent parses a wire envelope back into its concrete event type.
// Unknown envelope types are an error so that a protocol change cannot be
// silently ignored by consumers.
func DecodeEvent(b []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("unmarshal event envelope: %w", err)
	}
	switch env.Type {
	case "connected":
		var ev Connected
		if len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, &ev); err != nil {
				return nil, fmt.Errorf("unmarshal connected event: %w", err)
			}
		}
		return ev, nil
	case "vote":
		var ev VoteCast
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return nil, fmt.Errorf("unmarshal vote event: %w", err)
		}
		return ev, nil
	default:
		return nil, fmt.Errorf("unknown event type %q", env.Type)
	}
}
