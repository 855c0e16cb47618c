// Package stream provides the consumer side of a tournament's live vote
// feed: a long-lived subscription to the event-stream endpoint that batches
// bursts of vote events and reconnects with bounded backoff. One Client
// manages one tournament's stream for one viewer.
package stream

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/onnwee/bracket-live/backend/room"
)

// State is the connection lifecycle of a Client.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

// Config controls one stream client. URL is required; zero values elsewhere
// pick the defaults below.
type Config struct {
	// URL of the tournament's event-stream endpoint.
	URL string

	// BatchWindow is how long vote events accumulate before the batch handler
	// fires. Collapses bursts into few UI updates. Default 20ms.
	BatchWindow time.Duration

	// MaxRetries bounds consecutive reconnect attempts before the client
	// gives up and reports a connection error. Default 8.
	MaxRetries int

	// MinBackoff/MaxBackoff bound the exponential reconnect delay.
	// Defaults 500ms and 10s.
	MinBackoff time.Duration
	MaxBackoff time.Duration

	// ReconnectDelay is the pause ForceReconnect waits before dialing again.
	// Default 250ms.
	ReconnectDelay time.Duration

	// HTTPClient defaults to a client with no overall timeout, since the
	// stream is long-lived by design.
	HTTPClient *http.Client

	// OnBatch receives each flushed batch of vote events, oldest first.
	OnBatch func([]room.VoteCast)

	// OnConnected fires when the synthetic connected keepalive arrives.
	OnConnected func()

	// OnError fires when retries are exhausted; the UI should show a
	// degraded state rather than hang.
	OnError func(error)
}

// Client is a reconnecting, batching consumer of one vote stream.
type Client struct {
	cfg Config

	mu      sync.Mutex
	state   State
	cancel  context.CancelFunc
	done    chan struct{}
	pending []room.VoteCast
	timer   *time.Timer
}

// New creates a client in the disconnected state. Call Connect to start.
func New(cfg Config) *Client {
	if cfg.BatchWindow <= 0 {
		cfg.BatchWindow = 20 * time.Millisecond
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 8
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 10 * time.Second
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 250 * time.Millisecond
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	return &Client{cfg: cfg, state: StateDisconnected}
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect starts the stream loop. Calling Connect on an already-running
// client is a no-op.
func (c *Client) Connect() {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	c.state = StateConnecting
	done := c.done
	c.mu.Unlock()

	go func() {
		defer close(done)
		c.run(ctx)
	}()
}

// Disconnect stops the stream and flushes any pending batch so the last
// burst before teardown is not silently dropped. The client stays
// disconnected until Connect is called again.
func (c *Client) Disconnect() {
	c.mu.Lock()
	cancel := c.cancel
	done := c.done
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	c.FlushPending()
	c.setState(StateDisconnected)
}

// ForceReconnect tears the connection down and dials again after a short
// delay. Used when the UI suspects a half-dead connection.
func (c *Client) ForceReconnect() {
	c.Disconnect()
	time.AfterFunc(c.cfg.ReconnectDelay, c.Connect)
}

// FlushPending delivers the buffered batch immediately instead of waiting
// for the window timer. Used on unmount/navigation.
func (c *Client) FlushPending() {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	batch := c.pending
	c.pending = nil
	c.mu.Unlock()

	if len(batch) > 0 && c.cfg.OnBatch != nil {
		c.cfg.OnBatch(batch)
	}
}

// run dials until the context is canceled or retries are exhausted.
func (c *Client) run(ctx context.Context) {
	attempt := 0
	for {
		c.setState(StateConnecting)
		gotConnected, err := c.consume(ctx)
		if ctx.Err() != nil {
			return
		}
		if gotConnected {
			// The server accepted us at least once; start the backoff
			// schedule over for the next outage.
			attempt = 0
		}
		attempt++
		if attempt > c.cfg.MaxRetries {
			c.setState(StateDisconnected)
			c.mu.Lock()
			c.cancel = nil
			c.mu.Unlock()
			if c.cfg.OnError != nil {
				c.cfg.OnError(fmt.Errorf("vote stream: giving up after %d attempts: %w", c.cfg.MaxRetries, err))
			}
			return
		}

		c.setState(StateReconnecting)
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.backoff(attempt)):
		}
	}
}

// consume runs one connection until it breaks. It reports whether the
// synthetic connected keepalive was received on this attempt.
func (c *Client) consume(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL, nil)
	if err != nil {
		return false, fmt.Errorf("build stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("dial vote stream: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Debug("failed to close stream body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("vote stream returned status %d", resp.StatusCode)
	}

	gotConnected := false
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		ev, err := room.DecodeEvent([]byte(strings.TrimPrefix(line, "data: ")))
		if err != nil {
			slog.Warn("skipping undecodable stream event", slog.Any("err", err))
			continue
		}
		switch ev := ev.(type) {
		case room.Connected:
			gotConnected = true
			c.setState(StateConnected)
			if c.cfg.OnConnected != nil {
				c.cfg.OnConnected()
			}
		case room.VoteCast:
			c.enqueue(ev)
		}
	}
	if err := scanner.Err(); err != nil {
		return gotConnected, fmt.Errorf("read vote stream: %w", err)
	}
	return gotConnected, fmt.Errorf("vote stream closed by server")
}

// enqueue buffers one vote event and arms the flush timer if it isn't
// already running.
func (c *Client) enqueue(ev room.VoteCast) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = append(c.pending, ev)
	if c.timer == nil {
		c.timer = time.AfterFunc(c.cfg.BatchWindow, c.flushTimer)
	}
}

func (c *Client) flushTimer() {
	c.mu.Lock()
	c.timer = nil
	batch := c.pending
	c.pending = nil
	c.mu.Unlock()

	if len(batch) > 0 && c.cfg.OnBatch != nil {
		c.cfg.OnBatch(batch)
	}
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// backoff returns the bounded exponential delay for the given attempt.
func (c *Client) backoff(attempt int) time.Duration {
	d := c.cfg.MinBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= c.cfg.MaxBackoff {
			return c.cfg.MaxBackoff
		}
	}
	if d > c.cfg.MaxBackoff {
		return c.cfg.MaxBackoff
	}
	return d
}
