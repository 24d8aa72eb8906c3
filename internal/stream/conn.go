// Package stream maintains a push-update connection to a provider:
// subscribe on open, heartbeat while open, reconnect with backoff on
// close. The wire details (URL, subscription frames, message parsing)
// come from a per-provider Spec so one state machine serves every
// provider.
package stream

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// State of the connection lifecycle.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Update is one price delta pushed by the provider. The push channel
// carries price only; every other instrument field is snapshot-owned.
type Update struct {
	ID    string
	Price float64
}

// Spec describes a provider's push protocol.
type Spec struct {
	// URL is the websocket endpoint.
	URL string

	// SubscribeFrames builds the frames to send after the socket opens,
	// already chunked to respect the provider's message-size limit.
	// May return nil when the provider pushes everything unsubscribed.
	SubscribeFrames func(ids []string) [][]byte

	// HeartbeatFrame returns the application-level ping payload, or nil
	// to use a websocket ping control frame.
	HeartbeatFrame func() []byte

	// HeartbeatEvery is the ping cadence.
	HeartbeatEvery time.Duration

	// Parse extracts price updates from one frame. Return nil for
	// heartbeat acks, malformed frames and anything else to ignore;
	// protocol errors are dropped silently.
	Parse func(frame []byte) []Update
}

// Conn is the reconnecting stream connection. Create with New, then
// Start; Stop is terminal and idempotent.
type Conn struct {
	spec    Spec
	backoff Backoff

	onUpdate func([]Update)
	onState  func(State)

	state atomic.Int32

	mu      sync.Mutex
	ws      *websocket.Conn
	ids     []string
	started bool

	// writeMu serializes data-frame writes on ws: gorilla/websocket
	// allows only one concurrent writer, and subscribe frames, app-level
	// heartbeats and the close frame can race from different goroutines.
	// WriteControl has its own lock and stays outside.
	writeMu sync.Mutex

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New creates a Conn. onUpdate receives every parsed batch; onState (may
// be nil) observes lifecycle transitions.
func New(spec Spec, backoff Backoff, onUpdate func([]Update), onState func(State)) *Conn {
	if backoff == nil {
		backoff = Fixed(5 * time.Second)
	}
	return &Conn{
		spec:     spec,
		backoff:  backoff,
		onUpdate: onUpdate,
		onState:  onState,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start opens the connection loop with the given subscription set.
// Calling Start twice is a no-op.
func (c *Conn) Start(ids []string) {
	c.mu.Lock()
	if c.started || c.State() == StateStopped {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.ids = append([]string(nil), ids...)
	c.mu.Unlock()

	go c.run()
}

// SetIDs replaces the subscription set. If the connection is open the
// new subscription frames are sent immediately; either way the set is
// used on every subsequent (re)connect.
func (c *Conn) SetIDs(ids []string) {
	c.mu.Lock()
	c.ids = append([]string(nil), ids...)
	ws := c.ws
	c.mu.Unlock()

	if ws != nil && c.State() == StateOpen {
		c.subscribe(ws)
	}
}

// Stop closes the connection and suppresses all future reconnects.
// Safe to call multiple times and before Start.
func (c *Conn) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		c.setState(StateStopped)
		c.mu.Lock()
		ws := c.ws
		started := c.started
		c.mu.Unlock()
		if ws != nil {
			c.writeFrame(ws, websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			ws.Close()
		}
		if !started {
			close(c.doneCh)
		}
	})
}

// Done is closed once the run loop has fully exited after Stop.
func (c *Conn) Done() <-chan struct{} { return c.doneCh }

// State returns the current lifecycle state.
func (c *Conn) State() State { return State(c.state.Load()) }

// Connected reports whether the socket is currently open.
func (c *Conn) Connected() bool { return c.State() == StateOpen }

func (c *Conn) setState(s State) {
	// Stopped is terminal.
	if State(c.state.Load()) == StateStopped && s != StateStopped {
		return
	}
	c.state.Store(int32(s))
	if c.onState != nil {
		c.onState(s)
	}
}

func (c *Conn) run() {
	defer close(c.doneCh)

	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		c.setState(StateConnecting)
		ws, _, err := websocket.DefaultDialer.Dial(c.spec.URL, nil)
		if err != nil {
			log.Printf("[stream] dial %s: %v", c.spec.URL, err)
			c.setState(StateClosed)
			if !c.waitBackoff() {
				return
			}
			continue
		}

		c.mu.Lock()
		c.ws = ws
		c.mu.Unlock()
		c.setState(StateOpen)
		c.backoff.Reset()

		c.subscribe(ws)

		heartbeatStop := make(chan struct{})
		go c.heartbeat(ws, heartbeatStop)

		c.readLoop(ws)

		close(heartbeatStop)
		ws.Close()
		c.mu.Lock()
		c.ws = nil
		c.mu.Unlock()
		c.setState(StateClosed)

		if !c.waitBackoff() {
			return
		}
	}
}

// waitBackoff sleeps for the backoff delay; false means Stop was called.
func (c *Conn) waitBackoff() bool {
	d := c.backoff.Next()
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-c.stopCh:
		return false
	case <-timer.C:
		return true
	}
}

func (c *Conn) subscribe(ws *websocket.Conn) {
	if c.spec.SubscribeFrames == nil {
		return
	}
	c.mu.Lock()
	ids := append([]string(nil), c.ids...)
	c.mu.Unlock()

	for _, frame := range c.spec.SubscribeFrames(ids) {
		if err := c.writeFrame(ws, websocket.TextMessage, frame); err != nil {
			log.Printf("[stream] subscribe write: %v", err)
			return
		}
	}
}

func (c *Conn) writeFrame(ws *websocket.Conn, messageType int, frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ws.WriteMessage(messageType, frame)
}

func (c *Conn) heartbeat(ws *websocket.Conn, stop <-chan struct{}) {
	every := c.spec.HeartbeatEvery
	if every <= 0 {
		every = 30 * time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			var err error
			if frame := c.heartbeatFrame(); frame != nil {
				err = c.writeFrame(ws, websocket.TextMessage, frame)
			} else {
				err = ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			}
			if err != nil {
				log.Printf("[stream] heartbeat: %v", err)
				return
			}
		}
	}
}

func (c *Conn) heartbeatFrame() []byte {
	if c.spec.HeartbeatFrame == nil {
		return nil
	}
	return c.spec.HeartbeatFrame()
}

func (c *Conn) readLoop(ws *websocket.Conn) {
	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			select {
			case <-c.stopCh:
			default:
				log.Printf("[stream] read: %v", err)
			}
			return
		}
		if c.spec.Parse == nil {
			continue
		}
		if updates := c.spec.Parse(msg); len(updates) > 0 && c.onUpdate != nil {
			c.onUpdate(updates)
		}
	}
}
