package stream

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsServer runs handler for every websocket connection and returns the
// ws:// endpoint URL.
func wsServer(t *testing.T, handler func(*websocket.Conn)) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		handler(ws)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

type testFrame struct {
	ID    string  `json:"id"`
	Price float64 `json:"price"`
}

func testSpec(url string) Spec {
	return Spec{
		URL: url,
		SubscribeFrames: func(ids []string) [][]byte {
			payload, _ := json.Marshal(map[string]interface{}{"op": "sub", "ids": ids})
			return [][]byte{payload}
		},
		HeartbeatEvery: time.Hour,
		Parse: func(frame []byte) []Update {
			var f testFrame
			if err := json.Unmarshal(frame, &f); err != nil || f.ID == "" {
				return nil
			}
			return []Update{{ID: f.ID, Price: f.Price}}
		},
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestConn_SubscribesAndDeliversUpdates(t *testing.T) {
	subCh := make(chan []byte, 1)
	url := wsServer(t, func(ws *websocket.Conn) {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			return
		}
		subCh <- msg
		ws.WriteMessage(websocket.TextMessage, []byte(`{"id":"ex:BTC","price":65000.5}`))
		// Hold the socket open until the client goes away.
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	})

	var mu sync.Mutex
	var got []Update
	conn := New(testSpec(url), Fixed(10*time.Millisecond), func(us []Update) {
		mu.Lock()
		got = append(got, us...)
		mu.Unlock()
	}, nil)
	conn.Start([]string{"ex:BTC", "ex:ETH"})
	defer func() {
		conn.Stop()
		<-conn.Done()
	}()

	select {
	case msg := <-subCh:
		assert.JSONEq(t, `{"op":"sub","ids":["ex:BTC","ex:ETH"]}`, string(msg))
	case <-time.After(2 * time.Second):
		t.Fatal("no subscribe frame received")
	}

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) > 0
	})
	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, got)
	assert.Equal(t, Update{ID: "ex:BTC", Price: 65000.5}, got[0])
}

func TestConn_ReconnectsAfterServerClose(t *testing.T) {
	var dials atomic.Int32
	url := wsServer(t, func(ws *websocket.Conn) {
		n := dials.Add(1)
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
		if n == 1 {
			return // drop the first connection right after subscribe
		}
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	})

	var states []State
	var mu sync.Mutex
	conn := New(testSpec(url), Fixed(10*time.Millisecond), nil, func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})
	conn.Start([]string{"ex:BTC"})
	defer func() {
		conn.Stop()
		<-conn.Done()
	}()

	waitFor(t, 3*time.Second, func() bool { return dials.Load() >= 2 })

	// The lifecycle must have passed through closed between the opens.
	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		opens := 0
		for _, s := range states {
			if s == StateOpen {
				opens++
			}
		}
		return opens >= 2
	})
	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, states, StateClosed)
}

func TestConn_SetIDsResubscribes(t *testing.T) {
	frames := make(chan []byte, 4)
	url := wsServer(t, func(ws *websocket.Conn) {
		for {
			_, msg, err := ws.ReadMessage()
			if err != nil {
				return
			}
			frames <- msg
		}
	})

	conn := New(testSpec(url), Fixed(10*time.Millisecond), nil, nil)
	conn.Start([]string{"ex:BTC"})
	defer func() {
		conn.Stop()
		<-conn.Done()
	}()

	select {
	case <-frames:
	case <-time.After(2 * time.Second):
		t.Fatal("no initial subscribe frame")
	}
	waitFor(t, 2*time.Second, conn.Connected)

	conn.SetIDs([]string{"ex:SOL", "ex:DOGE"})

	select {
	case msg := <-frames:
		assert.JSONEq(t, `{"op":"sub","ids":["ex:SOL","ex:DOGE"]}`, string(msg))
	case <-time.After(2 * time.Second):
		t.Fatal("no resubscribe frame after SetIDs")
	}
}

// Exercises concurrent writers on one socket: SetIDs spam from the
// caller side while the server drops connections so the run loop keeps
// sending its own subscribe frames, and Stop lands mid-churn. Run with
// -race; unsynchronized WriteMessage calls either trip the detector or
// panic inside gorilla/websocket.
func TestConn_ConcurrentSetIDsAndReconnect(t *testing.T) {
	var dials atomic.Int32
	url := wsServer(t, func(ws *websocket.Conn) {
		dials.Add(1)
		// Read a couple of frames, then drop to force a reconnect.
		for i := 0; i < 2; i++ {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	})

	conn := New(testSpec(url), Fixed(time.Millisecond), nil, nil)
	conn.Start([]string{"ex:BTC"})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			conn.SetIDs([]string{"ex:BTC", "ex:ETH"})
			time.Sleep(time.Millisecond)
		}
	}()

	waitFor(t, 5*time.Second, func() bool { return dials.Load() >= 3 })
	conn.Stop()
	<-done
	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("run loop did not exit after Stop")
	}
}

func TestConn_StopIsTerminalAndIdempotent(t *testing.T) {
	var dials atomic.Int32
	url := wsServer(t, func(ws *websocket.Conn) {
		dials.Add(1)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	})

	conn := New(testSpec(url), Fixed(10*time.Millisecond), nil, nil)
	conn.Start([]string{"ex:BTC"})
	waitFor(t, 2*time.Second, conn.Connected)

	conn.Stop()
	conn.Stop()
	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("run loop did not exit after Stop")
	}
	assert.Equal(t, StateStopped, conn.State())

	// Starting a stopped conn must not dial again.
	before := dials.Load()
	conn.Start([]string{"ex:BTC"})
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, before, dials.Load())
}

func TestConn_StopBeforeStart(t *testing.T) {
	conn := New(testSpec("ws://127.0.0.1:1"), Fixed(time.Millisecond), nil, nil)
	conn.Stop()
	select {
	case <-conn.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed for never-started conn")
	}
	conn.Start([]string{"x"})
	assert.Equal(t, StateStopped, conn.State())
}

func TestBackoff(t *testing.T) {
	t.Run("fixed", func(t *testing.T) {
		b := Fixed(5 * time.Second)
		assert.Equal(t, 5*time.Second, b.Next())
		assert.Equal(t, 5*time.Second, b.Next())
		b.Reset()
		assert.Equal(t, 5*time.Second, b.Next())
	})

	t.Run("capped exponential", func(t *testing.T) {
		b := &CappedExponential{Base: time.Second, Max: 8 * time.Second}
		want := []time.Duration{1, 2, 4, 8, 8}
		for i, w := range want {
			assert.Equal(t, w*time.Second, b.Next(), "attempt %d", i)
		}
		b.Reset()
		assert.Equal(t, time.Second, b.Next())
	})
}
