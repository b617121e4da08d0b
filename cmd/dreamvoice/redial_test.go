package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/dreampulse/dreampulse/pkg/realtime"
)

// ackingServer accepts any number of connections, acks the configuration
// frame on each, and counts the dials. Returns the ws:// URL.
func ackingServer(t *testing.T, dials *atomic.Int32) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		dials.Add(1)

		// Ack the session.update configuration frame.
		if _, _, err := conn.Read(context.Background()); err != nil {
			return
		}
		ack, _ := json.Marshal(map[string]any{"type": "session.created"})
		if err := conn.Write(context.Background(), websocket.MessageText, ack); err != nil {
			return
		}
		// Hold the connection until the client goes away.
		for {
			if _, _, err := conn.Read(context.Background()); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// waitState polls until the session reaches the wanted state.
func waitState(t *testing.T, s *realtime.Session, want realtime.State) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if s.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state = %v; want %v", s.State(), want)
}

func TestRedialer_ConnectDeliversSession(t *testing.T) {
	t.Parallel()
	var dials atomic.Int32
	url := ackingServer(t, &dials)

	var delivered atomic.Int32
	r := NewRedialer(RedialerConfig{
		Session:   realtime.Config{URL: url},
		OnSession: func(*realtime.Session) { delivered.Add(1) },
	})
	defer r.Stop()

	sess, err := r.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if sess == nil || r.Session() != sess {
		t.Fatal("Session() does not return the connected session")
	}
	if delivered.Load() != 1 {
		t.Errorf("OnSession calls = %d, want 1", delivered.Load())
	}
	waitState(t, sess, realtime.StateReady)
}

func TestRedialer_ConnectFailure(t *testing.T) {
	t.Parallel()
	r := NewRedialer(RedialerConfig{
		Session: realtime.Config{URL: "ws://127.0.0.1:1"},
	})
	defer r.Stop()

	if _, err := r.Connect(context.Background()); err == nil {
		t.Fatal("expected dial error")
	}
	if r.Session() != nil {
		t.Error("Session() should be nil after a failed connect")
	}
}

func TestRedialer_RedialsAfterDrop(t *testing.T) {
	t.Parallel()
	var dials atomic.Int32
	url := ackingServer(t, &dials)

	sessions := make(chan *realtime.Session, 4)
	r := NewRedialer(RedialerConfig{
		Session:   realtime.Config{URL: url},
		Backoff:   10 * time.Millisecond,
		OnSession: func(s *realtime.Session) { sessions <- s },
	})
	defer r.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first, err := r.Connect(ctx)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	<-sessions
	r.Monitor(ctx)

	// Simulate an upstream drop and signal the monitor.
	_ = first.Close()
	r.NotifyDisconnect()

	select {
	case second := <-sessions:
		if second == first {
			t.Fatal("redial delivered the old session")
		}
		waitState(t, second, realtime.StateReady)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for replacement session")
	}
	if dials.Load() != 2 {
		t.Errorf("dials = %d, want 2", dials.Load())
	}
}

func TestRedialer_NotifyIsCoalesced(t *testing.T) {
	t.Parallel()
	var dials atomic.Int32
	url := ackingServer(t, &dials)

	sessions := make(chan *realtime.Session, 8)
	r := NewRedialer(RedialerConfig{
		Session:   realtime.Config{URL: url},
		Backoff:   10 * time.Millisecond,
		OnSession: func(s *realtime.Session) { sessions <- s },
	})
	defer r.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := r.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	<-sessions

	// Multiple notifications before the monitor runs collapse to one redial.
	r.NotifyDisconnect()
	r.NotifyDisconnect()
	r.NotifyDisconnect()
	r.Monitor(ctx)

	select {
	case <-sessions:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for redial")
	}

	// Give a pending extra redial a moment to (incorrectly) happen.
	time.Sleep(100 * time.Millisecond)
	if got := dials.Load(); got != 2 {
		t.Errorf("dials = %d, want 2", got)
	}
}

func TestRedialer_StopClosesSession(t *testing.T) {
	t.Parallel()
	var dials atomic.Int32
	url := ackingServer(t, &dials)

	r := NewRedialer(RedialerConfig{
		Session: realtime.Config{URL: url},
	})

	sess, err := r.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := r.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	waitState(t, sess, realtime.StateClosed)
	if r.Session() != nil {
		t.Error("Session() should be nil after Stop")
	}
	// Idempotent.
	if err := r.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}
