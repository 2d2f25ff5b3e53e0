package server

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/burrowsocial/burrow/scheduler"
)

// newWebSocketTestServer starts the fan-out loop and an HTTP listener, and
// returns the server plus a ws:// URL for the feed endpoint.
func newWebSocketTestServer(t *testing.T) (*BurrowServer, string) {
	t.Helper()

	s := newTestServer(t)
	s.startEventLoop()

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Shutdown(ctx)
		ts.Close()
	})

	return s, strings.Replace(ts.URL, "http", "ws", 1) + "/ws"
}

// waitFor polls cond until it holds or the timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func dialFeed(t *testing.T, url string) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readJobEvent blocks until the next frame arrives or the deadline passes.
func readJobEvent(t *testing.T, conn *websocket.Conn) *jobEvent {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var event jobEvent
	require.NoError(t, conn.ReadJSON(&event))
	return &event
}

func TestWebSocketStreamsJobTransitions(t *testing.T) {
	s, url := newWebSocketTestServer(t)
	conn := dialFeed(t, url)

	waitFor(t, time.Second, func() bool { return s.clientCount() == 1 })

	job, err := s.scheduler.Schedule(context.Background(), "alice", "hello from the feed", time.Now().Add(30*time.Millisecond))
	require.NoError(t, err)

	event := readJobEvent(t, conn)
	assert.Equal(t, "job_update", event.Type)
	require.NotNil(t, event.Job)
	assert.Equal(t, job.ID, event.Job.ID)
	assert.Equal(t, scheduler.StatusScheduled, event.Job.Status)

	// The worker picks the job up and publishes it
	sawCompleted := false
	for i := 0; i < 4 && !sawCompleted; i++ {
		event = readJobEvent(t, conn)
		assert.Equal(t, "job_update", event.Type)
		assert.Equal(t, job.ID, event.Job.ID)
		sawCompleted = event.Job.Status == scheduler.StatusCompleted
	}
	assert.True(t, sawCompleted, "expected a completed transition on the feed")
}

func TestWebSocketClientRegistersAndUnregisters(t *testing.T) {
	s, url := newWebSocketTestServer(t)
	conn := dialFeed(t, url)

	waitFor(t, time.Second, func() bool { return s.clientCount() == 1 })

	require.NoError(t, conn.Close())
	waitFor(t, time.Second, func() bool { return s.clientCount() == 0 })
}

func TestBroadcastDropsEventsForSlowClient(t *testing.T) {
	s := newTestServer(t)

	slow := &Client{server: s, send: make(chan *jobEvent), id: "slow"}
	healthy := &Client{server: s, send: make(chan *jobEvent, 1), id: "healthy"}
	s.clients[slow] = true
	s.clients[healthy] = true

	// slow has no receiver and no buffer; the broadcast must not block on it
	done := make(chan struct{})
	go func() {
		s.broadcastJob(&jobEvent{Type: "job_update", Job: &scheduler.Job{ID: "sp-a-1"}})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a slow client")
	}

	select {
	case event := <-healthy.send:
		assert.Equal(t, "sp-a-1", event.Job.ID)
	default:
		t.Fatal("healthy client did not receive the event")
	}
}

func TestShutdownDrainsConnectedClients(t *testing.T) {
	s, url := newWebSocketTestServer(t)
	conn := dialFeed(t, url)

	waitFor(t, time.Second, func() bool { return s.clientCount() == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	require.NoError(t, s.Shutdown(ctx))
	assert.Less(t, time.Since(start), 2*time.Second, "pump goroutines did not drain promptly")

	// The server side closed the connection
	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}
