// File: server/server_test.go
package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"

	"github.com/lguibr/twothread/bollywood"
	"github.com/lguibr/twothread/logging"
)

// --- Test Setup ---
func setupTestEngine(t *testing.T, monitor *Monitor) (*bollywood.Engine, *bollywood.PID) {
	t.Helper()
	opts := []bollywood.Option{bollywood.WithLogger(logging.Discard())}
	if monitor != nil {
		opts = append(opts, bollywood.WithObserver(monitor))
	}
	engine := bollywood.NewEngine(opts...)
	d, err := engine.NewDispatcher("d1")
	require.NoError(t, err)
	echo := bollywood.NewAgent("echo", 0, func(ctx bollywood.Context, n int, msg bollywood.Message) (int, bollywood.Effects, error) {
		return n + 1, bollywood.Effects{}, nil
	})
	pid, err := engine.Bind(echo, d)
	require.NoError(t, err)
	return engine, pid
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/subscribe"
	ws, err := websocket.Dial(wsURL, "", srv.URL)
	require.NoError(t, err)
	return ws
}

func receiveUntil(t *testing.T, ws *websocket.Conn, kind string) Event {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var ev Event
		require.NoError(t, websocket.JSON.Receive(ws, &ev))
		if ev.Kind == kind {
			return ev
		}
	}
}

// --- Tests ---

func TestMonitor_StreamsKernelEvents(t *testing.T) {
	monitor := NewMonitor(logging.Discard(), 64)
	defer monitor.Close()
	engine, pid := setupTestEngine(t, monitor)

	srv := httptest.NewServer(New(engine, monitor, logging.Discard()).Handler())
	defer srv.Close()

	ws := dial(t, srv)
	defer ws.Close()
	hello := receiveUntil(t, ws, KindSubscribed)
	assert.NotEmpty(t, hello.Subscriber)
	require.Eventually(t, func() bool { return monitor.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, engine.Start())
	require.NoError(t, engine.Send(pid, 1))

	delivered := receiveUntil(t, ws, KindDelivered)
	assert.Equal(t, pid.String(), delivered.Agent)
	assert.Equal(t, "d1", delivered.Dispatcher)

	require.NoError(t, engine.Shutdown(2*time.Second))
	stopped := receiveUntil(t, ws, KindTransition)
	for stopped.To != string(bollywood.StateStopped) {
		stopped = receiveUntil(t, ws, KindTransition)
	}
	assert.Equal(t, string(bollywood.StateStopping), stopped.From)

	assert.Error(t, engine.Send(pid, 2))
	rejected := receiveUntil(t, ws, KindRejected)
	assert.Contains(t, rejected.Error, "rejected")
}

func TestMonitor_DropsWhenBufferIsFull(t *testing.T) {
	monitor := NewMonitor(logging.Discard(), 1)
	monitor.Close()

	// A closed monitor ignores events rather than counting them.
	monitor.MessageDelivered(&bollywood.PID{ID: "x"}, "d", time.Millisecond)
	assert.Equal(t, uint64(0), monitor.Dropped())

	m := &Monitor{events: make(chan Event, 1), stop: make(chan struct{})}
	m.publish(Event{Kind: KindDelivered})
	m.publish(Event{Kind: KindDelivered})
	assert.Equal(t, uint64(1), m.Dropped())
}

func TestMonitor_CloseDisconnectsSubscribers(t *testing.T) {
	monitor := NewMonitor(logging.Discard(), 8)
	engine, _ := setupTestEngine(t, monitor)
	srv := httptest.NewServer(New(engine, monitor, logging.Discard()).Handler())
	defer srv.Close()

	ws := dial(t, srv)
	defer ws.Close()
	receiveUntil(t, ws, KindSubscribed)
	require.Eventually(t, func() bool { return monitor.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	monitor.Close()
	assert.Equal(t, 0, monitor.Subscribers())

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev Event
	assert.Error(t, websocket.JSON.Receive(ws, &ev), "the server side closed the connection")
}

func TestHandleGetStatus(t *testing.T) {
	engine, pid := setupTestEngine(t, nil)
	require.NoError(t, engine.Send(pid, 1))
	s := New(engine, nil, logging.Discard())

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var st Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, engine.ID(), st.Engine)
	require.Len(t, st.Agents, 1)
	assert.Equal(t, pid.String(), st.Agents[0].PID)
	assert.Equal(t, "echo", st.Agents[0].Name)
	assert.Equal(t, string(bollywood.StateBound), st.Agents[0].State)
	assert.Equal(t, 1, st.Agents[0].Pending)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/status", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/subscribe", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code, "no monitor, no feed")
}

func TestListenAndServe_StopsWithContext(t *testing.T) {
	monitor := NewMonitor(logging.Discard(), 8)
	engine, _ := setupTestEngine(t, monitor)
	s := New(engine, monitor, logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan net.Addr, 1)
	errCh := make(chan error, 1)
	go func() { errCh <- s.ListenAndServe(ctx, "127.0.0.1:0", ready) }()

	addr := <-ready
	resp, err := http.Get("http://" + addr.String() + "/status")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}
