// File: server/server.go
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/felixgeelhaar/bolt/v3"
	"golang.org/x/net/websocket"

	"github.com/lguibr/twothread/bollywood"
	"github.com/lguibr/twothread/logging"
)

// Server exposes the monitor feed and a status snapshot over HTTP.
type Server struct {
	engine  *bollywood.Engine
	monitor *Monitor
	logger  *bolt.Logger
	mux     *http.ServeMux
}

// New builds the HTTP surface for engine. monitor may be nil, which disables /subscribe.
func New(engine *bollywood.Engine, monitor *Monitor, logger *bolt.Logger) *Server {
	if logger == nil {
		logger = logging.Get()
	}
	s := &Server{engine: engine, monitor: monitor, logger: logger, mux: http.NewServeMux()}
	s.mux.HandleFunc("/status", s.HandleGetStatus())
	if monitor != nil {
		s.mux.Handle("/subscribe", websocket.Handler(monitor.HandleSubscribe()))
	}
	return s
}

// Handler returns the request router.
func (s *Server) Handler() http.Handler { return s.mux }

// AgentStatus describes one agent in the status snapshot.
type AgentStatus struct {
	PID         string `json:"pid"`
	Name        string `json:"name"`
	Dispatcher  string `json:"dispatcher"`
	State       string `json:"state"`
	Delivered   uint64 `json:"delivered"`
	Pending     int    `json:"pending"`
	Dropped     uint64 `json:"dropped"`
	Quarantined bool   `json:"quarantined"`
}

// Status is the body of GET /status.
type Status struct {
	Engine   string        `json:"engine"`
	Stopping bool          `json:"stopping"`
	Agents   []AgentStatus `json:"agents"`
	Failures int           `json:"failures"`
}

// Snapshot collects the current status of every bound agent.
func (s *Server) Snapshot() Status {
	st := Status{
		Engine:   s.engine.ID(),
		Stopping: s.engine.Stopping(),
		Failures: len(s.engine.Failures()),
		Agents:   []AgentStatus{},
	}
	for _, d := range s.engine.Dispatchers() {
		for _, a := range d.Agents() {
			st.Agents = append(st.Agents, AgentStatus{
				PID:         a.PID().String(),
				Name:        a.Name(),
				Dispatcher:  d.Name(),
				State:       string(a.State()),
				Delivered:   a.Delivered(),
				Pending:     a.Mailbox().Len(),
				Dropped:     a.Mailbox().Dropped(),
				Quarantined: a.Quarantined(),
			})
		}
	}
	return st
}

// HandleGetStatus serves the status snapshot as JSON.
func (s *Server) HandleGetStatus() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logging.NewEvent(s.logger.Error()).
					Add(logging.Component("server")).
					Add(logging.Str("stack", string(debug.Stack()))).
					Msg(fmt.Sprintf("status handler panicked: %v", rec))
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()

		if r.Method != http.MethodGet {
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
			return
		}
		body, err := json.Marshal(s.Snapshot())
		if err != nil {
			http.Error(w, "Error generating status", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(body); err != nil {
			logging.NewEvent(s.logger.Debug()).
				Add(logging.Component("server")).
				Add(logging.ErrorField(err)).
				Msg("writing status failed")
		}
	}
}

// ListenAndServe serves on addr until ctx is cancelled. ready, if not nil, receives the
// bound address once the listener is open.
func (s *Server) ListenAndServe(ctx context.Context, addr string, ready chan<- net.Addr) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("monitor listen on %s: %w", addr, err)
	}
	srv := &http.Server{Handler: s.mux, ReadHeaderTimeout: 5 * time.Second}

	logging.NewEvent(s.logger.Info()).
		Add(logging.Component("server")).
		Add(logging.Str("addr", ln.Addr().String())).
		Msg("monitor listening")
	if ready != nil {
		ready <- ln.Addr()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	// Hijacked websocket connections are not closed by Shutdown.
	if s.monitor != nil {
		s.monitor.Close()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("monitor shutdown: %w", err)
	}
	return nil
}
