// Package api serves read-only telemetry: health, recent events, engine
// progress, reactor statistics, the fact store and a live event stream.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/AaronLay10/VisorEngine/internal/config"
	"github.com/AaronLay10/VisorEngine/internal/events"
	"github.com/AaronLay10/VisorEngine/internal/executor"
	"github.com/AaronLay10/VisorEngine/internal/mqtt"
	"github.com/AaronLay10/VisorEngine/internal/operation"
	"github.com/AaronLay10/VisorEngine/internal/state"
	"github.com/AaronLay10/VisorEngine/internal/storage/postgres"
	"github.com/AaronLay10/VisorEngine/internal/version"
)

// ProgressSource reports operation graph progress.
type ProgressSource interface {
	Progress() operation.Progress
}

// StatsSource reports reactor counters.
type StatsSource interface {
	Stats() executor.Stats
	Triggers() []string
}

// StateSource exposes the fact store.
type StateSource interface {
	Now() time.Time
	Snapshot(at time.Time) state.Snapshot
}

// ControllerLister lists registered controllers.
type ControllerLister interface {
	All() []*mqtt.Controller
}

// ArchiveQuerier reads archived events.
type ArchiveQuerier interface {
	Query(ctx context.Context, f postgres.Filter) ([]postgres.EventRow, error)
}

// Sources are the components the server reports on. Any may be nil.
type Sources struct {
	Engine        ProgressSource
	Reactor       StatsSource
	Store         StateSource
	Controllers   ControllerLister
	Archive       ArchiveQuerier
	MQTTConnected func() bool
}

// Server is the telemetry HTTP server.
type Server struct {
	cfg     config.APIConfig
	src     Sources
	logger  *zap.Logger
	started time.Time
	auth    basicAuth
}

// New creates a server. It does not listen until ListenAndServe.
func New(cfg config.APIConfig, src Sources, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:     cfg,
		src:     src,
		logger:  logger.Named("api"),
		started: time.Now(),
		auth:    basicAuth{user: cfg.User, pass: cfg.Password},
	}
}

// Handler returns the routed handler. /health is never behind auth.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/ready", s.auth.wrap(s.readyHandler))
	mux.HandleFunc("/events", s.auth.wrap(s.eventsHandler))
	mux.HandleFunc("/status", s.auth.wrap(s.statusHandler))
	mux.HandleFunc("/state", s.auth.wrap(s.stateHandler))
	mux.HandleFunc("/controllers", s.auth.wrap(s.controllersHandler))
	mux.HandleFunc("/metrics", s.auth.wrap(s.metricsHandler))
	mux.HandleFunc("/ws", s.auth.wrap(s.wsEventsHandler))
	return mux
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	useTLS := s.cfg.TLSCert != ""
	if useTLS {
		tlsCfg, err := loadTLSConfig(s.cfg.TLSCert, s.cfg.TLSKey)
		if err != nil {
			return err
		}
		srv.TLSConfig = tlsCfg
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", srv.Addr), zap.Bool("tls", useTLS), zap.Bool("auth", s.auth.enabled()))
		var err error
		if useTLS {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	events.CloseAllSubscribers()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api shutdown: %w", err)
	}
	<-errCh
	return nil
}

// HealthResponse is the /health body.
type HealthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Version   string `json:"version"`
	Hostname  string `json:"hostname"`
	Timestamp string `json:"ts"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	host, _ := os.Hostname()
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Service:   "visor",
		Version:   version.Version,
		Hostname:  host,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// ReadinessResponse is the /ready body.
type ReadinessResponse struct {
	Ready         bool  `json:"ready"`
	Reactor       bool  `json:"reactor"`
	MQTTConnected *bool `json:"mqtt_connected,omitempty"`
}

func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	resp := ReadinessResponse{Reactor: s.src.Reactor != nil}
	resp.Ready = resp.Reactor || s.src.Engine != nil
	if s.src.MQTTConnected != nil {
		connected := s.src.MQTTConnected()
		resp.MQTTConnected = &connected
		resp.Ready = resp.Ready && connected
	}

	code := http.StatusOK
	if !resp.Ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

// eventsHandler serves the in-memory ring by default and the archive when
// ?source=archive is given.
func (s *Server) eventsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("source") != "archive" {
		writeJSON(w, http.StatusOK, events.Snapshot())
		return
	}
	if s.src.Archive == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "archive not configured"})
		return
	}

	f := postgres.Filter{Event: q.Get("event"), RunID: q.Get("run_id")}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid limit"})
			return
		}
		f.Limit = n
	}
	if v := q.Get("since"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid since"})
			return
		}
		f.Since = ts
	}

	rows, err := s.src.Archive.Query(r.Context(), f)
	if err != nil {
		s.logger.Warn("archive query failed", zap.Error(err))
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "archive query failed"})
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// StatusResponse is the /status body.
type StatusResponse struct {
	Uptime  string         `json:"uptime"`
	Engine  *EngineStatus  `json:"engine,omitempty"`
	Reactor *ReactorStatus `json:"reactor,omitempty"`
}

// EngineStatus mirrors operation.Progress.
type EngineStatus struct {
	RunID      string `json:"run_id,omitempty"`
	Running    bool   `json:"running"`
	Node       string `json:"node,omitempty"`
	Rounds     int    `json:"rounds"`
	LastStatus string `json:"last_status,omitempty"`
	LastResult string `json:"last_outcome,omitempty"`
}

// ReactorStatus mirrors executor.Stats.
type ReactorStatus struct {
	Ticks    uint64   `json:"ticks"`
	Passes   uint64   `json:"passes"`
	Matches  uint64   `json:"matches"`
	Skipped  uint64   `json:"skipped"`
	LastRule string   `json:"last_rule,omitempty"`
	LastTag  string   `json:"last_tag,omitempty"`
	LastAt   string   `json:"last_at,omitempty"`
	Triggers []string `json:"triggers"`
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{Uptime: time.Since(s.started).Round(time.Second).String()}

	if s.src.Engine != nil {
		p := s.src.Engine.Progress()
		es := &EngineStatus{RunID: p.RunID, Running: p.Running, Node: p.Node, Rounds: p.Rounds}
		if p.HasLast {
			es.LastStatus = p.Last.Status
			es.LastResult = p.Last.Outcome.String()
		}
		resp.Engine = es
	}

	if s.src.Reactor != nil {
		st := s.src.Reactor.Stats()
		rs := &ReactorStatus{
			Ticks:    st.Ticks,
			Passes:   st.Passes,
			Matches:  st.Matches,
			Skipped:  st.Skipped,
			LastRule: st.LastRule,
			LastTag:  st.LastTag,
			Triggers: s.src.Reactor.Triggers(),
		}
		if !st.LastAt.IsZero() {
			rs.LastAt = st.LastAt.UTC().Format(time.RFC3339Nano)
		}
		resp.Reactor = rs
	}

	writeJSON(w, http.StatusOK, resp)
}

// FactView is one live fact in the /state body.
type FactView struct {
	Value int     `json:"value"`
	Age   float64 `json:"age_seconds"`
}

func (s *Server) stateHandler(w http.ResponseWriter, r *http.Request) {
	if s.src.Store == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "no fact store"})
		return
	}

	snap := s.src.Store.Snapshot(s.src.Store.Now())
	out := make(map[string]FactView, len(snap.Names()))
	for _, name := range snap.Names() {
		v, _ := snap.Get(name)
		age, _ := snap.Age(name)
		out[name] = FactView{Value: v, Age: age.Seconds()}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) controllersHandler(w http.ResponseWriter, r *http.Request) {
	if s.src.Controllers == nil {
		writeJSON(w, http.StatusOK, []*mqtt.Controller{})
		return
	}
	writeJSON(w, http.StatusOK, s.src.Controllers.All())
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
