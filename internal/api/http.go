// Package api реализует HTTP API состояния рекордера: сессии, каналы, подписки
// и управление тестовым генератором.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/pv/telemetry-recorder/internal/ingest"
	"github.com/pv/telemetry-recorder/internal/logging"
	"github.com/pv/telemetry-recorder/internal/processing"
	"github.com/pv/telemetry-recorder/internal/recorder"
	"github.com/pv/telemetry-recorder/internal/session"
	"github.com/pv/telemetry-recorder/pkg/config"
)

// Sessions даёт доступ к реестру сессий.
type Sessions interface {
	SessionLister
	Get(key string) (*session.Context, bool)
}

type Subscriptions interface {
	Subscriptions() []processing.SubscriptionInfo
}

// IngestCounters отдаёт счётчики приёма пакетов.
type IngestCounters interface {
	Counters() ingest.Counters
}

type Config struct {
	Sessions      Sessions
	Subscriptions Subscriptions
	Ingest        IngestCounters            // необязателен
	Parameters    *config.ParameterRegistry // необязателен, дополняет каналы hash и метаданными
	Manager       *Manager                  // необязателен
	Streamer      *SessionStreamer          // необязателен
	Logger        *zerolog.Logger
}

// Server реализует HTTP API.
type Server struct {
	sessions      Sessions
	subscriptions Subscriptions
	ingest        IngestCounters
	parameters    *config.ParameterRegistry
	manager       *Manager
	streamer      *SessionStreamer
	mux           *http.ServeMux
	log           zerolog.Logger
	startedAt     time.Time
}

type channelRow struct {
	Name        string             `json:"name"`
	ID          recorder.ChannelID `json:"id"`
	Parameter   string             `json:"parameter,omitempty"`
	Hash        int64              `json:"hash,omitempty"`
	Units       string             `json:"units,omitempty"`
	Description string             `json:"description,omitempty"`
}

type sessionChannels struct {
	Key      string       `json:"key"`
	State    string       `json:"state"`
	Channels []channelRow `json:"channels"`
}

type healthResponse struct {
	Status        string           `json:"status"`
	Uptime        string           `json:"uptime"`
	Sessions      int              `json:"sessions"`
	Subscriptions int              `json:"subscriptions"`
	Ingest        *ingest.Counters `json:"ingest,omitempty"`
}

// NewServer создаёт сервер с зарегистрированными хендлерами.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("api: sessions registry is nil")
	}
	s := &Server{
		sessions:      cfg.Sessions,
		subscriptions: cfg.Subscriptions,
		ingest:        cfg.Ingest,
		parameters:    cfg.Parameters,
		manager:       cfg.Manager,
		streamer:      cfg.Streamer,
		mux:           http.NewServeMux(),
		log:           logging.Component(logging.OrNop(cfg.Logger), "http"),
		startedAt:     time.Now(),
	}
	s.routes()
	return s, nil
}

// Handler возвращает корневой обработчик со всеми обёртками.
func (s *Server) Handler() http.Handler {
	return s.withRequestLog(withCORS(s.mux))
}

// Listen запускает сервер и блокируется до остановки.
func (s *Server) Listen(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	s.log.Info().Str("addr", addr).Msg("http server started")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if s.streamer != nil {
			s.streamer.Close()
		}
		_ = server.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api: listen %s: %w", addr, err)
	}
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	s.mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/v1/sessions", s.handleSessions)
	s.mux.HandleFunc("GET /api/v1/sessions/{key}", s.handleSession)
	s.mux.HandleFunc("GET /api/v1/sessions/{key}/channels", s.handleChannels)
	s.mux.HandleFunc("GET /api/v1/subscriptions", s.handleSubscriptions)
	s.mux.HandleFunc("GET /api/v1/generator", s.handleGeneratorStatus)
	s.mux.HandleFunc("POST /api/v1/generator/start", s.handleGeneratorStart)
	s.mux.HandleFunc("POST /api/v1/generator/stop", s.handleGeneratorStop)
	s.mux.HandleFunc("GET /api/v1/ws/sessions", s.handleWSSessions)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:   "ok",
		Uptime:   time.Since(s.startedAt).Truncate(time.Second).String(),
		Sessions: len(s.sessions.Sessions()),
	}
	if s.subscriptions != nil {
		resp.Subscriptions = len(s.subscriptions.Subscriptions())
	}
	if s.ingest != nil {
		c := s.ingest.Counters()
		resp.Ingest = &c
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.sessions.Sessions())
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	c, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, c.Info())
}

func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	c, ok := s.lookup(w, r)
	if !ok {
		return
	}
	ids := c.Channels()
	names := c.ChannelNames()
	rows := make([]channelRow, 0, len(names))
	for _, name := range names {
		row := channelRow{Name: name, ID: ids[name]}
		if param, ok := c.ChannelParameter(name); ok {
			row.Parameter = param
			if key, ok := s.parameters.ByIdentifier(param); ok {
				row.Hash = key.Hash
				row.Units = key.Meta.Units
				row.Description = key.Meta.Description
			}
		}
		rows = append(rows, row)
	}
	writeJSON(w, http.StatusOK, sessionChannels{Key: c.Key(), State: c.State().String(), Channels: rows})
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*session.Context, bool) {
	key := r.PathValue("key")
	c, ok := s.sessions.Get(key)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("session %q not found", key))
		return nil, false
	}
	return c, true
}

func (s *Server) handleSubscriptions(w http.ResponseWriter, _ *http.Request) {
	subs := []processing.SubscriptionInfo{}
	if s.subscriptions != nil {
		subs = s.subscriptions.Subscriptions()
	}
	writeJSON(w, http.StatusOK, subs)
}

func (s *Server) handleGeneratorStatus(w http.ResponseWriter, _ *http.Request) {
	if !s.requireManager(w) {
		return
	}
	writeJSON(w, http.StatusOK, s.manager.Status())
}

func (s *Server) handleGeneratorStart(w http.ResponseWriter, r *http.Request) {
	if !s.requireManager(w) {
		return
	}
	var req GenerateRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	st, err := s.manager.Start(req)
	switch {
	case errors.Is(err, ErrJobActive):
		writeError(w, http.StatusConflict, err)
	case err != nil:
		writeError(w, http.StatusBadRequest, err)
	default:
		s.log.Info().Str("session", st.SessionKey).Msg("generator started")
		writeJSON(w, http.StatusAccepted, st)
	}
}

func (s *Server) handleGeneratorStop(w http.ResponseWriter, _ *http.Request) {
	if !s.requireManager(w) {
		return
	}
	if err := s.manager.Stop(); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	s.log.Info().Msg("generator stop requested")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) requireManager(w http.ResponseWriter) bool {
	if s.manager == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("generator is not configured"))
		return false
	}
	return true
}

func (s *Server) handleWSSessions(w http.ResponseWriter, r *http.Request) {
	if s.streamer == nil {
		http.Error(w, "websocket streamer not configured", http.StatusServiceUnavailable)
		return
	}
	s.streamer.ServeWS(w, r)
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
