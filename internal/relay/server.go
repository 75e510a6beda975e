package relay

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"securevpn/internal/api"
	"securevpn/internal/config"
	"securevpn/internal/metrics"
	"securevpn/internal/store"
)

const (
	msgConnected    = "VPN подключен успешно"
	msgDisconnected = "VPN отключен"
)

// Server is the relay directory service: it publishes the server catalogue
// and issues and closes sessions.
type Server struct {
	cfg        config.RelayConfig
	ledgerPath string
	servers    []config.ServerEntry
	limiter    *rate.Limiter
	metrics    *metrics.Relay
	registry   *prometheus.Registry
	log        zerolog.Logger
	now        func() time.Time

	mu      sync.Mutex
	ledger  *store.Ledger
	entropy *ulid.MonotonicEntropy
}

// NewServer loads the session ledger from cfg.DataDir and registers the
// relay collectors on a fresh registry.
func NewServer(cfg config.RelayConfig) (*Server, error) {
	ledgerPath := filepath.Join(cfg.DataDir, "sessions.yaml")
	ledger, err := store.LoadLedger(ledgerPath)
	if err != nil {
		return nil, fmt.Errorf("load session ledger: %w", err)
	}

	servers := cfg.Servers
	if len(servers) == 0 {
		servers = config.DefaultServers()
	}

	reg := prometheus.NewRegistry()
	m := metrics.NewRelay(reg)
	m.Active.Set(float64(ledger.Active()))

	return &Server{
		cfg:        cfg,
		ledgerPath: ledgerPath,
		servers:    servers,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		metrics:    m,
		registry:   reg,
		log:        log.Logger.With().Str("component", "relay").Logger(),
		now:        time.Now,
		ledger:     ledger,
		entropy:    ulid.Monotonic(rand.Reader, 0),
	}, nil
}

// Handler returns the HTTP handler: the action API at / and Prometheus
// metrics at /metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/", s.handleAction)
	return mux
}

// ListenAndServe runs the HTTP server until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("listen", s.cfg.Listen).Int("servers", len(s.servers)).Msg("relay listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	if id := r.Header.Get(api.CorrelationHeader); id != "" {
		w.Header().Set(api.CorrelationHeader, id)
	}

	if r.Method == http.MethodOptions {
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+api.CorrelationHeader)
		w.WriteHeader(http.StatusOK)
		return
	}

	if !s.limiter.Allow() {
		s.metrics.Rejected.WithLabelValues("rate_limited").Inc()
		writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	action := r.URL.Query().Get("action")
	if action == "" {
		action = api.ActionServers
	}

	switch {
	case r.Method == http.MethodGet && action == api.ActionServers:
		s.handleServers(w, r)
	case r.Method == http.MethodPost && action == api.ActionConnect:
		s.handleConnect(w, r)
	case r.Method == http.MethodPost && action == api.ActionDisconnect:
		s.handleDisconnect(w, r)
	default:
		writeJSONError(w, http.StatusNotFound, "Not found")
	}
}

func (s *Server) handleServers(w http.ResponseWriter, r *http.Request) {
	resp := api.ServersResponse{Servers: make([]api.ServerRecord, 0, len(s.servers))}
	for _, e := range s.servers {
		resp.Servers = append(resp.Servers, serverRecord(e))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req api.ConnectRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	entry, ok := s.lookup(req.ServerID)
	if !ok {
		s.metrics.Rejected.WithLabelValues("unknown_server").Inc()
		writeJSON(w, http.StatusOK, api.ConnectResponse{Success: false, Message: "unknown server " + req.ServerID})
		return
	}
	if !strings.EqualFold(entry.Status, "online") {
		s.metrics.Rejected.WithLabelValues("server_offline").Inc()
		writeJSON(w, http.StatusOK, api.ConnectResponse{Success: false, Message: "server " + entry.ID + " is " + entry.Status})
		return
	}

	now := s.now().UTC()

	s.mu.Lock()
	id, err := ulid.New(ulid.Timestamp(now), s.entropy)
	if err != nil {
		s.mu.Unlock()
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	_, err = s.commit(now, func() bool {
		s.ledger.Open(store.SessionRecord{
			ID:          strings.ToLower(id.String()),
			ServerID:    entry.ID,
			ServerName:  entry.Name,
			RemoteAddr:  r.RemoteAddr,
			ConnectedAt: now,
		})
		return true
	})
	if err != nil {
		s.mu.Unlock()
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	active := s.ledger.Active()
	s.mu.Unlock()

	sessionID := strings.ToLower(id.String())
	s.metrics.Opened.WithLabelValues(entry.ID).Inc()
	s.metrics.Active.Set(float64(active))
	s.log.Info().Str("session", sessionID).Str("server", entry.ID).Str("remote", r.RemoteAddr).Msg("session opened")

	writeJSON(w, http.StatusOK, api.ConnectResponse{
		Success:         true,
		SessionID:       api.StringID(sessionID),
		EndpointAddress: entry.IP,
		Message:         msgConnected,
	})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	var req api.DisconnectRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := s.now().UTC()

	s.mu.Lock()
	var rec store.SessionRecord
	ok, err := s.commit(now, func() bool {
		var closed bool
		rec, closed = s.ledger.Close(req.SessionID, now)
		return closed
	})
	if err != nil {
		s.mu.Unlock()
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		s.mu.Unlock()
		s.metrics.Rejected.WithLabelValues("unknown_session").Inc()
		writeJSON(w, http.StatusOK, api.DisconnectResponse{Success: false, Message: "unknown session " + req.SessionID})
		return
	}
	active := s.ledger.Active()
	s.mu.Unlock()

	s.metrics.Closed.Inc()
	s.metrics.Active.Set(float64(active))
	s.log.Info().
		Str("session", rec.ID).
		Str("server", rec.ServerID).
		Dur("duration", rec.DisconnectedAt.Sub(rec.ConnectedAt)).
		Msg("session closed")

	writeJSON(w, http.StatusOK, api.DisconnectResponse{Success: true, Message: msgDisconnected})
}

// commit applies change to the ledger, prunes closed sessions past the
// retention window and writes the result. When the write fails the
// in-memory ledger is restored. change reports whether anything changed;
// nothing is written when it did not. Callers hold s.mu.
func (s *Server) commit(now time.Time, change func() bool) (bool, error) {
	prev := slices.Clone(s.ledger.Sessions)
	if !change() {
		return false, nil
	}
	if keep := s.cfg.Retention(); keep > 0 {
		if n := s.ledger.Prune(now.Add(-keep)); n > 0 {
			s.log.Debug().Int("sessions", n).Msg("pruned closed sessions")
		}
	}
	if err := store.SaveLedger(s.ledgerPath, s.ledger); err != nil {
		s.ledger.Sessions = prev
		return true, err
	}
	return true, nil
}

func (s *Server) lookup(id string) (config.ServerEntry, bool) {
	for _, e := range s.servers {
		if e.ID == id {
			return e, true
		}
	}
	return config.ServerEntry{}, false
}

func serverRecord(e config.ServerEntry) api.ServerRecord {
	return api.ServerRecord{
		ID:      e.ID,
		Name:    e.Name,
		Country: e.Country,
		Flag:    e.Flag,
		Ping:    e.Ping,
		Load:    e.Load,
		IP:      e.IP,
		Status:  e.Status,
	}
}

func decodeJSON(r *http.Request, v any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	_ = encoder.Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, api.ErrorResponse{Error: message})
}
