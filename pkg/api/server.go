package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/perchlabs/roost/pkg/events"
	"github.com/perchlabs/roost/pkg/log"
	"github.com/perchlabs/roost/pkg/metrics"
	"github.com/perchlabs/roost/pkg/scheduler"
	"github.com/perchlabs/roost/pkg/storage"
	"github.com/perchlabs/roost/pkg/types"
	"github.com/rs/zerolog"
)

// recentEventCap bounds the in-memory ring served at /v1/events
const recentEventCap = 100

// Server exposes the JSON administration surface: settings, target uploads,
// account registration, scheduler lifecycle, stats, and metrics
type Server struct {
	store     storage.Store
	scheduler *scheduler.Scheduler
	broker    *events.Broker
	logger    zerolog.Logger
	http      *http.Server

	mu     sync.Mutex
	recent []*events.Event
	sub    events.Subscriber
	stopCh chan struct{}
}

// NewServer creates a new admin API server
func NewServer(store storage.Store, sched *scheduler.Scheduler, broker *events.Broker) *Server {
	return &Server{
		store:     store,
		scheduler: sched,
		broker:    broker,
		logger:    log.WithComponent("api"),
		stopCh:    make(chan struct{}),
	}
}

// Start begins serving on addr. It blocks until Stop is called.
func (s *Server) Start(addr string) error {
	if s.broker != nil {
		s.sub = s.broker.Subscribe()
		go s.collectEvents()
	}

	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info().Str("addr", addr).Msg("admin API listening")
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("admin API failed: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down
func (s *Server) Stop(ctx context.Context) error {
	close(s.stopCh)
	if s.broker != nil && s.sub != nil {
		s.broker.Unsubscribe(s.sub)
	}
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// Handler builds the route table. Exposed so tests can drive the server
// through httptest without binding a port.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("GET /v1/settings", s.instrument(s.handleGetSettings))
	mux.HandleFunc("PUT /v1/settings", s.instrument(s.handlePutSettings))

	mux.HandleFunc("GET /v1/targets", s.instrument(s.handleListTargets))
	mux.HandleFunc("POST /v1/targets", s.instrument(s.handleUploadTargets))
	mux.HandleFunc("DELETE /v1/targets/{id}", s.instrument(s.handleDeleteTarget))

	mux.HandleFunc("GET /v1/accounts", s.instrument(s.handleListAccounts))
	mux.HandleFunc("POST /v1/accounts", s.instrument(s.handleCreateAccount))
	mux.HandleFunc("DELETE /v1/accounts/{id}", s.instrument(s.handleDeleteAccount))

	mux.HandleFunc("POST /v1/control/start", s.instrument(s.handleStart))
	mux.HandleFunc("POST /v1/control/stop", s.instrument(s.handleStop))
	mux.HandleFunc("POST /v1/control/reconfigure", s.instrument(s.handleReconfigure))

	mux.HandleFunc("GET /v1/stats", s.instrument(s.handleStats))
	mux.HandleFunc("GET /v1/events", s.instrument(s.handleEvents))

	return mux
}

// collectEvents drains the broker subscription into the bounded ring
func (s *Server) collectEvents() {
	for {
		select {
		case event, ok := <-s.sub:
			if !ok {
				return
			}
			s.mu.Lock()
			s.recent = append(s.recent, event)
			if len(s.recent) > recentEventCap {
				s.recent = s.recent[len(s.recent)-recentEventCap:]
			}
			s.mu.Unlock()
		case <-s.stopCh:
			return
		}
	}
}

// instrument wraps a handler with the request counter and latency histogram
func (s *Server) instrument(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		metrics.APIRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()
		metrics.APIRequestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.store.GetSettings()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, settingsToPayload(settings))
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var payload settingsPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid settings body: %w", err))
		return
	}

	settings := payload.toSettings()
	settings.LastUpdated = time.Now().UTC()
	if err := settings.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.store.PutSettings(settings); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	// A settings write is always followed by a reconfigure
	if err := s.scheduler.Reconfigure(); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("settings saved but reconfigure failed: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, settingsToPayload(settings))
}

func (s *Server) handleListTargets(w http.ResponseWriter, r *http.Request) {
	pool := types.TargetPool(r.URL.Query().Get("pool"))
	if pool == "" {
		pool = types.PoolExternal
	}
	if pool != types.PoolInternal && pool != types.PoolExternal {
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown pool %q", pool))
		return
	}

	targets, err := s.store.ListTargets(pool)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	views := make([]targetView, 0, len(targets))
	for _, target := range targets {
		views = append(views, targetToView(target))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleUploadTargets(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Pool    types.TargetPool `json:"pool"`
		Handles []string         `json:"handles"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid upload body: %w", err))
		return
	}
	if payload.Pool != types.PoolInternal && payload.Pool != types.PoolExternal {
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown pool %q", payload.Pool))
		return
	}

	created := 0
	var skipped []string
	for _, handle := range payload.Handles {
		target := &types.FollowTarget{
			ID:         uuid.New().String(),
			Handle:     handle,
			Pool:       payload.Pool,
			UploadedAt: time.Now().UTC(),
		}
		if err := s.store.CreateTarget(target); err != nil {
			skipped = append(skipped, fmt.Sprintf("%s: %v", handle, err))
			continue
		}
		created++
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"created": created,
		"skipped": skipped,
	})
}

func (s *Server) handleDeleteTarget(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteTarget(r.PathValue("id")); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.store.ListAccounts()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	views := make([]accountView, 0, len(accounts))
	for _, account := range accounts {
		if account.Deleted() {
			continue
		}
		views = append(views, accountToView(account))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var payload accountPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid account body: %w", err))
		return
	}

	account, err := payload.toAccount()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if existing, err := s.store.GetAccountByHandle(account.Handle); err == nil && existing != nil {
		writeError(w, http.StatusConflict, fmt.Errorf("account handle %s already registered", account.Handle))
		return
	}
	if err := s.store.CreateAccount(account); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, accountToView(account))
}

// handleDeleteAccount soft-deletes so progress history stays attributable
func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	account, err := s.store.GetAccount(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	now := time.Now().UTC()
	account.DeletedAt = &now
	account.Active = false
	if err := s.store.UpdateAccount(account); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.scheduler.Start(); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"running": true})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.scheduler.Stop(); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"running": false})
}

func (s *Server) handleReconfigure(w http.ResponseWriter, r *http.Request) {
	if err := s.scheduler.Reconfigure(); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"running": s.scheduler.Running()})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.store.ListAccounts()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	progress, err := s.store.ListProgress()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	stats := statsView{ProgressByStatus: map[string]int{}}
	for _, account := range accounts {
		if account.Deleted() {
			continue
		}
		stats.Accounts++
		if account.Active {
			stats.ActiveAccounts++
		}
		stats.FollowsToday += account.DailyFollows
		stats.FollowsTotal += account.TotalFollows
	}
	for _, row := range progress {
		stats.ProgressByStatus[string(row.Status)]++
	}
	for _, pool := range []types.TargetPool{types.PoolInternal, types.PoolExternal} {
		targets, err := s.store.ListTargets(pool)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if pool == types.PoolInternal {
			stats.InternalTargets = len(targets)
		} else {
			stats.ExternalTargets = len(targets)
		}
	}

	stats.Running = s.scheduler.Running()
	group, next := s.scheduler.CurrentGroup()
	stats.ActiveGroup = group
	if !next.IsZero() {
		stats.NextRotation = &next
	}

	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	out := make([]eventView, 0, len(s.recent))
	for _, event := range s.recent {
		out = append(out, eventView{
			ID:        event.ID,
			Type:      string(event.Type),
			Timestamp: event.Timestamp,
			Message:   event.Message,
			Metadata:  event.Metadata,
		})
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
