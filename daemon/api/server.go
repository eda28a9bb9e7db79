// SPDX-License-Identifier: LGPL-3.0-or-later

// Package api is the HTTP request adaptor over the DLC manager. Every
// handler forwards into the core verbatim; the wire format is JSON.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dlcd/daemon/dlcerr"
	"dlcd/daemon/metrics"
	"dlcd/daemon/models"
	"dlcd/daemon/notify"
	"dlcd/daemon/store"
	"dlcd/logger"
)

// Manager is the slice of the DLC manager the adaptor forwards into.
type Manager interface {
	Install(req models.InstallRequest) error
	Uninstall(id string) error
	Purge(id string) error
	Deploy(id string) error
	Unload(sel models.UnloadSelector) error
	GetDlcState(id string) (models.DlcState, error)
	GetInstalled() []models.DlcState
	GetExistingDlcs() []models.ExistingDlc
	GetDlcsToUpdate() []string
	InstallCompleted(ids []string) error
	UpdateCompleted(ids []string) error
}

// Server handles HTTP API requests.
type Server struct {
	manager    Manager
	history    store.HistoryStore
	hub        *wsHub
	log        logger.Logger
	httpServer *http.Server
}

// NewServer builds the router. history may be nil when no database is
// configured.
func NewServer(manager Manager, history store.HistoryStore, log logger.Logger, addr string) *Server {
	s := &Server{
		manager: manager,
		history: history,
		hub:     newWSHub(log),
		log:     log,
	}

	r := chi.NewRouter()
	r.Use(s.requestMiddleware)

	r.Get("/health", s.handleHealth)
	r.Get("/ws", s.handleWebSocket)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Post("/install", s.handleInstall)
	r.Post("/uninstall", s.handleUninstall)
	r.Post("/purge", s.handlePurge)
	r.Post("/deploy", s.handleDeploy)
	r.Post("/unload", s.handleUnload)
	r.Post("/install-completed", s.handleInstallCompleted)
	r.Post("/update-completed", s.handleUpdateCompleted)

	r.Get("/dlcs/installed", s.handleGetInstalled)
	r.Get("/dlcs/existing", s.handleGetExisting)
	r.Get("/dlcs/to-update", s.handleGetToUpdate)
	r.Get("/dlcs/{id}/state", s.handleGetState)
	r.Get("/history", s.handleHistory)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// StateObserver returns the observer that feeds the websocket stream.
func (s *Server) StateObserver() notify.Observer {
	return s.hub
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves until Shutdown.
func (s *Server) Start() error {
	s.log.Info("starting API server", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown stops the server and disconnects websocket clients.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down API server")
	s.hub.shutdown(ctx)
	return s.httpServer.Shutdown(ctx)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrade take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hj.Hijack()
}

// requestMiddleware assigns a request id, logs and counts every request.
func (s *Server) requestMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set("X-Request-Id", requestID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r.WithContext(withRequestID(r.Context(), requestID)))

		metrics.APIRequests.WithLabelValues(
			r.Method, r.URL.Path, strconv.Itoa(rec.status)).Inc()
		s.log.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"request_id", requestID,
			"duration", time.Since(start))
	})
}

type requestIDKey struct{}

func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func requestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}

type errorResponse struct {
	ErrorKind string `json:"error_kind"`
	Message   string `json:"message"`
}

// errorStatus maps domain error kinds onto HTTP statuses.
func errorStatus(kind dlcerr.Kind) int {
	switch kind {
	case dlcerr.KindInvalidDlc:
		return http.StatusNotFound
	case dlcerr.KindBusy:
		return http.StatusConflict
	case dlcerr.KindNeedReboot:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) errorJSON(w http.ResponseWriter, err error) {
	kind := dlcerr.KindOf(err)
	s.jsonResponse(w, errorStatus(kind), errorResponse{
		ErrorKind: string(kind),
		Message:   err.Error(),
	})
}

// recordOperation appends the outcome to the history ledger, best-effort.
func (s *Server) recordOperation(ctx context.Context, dlcID, operation string, err error) {
	if s.history == nil {
		return
	}
	if recErr := s.history.RecordOperation(
		requestID(ctx), dlcID, operation, string(dlcerr.KindOf(err))); recErr != nil {
		s.log.Warn("failed to record operation history", "error", recErr)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleInstall(w http.ResponseWriter, r *http.Request) {
	var req models.InstallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonResponse(w, http.StatusBadRequest, errorResponse{
			ErrorKind: string(dlcerr.KindInternal),
			Message:   fmt.Sprintf("parse install request: %v", err),
		})
		return
	}

	err := s.manager.Install(req)
	s.recordOperation(r.Context(), req.ID, "install", err)
	if err != nil {
		metrics.RecordInstallResult(false, string(dlcerr.KindOf(err)))
		s.errorJSON(w, err)
		return
	}

	state, stateErr := s.manager.GetDlcState(req.ID)
	if stateErr != nil {
		s.errorJSON(w, stateErr)
		return
	}
	s.jsonResponse(w, http.StatusOK, state)
}

type idRequest struct {
	ID string `json:"id"`
}

func (s *Server) decodeID(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req idRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		s.jsonResponse(w, http.StatusBadRequest, errorResponse{
			ErrorKind: string(dlcerr.KindInternal),
			Message:   "request body must carry a DLC id",
		})
		return "", false
	}
	return req.ID, true
}

func (s *Server) handleUninstall(w http.ResponseWriter, r *http.Request) {
	id, ok := s.decodeID(w, r)
	if !ok {
		return
	}
	err := s.manager.Uninstall(id)
	s.recordOperation(r.Context(), id, "uninstall", err)
	metrics.RecordUninstallResult(err == nil, string(dlcerr.KindOf(err)))
	if err != nil {
		s.errorJSON(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, nil)
}

func (s *Server) handlePurge(w http.ResponseWriter, r *http.Request) {
	id, ok := s.decodeID(w, r)
	if !ok {
		return
	}
	err := s.manager.Purge(id)
	s.recordOperation(r.Context(), id, "purge", err)
	if err != nil {
		s.errorJSON(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, nil)
}

func (s *Server) handleDeploy(w http.ResponseWriter, r *http.Request) {
	id, ok := s.decodeID(w, r)
	if !ok {
		return
	}
	err := s.manager.Deploy(id)
	s.recordOperation(r.Context(), id, "deploy", err)
	if err != nil {
		s.errorJSON(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, nil)
}

func (s *Server) handleUnload(w http.ResponseWriter, r *http.Request) {
	var sel models.UnloadSelector
	if err := json.NewDecoder(r.Body).Decode(&sel); err != nil {
		s.jsonResponse(w, http.StatusBadRequest, errorResponse{
			ErrorKind: string(dlcerr.KindInternal),
			Message:   fmt.Sprintf("parse unload selector: %v", err),
		})
		return
	}
	if err := s.manager.Unload(sel); err != nil {
		s.errorJSON(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, nil)
}

type idsRequest struct {
	IDs []string `json:"ids"`
}

func (s *Server) handleInstallCompleted(w http.ResponseWriter, r *http.Request) {
	var req idsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonResponse(w, http.StatusBadRequest, errorResponse{
			ErrorKind: string(dlcerr.KindInternal),
			Message:   fmt.Sprintf("parse ids: %v", err),
		})
		return
	}
	if err := s.manager.InstallCompleted(req.IDs); err != nil {
		s.errorJSON(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, nil)
}

func (s *Server) handleUpdateCompleted(w http.ResponseWriter, r *http.Request) {
	var req idsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonResponse(w, http.StatusBadRequest, errorResponse{
			ErrorKind: string(dlcerr.KindInternal),
			Message:   fmt.Sprintf("parse ids: %v", err),
		})
		return
	}
	if err := s.manager.UpdateCompleted(req.IDs); err != nil {
		s.errorJSON(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, nil)
}

func (s *Server) handleGetInstalled(w http.ResponseWriter, r *http.Request) {
	states := s.manager.GetInstalled()
	if states == nil {
		states = []models.DlcState{}
	}
	s.jsonResponse(w, http.StatusOK, states)
}

func (s *Server) handleGetExisting(w http.ResponseWriter, r *http.Request) {
	existing := s.manager.GetExistingDlcs()
	if existing == nil {
		existing = []models.ExistingDlc{}
	}
	s.jsonResponse(w, http.StatusOK, existing)
}

func (s *Server) handleGetToUpdate(w http.ResponseWriter, r *http.Request) {
	ids := s.manager.GetDlcsToUpdate()
	if ids == nil {
		ids = []string{}
	}
	s.jsonResponse(w, http.StatusOK, ids)
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	state, err := s.manager.GetDlcState(id)
	if err != nil {
		s.errorJSON(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, state)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.jsonResponse(w, http.StatusOK, []store.Record{})
		return
	}

	filter := store.Filter{DlcID: r.URL.Query().Get("id")}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 0 {
			s.jsonResponse(w, http.StatusBadRequest, errorResponse{
				ErrorKind: string(dlcerr.KindInternal),
				Message:   "limit must be a non-negative integer",
			})
			return
		}
		filter.Limit = limit
	}

	records, err := s.history.History(filter)
	if err != nil {
		s.errorJSON(w, err)
		return
	}
	if records == nil {
		records = []store.Record{}
	}
	s.jsonResponse(w, http.StatusOK, records)
}
