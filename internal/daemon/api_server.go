package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"portalpilot/internal/api"
	"portalpilot/internal/config"
	"portalpilot/internal/ingest"
	"portalpilot/internal/logging"
	"portalpilot/internal/queue"
	"portalpilot/internal/services"
	"portalpilot/internal/workflow"
)

const (
	maxJSONBody   = 1 << 20
	maxUploadBody = 8 << 20
)

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon
	mux    *http.ServeMux

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	srv := &apiServer{
		bind:   strings.TrimSpace(cfg.Paths.APIBind),
		logger: logging.NewComponentLogger(logger, "api-server"),
		daemon: d,
		mux:    http.NewServeMux(),
	}

	srv.mux.HandleFunc("GET /api/status", srv.handleStatus)

	srv.mux.HandleFunc("GET /api/queue", srv.handleQueueList)
	srv.mux.HandleFunc("POST /api/queue", srv.handleQueueAdd)
	srv.mux.HandleFunc("GET /api/queue/statistics", srv.handleQueueStatistics)
	srv.mux.HandleFunc("GET /api/queue/export", srv.handleQueueExport)
	srv.mux.HandleFunc("POST /api/queue/backup", srv.handleQueueBackup)
	srv.mux.HandleFunc("POST /api/queue/clear", srv.handleQueueClear)
	srv.mux.HandleFunc("POST /api/queue/reorder", srv.handleQueueReorder)
	srv.mux.HandleFunc("POST /api/queue/bulk-delete", srv.handleQueueBulkDelete)
	srv.mux.HandleFunc("POST /api/queue/retry-all", srv.handleQueueRetryAll)
	srv.mux.HandleFunc("POST /api/queue/upload", srv.handleQueueUpload)
	srv.mux.HandleFunc("POST /api/queue/import", srv.handleQueueImport)
	srv.mux.HandleFunc("GET /api/queue/{id}", srv.handleQueueItem)
	srv.mux.HandleFunc("PATCH /api/queue/{id}", srv.handleQueueUpdate)
	srv.mux.HandleFunc("DELETE /api/queue/{id}", srv.handleQueueDelete)
	srv.mux.HandleFunc("POST /api/queue/{id}/retry", srv.handleQueueRetry)

	srv.mux.HandleFunc("GET /api/automation/status", srv.handleAutomationStatus)
	srv.mux.HandleFunc("POST /api/automation/{action}", srv.handleAutomationAction)
	srv.mux.HandleFunc("GET /api/events", srv.handleEvents)
	srv.mux.HandleFunc("GET /api/logs", srv.handleLogs)

	srv.server = &http.Server{
		Handler:           srv.handler(cfg.Paths.APIToken),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

// handler returns the routed, authenticated handler.
func (s *apiServer) handler(token string) http.Handler {
	return authMiddleware(token, s.withRequestID(s.mux))
}

func (s *apiServer) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := services.WithRequestID(r.Context(), id)
		logging.WithContext(ctx, s.logger).Debug("api request",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
		)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *apiServer) start(ctx context.Context) error {
	if s.bind == "" {
		s.logger.Info("api server disabled; no bind address configured")
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		s.stop()
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	s.mu.Lock()
	listener := s.listener
	s.listener = nil
	s.mu.Unlock()
	if listener == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
	_ = listener.Close()
}

func (s *apiServer) address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.daemon.Status(r.Context()))
}

func (s *apiServer) handleQueueList(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	var statuses []queue.Status
	for _, value := range query["status"] {
		for _, part := range strings.Split(value, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			status, ok := queue.ParseStatus(part)
			if !ok {
				s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", part))
				return
			}
			statuses = append(statuses, status)
		}
	}
	items, err := s.daemon.Queue().List(r.Context(), query.Get("q"), statuses...)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.QueueListResponse{Items: items})
}

func (s *apiServer) handleQueueAdd(w http.ResponseWriter, r *http.Request) {
	var req api.EnqueueRequest
	if !s.decode(w, r, &req) {
		return
	}
	item, err := s.daemon.Queue().Enqueue(r.Context(), req)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, api.QueueItemResponse{Item: *item})
}

func (s *apiServer) handleQueueItem(w http.ResponseWriter, r *http.Request) {
	item, err := s.daemon.Queue().Describe(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.QueueItemResponse{Item: *item})
}

func (s *apiServer) handleQueueUpdate(w http.ResponseWriter, r *http.Request) {
	var update queue.ItemUpdate
	if !s.decode(w, r, &update) {
		return
	}
	item, err := s.daemon.Queue().Update(r.Context(), r.PathValue("id"), update)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.QueueItemResponse{Item: *item})
}

func (s *apiServer) handleQueueDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.daemon.Queue().Delete(r.Context(), r.PathValue("id")); err != nil {
		s.writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handleQueueRetry(w http.ResponseWriter, r *http.Request) {
	item, err := s.daemon.Queue().Retry(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.QueueItemResponse{Item: *item})
}

func (s *apiServer) handleQueueRetryAll(w http.ResponseWriter, r *http.Request) {
	resp, err := s.daemon.Queue().RetryAll(r.Context())
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) handleQueueReorder(w http.ResponseWriter, r *http.Request) {
	var req api.ReorderRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.daemon.Queue().Reorder(r.Context(), req); err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.ActionResponse{OK: true})
}

func (s *apiServer) handleQueueBulkDelete(w http.ResponseWriter, r *http.Request) {
	var req api.BulkDeleteRequest
	if !s.decode(w, r, &req) {
		return
	}
	resp, err := s.daemon.Queue().BulkDelete(r.Context(), req.IDs)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) handleQueueClear(w http.ResponseWriter, r *http.Request) {
	resp, err := s.daemon.Queue().Clear(r.Context())
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) handleQueueStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.daemon.Queue().Statistics(r.Context())
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *apiServer) handleQueueExport(w http.ResponseWriter, r *http.Request) {
	format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))
	if format == "" {
		format = queue.FormatJSON
	}
	data, err := s.daemon.Queue().Export(r.Context(), format)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	contentType := "application/json"
	if format == queue.FormatCSV {
		contentType = "text/csv; charset=utf-8"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="queue-export.%s"`, format))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *apiServer) handleQueueBackup(w http.ResponseWriter, r *http.Request) {
	resp, err := s.daemon.Queue().Backup(r.Context())
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, resp)
}

func (s *apiServer) handleQueueUpload(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadBody))
	if err != nil {
		s.writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
		return
	}
	query := r.URL.Query()
	format := ingest.FormatAuto
	switch strings.ToLower(query.Get("format")) {
	case "json":
		format = ingest.FormatJSON
	case "yaml", "yml":
		format = ingest.FormatYAML
	case "":
		if strings.Contains(r.Header.Get("Content-Type"), "yaml") {
			format = ingest.FormatYAML
		}
	default:
		s.writeError(w, http.StatusBadRequest, "format must be json or yaml")
		return
	}
	priority := 0
	if value := query.Get("priority"); value != "" {
		if priority, err = strconv.Atoi(value); err != nil {
			s.writeError(w, http.StatusBadRequest, "priority must be an integer")
			return
		}
	}
	results, err := s.daemon.Queue().Upload(r.Context(), body, format, priority)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, results)
}

func (s *apiServer) handleQueueImport(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadBody))
	if err != nil {
		s.writeError(w, http.StatusRequestEntityTooLarge, "import too large")
		return
	}
	out, err := s.daemon.Queue().Import(r.Context(), body)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *apiServer) handleAutomationStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.daemon.EngineStatus())
}

func (s *apiServer) handleAutomationAction(w http.ResponseWriter, r *http.Request) {
	var err error
	switch action := r.PathValue("action"); action {
	case "start":
		err = s.daemon.StartAutomation()
	case "pause":
		err = s.daemon.PauseAutomation()
	case "resume":
		err = s.daemon.ResumeAutomation()
	case "stop":
		err = s.daemon.StopAutomation(r.Context())
	case "skip":
		err = s.daemon.SkipItem()
	case "confirm":
		req := api.ConfirmRequest{Approved: true}
		if r.ContentLength != 0 && !s.decode(w, r, &req) {
			return
		}
		err = s.daemon.Confirm(req.Approved)
	default:
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("unknown action %q", action))
		return
	}
	if err != nil {
		s.writeError(w, controlStatus(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, s.daemon.EngineStatus())
}

func controlStatus(err error) int {
	switch {
	case errors.Is(err, ErrDaemonStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, workflow.ErrAlreadyRunning),
		errors.Is(err, workflow.ErrNotRunning),
		errors.Is(err, workflow.ErrNoCurrentItem),
		errors.Is(err, workflow.ErrNoPendingConfirmation),
		errors.Is(err, workflow.ErrGateBusy):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// handleEvents streams engine state as server-sent events until the client
// disconnects.
func (s *apiServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	updates, unsubscribe := s.daemon.Engine().Subscribe(32)
	defer unsubscribe()
	totalSteps := len(s.daemon.Engine().StepTable())

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	send := func(st api.EngineStatus) bool {
		data, err := json.Marshal(st)
		if err != nil {
			return false
		}
		if _, err := fmt.Fprintf(w, "event: state\ndata: %s\n\n", data); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}
	if !send(s.daemon.EngineStatus()) {
		return
	}

	ping := time.NewTicker(15 * time.Second)
	defer ping.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case st, ok := <-updates:
			if !ok || !send(api.FromEngineState(st, totalSteps)) {
				return
			}
		case <-ping.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *apiServer) handleLogs(w http.ResponseWriter, r *http.Request) {
	hub := s.daemon.LogStream()
	if hub == nil {
		s.writeJSON(w, http.StatusOK, api.LogStreamResponse{})
		return
	}

	query := r.URL.Query()
	since, _ := strconv.ParseUint(query.Get("since"), 10, 64)
	limit, _ := strconv.Atoi(query.Get("limit"))
	if limit <= 0 {
		limit = 200
	}
	follow := query.Get("follow") == "1" || strings.EqualFold(query.Get("follow"), "true")
	tail := query.Get("tail") == "1" || strings.EqualFold(query.Get("tail"), "true")
	itemID := strings.TrimSpace(query.Get("item"))
	component := strings.TrimSpace(query.Get("component"))

	var (
		events []logging.LogEvent
		next   uint64
	)
	if tail && since == 0 && !follow {
		events, next = hub.Tail(limit)
	} else {
		ctx := r.Context()
		if follow {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, 25*time.Second)
			defer cancel()
		}
		var err error
		events, next, err = hub.Fetch(ctx, since, limit, follow)
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	filtered := make([]logging.LogEvent, 0, len(events))
	for _, evt := range events {
		if itemID != "" && evt.ItemID != itemID {
			continue
		}
		if component != "" && !strings.EqualFold(component, evt.Component) {
			continue
		}
		filtered = append(filtered, evt)
	}
	s.writeJSON(w, http.StatusOK, api.LogStreamResponse{Events: filtered, Next: next})
}

func (s *apiServer) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeFailure(w http.ResponseWriter, err error) {
	s.writeError(w, api.HTTPStatus(err), err.Error())
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
