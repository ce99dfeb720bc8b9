package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/coastal-report-sync/internal/config"
	"github.com/couchcryptid/coastal-report-sync/internal/domain"
	"github.com/couchcryptid/coastal-report-sync/internal/events"
	"github.com/couchcryptid/coastal-report-sync/internal/store"
	"github.com/couchcryptid/coastal-report-sync/internal/syncer"
)

// formOverhead is slack on top of the media cap for the non-file form fields
// and multipart framing when bounding request bodies.
const formOverhead = 64 << 10

// Queue is the slice of the pending-report store the API serves.
type Queue interface {
	Enqueue(ctx context.Context, payload domain.ReportPayload, media *domain.MediaAttachment) (domain.PendingReport, error)
	ListPending(ctx context.Context) ([]domain.PendingReport, error)
	Delete(ctx context.Context, id string) error
	Requeue(ctx context.Context, id string) error
	Counts(ctx context.Context) (store.Counts, error)
	Ping(ctx context.Context) error
}

// Trigger is the slice of the sync coordinator the API exposes.
type Trigger interface {
	TriggerNow() bool
	Running() bool
	LastResult() (syncer.Result, time.Time, bool)
}

// Reachability reports the prober's current view of the sink.
type Reachability interface {
	Online() bool
}

// EventSource lets API clients attach to the sync event stream. Implemented
// by *events.Bus.
type EventSource interface {
	Subscribe(buffer int) (<-chan events.Event, func())
}

// Server exposes the station-local API: report intake, queue inspection,
// manual sync, the event stream, and the health/metrics endpoints.
type Server struct {
	httpServer    *http.Server
	queue         Queue
	trigger       Trigger
	reach         Reachability
	eventSource   EventSource
	maxMediaBytes int64
	logger        *slog.Logger
}

// NewServer wires the API routes. The station UI is the only intended
// client, so there is no auth on this listener; it binds a local interface.
func NewServer(cfg *config.Config, queue Queue, trigger Trigger, reach Reachability, eventSource EventSource, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      mux,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		queue:         queue,
		trigger:       trigger,
		reach:         reach,
		eventSource:   eventSource,
		maxMediaBytes: cfg.MediaMaxBytes,
		logger:        logger,
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /api/v1/reports", s.handleSubmit)
	mux.HandleFunc("GET /api/v1/reports", s.handleList)
	mux.HandleFunc("DELETE /api/v1/reports/{id}", s.handleDelete)
	mux.HandleFunc("POST /api/v1/reports/{id}/requeue", s.handleRequeue)
	mux.HandleFunc("GET /api/v1/queue", s.handleQueue)
	mux.HandleFunc("POST /api/v1/sync", s.handleSyncNow)
	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("GET /api/v1/events", s.handleEvents)

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

// --- request/response shapes ---

type submitRequest struct {
	domain.ReportPayload
	// MediaURI carries the photo as a data URI on the JSON path; the
	// multipart path sends it as a file part instead.
	MediaURI string `json:"media_uri,omitempty"`
}

type submitResponse struct {
	ID     string        `json:"id"`
	Status domain.Status `json:"status"`
	Queue  *store.Counts `json:"queue,omitempty"`
}

// submitRejection echoes the payload back on storage-full so the station UI
// can keep the reporter's text while they free space.
type submitRejection struct {
	Error   string               `json:"error"`
	Payload domain.ReportPayload `json:"payload"`
}

type mediaView struct {
	MIME      string `json:"mime"`
	SizeBytes int    `json:"size_bytes"`
}

type reportView struct {
	ID         string               `json:"id"`
	Payload    domain.ReportPayload `json:"payload"`
	Media      *mediaView           `json:"media,omitempty"`
	Status     domain.Status        `json:"status"`
	RetryCount int                  `json:"retry_count"`
	LastError  string               `json:"last_error,omitempty"`
	EnqueuedAt time.Time            `json:"enqueued_at"`
}

type listResponse struct {
	Reports []reportView `json:"reports"`
}

type syncResponse struct {
	Accepted bool `json:"accepted"`
}

type lastSyncView struct {
	syncer.Result
	At time.Time `json:"at"`
}

type statusResponse struct {
	Online   bool          `json:"online"`
	Syncing  bool          `json:"syncing"`
	LastSync *lastSyncView `json:"last_sync,omitempty"`
}

// --- handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.queue.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 2*s.maxMediaBytes+formOverhead)

	var (
		payload domain.ReportPayload
		media   *domain.MediaAttachment
		err     error
	)
	ct := r.Header.Get("Content-Type")
	switch {
	case strings.HasPrefix(ct, "application/json"):
		payload, media, err = decodeJSONSubmission(r)
	case strings.HasPrefix(ct, "multipart/form-data"):
		payload, media, err = s.decodeFormSubmission(r)
	default:
		writeJSON(w, http.StatusUnsupportedMediaType, errorBody("unsupported content type"))
		return
	}
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}

	entry, err := s.queue.Enqueue(r.Context(), payload, media)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrInvalidPayload):
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	case errors.Is(err, store.ErrStorageFull):
		writeJSON(w, http.StatusInsufficientStorage, submitRejection{
			Error:   "local queue storage is full",
			Payload: payload,
		})
		return
	default:
		s.logger.Error("enqueue failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody("enqueue failed"))
		return
	}

	resp := submitResponse{ID: entry.ID, Status: entry.Status}
	if counts, err := s.queue.Counts(r.Context()); err == nil {
		resp.Queue = &counts
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	entries, err := s.queue.ListPending(r.Context())
	if err != nil {
		s.logger.Error("list reports failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody("list reports failed"))
		return
	}

	views := make([]reportView, len(entries))
	for i, entry := range entries {
		views[i] = reportView{
			ID:         entry.ID,
			Payload:    entry.Payload,
			Status:     entry.Status,
			RetryCount: entry.RetryCount,
			LastError:  entry.LastError,
			EnqueuedAt: entry.EnqueuedAt,
		}
		// Media is elided to its shape; the bytes never leave the store
		// through this endpoint.
		if entry.Media != nil {
			views[i].Media = &mediaView{MIME: entry.Media.MIME, SizeBytes: len(entry.Media.Data)}
		}
	}
	writeJSON(w, http.StatusOK, listResponse{Reports: views})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.queue.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.logger.Error("delete report failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody("delete failed"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRequeue(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := s.queue.Requeue(r.Context(), id)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("report not found"))
	case errors.Is(err, store.ErrNotFailed):
		writeJSON(w, http.StatusConflict, errorBody("report is not in the failed state"))
	default:
		s.logger.Error("requeue failed", "id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody("requeue failed"))
	}
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	counts, err := s.queue.Counts(r.Context())
	if err != nil {
		s.logger.Error("queue counts failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody("counts failed"))
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (s *Server) handleSyncNow(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusAccepted, syncResponse{Accepted: s.trigger.TriggerNow()})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{
		Online:  s.reach.Online(),
		Syncing: s.trigger.Running(),
	}
	if res, at, ok := s.trigger.LastResult(); ok {
		resp.LastSync = &lastSyncView{Result: res, At: at}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleEvents streams sync events as server-sent events. The station UI
// keeps one of these open to update its queue badge without polling. The
// stream ends when the client goes away or the bus closes at shutdown.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorBody("streaming unsupported"))
		return
	}

	ch, cancel := s.eventSource.Subscribe(32)
	defer cancel()

	// The stream outlives the server's write timeout.
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				s.logger.Error("encoding event failed", "event", ev.Kind(), "error", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind(), data)
			flusher.Flush()
		}
	}
}

// --- submission decoding ---

func decodeJSONSubmission(r *http.Request) (domain.ReportPayload, *domain.MediaAttachment, error) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return domain.ReportPayload{}, nil, fmt.Errorf("invalid JSON body: %w", err)
	}
	var media *domain.MediaAttachment
	if req.MediaURI != "" {
		m, err := domain.ParseDataURI(req.MediaURI)
		if err != nil {
			return domain.ReportPayload{}, nil, err
		}
		media = m
	}
	return req.ReportPayload, media, nil
}

func (s *Server) decodeFormSubmission(r *http.Request) (domain.ReportPayload, *domain.MediaAttachment, error) {
	if err := r.ParseMultipartForm(s.maxMediaBytes + formOverhead); err != nil {
		return domain.ReportPayload{}, nil, fmt.Errorf("invalid multipart form: %w", err)
	}

	payload := domain.ReportPayload{
		HazardType:  r.FormValue("hazard_type"),
		Description: r.FormValue("description"),
		Severity:    r.FormValue("severity"),
		Location:    r.FormValue("location"),
	}
	var err error
	if payload.Lat, err = parseCoord(r.FormValue("lat"), "lat"); err != nil {
		return domain.ReportPayload{}, nil, err
	}
	if payload.Lon, err = parseCoord(r.FormValue("lon"), "lon"); err != nil {
		return domain.ReportPayload{}, nil, err
	}

	file, header, err := r.FormFile("media")
	switch {
	case errors.Is(err, http.ErrMissingFile):
		return payload, nil, nil
	case err != nil:
		return domain.ReportPayload{}, nil, fmt.Errorf("read media part: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return domain.ReportPayload{}, nil, fmt.Errorf("read media part: %w", err)
	}
	// Clients that do not set a real type on the file part (octet-stream is
	// multipart.Writer's filler) get content sniffing instead.
	mime := header.Header.Get("Content-Type")
	if mime == "" || mime == "application/octet-stream" {
		mime = http.DetectContentType(data)
	}
	return payload, &domain.MediaAttachment{MIME: mime, Data: data}, nil
}

func parseCoord(raw, name string) (float64, error) {
	if raw == "" {
		return 0, fmt.Errorf("missing %s", name)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return v, nil
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response write
}
