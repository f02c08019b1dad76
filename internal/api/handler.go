package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sendlater/sendlater/internal/domain"
	"github.com/sendlater/sendlater/internal/identity"
)

// Pagination defaults and limits.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// DefaultMaxAttempts applies when a create request omits max_attempts.
const DefaultMaxAttempts = 5

type Store interface {
	Create(ctx context.Context, ownerID uuid.UUID, payload domain.MessagePayload, dueAt time.Time, maxAttempts int) (domain.EmailJob, error)
	Get(ctx context.Context, id, ownerID uuid.UUID) (domain.EmailJob, error)
	ListPending(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]domain.EmailJob, error)
	ListTerminal(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]domain.EmailJob, error)
	Cancel(ctx context.Context, id, ownerID uuid.UUID, expectedVersion int64) (domain.EmailJob, error)
	Reschedule(ctx context.Context, id, ownerID uuid.UUID, newDueAt time.Time, expectedVersion int64) (domain.EmailJob, error)
}

// HealthChecker provides database health status for the /health endpoint.
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// MetricsSink records API request metrics. Fire-and-forget.
type MetricsSink interface {
	RequestCompleted(method, route string, status int, duration time.Duration)
}

type Handler struct {
	store   Store
	db      HealthChecker
	metrics MetricsSink
}

func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// WithHealthChecker sets the database health checker for verbose /health responses.
func (h *Handler) WithHealthChecker(db HealthChecker) *Handler {
	h.db = db
	return h
}

// WithMetrics attaches a metrics sink to the handler.
func (h *Handler) WithMetrics(sink MetricsSink) *Handler {
	h.metrics = sink
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

	route := h.route(rec, r)

	if h.metrics != nil {
		if route == "" {
			route = "unmatched"
		}
		h.metrics.RequestCompleted(r.Method, route, rec.status, time.Since(start))
	}
}

// route dispatches the request and returns the route template for metrics.
func (h *Handler) route(w http.ResponseWriter, r *http.Request) string {
	path := r.URL.Path

	if path == "/health" && r.Method == http.MethodGet {
		h.health(w, r)
		return "/health"
	}

	if path == "/jobs" {
		switch r.Method {
		case http.MethodPost:
			h.createJob(w, r)
		case http.MethodGet:
			h.listJobs(w, r)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
		return "/jobs"
	}

	if strings.HasPrefix(path, "/jobs/") {
		parts := strings.Split(strings.Trim(path, "/"), "/")
		switch {
		case len(parts) == 2 && r.Method == http.MethodGet:
			h.getJob(w, r, parts[1])
			return "/jobs/{id}"
		case len(parts) == 3 && parts[2] == "cancel" && r.Method == http.MethodPost:
			h.cancelJob(w, r, parts[1])
			return "/jobs/{id}/cancel"
		case len(parts) == 3 && parts[2] == "reschedule" && r.Method == http.MethodPost:
			h.rescheduleJob(w, r, parts[1])
			return "/jobs/{id}/reschedule"
		}
	}

	writeError(w, http.StatusNotFound, "not found")
	return ""
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	verbose := r.URL.Query().Get("verbose") == "true"

	if !verbose || h.db == nil {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	resp := HealthResponse{
		Status:     "ok",
		Components: make(map[string]string),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		resp.Status = "degraded"
		resp.Components["database"] = "unhealthy: " + err.Error()
	} else {
		resp.Components["database"] = "healthy"
	}

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, resp)
}

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

func (h *Handler) createJob(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := identity.OwnerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := validateCreateJob(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sendAt, _ := time.Parse(time.RFC3339, req.SendAt) // validated above

	maxAttempts := req.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = DefaultMaxAttempts
	}

	payload := domain.MessagePayload{
		To:      req.To,
		Cc:      req.Cc,
		Bcc:     req.Bcc,
		Subject: req.Subject,
		Body:    req.Body,
	}

	job, err := h.store.Create(r.Context(), ownerID, payload, sendAt, maxAttempts)
	if err != nil {
		writeDomainError(w, "create job", err)
		return
	}

	writeJSON(w, http.StatusCreated, toJobResponse(job))
}

func (h *Handler) listJobs(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := identity.OwnerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	state := r.URL.Query().Get("state")
	if state == "" {
		state = "pending"
	}

	var jobs []domain.EmailJob
	switch state {
	case "pending":
		jobs, err = h.store.ListPending(r.Context(), ownerID, limit, offset)
	case "terminal":
		jobs, err = h.store.ListTerminal(r.Context(), ownerID, limit, offset)
	default:
		writeError(w, http.StatusBadRequest, "state must be pending or terminal")
		return
	}
	if err != nil {
		writeDomainError(w, "list jobs", err)
		return
	}

	resp := ListJobsResponse{Jobs: make([]JobResponse, len(jobs))}
	for i, job := range jobs {
		resp.Jobs[i] = toJobResponse(job)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getJob(w http.ResponseWriter, r *http.Request, rawID string) {
	ownerID, ok := identity.OwnerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	jobID, err := uuid.Parse(rawID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	job, err := h.store.Get(r.Context(), jobID, ownerID)
	if err != nil {
		writeDomainError(w, "get job", err)
		return
	}

	writeJSON(w, http.StatusOK, toJobResponse(job))
}

func (h *Handler) cancelJob(w http.ResponseWriter, r *http.Request, rawID string) {
	ownerID, ok := identity.OwnerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	jobID, err := uuid.Parse(rawID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	var req CancelJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	job, err := h.store.Cancel(r.Context(), jobID, ownerID, req.ExpectedVersion)
	if err != nil {
		writeDomainError(w, "cancel job", err)
		return
	}

	writeJSON(w, http.StatusOK, toJobResponse(job))
}

func (h *Handler) rescheduleJob(w http.ResponseWriter, r *http.Request, rawID string) {
	ownerID, ok := identity.OwnerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	jobID, err := uuid.Parse(rawID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	var req RescheduleJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	sendAt, err := time.Parse(time.RFC3339, req.SendAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid send_at")
		return
	}

	job, err := h.store.Reschedule(r.Context(), jobID, ownerID, sendAt, req.ExpectedVersion)
	if err != nil {
		writeDomainError(w, "reschedule job", err)
		return
	}

	writeJSON(w, http.StatusOK, toJobResponse(job))
}

// writeDomainError maps store errors to status codes.
func writeDomainError(w http.ResponseWriter, op string, err error) {
	switch {
	case domain.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, "version conflict")
	case errors.Is(err, domain.ErrInvalidState):
		writeError(w, http.StatusUnprocessableEntity, "job is not pending")
	default:
		log.Printf("api: %s error: %v", op, err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: json encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// parsePagination extracts and validates limit/offset query parameters.
func parsePagination(r *http.Request) (limit, offset int, err error) {
	limit = DefaultLimit
	offset = 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil {
			return 0, 0, err
		}
		if limit < 0 {
			return 0, 0, strconv.ErrRange
		}
		if limit > MaxLimit {
			return 0, 0, &limitExceededError{max: MaxLimit}
		}
		if limit == 0 {
			limit = DefaultLimit
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		offset, err = strconv.Atoi(offsetStr)
		if err != nil {
			return 0, 0, err
		}
		if offset < 0 {
			return 0, 0, strconv.ErrRange
		}
	}

	return limit, offset, nil
}

type limitExceededError struct {
	max int
}

func (e *limitExceededError) Error() string {
	return "limit exceeds maximum of " + strconv.Itoa(e.max)
}
