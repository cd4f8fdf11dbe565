package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/yyri/wecube-platform/internal/domain"
)

// BatchRunner executes a batch request and returns payloads by business key.
type BatchRunner interface {
	Handle(ctx context.Context, req domain.BatchRequest) (map[string]json.RawMessage, error)
}

// BatchReader loads a persisted batch. GetBatch returns domain.ErrNotFound
// when the batch does not exist.
type BatchReader interface {
	GetBatch(ctx context.Context, id uuid.UUID) (*domain.BatchExecutionJob, error)
}

// HealthChecker provides database health status for the /health endpoint.
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

type Handler struct {
	runner BatchRunner
	reader BatchReader
	db     HealthChecker
	logger *log.Logger
}

func NewHandler(runner BatchRunner, reader BatchReader) *Handler {
	return &Handler{
		runner: runner,
		reader: reader,
		logger: log.Default().WithPrefix("api"),
	}
}

// WithHealthChecker sets the database health checker for verbose /health responses.
func (h *Handler) WithHealthChecker(db HealthChecker) *Handler {
	h.db = db
	return h
}

// WithLogger replaces the component logger.
func (h *Handler) WithLogger(logger *log.Logger) *Handler {
	h.logger = logger.WithPrefix("api")
	return h
}

const batchPrefix = "/batch-executions/"

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	switch {
	case path == "/health" && r.Method == http.MethodGet:
		h.health(w, r)

	case path == batchPrefix+"run" && r.Method == http.MethodPost:
		h.runBatch(w, r)

	case strings.HasPrefix(path, batchPrefix) && r.Method == http.MethodGet:
		h.getBatch(w, r)

	default:
		h.writeError(w, http.StatusNotFound, "not found")
	}
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	verbose := r.URL.Query().Get("verbose") == "true"

	if !verbose || h.db == nil {
		h.writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
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

	h.writeJSON(w, statusCode, resp)
}

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

func (h *Handler) runBatch(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req BatchExecutionRequest
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		h.writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := validateBatchRequest(req); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	results, err := h.runner.Handle(r.Context(), toBatchRequest(req))
	if err != nil {
		h.logger.Error("batch execution failed", "interface", req.PluginConfigInterface.ID, "err", err)
		h.writeError(w, http.StatusInternalServerError, "batch execution failed")
		return
	}

	h.writeJSON(w, http.StatusOK, Response{Status: statusOK, Message: "Success", Data: results})
}

func (h *Handler) getBatch(w http.ResponseWriter, r *http.Request) {
	rawID := strings.TrimPrefix(r.URL.Path, batchPrefix)
	if rawID == "" || strings.Contains(rawID, "/") {
		h.writeError(w, http.StatusNotFound, "not found")
		return
	}

	id, err := uuid.Parse(rawID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid batch id")
		return
	}

	batch, err := h.reader.GetBatch(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "batch not found")
		return
	}
	if err != nil {
		h.logger.Error("get batch failed", "batch", id, "err", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get batch")
		return
	}

	h.writeJSON(w, http.StatusOK, Response{Status: statusOK, Message: "Success", Data: toBatchResponse(batch)})
}

func toBatchResponse(b *domain.BatchExecutionJob) BatchResponse {
	resp := BatchResponse{
		ID:          b.ID.String(),
		CreatedAt:   formatTime(b.CreatedAt),
		CompletedAt: formatTimePtr(b.CompletedAt),
		AbandonedAt: formatTimePtr(b.AbandonedAt),
		FailedJobs:  b.FailedJobs(),
		Jobs:        make([]JobResponse, len(b.Jobs)),
	}

	for i, job := range b.Jobs {
		params := make([]ParameterResponse, len(job.Parameters))
		for j, p := range job.Parameters {
			params[j] = ParameterResponse{
				Name:        p.Name,
				DataType:    string(p.DataType),
				MappingType: string(p.MappingType),
				Required:    p.Required,
				Value:       p.Value,
			}
		}
		resp.Jobs[i] = JobResponse{
			ID:                      job.ID.String(),
			RootEntityID:            job.RootEntityID,
			PluginConfigInterfaceID: job.PluginConfigInterfaceID,
			PackageName:             job.PackageName,
			EntityName:              job.EntityName,
			BusinessKey:             job.BusinessKey,
			State:                   string(job.State),
			ReturnJSON:              job.ReturnJSON,
			ErrorCode:               job.ErrorCode,
			ErrorMessage:            job.ErrorMessage,
			Parameters:              params,
		}
	}
	return resp
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("json encode error", "err", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, Response{Status: statusError, Message: msg})
}
