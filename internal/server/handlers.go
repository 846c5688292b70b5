package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/arkheion-systems/arkheion-securing/internal/journal"
	"github.com/arkheion-systems/arkheion-securing/internal/models"
	"github.com/arkheion-systems/arkheion-securing/internal/securing"
)

// Securer runs a full securing campaign for one traceability type.
type Securer interface {
	Secure(ctx context.Context, typ models.TraceabilityType) (*securing.Report, error)
}

// ContainerVerifier re-checks a stored container against its recorded root.
type ContainerVerifier interface {
	Verify(ctx context.Context, name string) (*securing.VerificationResult, error)
}

// Handler serves the securing admin API.
type Handler struct {
	securer  Securer
	journal  securing.Journal
	verifier ContainerVerifier
	logger   *slog.Logger
}

// NewHandler wires the admin API handler.
func NewHandler(securer Securer, j securing.Journal, verifier ContainerVerifier, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{securer: securer, journal: j, verifier: verifier, logger: logger}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// HealthCheck handles GET /healthz.
func (h *Handler) HealthCheck(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Secure handles POST /api/v1/securing/{type}. It runs a full campaign
// synchronously and returns the per-tenant report.
func (h *Handler) Secure(w http.ResponseWriter, r *http.Request) {
	rawType := strings.TrimPrefix(r.URL.Path, "/api/v1/securing/")
	typ, err := models.ParseTraceabilityType(rawType)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	report, err := h.securer.Secure(r.Context(), typ)
	if err != nil {
		h.logger.Error("securing campaign failed",
			"type", typ, "error", err)
		writeError(w, http.StatusInternalServerError, "securing campaign failed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// lastEventResponse wraps the detail of the latest successful run.
type lastEventResponse struct {
	OperationID string                    `json:"operationId"`
	Tenant      int                       `json:"tenant"`
	Event       *models.TraceabilityEvent `json:"event"`
}

// LastEvent handles GET /api/v1/securing/{type}/last?tenant=N: the current
// chain head for a tenant.
func (h *Handler) LastEvent(w http.ResponseWriter, r *http.Request) {
	rawType := strings.TrimPrefix(r.URL.Path, "/api/v1/securing/")
	rawType = strings.TrimSuffix(rawType, "/last")
	typ, err := models.ParseTraceabilityType(rawType)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tenant, err := tenantParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	op, err := h.journal.FindLastSuccessful(r.Context(), tenant, typ)
	if err != nil {
		h.logger.Error("failed to query chain head",
			"tenant", tenant, "type", typ, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to query chain head")
		return
	}
	if op == nil {
		writeError(w, http.StatusNotFound, "no successful securing run yet")
		return
	}
	detail, err := op.TraceabilityDetail()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "chain head has unreadable detail")
		return
	}
	writeJSON(w, http.StatusOK, lastEventResponse{
		OperationID: op.ID,
		Tenant:      op.Tenant,
		Event:       detail,
	})
}

// GetOperation handles GET /api/v1/operations/{id}?tenant=N.
func (h *Handler) GetOperation(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/operations/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "operation id required")
		return
	}
	tenant, err := tenantParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	op, err := h.journal.FindOperation(r.Context(), tenant, id)
	if err != nil {
		if errors.Is(err, journal.ErrOperationNotFound) {
			writeError(w, http.StatusNotFound, "operation not found")
			return
		}
		h.logger.Error("failed to load operation",
			"operation_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load operation")
		return
	}
	writeJSON(w, http.StatusOK, op)
}

// verifyRequest names a stored container to re-check.
type verifyRequest struct {
	Container string `json:"container"`
}

// VerifyContainer handles POST /api/v1/verify.
func (h *Handler) VerifyContainer(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Container == "" {
		writeError(w, http.StatusBadRequest, "container name required")
		return
	}

	result, err := h.verifier.Verify(r.Context(), req.Container)
	if err != nil {
		h.logger.Error("container verification failed",
			"container", req.Container, "error", err)
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func tenantParam(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("tenant")
	if raw == "" {
		return 0, nil
	}
	tenant, err := strconv.Atoi(raw)
	if err != nil || tenant < 0 {
		return 0, errors.New("invalid tenant parameter")
	}
	return tenant, nil
}
