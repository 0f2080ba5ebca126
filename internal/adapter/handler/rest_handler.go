package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/hive-corporation/sitescan/internal/core/domain"
	"github.com/hive-corporation/sitescan/internal/core/ports"
	"github.com/hive-corporation/sitescan/internal/core/service"
)

// Largest scan document accepted on the analyze endpoint.
const maxScanBodyBytes = 10 << 20

// ScanAnalyzer is the part of service.ScanService the transport layer uses.
type ScanAnalyzer interface {
	Analyze(ctx context.Context, scan domain.ScanResult) (domain.ScanSummary, error)
	Summarize(ctx context.Context, scanID string) (domain.ScanSummary, error)
	RequestScan(ctx context.Context, targetURL string) (domain.ScanSummary, error)
	ListRecent(ctx context.Context, limit int) ([]domain.ScanSummary, error)
	RenderReport(ctx context.Context, scanID string, index int) (*domain.ReportArtifact, error)
	Export(ctx context.Context, scanID, format string) ([]byte, string, error)
}

type RestHandler struct {
	scans ScanAnalyzer
	log   *zap.Logger
}

func NewRestHandler(scans ScanAnalyzer, logger *zap.Logger) *RestHandler {
	return &RestHandler{
		scans: scans,
		log:   logger.Named("rest"),
	}
}

// Register mounts the API routes on router.
func (h *RestHandler) Register(router *mux.Router) {
	router.HandleFunc("/api/v1/health", h.Health).Methods("GET")

	router.HandleFunc("/api/v1/scans/analyze", h.AnalyzeScan).Methods("POST")
	router.HandleFunc("/api/v1/scans", h.RequestScan).Methods("POST")
	router.HandleFunc("/api/v1/scans/recent", h.ListRecent).Methods("GET")
	router.HandleFunc("/api/v1/scans/{id}/summary", h.GetSummary).Methods("GET")
	router.HandleFunc("/api/v1/scans/{id}/reports/{index:[0-9]+}", h.GetReport).Methods("GET")
	router.HandleFunc("/api/v1/scans/{id}/export", h.ExportScan).Methods("GET")
}

// Health check endpoint
func (h *RestHandler) Health(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"service":   "sitescan-api",
	}
	h.writeJSON(w, http.StatusOK, response)
}

// AnalyzeScan summarizes a raw scan posted by the caller.
func (h *RestHandler) AnalyzeScan(w http.ResponseWriter, r *http.Request) {
	var scan domain.ScanResult
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxScanBodyBytes)).Decode(&scan); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	summary, err := h.scans.Analyze(ctx, scan)
	if err != nil {
		h.writeServiceError(w, err, "failed to analyze scan")
		return
	}
	h.writeJSON(w, http.StatusOK, summary)
}

// RequestScan asks the scan engine to scan {"url": ...}.
func (h *RestHandler) RequestScan(w http.ResponseWriter, r *http.Request) {
	var body struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	summary, err := h.scans.RequestScan(ctx, body.URL)
	if err != nil {
		h.writeServiceError(w, err, "failed to request scan")
		return
	}
	h.writeJSON(w, http.StatusCreated, summary)
}

func (h *RestHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			h.writeError(w, http.StatusBadRequest, "invalid 'limit' parameter (1-500)")
			return
		}
		limit = n
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	summaries, err := h.scans.ListRecent(ctx, limit)
	if err != nil {
		h.writeServiceError(w, err, "failed to list scans")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"count": len(summaries),
		"scans": summaries,
	})
}

func (h *RestHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	summary, err := h.scans.Summarize(ctx, mux.Vars(r)["id"])
	if err != nil {
		h.writeServiceError(w, err, "failed to load scan")
		return
	}
	h.writeJSON(w, http.StatusOK, summary)
}

// GetReport streams the PDF report of one anomaly group.
func (h *RestHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	index, err := strconv.Atoi(vars["index"])
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid report index")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	artifact, err := h.scans.RenderReport(ctx, vars["id"], index)
	if err != nil {
		h.writeServiceError(w, err, "failed to render report")
		return
	}

	w.Header().Set("Content-Type", artifact.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", artifact.Name))
	w.Header().Set("Content-Length", strconv.Itoa(len(artifact.Content)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(artifact.Content); err != nil {
		h.log.Warn("Error writing report response", zap.Error(err))
	}
}

// ExportScan serves a scan as a SIEM feed (?format=cef|stix).
func (h *RestHandler) ExportScan(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "stix"
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	data, contentType, err := h.scans.Export(ctx, mux.Vars(r)["id"], format)
	if err != nil {
		h.writeServiceError(w, err, "failed to export scan")
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.log.Warn("Error writing export response", zap.String("format", format), zap.Error(err))
	}
}

// Helper functions

func (h *RestHandler) writeServiceError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, ports.ErrScanNotFound):
		h.writeError(w, http.StatusNotFound, "scan not found")
	case errors.Is(err, service.ErrGroupNotFound):
		h.writeError(w, http.StatusNotFound, "report index out of range")
	case errors.Is(err, service.ErrInvalidTarget):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrUnsupportedFormat):
		h.writeError(w, http.StatusBadRequest, "unsupported format (use 'cef' or 'stix')")
	case errors.Is(err, service.ErrNoArchive), errors.Is(err, service.ErrNoSource):
		h.writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		h.writeError(w, http.StatusGatewayTimeout, fallback)
	default:
		h.log.Error(fallback, zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, fallback)
	}
}

func (h *RestHandler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Warn("Error encoding JSON response", zap.Error(err))
	}
}

func (h *RestHandler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
