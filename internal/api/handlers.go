package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/maltedev/price-tracker/internal/jobs"
	"github.com/maltedev/price-tracker/internal/models"
	"github.com/maltedev/price-tracker/internal/upc"
)

// ProductReader is the read side of the product store used by the API.
type ProductReader interface {
	ListProducts(ctx context.Context) ([]*models.Product, error)
	GetProductByID(ctx context.Context, id string) (*models.Product, error)
	ListObservations(ctx context.Context, productID string, limit int) ([]*models.PriceObservation, error)
}

type Handlers struct {
	jobs     *jobs.Manager
	products ProductReader
	upc      *upc.Client
	exports  string
	logger   *slog.Logger
}

func NewHandlers(manager *jobs.Manager, products ProductReader, upcClient *upc.Client, exportDir string, logger *slog.Logger) *Handlers {
	return &Handlers{
		jobs:     manager,
		products: products,
		upc:      upcClient,
		exports:  exportDir,
		logger:   logger,
	}
}

// CreateJobRequest represents a new scrape job request
type CreateJobRequest struct {
	URLs         []string          `json:"urls"`
	DelaySeconds float64           `json:"delay_seconds"`
	UseBrowser   bool              `json:"use_browser"`
	Metadata     map[string]string `json:"metadata"`
}

// CreateJobResponse represents the job creation response
type CreateJobResponse struct {
	JobID   string `json:"job_id"`
	State   string `json:"state"`
	Total   int    `json:"total"`
	Message string `json:"message"`
}

// CreateJob handles new scrape job creation
func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if len(req.URLs) == 0 {
		h.respondError(w, http.StatusBadRequest, "urls is required")
		return
	}

	items := make([]jobs.Item, len(req.URLs))
	for i, u := range req.URLs {
		items[i] = jobs.Item{URL: u, Metadata: req.Metadata}
	}

	job, err := h.jobs.Submit(r.Context(), items, jobs.Options{
		UseBrowser: req.UseBrowser,
		Delay:      time.Duration(req.DelaySeconds * float64(time.Second)),
	})
	if err != nil {
		h.logger.Error("failed to create job", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	h.respondJSON(w, http.StatusCreated, CreateJobResponse{
		JobID:   job.ID,
		State:   string(job.State),
		Total:   len(job.Items),
		Message: "Job created successfully",
	})
}

// GetJob handles job status retrieval. The response is the last persisted
// snapshot, so a job can be polled while it is still executing.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if jobID == "" {
		h.respondError(w, http.StatusBadRequest, "job ID is required")
		return
	}

	job, err := h.jobs.Get(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			h.respondError(w, http.StatusNotFound, "job not found")
			return
		}
		h.logger.Error("failed to load job", "job", jobID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to load job")
		return
	}

	h.respondJSON(w, http.StatusOK, job)
}

// ListJobs handles listing all jobs, most recent first
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	list, err := h.jobs.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list jobs", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}

	h.respondJSON(w, http.StatusOK, list)
}

// CancelJob requests a cooperative stop. The job keeps running until the
// current item finishes, so the response reports the request, not the
// final state.
func (h *Handlers) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if jobID == "" {
		h.respondError(w, http.StatusBadRequest, "job ID is required")
		return
	}

	if err := h.jobs.Cancel(r.Context(), jobID); err != nil {
		switch {
		case errors.Is(err, jobs.ErrNotFound):
			h.respondError(w, http.StatusNotFound, "job not found")
		case errors.Is(err, jobs.ErrJobTerminal):
			h.respondError(w, http.StatusConflict, "job already finished")
		default:
			h.logger.Error("failed to cancel job", "job", jobID, "error", err)
			h.respondError(w, http.StatusInternalServerError, "failed to cancel job")
		}
		return
	}

	h.respondJSON(w, http.StatusAccepted, map[string]string{
		"job_id": jobID,
		"status": "cancellation requested",
	})
}

// ExportJob streams the CSV written when the job completed
func (h *Handlers) ExportJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if jobID == "" {
		h.respondError(w, http.StatusBadRequest, "job ID is required")
		return
	}

	job, err := h.jobs.Get(r.Context(), jobID)
	if err != nil {
		h.respondError(w, http.StatusNotFound, "job not found")
		return
	}

	if job.OutputRef == "" {
		h.respondError(w, http.StatusConflict, "job has no export yet")
		return
	}

	path := job.OutputRef
	if !filepath.IsAbs(path) {
		path = filepath.Join(h.exports, filepath.Base(path))
	}

	f, err := os.Open(path)
	if err != nil {
		h.logger.Error("failed to open export", "job", jobID, "path", path, "error", err)
		h.respondError(w, http.StatusNotFound, "export file not found")
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename="+strconv.Quote(jobID+".csv"))
	http.ServeContent(w, r, jobID+".csv", time.Time{}, f)
}

// ListProducts handles listing all tracked products
func (h *Handlers) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.products.ListProducts(r.Context())
	if err != nil {
		h.logger.Error("failed to list products", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list products")
		return
	}

	h.respondJSON(w, http.StatusOK, products)
}

// GetProductHistory handles price history retrieval for one product
func (h *Handlers) GetProductHistory(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productID")
	if productID == "" {
		h.respondError(w, http.StatusBadRequest, "product ID is required")
		return
	}

	product, err := h.products.GetProductByID(r.Context(), productID)
	if err != nil {
		h.logger.Error("failed to load product", "product", productID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to load product")
		return
	}
	if product == nil {
		h.respondError(w, http.StatusNotFound, "product not found")
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	history, err := h.products.ListObservations(r.Context(), productID, limit)
	if err != nil {
		h.logger.Error("failed to load price history", "product", productID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to load price history")
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"product": product,
		"history": history,
	})
}

// LookupUPC handles catalog price lookups by UPC code
func (h *Handlers) LookupUPC(w http.ResponseWriter, r *http.Request) {
	if h.upc == nil {
		h.respondError(w, http.StatusServiceUnavailable, "upc lookup not configured")
		return
	}

	code := chi.URLParam(r, "code")
	if code == "" {
		h.respondError(w, http.StatusBadRequest, "upc code is required")
		return
	}

	result := h.upc.Lookup(r.Context(), code)
	h.respondJSON(w, http.StatusOK, result)
}

// Helper methods
func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
