package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/price-tracker/internal/jobs"
	"github.com/maltedev/price-tracker/internal/models"
	"github.com/maltedev/price-tracker/internal/storage"
)

type stubExtractor struct{}

func (stubExtractor) Extract(_ context.Context, url string) (*models.Product, error) {
	return &models.Product{URL: url, Name: "Stub", CurrentPrice: 1.23, Currency: "USD"}, nil
}

type stubSink struct{}

func (stubSink) Persist(_ context.Context, p *models.Product, _ map[string]string) (string, error) {
	return "product-1", nil
}

type stubProducts struct {
	products map[string]*models.Product
	history  map[string][]*models.PriceObservation
}

func (s *stubProducts) ListProducts(_ context.Context) ([]*models.Product, error) {
	out := make([]*models.Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, p)
	}
	return out, nil
}

func (s *stubProducts) GetProductByID(_ context.Context, id string) (*models.Product, error) {
	return s.products[id], nil
}

func (s *stubProducts) ListObservations(_ context.Context, productID string, _ int) ([]*models.PriceObservation, error) {
	return s.history[productID], nil
}

func newTestServer(t *testing.T) (*httptest.Server, *jobs.Manager, jobs.Store) {
	t.Helper()

	store, err := storage.NewFileStore(filepath.Join(t.TempDir(), "jobs.json"))
	require.NoError(t, err)

	manager := jobs.NewManager(jobs.ManagerConfig{
		Store: store,
		Sink:  stubSink{},
		Factory: func(bool) (jobs.Extractor, error) {
			return stubExtractor{}, nil
		},
		Logger: slog.Default(),
	})
	t.Cleanup(manager.Shutdown)

	products := &stubProducts{
		products: map[string]*models.Product{
			"p-1": {ID: "p-1", URL: "https://a", Name: "Alpha", CurrentPrice: 9.99, Currency: "USD"},
		},
		history: map[string][]*models.PriceObservation{
			"p-1": {{ID: "o-1", ProductID: "p-1", Price: 9.99, Currency: "USD", RecordedAt: time.Now()}},
		},
	}

	handlers := NewHandlers(manager, products, nil, t.TempDir(), slog.Default())

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/jobs", handlers.CreateJob)
		r.Get("/jobs", handlers.ListJobs)
		r.Get("/jobs/{jobID}", handlers.GetJob)
		r.Post("/jobs/{jobID}/cancel", handlers.CancelJob)
		r.Get("/jobs/{jobID}/export", handlers.ExportJob)
		r.Get("/products", handlers.ListProducts)
		r.Get("/products/{productID}/history", handlers.GetProductHistory)
		r.Get("/upc/{code}", handlers.LookupUPC)
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, manager, store
}

func awaitTerminal(t *testing.T, store jobs.Store, id string) *jobs.Job {
	t.Helper()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatalf("job %s never finished", id)
		case <-time.After(10 * time.Millisecond):
		}

		job, err := store.Load(context.Background(), id)
		require.NoError(t, err)
		if job.State.Terminal() {
			return job
		}
	}
}

func decodeJSON(t *testing.T, resp *http.Response, into interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(into))
}

func TestCreateAndGetJob(t *testing.T) {
	srv, _, store := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/v1/jobs", "application/json",
		strings.NewReader(`{"urls": ["https://a", "https://b"], "delay_seconds": 0}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	var created CreateJobResponse
	decodeJSON(t, resp, &created)
	require.NotEmpty(t, created.JobID)
	assert.Equal(t, 2, created.Total)

	awaitTerminal(t, store, created.JobID)

	resp, err = http.Get(srv.URL + "/api/v1/jobs/" + created.JobID)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var job jobs.Job
	decodeJSON(t, resp, &job)
	assert.Equal(t, jobs.StateCompleted, job.State)
	assert.Equal(t, 2, job.Success)
}

func TestCreateJobValidation(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/v1/jobs", "application/json", strings.NewReader(`{"urls": []}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/api/v1/jobs", "application/json", strings.NewReader(`not json`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetUnknownJob(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/jobs/does-not-exist")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCancelJob(t *testing.T) {
	srv, _, store := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/v1/jobs/does-not-exist/cancel", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Cancelling a finished job conflicts.
	resp, err = http.Post(srv.URL+"/api/v1/jobs", "application/json",
		strings.NewReader(`{"urls": ["https://a"]}`))
	require.NoError(t, err)
	var created CreateJobResponse
	decodeJSON(t, resp, &created)
	awaitTerminal(t, store, created.JobID)

	resp, err = http.Post(srv.URL+"/api/v1/jobs/"+created.JobID+"/cancel", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestExportBeforeCompletion(t *testing.T) {
	srv, _, store := newTestServer(t)

	// No exporter is wired, so even a completed job has no output ref.
	resp, err := http.Post(srv.URL+"/api/v1/jobs", "application/json",
		strings.NewReader(`{"urls": ["https://a"]}`))
	require.NoError(t, err)
	var created CreateJobResponse
	decodeJSON(t, resp, &created)
	awaitTerminal(t, store, created.JobID)

	resp, err = http.Get(srv.URL + "/api/v1/jobs/" + created.JobID + "/export")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestListProducts(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/products")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var products []*models.Product
	decodeJSON(t, resp, &products)
	require.Len(t, products, 1)
	assert.Equal(t, "Alpha", products[0].Name)
}

func TestGetProductHistory(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/products/p-1/history")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var payload struct {
		Product *models.Product            `json:"product"`
		History []*models.PriceObservation `json:"history"`
	}
	decodeJSON(t, resp, &payload)
	assert.Equal(t, "p-1", payload.Product.ID)
	require.Len(t, payload.History, 1)
	assert.Equal(t, 9.99, payload.History[0].Price)

	resp, err = http.Get(srv.URL + "/api/v1/products/missing/history")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestLookupUPCNotConfigured(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/upc/012345678905")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
