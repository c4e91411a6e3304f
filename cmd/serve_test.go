//go:build !integration

package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barry-cosmo/barry/internal/archive"
	"github.com/barry-cosmo/barry/internal/dataset"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	dir := t.TempDir()
	writeXiArchive(t, dir)
	return buildRouter(dataset.NewRegistry(), dir)
}

func doGet(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealthEndpoint(t *testing.T) {
	rr := doGet(t, newTestRouter(t), "/health")

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestDatasetsEndpoint(t *testing.T) {
	rr := doGet(t, newTestRouter(t), "/datasets")
	require.Equal(t, http.StatusOK, rr.Code)

	var body []map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body, len(dataset.NewRegistry().AllNames()))
	assert.Equal(t, "sdss_dr12_pk", body[0]["name"])
	assert.Equal(t, "pk", body[0]["kind"])
	assert.NotEmpty(t, body[0]["description"])
}

func TestSnapshotEndpoint_Defaults(t *testing.T) {
	rr := doGet(t, newTestRouter(t), "/datasets/sdss_dr12_xi/snapshot")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))

	dist := body["dist"].([]any)
	assert.Len(t, dist, 35) // 30..200 inclusive in steps of 5
	assert.Equal(t, 30.0, dist[0])
	assert.Equal(t, 200.0, dist[len(dist)-1])
	assert.Len(t, body["xi0"], 35)
	assert.Len(t, body["xi2"], 35)
	assert.Len(t, body["cov"], 70)
	assert.Len(t, body["icov"], 70)
	assert.Equal(t, "BOSS DR12 z3 NGC Prerecon", body["name"])
	assert.Equal(t, "mean", body["realisation"])
	assert.EqualValues(t, 5, body["num_mocks"])
}

func TestSnapshotEndpoint_Query(t *testing.T) {
	rr := doGet(t, newTestRouter(t), "/datasets/sdss_dr12_xi/snapshot?z=3&cap=ngc&min=50&max=100&poles=0&realisation=2")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Len(t, body["dist"], 11)
	assert.Len(t, body["xi0"], 11)
	assert.NotContains(t, body, "xi2")
	assert.Len(t, body["cov"], 11)
	assert.Equal(t, "2", body["realisation"])
}

func TestSnapshotEndpoint_Errors(t *testing.T) {
	h := newTestRouter(t)

	tests := []struct {
		name   string
		target string
		status int
	}{
		{"unknown preset", "/datasets/nope/snapshot", http.StatusNotFound},
		{"missing archive", "/datasets/sdss_dr12_xi/snapshot?z=1", http.StatusNotFound},
		{"invalid redshift bin", "/datasets/sdss_dr12_xi/snapshot?z=7", http.StatusBadRequest},
		{"invalid cap", "/datasets/sdss_dr12_xi/snapshot?cap=east", http.StatusBadRequest},
		{"non-numeric bound", "/datasets/sdss_dr12_xi/snapshot?min=abc", http.StatusBadRequest},
		{"non-integer pole", "/datasets/sdss_dr12_xi/snapshot?poles=0,x", http.StatusBadRequest},
		{"odd pole", "/datasets/sdss_dr12_xi/snapshot?poles=1", http.StatusBadRequest},
		{"inverted bounds", "/datasets/sdss_dr12_xi/snapshot?min=150&max=50", http.StatusBadRequest},
		{"mock out of range", "/datasets/sdss_dr12_xi/snapshot?realisation=99", http.StatusBadRequest},
		{"no observed data", "/datasets/sdss_dr12_xi/snapshot?realisation=data", http.StatusBadRequest},
		{"bad policy", "/datasets/sdss_dr12_xi/snapshot?policy=diagonal", http.StatusBadRequest},
		{"explicit zero redshift bin", "/datasets/sdss_dr12_xi/snapshot?z=0", http.StatusBadRequest},
		{"explicit zero reduce", "/datasets/sdss_dr12_xi/snapshot?reduce=0", http.StatusBadRequest},
		{"negative num_mocks", "/datasets/sdss_dr12_xi/snapshot?num_mocks=-2", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := doGet(t, h, tt.target)
			assert.Equal(t, tt.status, rr.Code, rr.Body.String())

			var body map[string]string
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestSnapshotEndpoint_IsotropicFakeDiag(t *testing.T) {
	rr := doGet(t, newTestRouter(t), "/datasets/sdss_dr12_xi/snapshot?min=50&max=100&isotropic=true&fake_diag=true&num_mocks=1000")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Contains(t, body, "xi0")
	assert.NotContains(t, body, "xi2")
	assert.EqualValues(t, 1000, body["num_mocks"])

	cov := body["cov"].([]any)
	require.Len(t, cov, 11)
	row := cov[0].([]any)
	assert.Equal(t, 1.0, row[0])
	assert.Equal(t, 0.0, row[1])
}

func TestSnapshotEndpoint_CORS(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://example.org")
	rr := httptest.NewRecorder()
	newTestRouter(t).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{eris.Wrap(archive.ErrNotFound, "find"), http.StatusNotFound},
		{eris.Wrap(dataset.ErrConfig, "bad"), http.StatusBadRequest},
		{eris.Wrap(dataset.ErrRealisationRange, "bad"), http.StatusBadRequest},
		{eris.Wrap(dataset.ErrSingularCovariance, "bad"), http.StatusUnprocessableEntity},
		{eris.Wrap(dataset.ErrEnsembleTooSmall, "bad"), http.StatusUnprocessableEntity},
		{eris.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.status, statusFor(tt.err), tt.err.Error())
	}
}
