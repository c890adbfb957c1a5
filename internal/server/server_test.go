package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/vecdb/internal/config"
	"github.com/fabfab/vecdb/internal/vecdb"
)

func newTestServer() *Server {
	return New(config.Config{}, vecdb.NewStore(), nil)
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer()
	rec := doJSON(t, srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateAndGetLibrary(t *testing.T) {
	srv := newTestServer()

	rec := doJSON(t, srv, http.MethodPost, "/libraries/", map[string]any{"library_id": "lib1"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/libraries/lib1/", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var lib vecdb.Library
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &lib))
	assert.Equal(t, "lib1", lib.ID)
}

func TestGetMissingLibraryReturns404(t *testing.T) {
	srv := newTestServer()
	rec := doJSON(t, srv, http.MethodGet, "/libraries/missing/", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateDuplicateLibraryReturns409(t *testing.T) {
	srv := newTestServer()
	doJSON(t, srv, http.MethodPost, "/libraries/", map[string]any{"library_id": "lib1"})
	rec := doJSON(t, srv, http.MethodPost, "/libraries/", map[string]any{"library_id": "lib1"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSearchBeforeIndexReturns409(t *testing.T) {
	srv := newTestServer()
	doJSON(t, srv, http.MethodPost, "/libraries/", map[string]any{"library_id": "lib1"})

	rec := doJSON(t, srv, http.MethodPost, "/libraries/lib1/search", map[string]any{
		"embedding": []float64{1, 0},
		"k":         1,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestFullCreateIndexSearchFlow(t *testing.T) {
	srv := newTestServer()
	doJSON(t, srv, http.MethodPost, "/libraries/", map[string]any{"library_id": "lib1"})

	rec := doJSON(t, srv, http.MethodPost, "/libraries/lib1/documents/", map[string]any{
		"document_id": "doc1",
		"title":       "Doc",
		"chunks": []map[string]any{
			{"chunk_id": "c1", "text": "hello", "embedding": []float64{1, 0}},
			{"chunk_id": "c2", "text": "world", "embedding": []float64{0, 1}},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/libraries/lib1/index", map[string]any{"algorithm": "exact"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/libraries/lib1/search", map[string]any{
		"embedding": []float64{1, 0},
		"k":         1,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		Results []vecdb.SearchResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Len(t, payload.Results, 1)
	assert.Equal(t, "c1", payload.Results[0].ChunkID)
}

func TestInvalidSearchKReturns400(t *testing.T) {
	srv := newTestServer()
	doJSON(t, srv, http.MethodPost, "/libraries/", map[string]any{"library_id": "lib1"})

	rec := doJSON(t, srv, http.MethodPost, "/libraries/lib1/search", map[string]any{
		"embedding": []float64{1, 0},
		"k":         0,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
