// Package server exposes the vector database over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/fabfab/vecdb/internal/config"
	"github.com/fabfab/vecdb/internal/vecdb"
)

// Server wires HTTP handlers to the underlying store and snapshotter.
type Server struct {
	cfg         config.Config
	router      http.Handler
	store       *vecdb.Store
	snapshotter *vecdb.Snapshotter
}

// New constructs a Server with the provided dependencies.
func New(cfg config.Config, store *vecdb.Store, snapshotter *vecdb.Snapshotter) *Server {
	mux := chi.NewRouter()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.RealIP)
	mux.Use(middleware.Logger)
	mux.Use(middleware.Recoverer)
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-CSRF-Token"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	s := &Server{
		cfg:         cfg,
		router:      mux,
		store:       store,
		snapshotter: snapshotter,
	}

	mux.Get("/health", s.handleHealth)

	mux.Route("/libraries", func(r chi.Router) {
		r.Post("/", s.handleCreateLibrary)
		r.Get("/", s.handleListLibraries)

		r.Route("/{libraryID}", func(r chi.Router) {
			r.Get("/", s.handleGetLibrary)
			r.Put("/", s.handleUpdateLibrary)
			r.Delete("/", s.handleDeleteLibrary)
			r.Post("/index", s.handleIndexLibrary)
			r.Post("/search", s.handleSearch)

			r.Route("/chunks", func(r chi.Router) {
				r.Get("/count", s.handleChunkCount)
			})

			r.Route("/documents", func(r chi.Router) {
				r.Post("/", s.handleCreateDocument)
				r.Get("/", s.handleListDocuments)

				r.Route("/{documentID}", func(r chi.Router) {
					r.Get("/", s.handleGetDocument)
					r.Put("/", s.handleUpdateDocument)
					r.Delete("/", s.handleDeleteDocument)

					r.Route("/chunks", func(r chi.Router) {
						r.Post("/", s.handleCreateChunk)
						r.Get("/", s.handleListChunks)
						r.Post("/bulk", s.handleCreateChunksBulk)

						r.Route("/{chunkID}", func(r chi.Router) {
							r.Get("/", s.handleGetChunk)
							r.Put("/", s.handleUpdateChunk)
							r.Delete("/", s.handleDeleteChunk)
						})
					})
				})
			})
		})
	})

	return s
}

// ServeHTTP exposes the router so Server satisfies http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- libraries ---

type createLibraryRequest struct {
	ID       string         `json:"library_id"`
	Metadata vecdb.Metadata `json:"metadata"`
}

func (s *Server) handleCreateLibrary(w http.ResponseWriter, r *http.Request) {
	var req createLibraryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	lib, err := s.store.CreateLibrary(vecdb.CreateLibraryInput{ID: req.ID, Metadata: req.Metadata})
	if err != nil {
		writeVecdbError(w, err)
		return
	}
	s.markDirty()
	writeJSON(w, http.StatusCreated, lib)
}

func (s *Server) handleListLibraries(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"libraries": s.store.ListLibraries()})
}

func (s *Server) handleGetLibrary(w http.ResponseWriter, r *http.Request) {
	libraryID := chi.URLParam(r, "libraryID")
	lib, err := s.store.GetLibrary(libraryID)
	if err != nil {
		writeVecdbError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lib)
}

type updateLibraryRequest struct {
	Metadata vecdb.Metadata `json:"metadata"`
}

func (s *Server) handleUpdateLibrary(w http.ResponseWriter, r *http.Request) {
	libraryID := chi.URLParam(r, "libraryID")
	var req updateLibraryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	lib, err := s.store.UpdateLibraryMetadata(libraryID, req.Metadata)
	if err != nil {
		writeVecdbError(w, err)
		return
	}
	s.markDirty()
	writeJSON(w, http.StatusOK, lib)
}

func (s *Server) handleDeleteLibrary(w http.ResponseWriter, r *http.Request) {
	libraryID := chi.URLParam(r, "libraryID")
	if err := s.store.DeleteLibrary(libraryID); err != nil {
		writeVecdbError(w, err)
		return
	}
	s.markDirty()
	w.WriteHeader(http.StatusNoContent)
}

type indexLibraryRequest struct {
	Algorithm vecdb.Algorithm `json:"algorithm"`
	LSHParams vecdb.LSHParams `json:"lsh_params"`
}

func (s *Server) handleIndexLibrary(w http.ResponseWriter, r *http.Request) {
	libraryID := chi.URLParam(r, "libraryID")
	var req indexLibraryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Algorithm == "" {
		req.Algorithm = vecdb.AlgorithmExact
	}

	lib, err := s.store.IndexLibrary(libraryID, req.Algorithm, req.LSHParams)
	if err != nil {
		writeVecdbError(w, err)
		return
	}
	s.markDirty()
	writeJSON(w, http.StatusOK, lib)
}

func (s *Server) handleChunkCount(w http.ResponseWriter, r *http.Request) {
	libraryID := chi.URLParam(r, "libraryID")
	count, err := s.store.ChunkCount(libraryID)
	if err != nil {
		writeVecdbError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": count})
}

type searchRequest struct {
	Embedding      []float64      `json:"embedding"`
	K              int            `json:"k"`
	MetadataFilter map[string]any `json:"metadata_filter"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	libraryID := chi.URLParam(r, "libraryID")
	var req searchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.K <= 0 {
		writeError(w, http.StatusBadRequest, errors.New("k must be positive"))
		return
	}

	var filter func(vecdb.Metadata) bool
	if len(req.MetadataFilter) > 0 {
		filter = func(m vecdb.Metadata) bool {
			for k, v := range req.MetadataFilter {
				if m[k] != v {
					return false
				}
			}
			return true
		}
	}

	results, err := s.store.Search(libraryID, req.Embedding, req.K, filter)
	if err != nil {
		writeVecdbError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// --- documents ---

type createDocumentRequest struct {
	ID       string                    `json:"document_id"`
	Title    string                    `json:"title"`
	Metadata vecdb.Metadata            `json:"metadata"`
	Chunks   []createChunkRequestInner `json:"chunks"`
}

type createChunkRequestInner struct {
	ID        string         `json:"chunk_id"`
	Text      string         `json:"text"`
	Embedding []float64      `json:"embedding"`
	Metadata  vecdb.Metadata `json:"metadata"`
}

func (s *Server) handleCreateDocument(w http.ResponseWriter, r *http.Request) {
	libraryID := chi.URLParam(r, "libraryID")
	var req createDocumentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	chunks := make([]vecdb.CreateChunkInput, 0, len(req.Chunks))
	for _, c := range req.Chunks {
		chunks = append(chunks, vecdb.CreateChunkInput{
			ID:        c.ID,
			Text:      c.Text,
			Embedding: c.Embedding,
			Metadata:  c.Metadata,
		})
	}

	doc, err := s.store.CreateDocument(libraryID, vecdb.CreateDocumentInput{
		ID:       req.ID,
		Title:    req.Title,
		Metadata: req.Metadata,
		Chunks:   chunks,
	})
	if err != nil {
		writeVecdbError(w, err)
		return
	}
	s.markDirty()
	writeJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	libraryID := chi.URLParam(r, "libraryID")
	docs, err := s.store.ListDocuments(libraryID)
	if err != nil {
		writeVecdbError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	libraryID := chi.URLParam(r, "libraryID")
	documentID := chi.URLParam(r, "documentID")
	doc, err := s.store.GetDocument(libraryID, documentID)
	if err != nil {
		writeVecdbError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

type updateDocumentRequest struct {
	Title    string         `json:"title"`
	Metadata vecdb.Metadata `json:"metadata"`
}

func (s *Server) handleUpdateDocument(w http.ResponseWriter, r *http.Request) {
	libraryID := chi.URLParam(r, "libraryID")
	documentID := chi.URLParam(r, "documentID")
	var req updateDocumentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	doc, err := s.store.UpdateDocument(libraryID, documentID, req.Title, req.Metadata)
	if err != nil {
		writeVecdbError(w, err)
		return
	}
	s.markDirty()
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	libraryID := chi.URLParam(r, "libraryID")
	documentID := chi.URLParam(r, "documentID")
	if err := s.store.DeleteDocument(libraryID, documentID); err != nil {
		writeVecdbError(w, err)
		return
	}
	s.markDirty()
	w.WriteHeader(http.StatusNoContent)
}

// --- chunks ---

type createChunkRequest struct {
	ID        string         `json:"chunk_id"`
	Text      string         `json:"text"`
	Embedding []float64      `json:"embedding"`
	Metadata  vecdb.Metadata `json:"metadata"`
}

func (s *Server) handleCreateChunk(w http.ResponseWriter, r *http.Request) {
	libraryID := chi.URLParam(r, "libraryID")
	documentID := chi.URLParam(r, "documentID")
	var req createChunkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	c, err := s.store.CreateChunk(libraryID, documentID, vecdb.CreateChunkInput{
		ID:        req.ID,
		Text:      req.Text,
		Embedding: req.Embedding,
		Metadata:  req.Metadata,
	})
	if err != nil {
		writeVecdbError(w, err)
		return
	}
	s.markDirty()
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleCreateChunksBulk(w http.ResponseWriter, r *http.Request) {
	libraryID := chi.URLParam(r, "libraryID")
	documentID := chi.URLParam(r, "documentID")

	var req struct {
		Chunks []createChunkRequest `json:"chunks"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ins := make([]vecdb.CreateChunkInput, 0, len(req.Chunks))
	for _, c := range req.Chunks {
		ins = append(ins, vecdb.CreateChunkInput{
			ID:        c.ID,
			Text:      c.Text,
			Embedding: c.Embedding,
			Metadata:  c.Metadata,
		})
	}

	chunks, err := s.store.CreateChunksBulk(libraryID, documentID, ins)
	if err != nil {
		writeVecdbError(w, err)
		return
	}
	s.markDirty()
	writeJSON(w, http.StatusCreated, map[string]any{"chunks": chunks})
}

func (s *Server) handleListChunks(w http.ResponseWriter, r *http.Request) {
	libraryID := chi.URLParam(r, "libraryID")
	documentID := chi.URLParam(r, "documentID")
	chunks, err := s.store.ListChunks(libraryID, documentID)
	if err != nil {
		writeVecdbError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chunks": chunks})
}

func (s *Server) handleGetChunk(w http.ResponseWriter, r *http.Request) {
	libraryID := chi.URLParam(r, "libraryID")
	documentID := chi.URLParam(r, "documentID")
	chunkID := chi.URLParam(r, "chunkID")
	c, err := s.store.GetChunk(libraryID, documentID, chunkID)
	if err != nil {
		writeVecdbError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type updateChunkRequest struct {
	Text      string         `json:"text"`
	Embedding []float64      `json:"embedding"`
	Metadata  vecdb.Metadata `json:"metadata"`
}

func (s *Server) handleUpdateChunk(w http.ResponseWriter, r *http.Request) {
	libraryID := chi.URLParam(r, "libraryID")
	documentID := chi.URLParam(r, "documentID")
	chunkID := chi.URLParam(r, "chunkID")
	var req updateChunkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	c, err := s.store.UpdateChunk(libraryID, documentID, chunkID, req.Text, req.Embedding, req.Metadata)
	if err != nil {
		writeVecdbError(w, err)
		return
	}
	s.markDirty()
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleDeleteChunk(w http.ResponseWriter, r *http.Request) {
	libraryID := chi.URLParam(r, "libraryID")
	documentID := chi.URLParam(r, "documentID")
	chunkID := chi.URLParam(r, "chunkID")
	if err := s.store.DeleteChunk(libraryID, documentID, chunkID); err != nil {
		writeVecdbError(w, err)
		return
	}
	s.markDirty()
	w.WriteHeader(http.StatusNoContent)
}

// markDirty tells the snapshotter a mutation happened, if one is wired up.
func (s *Server) markDirty() {
	if s.snapshotter != nil {
		s.snapshotter.Trigger()
	}
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		fmt.Printf("failed to write JSON response: %v\n", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

// writeVecdbError maps a vecdb.Error's Kind to the matching HTTP status.
func writeVecdbError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch vecdb.KindOf(err) {
	case vecdb.KindNotFound:
		status = http.StatusNotFound
	case vecdb.KindDuplicateID:
		status = http.StatusConflict
	case vecdb.KindDimensionMismatch, vecdb.KindDegenerateVector, vecdb.KindInvalidArgument:
		status = http.StatusBadRequest
	case vecdb.KindNotIndexed:
		status = http.StatusConflict
	case vecdb.KindPersistence, vecdb.KindInternal:
		status = http.StatusInternalServerError
	}
	writeError(w, status, err)
}
