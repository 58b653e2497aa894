/**
 * HTTP API for Document Ingestion
 *
 * Exposes the worker's capabilities to frontends: document upload,
 * document record lookup, live ingestion progress as server-sent events,
 * and question answering over ingested documents.
 */

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/scandock/ingest-worker/internal/logging"
	"github.com/scandock/ingest-worker/internal/progress"
	"github.com/scandock/ingest-worker/internal/queue"
	"github.com/scandock/ingest-worker/internal/rag"
	"github.com/scandock/ingest-worker/internal/storage"
)

// maxUploadBytes caps uploaded file size at 50 MB
const maxUploadBytes = 50 << 20

var allowedFileTypes = map[string]bool{
	"pdf": true, "png": true, "jpg": true, "jpeg": true,
	"tif": true, "tiff": true, "gif": true,
}

// Server wraps the HTTP server instance and its handlers
type Server struct {
	httpServer *http.Server
	documents  *storage.PostgresClient
	composer   *rag.Composer
	watcher    *progress.Watcher
	consumer   *queue.Consumer
	uploadDir  string
	log        *logging.Logger
}

// Options holds the server's collaborators
type Options struct {
	Port      string
	Documents *storage.PostgresClient
	Composer  *rag.Composer
	Watcher   *progress.Watcher
	Consumer  *queue.Consumer
	UploadDir string
}

// NewServer builds and wires all routes
func NewServer(opts Options) (*Server, error) {
	if opts.Documents == nil || opts.Composer == nil || opts.Watcher == nil || opts.Consumer == nil {
		return nil, fmt.Errorf("documents, composer, watcher and consumer are required")
	}
	if opts.Port == "" {
		opts.Port = "8080"
	}
	if opts.UploadDir == "" {
		opts.UploadDir = "./storage/uploads"
	}

	s := &Server{
		documents: opts.Documents,
		composer:  opts.Composer,
		watcher:   opts.Watcher,
		consumer:  opts.Consumer,
		uploadDir: opts.UploadDir,
		log:       logging.NewLogger("http"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(api chi.Router) {
		api.Post("/documents", s.uploadDocument)
		api.Get("/documents/{documentID}", s.getDocument)
		api.Get("/documents/{documentID}/progress", s.streamProgress)
		api.Post("/query", s.query)
	})
	r.Get("/healthz", s.health)

	s.httpServer = &http.Server{
		Addr:    ":" + opts.Port,
		Handler: r,
	}

	return s, nil
}

// Start runs the HTTP server until it is shut down
func (s *Server) Start() error {
	s.log.Info("HTTP server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type uploadResponse struct {
	DocumentID string `json:"document_id"`
	Name       string `json:"name"`
	Status     string `json:"status"`
}

// uploadDocument accepts a multipart file, creates the document record and
// enqueues the ingestion task
func (s *Server) uploadDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "file too large or malformed upload")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	fileType := strings.TrimPrefix(strings.ToLower(filepath.Ext(header.Filename)), ".")
	if !allowedFileTypes[fileType] {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported file type: %q", fileType))
		return
	}

	documentID := uuid.New().String()
	uploadPath := filepath.Join(s.uploadDir, documentID+"."+fileType)
	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to prepare upload storage")
		return
	}
	dst, err := os.Create(uploadPath)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}
	if _, err := io.Copy(dst, file); err != nil {
		dst.Close()
		os.Remove(uploadPath)
		writeError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}
	dst.Close()

	if err := s.documents.CreateDocument(ctx, documentID, header.Filename); err != nil {
		os.Remove(uploadPath)
		s.log.Error("failed to create document record", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create document record")
		return
	}

	if err := s.consumer.Enqueue(ctx, queue.TaskPayload{
		DocumentID: documentID,
		FileName:   header.Filename,
		FilePath:   uploadPath,
		FileType:   fileType,
	}); err != nil {
		s.log.Error("failed to enqueue ingestion task", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to enqueue ingestion")
		return
	}

	writeJSON(w, http.StatusAccepted, uploadResponse{
		DocumentID: documentID,
		Name:       header.Filename,
		Status:     storage.StatusPending,
	})
}

// getDocument returns the current document record
func (s *Server) getDocument(w http.ResponseWriter, r *http.Request) {
	documentID := chi.URLParam(r, "documentID")

	doc, err := s.documents.GetDocument(r.Context(), documentID)
	if err != nil {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"document_id":        doc.ID,
		"name":               doc.Name,
		"status":             doc.Status,
		"step":               doc.Step,
		"page_count":         doc.PageCount,
		"chunk_count":        doc.ChunkCount,
		"ocr_confidence_avg": doc.OCRConfidenceAvg,
		"error_message":      doc.ErrorMessage,
	})
}

// streamProgress relays progress events as server-sent events until the
// document reaches a terminal status
func (s *Server) streamProgress(w http.ResponseWriter, r *http.Request) {
	documentID := chi.URLParam(r, "documentID")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	events, err := s.watcher.Watch(r.Context(), documentID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for event := range events {
		payload, err := json.Marshal(event)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
	}
}

type queryRequest struct {
	Query       string   `json:"query"`
	DocumentIDs []string `json:"document_ids,omitempty"`
}

type querySource struct {
	DocumentID   string  `json:"document_id"`
	DocumentName string  `json:"document_name"`
	PageNumber   int     `json:"page_number"`
	Similarity   float64 `json:"similarity"`
	Text         string  `json:"text"`
}

type queryResponse struct {
	Answer  string        `json:"answer"`
	Sources []querySource `json:"sources"`
}

// query answers a question over the ingested documents
func (s *Server) query(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()

	result, err := s.composer.Answer(ctx, req.Query, req.DocumentIDs)
	if err != nil {
		s.log.Error("query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to answer query")
		return
	}

	resp := queryResponse{Answer: result.Answer, Sources: make([]querySource, 0, len(result.Sources))}
	for _, src := range result.Sources {
		resp.Sources = append(resp.Sources, querySource{
			DocumentID:   src.DocumentID,
			DocumentName: src.DocumentName,
			PageNumber:   src.PageNumber,
			Similarity:   src.Similarity,
			Text:         src.Text,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.documents.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
