// Package api exposes the caller-facing HTTP surface of the ingestion
// pipeline. No file bytes ever pass through these handlers; clients transfer
// content directly to object storage through pre-signed URLs.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/josephversace/caile-evidence/internal/audit"
	"github.com/josephversace/caile-evidence/internal/config"
	"github.com/josephversace/caile-evidence/internal/coordinator"
	"github.com/josephversace/caile-evidence/internal/model"
	"github.com/josephversace/caile-evidence/internal/signing"
	"github.com/josephversace/caile-evidence/internal/store"
)

// Server exposes HTTP endpoints for upload coordination and evidence
// visibility.
type Server struct {
	cfg      *config.Config
	coord    *coordinator.Coordinator
	evidence store.EvidenceStore
	auditor  audit.Logger
	verifier *signing.Verifier
	log      zerolog.Logger
	server   *http.Server
	once     sync.Once
}

// New constructs a Server.
func New(cfg *config.Config, coord *coordinator.Coordinator, evidence store.EvidenceStore, auditor audit.Logger, log zerolog.Logger) *Server {
	return &Server{
		cfg:      cfg,
		coord:    coord,
		evidence: evidence,
		auditor:  auditor,
		verifier: signing.NewVerifier(cfg.WebhookSecret),
		log:      log.With().Str("component", "api").Logger(),
	}
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.once.Do(func() {
		s.server = &http.Server{
			Addr:    s.cfg.Address,
			Handler: s.Routes(),
		}
	})
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()
	s.log.Info().Str("address", s.cfg.Address).Msg("api listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Routes builds the handler tree with middleware applied.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/evidence/uploads", s.handleUploads)
	mux.HandleFunc("/evidence/uploads/", s.handleUploadRoute)
	mux.HandleFunc("/evidence/", s.handleEvidenceRoute)
	mux.HandleFunc("/hooks/storage", s.handleStorageHook)
	return corsMiddleware(s.loggingMiddleware(mux))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type initiateRequest struct {
	Hash        string                `json:"hash"`
	FileName    string                `json:"fileName"`
	FileSize    int64                 `json:"fileSize"`
	ContentType string                `json:"contentType"`
	Metadata    model.CustodyMetadata `json:"metadata"`
	ActorID     string                `json:"actorId"`
}

func (s *Server) handleUploads(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req initiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	result, err := s.coord.InitiateUpload(r.Context(), coordinator.InitiateRequest{
		Hash:        req.Hash,
		FileName:    req.FileName,
		FileSize:    req.FileSize,
		ContentType: req.ContentType,
		Metadata:    req.Metadata,
		ActorID:     actor(r, req.ActorID),
	})
	if err != nil {
		if errors.Is(err, coordinator.ErrInvalidHash) || errors.Is(err, coordinator.ErrInvalidSize) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.log.Error().Err(err).Msg("initiate upload")
		http.Error(w, "failed to initiate upload", http.StatusInternalServerError)
		return
	}
	status := http.StatusCreated
	if result.Status == coordinator.StatusDuplicate {
		status = http.StatusConflict
	}
	respondJSON(w, status, result)
}

type confirmRequest struct {
	ClientHash string `json:"clientHash,omitempty"`
	ActorID    string `json:"actorId,omitempty"`
}

func (s *Server) handleUploadRoute(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/evidence/uploads/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "confirm" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req confirmRequest
	// A bare confirm with no body is allowed; a body that fails to decode is
	// not, since it may carry a clientHash we would otherwise drop.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	result, err := s.coord.ConfirmUpload(r.Context(), parts[0], req.ClientHash, actor(r, req.ActorID))
	if err != nil {
		if errors.Is(err, coordinator.ErrNotFound) {
			http.Error(w, "evidence not found", http.StatusNotFound)
			return
		}
		s.log.Error().Err(err).Str("evidence_id", parts[0]).Msg("confirm upload")
		http.Error(w, "failed to confirm upload", http.StatusInternalServerError)
		return
	}
	status := http.StatusOK
	if !result.Success {
		status = http.StatusConflict
	}
	respondJSON(w, status, result)
}

func (s *Server) handleEvidenceRoute(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/evidence/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	id := parts[0]
	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			s.handleGetEvidence(w, r, id)
		case http.MethodDelete:
			s.handleDeleteEvidence(w, r, id)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}
	switch parts[1] {
	case "audit":
		s.handleAuditHistory(w, r, id)
	case "metadata":
		s.handleAppendMetadata(w, r, id)
	case "archive":
		s.handleArchive(w, r, id)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleGetEvidence(w http.ResponseWriter, r *http.Request, id string) {
	ev, err := s.evidence.Get(r.Context(), id)
	if err != nil {
		http.Error(w, "evidence not found", http.StatusNotFound)
		return
	}
	respondJSON(w, http.StatusOK, ev)
}

func (s *Server) handleDeleteEvidence(w http.ResponseWriter, r *http.Request, id string) {
	if err := s.coord.Delete(r.Context(), id, actor(r, "")); err != nil {
		if errors.Is(err, coordinator.ErrNotFound) {
			http.Error(w, "evidence not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAuditHistory(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	history, err := s.auditor.GetEntityHistory(r.Context(), id)
	if err != nil {
		s.log.Error().Err(err).Str("evidence_id", id).Msg("audit history")
		http.Error(w, "failed to load audit history", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, history)
}

func (s *Server) handleAppendMetadata(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var md model.CustodyMetadata
	if err := json.NewDecoder(r.Body).Decode(&md); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	ev, err := s.coord.AppendMetadata(r.Context(), id, md, actor(r, ""))
	if err != nil {
		if errors.Is(err, coordinator.ErrNotFound) {
			http.Error(w, "evidence not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	respondJSON(w, http.StatusOK, ev)
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.coord.Archive(r.Context(), id, actor(r, "")); err != nil {
		if errors.Is(err, coordinator.ErrNotFound) {
			http.Error(w, "evidence not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type storageNotification struct {
	Bucket    string `json:"bucket"`
	ObjectKey string `json:"objectKey"`
	EventType string `json:"eventType"`
}

func (s *Server) handleStorageHook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if s.verifier.Enabled() {
		if !s.verifier.Validate(body, r.Header.Get("X-Hook-Timestamp"), r.Header.Get("X-Hook-Signature")) {
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
	}
	var note storageNotification
	if err := json.Unmarshal(body, &note); err != nil || note.ObjectKey == "" {
		http.Error(w, "invalid notification payload", http.StatusBadRequest)
		return
	}
	handled := s.coord.HandleStorageNotification(r.Context(), note.Bucket, note.ObjectKey, note.EventType)
	// Always 200: the gateway delivers at least once and retries non-2xx, but
	// unknown or already-settled objects are expected here.
	respondJSON(w, http.StatusOK, map[string]bool{"handled": handled})
}

// actor resolves the acting identity from the authenticated header, falling
// back to the request body for callers proxying on someone's behalf.
func actor(r *http.Request, fallback string) string {
	if v := r.Header.Get("X-Actor-Id"); v != "" {
		return v
	}
	if fallback != "" {
		return fallback
	}
	return "anonymous"
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization,X-Actor-Id")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug().Str("method", r.Method).Str("path", r.URL.Path).Dur("elapsed", time.Since(start)).Msg("request")
	})
}
