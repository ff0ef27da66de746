package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/tracklens/sitescanner/internal/engine"
	"github.com/tracklens/sitescanner/internal/scan"
	"github.com/tracklens/sitescanner/internal/store"
)

// Ownership headers. Every scan route requires both.
const (
	headerTenantID   = "X-Tenant-ID"
	headerCustomerID = "X-Customer-ID"
)

type startScanRequest struct {
	WebsiteURL string `json:"website_url"`
	MaxPages   int    `json:"max_pages"`
	MaxDepth   int    `json:"max_depth"`
}

type chunkRequest struct {
	ChunkSize   int               `json:"chunk_size"`
	Credentials *scan.Credentials `json:"credentials,omitempty"`
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Save     bool   `json:"save"`
}

type confirmNicheRequest struct {
	Niche string `json:"niche"`
}

type bulkAcceptRequest struct {
	RecommendationIDs []string `json:"recommendation_ids"`
}

func (s *Server) startScan(w http.ResponseWriter, r *http.Request) {
	customerID, tenantID, ok := s.identity(w, r)
	if !ok {
		return
	}
	var req startScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.WebsiteURL == "" {
		writeError(s.logger, w, http.StatusBadRequest, "website_url is required")
		return
	}

	sc, err := s.engine.Start(r.Context(), engine.StartInput{
		CustomerID: customerID,
		TenantID:   tenantID,
		WebsiteURL: req.WebsiteURL,
		MaxPages:   req.MaxPages,
		MaxDepth:   req.MaxDepth,
	})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(s.logger, w, http.StatusCreated, map[string]any{"scan": sc})
}

func (s *Server) getScan(w http.ResponseWriter, r *http.Request) {
	key, ok := s.scanKey(w, r)
	if !ok {
		return
	}
	sc, err := s.engine.Get(r.Context(), key)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]any{"scan": sc})
}

func (s *Server) cancelScan(w http.ResponseWriter, r *http.Request) {
	key, ok := s.scanKey(w, r)
	if !ok {
		return
	}
	sc, err := s.engine.Cancel(r.Context(), key)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]any{"scan": sc})
}

func (s *Server) processDiscoveryChunk(w http.ResponseWriter, r *http.Request) {
	s.processChunk(w, r, scan.PhaseDiscovery)
}

func (s *Server) processDeepChunk(w http.ResponseWriter, r *http.Request) {
	s.processChunk(w, r, scan.PhaseDeepCrawl)
}

func (s *Server) processChunk(w http.ResponseWriter, r *http.Request, phase scan.Phase) {
	key, ok := s.scanKey(w, r)
	if !ok {
		return
	}
	var req chunkRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(s.logger, w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}

	result, err := s.engine.ProcessChunk(r.Context(), engine.ChunkInput{
		Key:         key,
		Phase:       phase,
		ChunkSize:   req.ChunkSize,
		Credentials: req.Credentials,
	})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(s.logger, w, http.StatusOK, result)
}

func (s *Server) provideCredentials(w http.ResponseWriter, r *http.Request) {
	key, ok := s.scanKey(w, r)
	if !ok {
		return
	}
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" {
		writeError(s.logger, w, http.StatusBadRequest, "username and password are required")
		return
	}

	sc, err := s.engine.ProvideCredentials(r.Context(), engine.CredentialsInput{
		Key:         key,
		Credentials: scan.Credentials{Username: req.Username, Password: req.Password},
		Save:        req.Save,
	})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]any{"scan": sc})
}

func (s *Server) detectNiche(w http.ResponseWriter, r *http.Request) {
	key, ok := s.scanKey(w, r)
	if !ok {
		return
	}
	sc, err := s.engine.DetectNiche(r.Context(), key)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]any{"scan": sc})
}

func (s *Server) confirmNiche(w http.ResponseWriter, r *http.Request) {
	key, ok := s.scanKey(w, r)
	if !ok {
		return
	}
	var req confirmNicheRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(s.logger, w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	sc, err := s.engine.ConfirmNiche(r.Context(), key, req.Niche)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]any{"scan": sc})
}

func (s *Server) listPages(w http.ResponseWriter, r *http.Request) {
	key, ok := s.scanKey(w, r)
	if !ok {
		return
	}
	pages, err := s.engine.Pages(r.Context(), key)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]any{"pages": pages})
}

func (s *Server) listRecommendations(w http.ResponseWriter, r *http.Request) {
	key, ok := s.scanKey(w, r)
	if !ok {
		return
	}
	recs, err := s.engine.Recommendations(r.Context(), key)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]any{"recommendations": recs})
}

func (s *Server) acceptRecommendation(w http.ResponseWriter, r *http.Request) {
	key, ok := s.scanKey(w, r)
	if !ok {
		return
	}
	recID := chi.URLParam(r, "rec_id")
	if err := s.engine.AcceptRecommendation(r.Context(), key, recID); err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]string{
		"recommendation_id": recID,
		"status":            string(scan.RecommendationAccepted),
	})
}

func (s *Server) bulkAcceptRecommendations(w http.ResponseWriter, r *http.Request) {
	key, ok := s.scanKey(w, r)
	if !ok {
		return
	}
	var req bulkAcceptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.RecommendationIDs) == 0 {
		writeError(s.logger, w, http.StatusBadRequest, "recommendation_ids is required")
		return
	}
	if err := s.engine.BulkAcceptRecommendations(r.Context(), key, req.RecommendationIDs); err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]any{
		"accepted": len(req.RecommendationIDs),
	})
}

func (s *Server) identity(w http.ResponseWriter, r *http.Request) (customerID, tenantID string, ok bool) {
	customerID = r.Header.Get(headerCustomerID)
	tenantID = r.Header.Get(headerTenantID)
	if customerID == "" || tenantID == "" {
		writeError(s.logger, w, http.StatusBadRequest, "X-Customer-ID and X-Tenant-ID headers are required")
		return "", "", false
	}
	return customerID, tenantID, true
}

func (s *Server) scanKey(w http.ResponseWriter, r *http.Request) (scan.Key, bool) {
	customerID, tenantID, ok := s.identity(w, r)
	if !ok {
		return scan.Key{}, false
	}
	return scan.Key{
		ScanID:     chi.URLParam(r, "scan_id"),
		CustomerID: customerID,
		TenantID:   tenantID,
	}, true
}

// writeEngineError maps the error taxonomy onto HTTP statuses. Version
// conflicts and all-fetches-failed chunks are marked retriable so the
// client loop can resubmit after a re-read.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(s.logger, w, http.StatusNotFound, "scan not found")
	case errors.Is(err, store.ErrActiveScanExists):
		writeError(s.logger, w, http.StatusConflict, err.Error())
	case errors.Is(err, scan.ErrIllegalTransition):
		writeError(s.logger, w, http.StatusConflict, err.Error())
	case errors.Is(err, engine.ErrQueueNotEmpty):
		writeError(s.logger, w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrConflict):
		writeRetriableError(s.logger, w, http.StatusConflict, err.Error())
	case errors.Is(err, engine.ErrChunkFailed):
		writeRetriableError(s.logger, w, http.StatusBadGateway, err.Error())
	default:
		s.logger.Error("request failed", zap.Error(err))
		writeError(s.logger, w, http.StatusInternalServerError, "internal server error")
	}
}

func writeJSON(logger *zap.Logger, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Warn("write JSON failed", zap.Error(err))
	}
}

func writeError(logger *zap.Logger, w http.ResponseWriter, status int, msg string) {
	writeJSON(logger, w, status, map[string]string{"error": msg})
}

func writeRetriableError(logger *zap.Logger, w http.ResponseWriter, status int, msg string) {
	writeJSON(logger, w, status, map[string]any{"error": msg, "retriable": true})
}
