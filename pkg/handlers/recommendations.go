package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/leafcare/leafcare-engine/pkg/apperrors"
	"github.com/leafcare/leafcare-engine/pkg/auth"
	"github.com/leafcare/leafcare-engine/pkg/models"
	"github.com/leafcare/leafcare-engine/pkg/services"
)

// GenerateRequest is the request body for POST /recommendations/generate.
type GenerateRequest struct {
	Classification string   `json:"classification"`
	Confidence     *float64 `json:"confidence"`
	SessionID      string   `json:"sessionId"`
	Context        string   `json:"context,omitempty"`
}

// RecommendationsHandler handles recommendation HTTP requests.
type RecommendationsHandler struct {
	recommendationService services.RecommendationService
	logger                *zap.Logger
}

// NewRecommendationsHandler creates a new recommendations handler.
func NewRecommendationsHandler(recommendationService services.RecommendationService, logger *zap.Logger) *RecommendationsHandler {
	return &RecommendationsHandler{
		recommendationService: recommendationService,
		logger:                logger,
	}
}

// RegisterRoutes registers the recommendations handler's routes on the given mux.
func (h *RecommendationsHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	anyRole := authMiddleware.RequireRoles(models.RoleFarmer, models.RoleManager, models.RoleAdmin)
	staff := authMiddleware.RequireRoles(models.RoleManager, models.RoleAdmin)

	mux.HandleFunc("POST /recommendations/generate", anyRole(h.Generate))
	mux.HandleFunc("GET /recommendations", anyRole(h.List))
	mux.HandleFunc("GET /recommendations/analytics", staff(h.Analytics))
	mux.HandleFunc("GET /recommendations/health", h.Health)
	mux.HandleFunc("GET /recommendations/{id}", anyRole(h.Get))
	mux.HandleFunc("PATCH /recommendations/{id}/feedback", anyRole(h.Feedback))
}

// Generate handles POST /recommendations/generate
// A generator failure answers 200 with success=false and nothing is stored.
func (h *RecommendationsHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeAppError(w, r, err, h.logger)
		return
	}
	if req.Confidence == nil {
		writeAppError(w, r, apperrors.Validation("invalid_confidence", "Confidence is required"), h.logger)
		return
	}

	result, err := h.recommendationService.Generate(r.Context(), services.GenerateInput{
		Classification: req.Classification,
		Confidence:     *req.Confidence,
		SessionID:      req.SessionID,
		Context:        req.Context,
	})
	if err != nil {
		writeAppError(w, r, err, h.logger)
		return
	}

	status := http.StatusCreated
	if !result.Success {
		status = http.StatusOK
	}
	if err := WriteJSON(w, status, result); err != nil {
		h.logger.Error("Failed to encode generate response", zap.Error(err))
	}
}

// List handles GET /recommendations?sessionId=&classification=&limit=&skip=
func (h *RecommendationsHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, skip, ok := ParsePaging(w, r, h.logger)
	if !ok {
		return
	}

	q := r.URL.Query()
	filter := models.RecommendationFilter{
		SessionID:      q.Get("sessionId"),
		Classification: q.Get("classification"),
	}

	page, err := h.recommendationService.List(r.Context(), filter, limit, skip)
	if err != nil {
		writeAppError(w, r, err, h.logger)
		return
	}

	writeData(w, http.StatusOK, page, "", h.logger)
}

// Get handles GET /recommendations/{id}
func (h *RecommendationsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseRecommendationID(w, r, h.logger)
	if !ok {
		return
	}

	rec, err := h.recommendationService.GetByID(r.Context(), id)
	if err != nil {
		writeAppError(w, r, err, h.logger)
		return
	}

	writeData(w, http.StatusOK, rec, "", h.logger)
}

// Feedback handles PATCH /recommendations/{id}/feedback
func (h *RecommendationsHandler) Feedback(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseRecommendationID(w, r, h.logger)
	if !ok {
		return
	}

	var req models.Feedback
	if err := decodeJSON(w, r, &req); err != nil {
		writeAppError(w, r, err, h.logger)
		return
	}

	if err := h.recommendationService.SubmitFeedback(r.Context(), id, req); err != nil {
		writeAppError(w, r, err, h.logger)
		return
	}

	writeData(w, http.StatusOK, nil, "Feedback recorded", h.logger)
}

// Analytics handles GET /recommendations/analytics
func (h *RecommendationsHandler) Analytics(w http.ResponseWriter, r *http.Request) {
	analytics, err := h.recommendationService.Analytics(r.Context())
	if err != nil {
		writeAppError(w, r, err, h.logger)
		return
	}

	writeData(w, http.StatusOK, analytics, "", h.logger)
}

// Health handles GET /recommendations/health
func (h *RecommendationsHandler) Health(w http.ResponseWriter, r *http.Request) {
	health := h.recommendationService.Health(r.Context())
	status := http.StatusOK
	if !health.Healthy {
		status = http.StatusServiceUnavailable
	}
	if err := WriteJSON(w, status, ApiResponse{Success: health.Healthy, Data: health}); err != nil {
		h.logger.Error("Failed to encode health response", zap.Error(err))
	}
}
