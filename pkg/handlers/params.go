package handlers

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/leafcare/leafcare-engine/pkg/models"
)

// ParseUserID extracts and validates the user ID from the request path.
// Returns the parsed UUID and true on success, or uuid.Nil and false on error
// (after writing an error response).
// Expects path parameter: id
func ParseUserID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, "id", "invalid_user_id", "Invalid user ID format", logger)
}

// ParseRecommendationID extracts and validates the recommendation ID from the request path.
// Expects path parameter: id
func ParseRecommendationID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, "id", "invalid_recommendation_id", "Invalid recommendation ID format", logger)
}

// ParsePaging reads limit and skip from the query string. Missing values
// yield the defaults; malformed or negative values are rejected. Limits above
// the maximum are clamped by the services.
func ParsePaging(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (limit, skip int, ok bool) {
	q := r.URL.Query()
	limit = models.DefaultPageLimit

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeBadRequest(w, "invalid_limit", "limit must be a positive integer", logger)
			return 0, 0, false
		}
		limit = n
	}
	if v := q.Get("skip"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, "invalid_skip", "skip must be a non-negative integer", logger)
			return 0, 0, false
		}
		skip = n
	}
	return limit, skip, true
}

// parseOptionalBool reads a boolean query parameter. Absent means nil.
func parseOptionalBool(w http.ResponseWriter, r *http.Request, name string, logger *zap.Logger) (*bool, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, true
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		writeBadRequest(w, "invalid_"+name, name+" must be true or false", logger)
		return nil, false
	}
	return &b, true
}

// parseUUID is the internal helper that does the actual parsing work.
func parseUUID(w http.ResponseWriter, r *http.Request, pathParam, errorCode, errorMessage string, logger *zap.Logger) (uuid.UUID, bool) {
	idStr := r.PathValue(pathParam)
	id, err := uuid.Parse(idStr)
	if err != nil {
		writeBadRequest(w, errorCode, errorMessage, logger)
		return uuid.Nil, false
	}
	return id, true
}

func writeBadRequest(w http.ResponseWriter, code, message string, logger *zap.Logger) {
	if err := ErrorResponse(w, http.StatusBadRequest, code, message); err != nil {
		logger.Error("Failed to write error response", zap.Error(err))
	}
}
