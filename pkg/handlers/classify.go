package handlers

import (
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"

	"go.uber.org/zap"

	"github.com/leafcare/leafcare-engine/pkg/apperrors"
	"github.com/leafcare/leafcare-engine/pkg/auth"
	"github.com/leafcare/leafcare-engine/pkg/models"
	"github.com/leafcare/leafcare-engine/pkg/services"
	"github.com/leafcare/leafcare-engine/pkg/upload"
)

// Multipart field names.
const (
	imageField    = "image"
	batchField    = "images"
	metadataField = "metadata"
)

// multipartMemory is how much of a multipart body is held in memory before
// net/http spills parts to disk.
const multipartMemory = 1 << 20

// Uploads spools multipart files to disk.
type Uploads interface {
	Save(fh *multipart.FileHeader) (*upload.File, error)
	Remove(f *upload.File)
}

// BatchSummary counts the outcomes of a batch.
type BatchSummary struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// BatchResponse is the data of POST /classify/batch.
type BatchResponse struct {
	Results []services.BatchItemResult `json:"results"`
	Summary BatchSummary               `json:"summary"`
}

// ClassifyHandler handles image classification HTTP requests.
type ClassifyHandler struct {
	classification services.ClassificationService
	uploads        Uploads
	maxFileSize    int64
	maxBatchFiles  int
	logger         *zap.Logger
}

// NewClassifyHandler creates a new classify handler.
func NewClassifyHandler(classification services.ClassificationService, uploads Uploads, cfg UploadLimits, logger *zap.Logger) *ClassifyHandler {
	return &ClassifyHandler{
		classification: classification,
		uploads:        uploads,
		maxFileSize:    cfg.MaxFileSize,
		maxBatchFiles:  cfg.MaxBatchFiles,
		logger:         logger,
	}
}

// UploadLimits bound request bodies before any file reaches the validator.
type UploadLimits struct {
	MaxFileSize   int64
	MaxBatchFiles int
}

// RegisterRoutes registers the classify handler's routes on the given mux.
func (h *ClassifyHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	anyRole := authMiddleware.RequireRoles(models.RoleFarmer, models.RoleManager, models.RoleAdmin)

	mux.HandleFunc("POST /classify/image", anyRole(h.Image))
	mux.HandleFunc("POST /classify/image/with-recommendations", anyRole(h.ImageWithRecommendations))
	mux.HandleFunc("POST /classify/batch", anyRole(h.Batch))

	mux.HandleFunc("GET /classify/health", h.Health)
	mux.HandleFunc("GET /classify/stats", h.Stats)
	mux.HandleFunc("GET /classify/supported-formats", h.SupportedFormats)
}

// Image handles POST /classify/image
func (h *ClassifyHandler) Image(w http.ResponseWriter, r *http.Request) {
	form, ok := h.parseForm(w, r, 1)
	if !ok {
		return
	}
	defer func() { _ = form.RemoveAll() }()

	metadata, err := parseMetadata(form)
	if err != nil {
		writeAppError(w, r, err, h.logger)
		return
	}
	file, err := h.saveSingle(form)
	if err != nil {
		writeAppError(w, r, err, h.logger)
		return
	}

	prediction, err := h.classification.Classify(r.Context(), file, metadata)
	if err != nil {
		writeAppError(w, r, err, h.logger)
		return
	}

	writeData(w, http.StatusOK, prediction, "Image classified", h.logger)
}

// ImageWithRecommendations handles POST /classify/image/with-recommendations
// A failed recommendation is reported inside the response, not as an error.
func (h *ClassifyHandler) ImageWithRecommendations(w http.ResponseWriter, r *http.Request) {
	form, ok := h.parseForm(w, r, 1)
	if !ok {
		return
	}
	defer func() { _ = form.RemoveAll() }()

	file, err := h.saveSingle(form)
	if err != nil {
		writeAppError(w, r, err, h.logger)
		return
	}

	result, err := h.classification.ClassifyWithRecommendations(r.Context(), file,
		formValue(form, "sessionId"), formValue(form, "context"))
	if err != nil {
		writeAppError(w, r, err, h.logger)
		return
	}

	writeData(w, http.StatusOK, result, "Image classified", h.logger)
}

// Batch handles POST /classify/batch
func (h *ClassifyHandler) Batch(w http.ResponseWriter, r *http.Request) {
	form, ok := h.parseForm(w, r, h.maxBatchFiles)
	if !ok {
		return
	}
	defer func() { _ = form.RemoveAll() }()

	headers := form.File[batchField]
	switch {
	case len(headers) == 0:
		writeAppError(w, r, apperrors.ErrNoFile, h.logger)
		return
	case len(headers) > h.maxBatchFiles:
		writeAppError(w, r, apperrors.ErrTooManyFiles, h.logger)
		return
	}

	files := make([]*upload.File, 0, len(headers))
	for _, fh := range headers {
		f, err := h.uploads.Save(fh)
		if err != nil {
			for _, saved := range files {
				h.uploads.Remove(saved)
			}
			h.logger.Error("Failed to spool upload", zap.String("filename", fh.Filename), zap.Error(err))
			writeAppError(w, r, err, h.logger)
			return
		}
		files = append(files, f)
	}

	results, err := h.classification.ClassifyBatch(r.Context(), files)
	if err != nil {
		writeAppError(w, r, err, h.logger)
		return
	}

	resp := BatchResponse{Results: results, Summary: BatchSummary{Total: len(results)}}
	for _, res := range results {
		if res.Success {
			resp.Summary.Successful++
		} else {
			resp.Summary.Failed++
		}
	}
	writeData(w, http.StatusOK, resp, "Batch processed", h.logger)
}

// Health handles GET /classify/health
func (h *ClassifyHandler) Health(w http.ResponseWriter, r *http.Request) {
	health := h.classification.Health(r.Context())
	status := http.StatusOK
	if !health.Healthy {
		status = http.StatusServiceUnavailable
	}
	if err := WriteJSON(w, status, ApiResponse{Success: health.Healthy, Data: health}); err != nil {
		h.logger.Error("Failed to encode health response", zap.Error(err))
	}
}

// Stats handles GET /classify/stats
func (h *ClassifyHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, h.classification.Stats(), "", h.logger)
}

// SupportedFormats handles GET /classify/supported-formats
func (h *ClassifyHandler) SupportedFormats(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, h.classification.SupportedFormats(), "", h.logger)
}

// parseForm reads a multipart body sized for at most files uploads.
func (h *ClassifyHandler) parseForm(w http.ResponseWriter, r *http.Request, files int) (*multipart.Form, bool) {
	limit := int64(files)*h.maxFileSize + multipartMemory
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			writeAppError(w, r, apperrors.ErrFileTooLarge, h.logger)
		case errors.Is(err, http.ErrNotMultipart):
			writeAppError(w, r, apperrors.ErrNoFile, h.logger)
		default:
			writeAppError(w, r, apperrors.Validation("invalid_multipart", "Malformed multipart body"), h.logger)
		}
		return nil, false
	}
	return r.MultipartForm, true
}

func (h *ClassifyHandler) saveSingle(form *multipart.Form) (*upload.File, error) {
	headers := form.File[imageField]
	if len(headers) == 0 {
		return nil, apperrors.ErrNoFile
	}
	if len(headers) > 1 {
		return nil, apperrors.Validation("too_many_files", "Send exactly one image")
	}
	return h.uploads.Save(headers[0])
}

// parseMetadata decodes the optional metadata field, a JSON object of strings.
func parseMetadata(form *multipart.Form) (map[string]string, error) {
	raw := formValue(form, metadataField)
	if raw == "" {
		return nil, nil
	}
	var metadata map[string]string
	if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
		return nil, apperrors.Validation("invalid_metadata", "metadata must be a JSON object of strings")
	}
	return metadata, nil
}

func formValue(form *multipart.Form, name string) string {
	if vs := form.Value[name]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}
