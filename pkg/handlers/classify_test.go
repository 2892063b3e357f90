package handlers

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/leafcare/leafcare-engine/pkg/apperrors"
	"github.com/leafcare/leafcare-engine/pkg/models"
	"github.com/leafcare/leafcare-engine/pkg/services"
	"github.com/leafcare/leafcare-engine/pkg/upload"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

type formPart struct {
	field    string
	filename string
	content  []byte
}

// multipartBody builds a multipart request body from file parts and plain values.
func multipartBody(t *testing.T, files []formPart, values map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="`+f.field+`"; filename="`+f.filename+`"`)
		h.Set("Content-Type", "image/png")
		w, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = w.Write(f.content)
		require.NoError(t, err)
	}
	for k, v := range values {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

type classifyFixture struct {
	mux     *http.ServeMux
	svc     *mockClassificationService
	uploads *recordingUploads
	dir     string
}

func newClassifyFixture(t *testing.T, roles ...models.Role) *classifyFixture {
	t.Helper()
	dir := t.TempDir()
	store, err := upload.NewTempStore(dir, zap.NewNop())
	require.NoError(t, err)

	uploads := &recordingUploads{store: store}
	svc := &mockClassificationService{
		uploads: uploads,
		prediction: &models.PredictionResult{
			PredictedClass: "Tomato___Late_blight",
			Confidence:     0.91,
			ModelVersion:   "v3",
		},
	}

	if len(roles) == 0 {
		roles = []models.Role{models.RoleFarmer}
	}
	mux := http.NewServeMux()
	NewClassifyHandler(svc, uploads, UploadLimits{MaxFileSize: 4096, MaxBatchFiles: 3}, zap.NewNop()).
		RegisterRoutes(mux, newTestAuthMiddleware(uuid.New(), roles...))

	return &classifyFixture{mux: mux, svc: svc, uploads: uploads, dir: dir}
}

func (f *classifyFixture) post(t *testing.T, path string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer test-token")
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func (f *classifyFixture) assertNoSpooledFiles(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(f.dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "spooled uploads must be removed")
}

func TestClassifyHandler_Image(t *testing.T) {
	f := newClassifyFixture(t)
	body, ct := multipartBody(t,
		[]formPart{{field: "image", filename: "leaf.png", content: pngHeader}},
		map[string]string{"metadata": `{"field":"north-3"}`})

	rec := f.post(t, "/classify/image", body, ct)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody(t, rec)
	assert.Equal(t, true, resp["success"])
	data := resp["data"].(map[string]any)
	assert.Equal(t, "Tomato___Late_blight", data["predicted_class"])

	require.Len(t, f.svc.received, 1)
	assert.Equal(t, "leaf.png", f.svc.received[0].Filename)
	assert.Equal(t, int64(len(pngHeader)), f.svc.received[0].Size)
	assert.Equal(t, map[string]string{"field": "north-3"}, f.svc.metadata)
	f.assertNoSpooledFiles(t)
}

func TestClassifyHandler_Image_Errors(t *testing.T) {
	t.Run("no file", func(t *testing.T) {
		f := newClassifyFixture(t)
		body, ct := multipartBody(t, nil, map[string]string{"note": "x"})

		rec := f.post(t, "/classify/image", body, ct)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "no_file", decodeBody(t, rec)["error"])
		assert.Empty(t, f.svc.received)
	})

	t.Run("not multipart", func(t *testing.T) {
		f := newClassifyFixture(t)

		rec := f.post(t, "/classify/image", bytes.NewBufferString(`{"image":"base64"}`), "application/json")

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "no_file", decodeBody(t, rec)["error"])
	})

	t.Run("bad metadata", func(t *testing.T) {
		f := newClassifyFixture(t)
		body, ct := multipartBody(t,
			[]formPart{{field: "image", filename: "leaf.png", content: pngHeader}},
			map[string]string{"metadata": `["not","an","object"]`})

		rec := f.post(t, "/classify/image", body, ct)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "invalid_metadata", decodeBody(t, rec)["error"])
		assert.Empty(t, f.svc.received)
		f.assertNoSpooledFiles(t)
	})

	t.Run("body over limit", func(t *testing.T) {
		f := newClassifyFixture(t)
		big := bytes.Repeat([]byte{0xff}, 2<<20)
		body, ct := multipartBody(t, []formPart{{field: "image", filename: "huge.png", content: big}}, nil)

		rec := f.post(t, "/classify/image", body, ct)

		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
		assert.Equal(t, "file_too_large", decodeBody(t, rec)["error"])
		assert.Empty(t, f.svc.received)
	})

	t.Run("upstream unavailable", func(t *testing.T) {
		f := newClassifyFixture(t)
		f.svc.err = apperrors.ErrClassifierUnavailable
		body, ct := multipartBody(t, []formPart{{field: "image", filename: "leaf.png", content: pngHeader}}, nil)

		rec := f.post(t, "/classify/image", body, ct)

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "classifier_unavailable", decodeBody(t, rec)["error"])
		f.assertNoSpooledFiles(t)
	})

	t.Run("two images on single route", func(t *testing.T) {
		f := newClassifyFixture(t)
		body, ct := multipartBody(t, []formPart{
			{field: "image", filename: "a.png", content: pngHeader},
			{field: "image", filename: "b.png", content: pngHeader},
		}, nil)

		rec := f.post(t, "/classify/image", body, ct)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "too_many_files", decodeBody(t, rec)["error"])
	})
}

func TestClassifyHandler_RequiresAuth(t *testing.T) {
	f := newClassifyFixture(t)
	body, ct := multipartBody(t, []formPart{{field: "image", filename: "leaf.png", content: pngHeader}}, nil)

	req := httptest.NewRequest(http.MethodPost, "/classify/image", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, f.svc.received)
}

func TestClassifyHandler_WithRecommendations(t *testing.T) {
	f := newClassifyFixture(t, models.RoleManager)
	f.svc.withRecs = &services.ClassifyWithRecommendationsResult{
		Prediction:     f.svc.prediction,
		Recommendation: &services.GenerateResult{Success: false, Message: "Recommendation service is unavailable"},
	}
	body, ct := multipartBody(t,
		[]formPart{{field: "image", filename: "leaf.png", content: pngHeader}},
		map[string]string{"sessionId": "sess-1", "context": "wet season"})

	rec := f.post(t, "/classify/image/with-recommendations", body, ct)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "sess-1", f.svc.sessionID)
	assert.Equal(t, "wet season", f.svc.context)

	data := decodeBody(t, rec)["data"].(map[string]any)
	recommendation := data["recommendation"].(map[string]any)
	assert.Equal(t, false, recommendation["success"])
	f.assertNoSpooledFiles(t)
}

func TestClassifyHandler_Batch(t *testing.T) {
	f := newClassifyFixture(t)
	f.svc.batch = []services.BatchItemResult{
		{Filename: "a.png", Success: true, Prediction: f.svc.prediction},
		{Filename: "b.png", Success: false, Error: "unsupported_type", Message: "Unsupported image type"},
		{Filename: "c.png", Success: true, Prediction: f.svc.prediction},
	}
	body, ct := multipartBody(t, []formPart{
		{field: "images", filename: "a.png", content: pngHeader},
		{field: "images", filename: "b.png", content: []byte("text")},
		{field: "images", filename: "c.png", content: pngHeader},
	}, nil)

	rec := f.post(t, "/classify/batch", body, ct)

	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeBody(t, rec)["data"].(map[string]any)
	summary := data["summary"].(map[string]any)
	assert.Equal(t, float64(3), summary["total"])
	assert.Equal(t, float64(2), summary["successful"])
	assert.Equal(t, float64(1), summary["failed"])

	results := data["results"].([]any)
	require.Len(t, results, 3)
	assert.Equal(t, "b.png", results[1].(map[string]any)["filename"])

	require.Len(t, f.svc.received, 3)
	assert.Equal(t, "a.png", f.svc.received[0].Filename)
	assert.Equal(t, "c.png", f.svc.received[2].Filename)
	f.assertNoSpooledFiles(t)
}

func TestClassifyHandler_Batch_Limits(t *testing.T) {
	t.Run("too many files", func(t *testing.T) {
		f := newClassifyFixture(t)
		parts := make([]formPart, 4)
		for i := range parts {
			parts[i] = formPart{field: "images", filename: "leaf.png", content: pngHeader}
		}
		body, ct := multipartBody(t, parts, nil)

		rec := f.post(t, "/classify/batch", body, ct)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "too_many_files", decodeBody(t, rec)["error"])
		assert.Empty(t, f.svc.received)
		f.assertNoSpooledFiles(t)
	})

	t.Run("empty batch", func(t *testing.T) {
		f := newClassifyFixture(t)
		body, ct := multipartBody(t, []formPart{{field: "image", filename: "leaf.png", content: pngHeader}}, nil)

		rec := f.post(t, "/classify/batch", body, ct)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "no_file", decodeBody(t, rec)["error"])
	})

	t.Run("spool failure removes earlier files", func(t *testing.T) {
		f := newClassifyFixture(t)
		f.uploads.saveErr = os.ErrPermission
		body, ct := multipartBody(t, []formPart{
			{field: "images", filename: "a.png", content: pngHeader},
			{field: "images", filename: "b.png", content: pngHeader},
		}, nil)

		rec := f.post(t, "/classify/batch", body, ct)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "internal_error", decodeBody(t, rec)["error"])
		assert.Empty(t, f.svc.received)
		assert.Equal(t, 1, f.uploads.removed)
		f.assertNoSpooledFiles(t)
	})
}

func TestClassifyHandler_PublicEndpoints(t *testing.T) {
	f := newClassifyFixture(t)
	f.svc.health = services.ClassifierHealth{Healthy: false, Error: "Classification service is unavailable"}
	f.svc.stats = services.ClassificationStats{TotalRequests: 7, Successful: 5, Failed: 2, ByClass: map[string]int64{}}
	f.svc.formats = services.SupportedFormats{MIMETypes: []string{"image/jpeg", "image/png"}, MaxFileSize: 4096, MaxBatchFiles: 3}

	t.Run("health reports unavailable", func(t *testing.T) {
		rec := httptest.NewRecorder()
		f.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/classify/health", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		resp := decodeBody(t, rec)
		assert.Equal(t, false, resp["success"])
	})

	t.Run("stats", func(t *testing.T) {
		rec := httptest.NewRecorder()
		f.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/classify/stats", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		data := decodeBody(t, rec)["data"].(map[string]any)
		assert.Equal(t, float64(7), data["totalRequests"])
	})

	t.Run("supported formats", func(t *testing.T) {
		rec := httptest.NewRecorder()
		f.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/classify/supported-formats", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		data := decodeBody(t, rec)["data"].(map[string]any)
		assert.Equal(t, []any{"image/jpeg", "image/png"}, data["mimeTypes"])
	})
}
