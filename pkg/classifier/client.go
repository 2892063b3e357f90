// Package classifier is a client for the external leaf classification service.
package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/leafcare/leafcare-engine/pkg/apperrors"
	"github.com/leafcare/leafcare-engine/pkg/config"
	"github.com/leafcare/leafcare-engine/pkg/logging"
	"github.com/leafcare/leafcare-engine/pkg/models"
	"github.com/leafcare/leafcare-engine/pkg/retry"
	"github.com/leafcare/leafcare-engine/pkg/upload"
)

// Client calls the classification service.
type Client struct {
	baseURL      string
	timeout      time.Duration
	retryConfig  retry.Config
	modelVersion string
	httpClient   *http.Client
	logger       *zap.Logger
}

// NewClient creates a classifier client. Each attempt gets its own timeout
// from cfg, so the http.Client itself has none.
func NewClient(cfg *config.ClassifierConfig, logger *zap.Logger) *Client {
	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		timeout:      cfg.Timeout,
		modelVersion: cfg.ModelVersion,
		retryConfig: retry.Config{
			MaxRetries:   cfg.MaxRetries,
			InitialDelay: cfg.RetryBaseDelay,
			Multiplier:   2.0,
		},
		httpClient: &http.Client{},
		logger:     logger.Named("classifier"),
	}
}

// upstreamError is a response from the service that signals failure, as
// opposed to not reaching it at all.
type upstreamError struct {
	status  int
	message string
}

func (e *upstreamError) Error() string {
	if e.status != 0 {
		return fmt.Sprintf("classifier returned status %d: %s", e.status, e.message)
	}
	return "classifier reported failure: " + e.message
}

// predictResponse is the service's reply to POST /predict.
type predictResponse struct {
	Success    bool   `json:"success"`
	Error      string `json:"error"`
	Message    string `json:"message"`
	Prediction struct {
		Status        string             `json:"status"`
		Disease       string             `json:"disease"`
		Class         string             `json:"class"`
		Confidence    float64            `json:"confidence"`
		Probabilities map[string]float64 `json:"probabilities"`
		ModelVersion  string             `json:"model_version"`
	} `json:"prediction"`
	ModelVersion string `json:"model_version"`
}

// Classify sends file to the classifier and normalizes the answer. Failures
// are retried on the configured backoff schedule; the final error is
// ErrClassifierUnavailable when the service could not be reached and
// ErrClassifierError when it answered with a failure.
func (c *Client) Classify(ctx context.Context, file *upload.File, metadata map[string]string) (*models.PredictionResult, error) {
	start := time.Now()
	defer func() { classifyDuration.Observe(time.Since(start).Seconds()) }()

	cfg := c.retryConfig
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		c.logger.Warn("Classifier call failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.String("filename", file.Filename),
			zap.String("error", logging.SanitizeError(err)))
	}

	resp, err := retry.DoWithResult(ctx, &cfg, func(ctx context.Context) (*predictResponse, error) {
		classifyAttemptsTotal.Inc()
		return c.predictOnce(ctx, file, metadata)
	})
	if err != nil {
		var upErr *upstreamError
		if errors.As(err, &upErr) {
			classifyRequestsTotal.WithLabelValues("error").Inc()
			c.logger.Error("Classifier returned an error after retries",
				zap.String("filename", file.Filename),
				zap.String("error", logging.SanitizeError(err)))
			return nil, fmt.Errorf("%w: %v", apperrors.ErrClassifierError, err)
		}
		classifyRequestsTotal.WithLabelValues("unavailable").Inc()
		c.logger.Error("Classifier unreachable after retries",
			zap.String("filename", file.Filename),
			zap.String("error", logging.SanitizeError(err)))
		return nil, fmt.Errorf("%w: %v", apperrors.ErrClassifierUnavailable, err)
	}

	classifyRequestsTotal.WithLabelValues("success").Inc()
	result := c.normalize(resp)
	result.ProcessingTimeMs = time.Since(start).Milliseconds()
	return result, nil
}

func (c *Client) predictOnce(ctx context.Context, file *upload.File, metadata map[string]string) (*predictResponse, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	src, err := file.Open()
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("failed to open upload: %w", err))
	}
	defer src.Close()

	body, contentType := streamMultipart(src, file, metadata)
	defer body.Close()

	endpoint, err := c.url("predict")
	if err != nil {
		return nil, retry.Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call classifier: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read classifier response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &upstreamError{
			status:  resp.StatusCode,
			message: logging.TruncateString(string(raw), logging.MaxBodyLogLength),
		}
	}

	var parsed predictResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &upstreamError{message: "unparseable response: " + err.Error()}
	}
	if !parsed.Success {
		msg := parsed.Error
		if msg == "" {
			msg = parsed.Message
		}
		if msg == "" {
			msg = "success=false"
		}
		return nil, &upstreamError{message: msg}
	}

	return &parsed, nil
}

// streamMultipart encodes the image part and metadata through a pipe so the
// file is never held in memory.
func streamMultipart(src io.Reader, file *upload.File, metadata map[string]string) (io.ReadCloser, string) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		err := writeMultipart(mw, src, file, metadata)
		if err == nil {
			err = mw.Close()
		}
		_ = pw.CloseWithError(err)
	}()

	return pr, mw.FormDataContentType()
}

func writeMultipart(mw *multipart.Writer, src io.Reader, file *upload.File, metadata map[string]string) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename=%q`, path.Base(file.Filename)))
	contentType := file.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h.Set("Content-Type", contentType)

	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, src); err != nil {
		return err
	}

	if len(metadata) > 0 {
		encoded, err := json.Marshal(metadata)
		if err != nil {
			return err
		}
		if err := mw.WriteField("metadata", string(encoded)); err != nil {
			return err
		}
	}
	return nil
}

// normalize maps the service's healthy/unhealthy verdict onto a two-class
// distribution. A full probability map from the service is kept as is.
func (c *Client) normalize(resp *predictResponse) *models.PredictionResult {
	p := resp.Prediction
	confidence := models.Clamp01(p.Confidence)

	result := &models.PredictionResult{
		Confidence:   confidence,
		ModelVersion: c.modelVersion,
		Timestamp:    time.Now().UTC(),
	}
	switch {
	case p.ModelVersion != "":
		result.ModelVersion = p.ModelVersion
	case resp.ModelVersion != "":
		result.ModelVersion = resp.ModelVersion
	}

	if models.IsHealthyLabel(p.Status) {
		result.PredictedClass = models.ClassHealthy
		result.Probabilities = map[string]float64{
			models.ClassHealthy:         confidence,
			models.ClassAngularLeafSpot: complement(confidence),
		}
	} else {
		label := diseaseLabel(p.Disease, p.Class)
		result.PredictedClass = label
		result.Probabilities = map[string]float64{
			label:               confidence,
			models.ClassHealthy: complement(confidence),
		}
	}

	if len(p.Probabilities) > 0 {
		result.Probabilities = p.Probabilities
	}
	return result
}

// complement returns 1-c rounded to six decimals, so 0.9 yields 0.1 and not
// 0.09999999999999998.
func complement(c float64) float64 {
	return math.Round((1-c)*1e6) / 1e6
}

func diseaseLabel(candidates ...string) string {
	for _, c := range candidates {
		c = strings.ToLower(strings.TrimSpace(c))
		if c != "" && !models.IsHealthyLabel(c) {
			return strings.NewReplacer(" ", "_", "-", "_").Replace(c)
		}
	}
	return models.ClassAngularLeafSpot
}

// Health checks that the classifier answers GET /.
func (c *Client) Health(ctx context.Context) error {
	endpoint, err := c.url("")
	if err != nil {
		return err
	}
	_, err = c.getJSON(ctx, endpoint)
	return err
}

// ModelInfo returns the classifier's model metadata from GET /model/info.
func (c *Client) ModelInfo(ctx context.Context) (map[string]any, error) {
	endpoint, err := c.url("model", "info")
	if err != nil {
		return nil, err
	}
	return c.getJSON(ctx, endpoint)
}

func (c *Client) getJSON(ctx context.Context, endpoint string) (map[string]any, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrClassifierUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", apperrors.ErrClassifierError, resp.StatusCode)
	}

	out := map[string]any{}
	if len(raw) > 0 {
		// Liveness endpoints may answer with plain text.
		_ = json.Unmarshal(raw, &out)
	}
	return out, nil
}

// url joins path segments onto the base URL.
func (c *Client) url(segments ...string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid classifier base URL: %w", err)
	}
	u.Path = path.Join(append([]string{"/", u.Path}, segments...)...)
	return u.String(), nil
}
