package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/leafcare/leafcare-engine/pkg/apperrors"
	"github.com/leafcare/leafcare-engine/pkg/logging"
	"github.com/leafcare/leafcare-engine/pkg/models"
	"github.com/leafcare/leafcare-engine/pkg/upload"
	"github.com/leafcare/leafcare-engine/pkg/workerpool"
)

// Classifier is the remote classification service.
type Classifier interface {
	Classify(ctx context.Context, file *upload.File, metadata map[string]string) (*models.PredictionResult, error)
	Health(ctx context.Context) error
	ModelInfo(ctx context.Context) (map[string]any, error)
}

// FileRemover deletes spooled uploads.
type FileRemover interface {
	Remove(f *upload.File)
}

// BatchItemResult is the outcome for one file of a batch, reported at the
// file's position in the request.
type BatchItemResult struct {
	Filename   string                   `json:"filename"`
	Success    bool                     `json:"success"`
	Prediction *models.PredictionResult `json:"prediction,omitempty"`
	Error      string                   `json:"error,omitempty"`
	Message    string                   `json:"message,omitempty"`
}

// ClassifyWithRecommendationsResult pairs a prediction with generated advice.
// Recommendation failures are reported inside Recommendation.
type ClassifyWithRecommendationsResult struct {
	Prediction     *models.PredictionResult `json:"prediction"`
	Recommendation *GenerateResult          `json:"recommendation"`
}

// ClassifierHealth reports classifier reachability and model metadata.
type ClassifierHealth struct {
	Healthy   bool           `json:"healthy"`
	ModelInfo map[string]any `json:"modelInfo,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// ClassificationStats are process-local counters since startup.
type ClassificationStats struct {
	TotalRequests       int64            `json:"totalRequests"`
	Successful          int64            `json:"successful"`
	Failed              int64            `json:"failed"`
	Rejected            int64            `json:"rejected"`
	ByClass             map[string]int64 `json:"byClass"`
	AvgProcessingTimeMs float64          `json:"avgProcessingTimeMs"`
	StartedAt           time.Time        `json:"startedAt"`
}

// SupportedFormats describes accepted uploads.
type SupportedFormats struct {
	MIMETypes     []string `json:"mimeTypes"`
	MaxFileSize   int64    `json:"maxFileSize"`
	MaxBatchFiles int      `json:"maxBatchFiles"`
}

// ClassificationService validates uploads and forwards them to the classifier.
// Every file handed to it is removed from disk exactly once, whatever the outcome.
type ClassificationService interface {
	Classify(ctx context.Context, file *upload.File, metadata map[string]string) (*models.PredictionResult, error)
	// ClassifyBatch classifies files concurrently and returns one result per
	// file in input order. Individual failures do not fail the batch.
	ClassifyBatch(ctx context.Context, files []*upload.File) ([]BatchItemResult, error)
	ClassifyWithRecommendations(ctx context.Context, file *upload.File, sessionID, context string) (*ClassifyWithRecommendationsResult, error)
	Health(ctx context.Context) ClassifierHealth
	Stats() ClassificationStats
	SupportedFormats() SupportedFormats
}

type classificationService struct {
	classifier      Classifier
	validator       *upload.Validator
	files           FileRemover
	pool            *workerpool.WorkerPool
	recommendations RecommendationService
	maxBatchFiles   int
	logger          *zap.Logger

	mu    sync.Mutex
	stats ClassificationStats
	// totalMs sums processing time over successful calls.
	totalMs int64
}

// NewClassificationService creates the service. recommendations may be nil,
// in which case ClassifyWithRecommendations reports generation as unavailable.
func NewClassificationService(
	classifier Classifier,
	validator *upload.Validator,
	files FileRemover,
	pool *workerpool.WorkerPool,
	recommendations RecommendationService,
	maxBatchFiles int,
	logger *zap.Logger,
) ClassificationService {
	if maxBatchFiles <= 0 {
		maxBatchFiles = 10
	}
	return &classificationService{
		classifier:      classifier,
		validator:       validator,
		files:           files,
		pool:            pool,
		recommendations: recommendations,
		maxBatchFiles:   maxBatchFiles,
		logger:          logger.Named("classification-service"),
		stats: ClassificationStats{
			ByClass:   make(map[string]int64),
			StartedAt: time.Now().UTC(),
		},
	}
}

func (s *classificationService) Classify(ctx context.Context, file *upload.File, metadata map[string]string) (*models.PredictionResult, error) {
	defer s.files.Remove(file)

	if err := s.validator.Validate(file); err != nil {
		s.record(nil, err, true)
		return nil, err
	}

	start := time.Now()
	prediction, err := s.classifier.Classify(ctx, file, metadata)
	if err != nil {
		s.logger.Warn("Classification failed",
			zap.String("filename", file.Filename),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("error", logging.SanitizeError(err)))
		s.record(nil, err, false)
		return nil, err
	}

	s.record(prediction, nil, false)
	s.logger.Info("Image classified",
		zap.String("filename", file.Filename),
		zap.String("predicted_class", prediction.PredictedClass),
		zap.Float64("confidence", prediction.Confidence),
		zap.Int64("processing_time_ms", prediction.ProcessingTimeMs))
	return prediction, nil
}

func (s *classificationService) ClassifyBatch(ctx context.Context, files []*upload.File) ([]BatchItemResult, error) {
	if len(files) == 0 {
		return nil, apperrors.ErrNoFile
	}
	if len(files) > s.maxBatchFiles {
		for _, f := range files {
			s.files.Remove(f)
		}
		return nil, apperrors.ErrTooManyFiles
	}

	started := make([]bool, len(files))
	items := make([]workerpool.WorkItem[*models.PredictionResult], len(files))
	for i, f := range files {
		items[i] = workerpool.WorkItem[*models.PredictionResult]{
			ID: f.Filename,
			Execute: func(ctx context.Context) (*models.PredictionResult, error) {
				started[i] = true
				return s.Classify(ctx, f, nil)
			},
		}
	}

	outcomes := workerpool.Process(ctx, s.pool, items, nil)

	results := make([]BatchItemResult, len(files))
	for i, out := range outcomes {
		// Items cancelled while waiting for a slot never reached Classify.
		if !started[i] {
			s.files.Remove(files[i])
		}

		results[i] = BatchItemResult{Filename: files[i].Filename}
		if out.Err != nil {
			results[i].Error, results[i].Message = apperrors.Describe(out.Err)
			continue
		}
		results[i].Success = true
		results[i].Prediction = out.Result
	}
	return results, nil
}

func (s *classificationService) ClassifyWithRecommendations(ctx context.Context, file *upload.File, sessionID, userContext string) (*ClassifyWithRecommendationsResult, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	prediction, err := s.Classify(ctx, file, map[string]string{"sessionId": sessionID})
	if err != nil {
		return nil, err
	}

	result := &ClassifyWithRecommendationsResult{Prediction: prediction}
	if s.recommendations == nil {
		result.Recommendation = &GenerateResult{Success: false, Message: "Recommendations are not available"}
		return result, nil
	}

	gen, err := s.recommendations.Generate(ctx, GenerateInput{
		Classification: prediction.PredictedClass,
		Confidence:     prediction.Confidence,
		SessionID:      sessionID,
		Context:        userContext,
	})
	if err != nil {
		_, msg := apperrors.Describe(err)
		gen = &GenerateResult{Success: false, Message: msg}
	}
	result.Recommendation = gen
	return result, nil
}

func (s *classificationService) Health(ctx context.Context) ClassifierHealth {
	if err := s.classifier.Health(ctx); err != nil {
		_, msg := apperrors.Describe(err)
		return ClassifierHealth{Healthy: false, Error: msg}
	}

	health := ClassifierHealth{Healthy: true}
	info, err := s.classifier.ModelInfo(ctx)
	if err != nil {
		s.logger.Debug("Model info unavailable", zap.Error(err))
	} else {
		health.ModelInfo = info
	}
	return health
}

func (s *classificationService) record(prediction *models.PredictionResult, err error, rejected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.TotalRequests++
	switch {
	case rejected:
		s.stats.Rejected++
	case err != nil:
		s.stats.Failed++
	default:
		s.stats.Successful++
		s.stats.ByClass[prediction.PredictedClass]++
		s.totalMs += prediction.ProcessingTimeMs
	}
}

func (s *classificationService) Stats() ClassificationStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.stats
	out.ByClass = make(map[string]int64, len(s.stats.ByClass))
	for k, v := range s.stats.ByClass {
		out.ByClass[k] = v
	}
	if s.stats.Successful > 0 {
		out.AvgProcessingTimeMs = float64(s.totalMs) / float64(s.stats.Successful)
	}
	return out
}

func (s *classificationService) SupportedFormats() SupportedFormats {
	types := s.validator.AllowedTypes()
	sort.Strings(types)
	return SupportedFormats{
		MIMETypes:     types,
		MaxFileSize:   s.validator.MaxSize(),
		MaxBatchFiles: s.maxBatchFiles,
	}
}

// Ensure classificationService implements ClassificationService at compile time.
var _ ClassificationService = (*classificationService)(nil)
