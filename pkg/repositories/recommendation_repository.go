package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/leafcare/leafcare-engine/pkg/apperrors"
	"github.com/leafcare/leafcare-engine/pkg/database"
	"github.com/leafcare/leafcare-engine/pkg/models"
)

// ErrRecommendationNotFound is returned when no recommendation has the given id.
var ErrRecommendationNotFound = apperrors.NotFound("recommendation_not_found", "Recommendation not found")

// GroupField is a column recommendations can be grouped by.
type GroupField string

// Groupable columns.
const (
	GroupBySeverity  GroupField = "severity"
	GroupByGenerator GroupField = "generator"
)

// NumericField is a column recommendations can be averaged over.
type NumericField string

// Averageable columns.
const (
	FieldConfidence NumericField = "confidence"
	FieldUserRating NumericField = "user_rating"
)

// Column names are only ever taken from these maps, never from input.
var (
	groupColumns = map[GroupField]string{
		GroupBySeverity:  "severity",
		GroupByGenerator: "generator",
	}
	numericColumns = map[NumericField]string{
		FieldConfidence: "confidence",
		FieldUserRating: "user_rating",
	}
)

// RecommendationRepository defines data access for recommendation records.
type RecommendationRepository interface {
	Create(ctx context.Context, rec *models.Recommendation) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Recommendation, error)
	List(ctx context.Context, filter models.RecommendationFilter, limit, skip int) ([]*models.Recommendation, int64, error)
	// UpdateFeedback overwrites rating and feedback. Concurrent writers race
	// and the last one wins.
	UpdateFeedback(ctx context.Context, id uuid.UUID, rating int, feedback *string) error

	// Named aggregations used by analytics.
	CountTotal(ctx context.Context) (int64, error)
	GroupCount(ctx context.Context, field GroupField) ([]models.GroupCount, error)
	// AverageWherePresent averages field over rows where it is not NULL.
	// Returns nil when no row has a value.
	AverageWherePresent(ctx context.Context, field NumericField) (*float64, error)
	ClassificationSummary(ctx context.Context) ([]models.ClassificationStats, error)

	// Ping is a cheap reachability probe.
	Ping(ctx context.Context) error
}

type recommendationRepository struct {
	db *database.DB
}

// NewRecommendationRepository creates a new recommendation repository.
func NewRecommendationRepository(db *database.DB) RecommendationRepository {
	return &recommendationRepository{db: db}
}

const recommendationColumns = `id, session_id, classification, confidence, content, generator,
	template_version, user_rating, user_feedback, created_at, updated_at`

func (r *recommendationRepository) Create(ctx context.Context, rec *models.Recommendation) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	content, err := json.Marshal(rec.Content)
	if err != nil {
		return fmt.Errorf("failed to marshal recommendation content: %w", err)
	}

	query := `
		INSERT INTO recommendations (
			id, session_id, classification, confidence, content, severity,
			generator, template_version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err = r.db.Exec(ctx, query,
		rec.ID,
		rec.SessionID,
		rec.Classification,
		rec.Confidence,
		content,
		string(rec.Content.Severity),
		rec.Generator,
		rec.TemplateVersion,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create recommendation: %w", err)
	}
	return nil
}

func (r *recommendationRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Recommendation, error) {
	query := `SELECT ` + recommendationColumns + ` FROM recommendations WHERE id = $1`
	rec, err := scanRecommendation(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRecommendationNotFound
		}
		return nil, fmt.Errorf("failed to get recommendation: %w", err)
	}
	return rec, nil
}

func (r *recommendationRepository) List(ctx context.Context, filter models.RecommendationFilter, limit, skip int) ([]*models.Recommendation, int64, error) {
	var conds []string
	var args []any
	if filter.SessionID != "" {
		args = append(args, filter.SessionID)
		conds = append(conds, fmt.Sprintf("session_id = $%d", len(args)))
	}
	if filter.Classification != "" {
		args = append(args, filter.Classification)
		conds = append(conds, fmt.Sprintf("classification = $%d", len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM recommendations`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count recommendations: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM recommendations%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		recommendationColumns, where, len(args)+1, len(args)+2)
	args = append(args, limit, skip)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list recommendations: %w", err)
	}
	defer rows.Close()

	recs := make([]*models.Recommendation, 0, limit)
	for rows.Next() {
		rec, err := scanRecommendation(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan recommendation: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating recommendations: %w", err)
	}

	return recs, total, nil
}

func (r *recommendationRepository) UpdateFeedback(ctx context.Context, id uuid.UUID, rating int, feedback *string) error {
	query := `
		UPDATE recommendations
		SET user_rating = $1, user_feedback = $2, updated_at = $3
		WHERE id = $4`

	result, err := r.db.Exec(ctx, query, rating, feedback, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update feedback: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrRecommendationNotFound
	}
	return nil
}

func (r *recommendationRepository) CountTotal(ctx context.Context) (int64, error) {
	var total int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM recommendations`).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to count recommendations: %w", err)
	}
	return total, nil
}

func (r *recommendationRepository) GroupCount(ctx context.Context, field GroupField) ([]models.GroupCount, error) {
	column, ok := groupColumns[field]
	if !ok {
		return nil, fmt.Errorf("unsupported group field %q", field)
	}

	query := fmt.Sprintf(`
		SELECT %[1]s, COUNT(*)
		FROM recommendations
		GROUP BY %[1]s
		ORDER BY COUNT(*) DESC, %[1]s`, column)

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to group recommendations by %s: %w", column, err)
	}
	defer rows.Close()

	groups := make([]models.GroupCount, 0)
	for rows.Next() {
		var g models.GroupCount
		if err := rows.Scan(&g.Value, &g.Count); err != nil {
			return nil, fmt.Errorf("failed to scan group count: %w", err)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating group counts: %w", err)
	}
	return groups, nil
}

func (r *recommendationRepository) AverageWherePresent(ctx context.Context, field NumericField) (*float64, error) {
	column, ok := numericColumns[field]
	if !ok {
		return nil, fmt.Errorf("unsupported numeric field %q", field)
	}

	// AVG skips NULLs and yields NULL over an empty set.
	query := fmt.Sprintf(`SELECT AVG(%s)::DOUBLE PRECISION FROM recommendations WHERE %s IS NOT NULL`, column, column)

	var avg *float64
	if err := r.db.QueryRow(ctx, query).Scan(&avg); err != nil {
		return nil, fmt.Errorf("failed to average %s: %w", column, err)
	}
	return avg, nil
}

func (r *recommendationRepository) ClassificationSummary(ctx context.Context) ([]models.ClassificationStats, error) {
	query := `
		SELECT classification,
		       COUNT(*),
		       AVG(confidence)::DOUBLE PRECISION,
		       AVG(user_rating)::DOUBLE PRECISION
		FROM recommendations
		GROUP BY classification
		ORDER BY COUNT(*) DESC, classification`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize classifications: %w", err)
	}
	defer rows.Close()

	stats := make([]models.ClassificationStats, 0)
	for rows.Next() {
		var s models.ClassificationStats
		if err := rows.Scan(&s.Classification, &s.Count, &s.AvgConfidence, &s.AvgRating); err != nil {
			return nil, fmt.Errorf("failed to scan classification summary: %w", err)
		}
		stats = append(stats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating classification summary: %w", err)
	}
	return stats, nil
}

func (r *recommendationRepository) Ping(ctx context.Context) error {
	var one int
	if err := r.db.QueryRow(ctx, `SELECT 1 FROM recommendations LIMIT 1`).Scan(&one); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("recommendation store unreachable: %w", err)
	}
	return nil
}

func scanRecommendation(row pgx.Row) (*models.Recommendation, error) {
	var rec models.Recommendation
	var content []byte
	var rating *int16
	err := row.Scan(
		&rec.ID,
		&rec.SessionID,
		&rec.Classification,
		&rec.Confidence,
		&content,
		&rec.Generator,
		&rec.TemplateVersion,
		&rating,
		&rec.UserFeedback,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(content, &rec.Content); err != nil {
		return nil, fmt.Errorf("failed to unmarshal recommendation content: %w", err)
	}
	if rating != nil {
		v := int(*rating)
		rec.UserRating = &v
	}
	return &rec, nil
}

// Ensure recommendationRepository implements RecommendationRepository at compile time.
var _ RecommendationRepository = (*recommendationRepository)(nil)
