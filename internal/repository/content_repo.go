package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/timmy/recap/internal/domain"
	"gorm.io/gorm"
)

// ContentRepository handles persisted knowledge records, keyed by fingerprint.
type ContentRepository struct {
	db *gorm.DB
}

// NewContentRepository creates a new ContentRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *ContentRepository: repository instance bound to db.
func NewContentRepository(db *gorm.DB) *ContentRepository {
	return &ContentRepository{db: db}
}

// GetByFingerprint retrieves the record for a fingerprint.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - fingerprint: unique content key (capture filename).
// Returns:
//   - *domain.ContentRecord: record if found, nil when no record exists.
//   - error: non-nil if the lookup fails.
func (r *ContentRepository) GetByFingerprint(ctx context.Context, fingerprint string) (*domain.ContentRecord, error) {
	var rec domain.ContentRecord
	if err := r.db.WithContext(ctx).First(&rec, "fingerprint = ?", fingerprint).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// DeleteByFingerprint removes the record for a fingerprint.
// Deleting a fingerprint with no record is not an error.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - fingerprint: unique content key to delete.
// Returns:
//   - error: non-nil if the delete fails.
func (r *ContentRepository) DeleteByFingerprint(ctx context.Context, fingerprint string) error {
	return r.db.WithContext(ctx).Delete(&domain.ContentRecord{}, "fingerprint = ?", fingerprint).Error
}

// Insert persists a new record. The fingerprint must not already exist;
// callers replace stale records with DeleteByFingerprint followed by Insert.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - rec: record to persist.
// Returns:
//   - error: non-nil if the insert fails.
func (r *ContentRepository) Insert(ctx context.Context, rec *domain.ContentRecord) error {
	return r.db.WithContext(ctx).Create(rec).Error
}

// Search performs a multi-column substring search over persisted records.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - query: search term.
//   - limit: maximum number of records to return.
// Returns:
//   - []domain.ContentRecord: matching records, newest first.
//   - error: non-nil if the query fails.
func (r *ContentRepository) Search(ctx context.Context, query string, limit int) ([]domain.ContentRecord, error) {
	pattern := "%" + query + "%"
	var recs []domain.ContentRecord
	if err := r.db.WithContext(ctx).
		Where(
			"title LIKE ? OR channel LIKE ? OR structured_analysis LIKE ? OR key_insights LIKE ? OR topics LIKE ? OR people_mentioned LIKE ? OR raw_material LIKE ?",
			pattern, pattern, pattern, pattern, pattern, pattern, pattern,
		).
		Order("processed_at DESC").
		Limit(limit).
		Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("search query failed: %w", err)
	}
	return recs, nil
}

// CountByType counts records for a content type; an empty type counts all records.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - contentType: content type to filter by, or "" for all.
// Returns:
//   - int64: number of matching records.
//   - error: non-nil if the query fails.
func (r *ContentRepository) CountByType(ctx context.Context, contentType string) (int64, error) {
	var count int64
	q := r.db.WithContext(ctx).Model(&domain.ContentRecord{})
	if contentType != "" {
		q = q.Where("content_type = ?", contentType)
	}
	if err := q.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// CountSince counts records processed after the given time.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - since: lower bound on processed_at.
// Returns:
//   - int64: number of matching records.
//   - error: non-nil if the query fails.
func (r *ContentRepository) CountSince(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.ContentRecord{}).
		Where("processed_at > ?", since).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// Aggregates returns the average confidence and total processing cost across
// all records.
// Parameters:
//   - ctx: context for cancellation and deadlines.
// Returns:
//   - float64: average confidence (0 when the store is empty).
//   - float64: total cost.
//   - error: non-nil if the query fails.
func (r *ContentRepository) Aggregates(ctx context.Context) (float64, float64, error) {
	var row struct {
		AvgConfidence float64
		TotalCost     float64
	}
	if err := r.db.WithContext(ctx).Model(&domain.ContentRecord{}).
		Select("COALESCE(AVG(confidence), 0) AS avg_confidence, COALESCE(SUM(cost), 0) AS total_cost").
		Scan(&row).Error; err != nil {
		return 0, 0, err
	}
	return row.AvgConfidence, row.TotalCost, nil
}

// ConfidenceBucket is one row of the confidence distribution.
type ConfidenceBucket struct {
	Level string `json:"level"`
	Count int64  `json:"count"`
}

// ConfidenceDistribution buckets records by confidence score.
// Parameters:
//   - ctx: context for cancellation and deadlines.
// Returns:
//   - []ConfidenceBucket: bucket counts, highest confidence first.
//   - error: non-nil if the query fails.
func (r *ContentRepository) ConfidenceDistribution(ctx context.Context) ([]ConfidenceBucket, error) {
	var buckets []ConfidenceBucket
	if err := r.db.WithContext(ctx).Model(&domain.ContentRecord{}).
		Select(`CASE
			WHEN confidence >= 0.9 THEN 'very_high'
			WHEN confidence >= 0.8 THEN 'high'
			WHEN confidence >= 0.7 THEN 'good'
			WHEN confidence >= 0.6 THEN 'fair'
			ELSE 'low'
		END AS level, COUNT(*) AS count`).
		Group("level").
		Order("MIN(confidence) DESC").
		Scan(&buckets).Error; err != nil {
		return nil, err
	}
	return buckets, nil
}

// Recent returns the most recently processed records.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - limit: maximum number of records to return.
// Returns:
//   - []domain.ContentRecord: records ordered newest first.
//   - error: non-nil if the query fails.
func (r *ContentRepository) Recent(ctx context.Context, limit int) ([]domain.ContentRecord, error) {
	var recs []domain.ContentRecord
	if err := r.db.WithContext(ctx).
		Order("processed_at DESC").
		Limit(limit).
		Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}
