package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/timmy/recap/internal/domain"
	"github.com/timmy/recap/internal/logger"
	"github.com/timmy/recap/internal/repository"
)

const defaultSearchLimit = 20

// ErrEmptyQuery is returned when a search query is blank.
var ErrEmptyQuery = errors.New("search query is empty")

// SearchResult is one knowledge record shaped for API consumers, with the
// stored analysis blob decoded when possible.
type SearchResult struct {
	Fingerprint     string    `json:"fingerprint"`
	ContentType     string    `json:"content_type"`
	Title           string    `json:"title"`
	Channel         string    `json:"channel,omitempty"`
	SourceURL       string    `json:"source_url,omitempty"`
	CaptureURL      string    `json:"capture_url,omitempty"`
	Summary         string    `json:"summary"`
	KeyInsights     []string  `json:"key_insights"`
	Topics          []string  `json:"topics"`
	PeopleMentioned []string  `json:"people_mentioned"`
	QualityFlags    []string  `json:"quality_flags,omitempty"`
	Confidence      float64   `json:"confidence"`
	ProcessedAt     time.Time `json:"processed_at"`
}

// Stats summarizes the knowledge store for the dashboard.
type Stats struct {
	TotalRecords           int64                         `json:"total_records"`
	VideoRecords           int64                         `json:"video_records"`
	VisualRecords          int64                         `json:"visual_records"`
	ProcessedThisWeek      int64                         `json:"processed_this_week"`
	AvgConfidence          float64                       `json:"avg_confidence"`
	TotalCost              float64                       `json:"total_cost"`
	ConfidenceDistribution []repository.ConfidenceBucket `json:"confidence_distribution"`
	Recent                 []SearchResult                `json:"recent"`
}

// KnowledgeService serves queries over processed records.
type KnowledgeService struct {
	repo *repository.ContentRepository
}

// NewKnowledgeService creates a knowledge service over the content repository.
func NewKnowledgeService(repo *repository.ContentRepository) *KnowledgeService {
	return &KnowledgeService{repo: repo}
}

// Search runs a substring search over persisted records.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - query: search term, must be non-empty after trimming.
//   - limit: maximum results; 0 or negative uses the default.
// Returns:
//   - []SearchResult: matching records, newest first.
//   - error: non-nil if the query is empty or the store fails.
func (s *KnowledgeService) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	recs, err := s.repo.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(recs))
	for _, rec := range recs {
		results = append(results, toSearchResult(rec))
	}
	logger.CtxDebug(ctx, "search %q matched %d records", query, len(results))
	return results, nil
}

// Stats aggregates knowledge store metrics.
func (s *KnowledgeService) Stats(ctx context.Context) (*Stats, error) {
	total, err := s.repo.CountByType(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to count records: %w", err)
	}
	videos, err := s.repo.CountByType(ctx, domain.ContentTypeVideo)
	if err != nil {
		return nil, fmt.Errorf("failed to count video records: %w", err)
	}
	visuals, err := s.repo.CountByType(ctx, domain.ContentTypeVisual)
	if err != nil {
		return nil, fmt.Errorf("failed to count visual records: %w", err)
	}
	thisWeek, err := s.repo.CountSince(ctx, time.Now().AddDate(0, 0, -7))
	if err != nil {
		return nil, fmt.Errorf("failed to count recent records: %w", err)
	}
	avgConfidence, totalCost, err := s.repo.Aggregates(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate records: %w", err)
	}
	distribution, err := s.repo.ConfidenceDistribution(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to bucket confidence: %w", err)
	}
	recentRecs, err := s.repo.Recent(ctx, 10)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent records: %w", err)
	}

	recent := make([]SearchResult, 0, len(recentRecs))
	for _, rec := range recentRecs {
		recent = append(recent, toSearchResult(rec))
	}

	return &Stats{
		TotalRecords:           total,
		VideoRecords:           videos,
		VisualRecords:          visuals,
		ProcessedThisWeek:      thisWeek,
		AvgConfidence:          avgConfidence,
		TotalCost:              totalCost,
		ConfidenceDistribution: distribution,
		Recent:                 recent,
	}, nil
}

// toSearchResult decodes the stored analysis blob. Records written by a
// degraded pipeline store plain sentinel text instead of JSON; those surface
// the raw text as the summary.
func toSearchResult(rec domain.ContentRecord) SearchResult {
	result := SearchResult{
		Fingerprint:     rec.Fingerprint,
		ContentType:     rec.ContentType,
		Title:           rec.Title,
		Channel:         rec.Channel,
		SourceURL:       rec.SourceURL,
		CaptureURL:      rec.CaptureURL,
		KeyInsights:     rec.KeyInsights,
		Topics:          rec.Topics,
		PeopleMentioned: rec.PeopleMentioned,
		QualityFlags:    rec.QualityFlags,
		Confidence:      rec.Confidence,
		ProcessedAt:     rec.ProcessedAt,
	}

	var analysis Analysis
	if err := json.Unmarshal([]byte(rec.StructuredAnalysis), &analysis); err == nil && analysis.Summary != "" {
		result.Summary = analysis.Summary
	} else {
		result.Summary = rec.StructuredAnalysis
	}
	return result
}
