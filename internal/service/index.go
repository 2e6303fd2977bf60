package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/timmy/recap/internal/config"
)

// IndexEntry is one candidate returned by the content index for a query.
type IndexEntry struct {
	ExternalID string `json:"id"`
	Title      string `json:"title"`
	Channel    string `json:"channel"`
	URL        string `json:"url"`
}

// IndexClient queries an external content index for candidate matches and
// fetches transcripts for resolved content.
type IndexClient struct {
	client     *resty.Client
	cfg        config.IndexConfig
	maxResults int
}

// NewIndexClient creates an index client from configuration.
func NewIndexClient(cfg config.IndexConfig) *IndexClient {
	client := resty.New().
		SetTimeout(cfg.Timeout)
	if cfg.APIKey != "" {
		client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	}

	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = 10
	}

	return &IndexClient{
		client:     client,
		cfg:        cfg,
		maxResults: maxResults,
	}
}

type indexSearchResponse struct {
	Results []IndexEntry `json:"results"`
	Error   string       `json:"error"`
}

// Search queries the index and returns up to limit candidates.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - query: free-form search query, may contain quoted phrases.
//   - limit: maximum candidates to return; 0 uses the configured maximum.
// Returns:
//   - []IndexEntry: candidate entries, best-ranked first.
//   - error: non-nil if the request fails.
func (c *IndexClient) Search(ctx context.Context, query string, limit int) ([]IndexEntry, error) {
	if limit <= 0 || limit > c.maxResults {
		limit = c.maxResults
	}

	var result indexSearchResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"q":     query,
			"limit": strconv.Itoa(limit),
		}).
		SetResult(&result).
		Get(strings.TrimSuffix(c.cfg.BaseURL, "/") + "/search")
	if err != nil {
		return nil, fmt.Errorf("index search request failed: %w", err)
	}
	if resp.IsError() {
		if result.Error != "" {
			return nil, fmt.Errorf("index search error (%d): %s", resp.StatusCode(), result.Error)
		}
		return nil, fmt.Errorf("index search error (%d)", resp.StatusCode())
	}

	return result.Results, nil
}

type transcriptResponse struct {
	Segments []struct {
		Text string `json:"text"`
	} `json:"segments"`
	Error string `json:"error"`
}

// Transcript fetches the full transcript for an indexed content ID.
// Returns an empty string without error when no transcript exists.
func (c *IndexClient) Transcript(ctx context.Context, externalID string) (string, error) {
	var result transcriptResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("id", externalID).
		SetResult(&result).
		Get(c.cfg.TranscriptURL)
	if err != nil {
		return "", fmt.Errorf("transcript request failed: %w", err)
	}
	if resp.StatusCode() == 404 {
		return "", nil
	}
	if resp.IsError() {
		if result.Error != "" {
			return "", fmt.Errorf("transcript error (%d): %s", resp.StatusCode(), result.Error)
		}
		return "", fmt.Errorf("transcript error (%d)", resp.StatusCode())
	}

	parts := make([]string, 0, len(result.Segments))
	for _, seg := range result.Segments {
		if t := strings.TrimSpace(seg.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " "), nil
}
