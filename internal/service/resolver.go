package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/timmy/recap/internal/config"
	"github.com/timmy/recap/internal/logger"
)

// SearchIndex is the slice of the content index the resolver needs.
type SearchIndex interface {
	Search(ctx context.Context, query string, limit int) ([]IndexEntry, error)
}

// Match is a resolved content identity with its combined similarity score.
type Match struct {
	ExternalID string
	Title      string
	Channel    string
	URL        string
	Score      float64
}

// Resolver maps noisy on-screen metadata (a truncated title, a partial
// channel name) to a canonical entry in the content index. It walks a ladder
// of query variants from most to least specific and scores every candidate
// with a weighted edit similarity, stopping early once a candidate clears the
// high-confidence threshold.
type Resolver struct {
	index SearchIndex
	cfg   config.ResolverConfig
}

// NewResolver creates a resolver over the given index.
func NewResolver(index SearchIndex, cfg config.ResolverConfig) *Resolver {
	return &Resolver{
		index: index,
		cfg:   cfg,
	}
}

var punctuationRe = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
var whitespaceRe = regexp.MustCompile(`\s+`)

// normalizeText lowercases, strips punctuation, and collapses whitespace so
// cosmetic differences between on-screen text and index metadata don't count
// against the similarity score.
func normalizeText(s string) string {
	s = strings.ToLower(s)
	s = punctuationRe.ReplaceAllString(s, " ")
	s = whitespaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Resolve finds the best index entry for the observed title and channel.
// Returns nil when no candidate clears the acceptance threshold. Individual
// query failures are logged and skipped; the ladder keeps going.
func (r *Resolver) Resolve(ctx context.Context, title, channel string) *Match {
	ctx = logger.SetComponent(ctx, "resolver")

	normTitle := normalizeText(title)
	normChannel := normalizeText(channel)

	variants := r.buildQueryVariants(title, channel, normTitle)
	if len(variants) == 0 {
		return nil
	}

	var best *Match
	for _, query := range variants {
		entries, err := r.index.Search(ctx, query, 0)
		if err != nil {
			logger.CtxWarn(ctx, "index query %q failed: %v", query, err)
			continue
		}

		for _, entry := range entries {
			score := r.scoreCandidate(normTitle, normChannel, entry)
			if best == nil || score > best.Score {
				best = &Match{
					ExternalID: entry.ExternalID,
					Title:      entry.Title,
					Channel:    entry.Channel,
					URL:        entry.URL,
					Score:      score,
				}
			}
		}

		if best != nil && best.Score >= r.cfg.HighConfidenceThreshold {
			logger.CtxDebug(ctx, "high-confidence match %q (score %.2f) on query %q",
				best.Title, best.Score, query)
			break
		}
	}

	if best == nil || best.Score < r.cfg.MinAcceptThreshold {
		return nil
	}
	return best
}

// buildQueryVariants returns the query ladder, most specific first. A junk
// title (too short, or a known UI artifact) drops the title-based rungs and
// falls back to the configured anchor queries.
func (r *Resolver) buildQueryVariants(title, channel, normTitle string) []string {
	title = strings.TrimSpace(title)
	channel = strings.TrimSpace(channel)

	if r.isJunkTitle(normTitle) {
		var variants []string
		for _, q := range r.cfg.FallbackQueries {
			if channel != "" {
				variants = append(variants, fmt.Sprintf("%s %s", q, channel))
			}
			variants = append(variants, q)
		}
		if channel != "" {
			variants = append(variants, fmt.Sprintf("%q", channel))
		}
		return variants
	}

	var variants []string
	if channel != "" {
		variants = append(variants,
			fmt.Sprintf("%q %s", title, channel),
			fmt.Sprintf("%s %s", title, channel),
		)
	}
	variants = append(variants,
		fmt.Sprintf("%q", title),
		title,
	)
	if channel != "" {
		variants = append(variants, fmt.Sprintf("%q", channel))
	}
	return variants
}

func (r *Resolver) isJunkTitle(normTitle string) bool {
	if len(normTitle) < r.cfg.MinTitleLength {
		return true
	}
	for _, junk := range r.cfg.JunkTitles {
		if normTitle == normalizeText(junk) {
			return true
		}
	}
	return false
}

// scoreCandidate combines title and channel edit similarity with anchor
// keyword bonuses, clamped to [0, 1]. Title similarity dominates; the channel
// is a weaker signal since many channels publish similar titles.
func (r *Resolver) scoreCandidate(normTitle, normChannel string, entry IndexEntry) float64 {
	candTitle := normalizeText(entry.Title)
	candChannel := normalizeText(entry.Channel)

	score := r.cfg.TitleWeight * editSimilarity(normTitle, candTitle)
	if normChannel != "" {
		score += r.cfg.ChannelWeight * editSimilarity(normChannel, candChannel)
	}

	for anchor, bonus := range r.cfg.AnchorBonuses {
		anchor = normalizeText(anchor)
		if anchor == "" {
			continue
		}
		if strings.Contains(candTitle, anchor) || strings.Contains(candChannel, anchor) {
			score += bonus
		}
	}

	if score > 1.0 {
		score = 1.0
	}
	if score < 0 {
		score = 0
	}
	return score
}
