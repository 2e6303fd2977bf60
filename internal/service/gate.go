package service

import (
	"strings"

	"github.com/timmy/recap/internal/config"
	"github.com/timmy/recap/internal/domain"
)

// CacheGate decides whether an existing record is complete enough to serve
// from cache, or stale enough that the capture must be reprocessed.
type CacheGate struct {
	cfg config.GateConfig
}

// NewCacheGate creates a gate from configuration.
func NewCacheGate(cfg config.GateConfig) *CacheGate {
	return &CacheGate{cfg: cfg}
}

// Evaluate reports whether rec can be served without reprocessing.
// A nil record, a forced refresh, a short or sentinel analysis, or missing
// raw material on content types that require it all force a reprocess.
func (g *CacheGate) Evaluate(rec *domain.ContentRecord, force bool) bool {
	if rec == nil || force {
		return false
	}

	analysis := strings.TrimSpace(rec.StructuredAnalysis)
	if len(analysis) <= g.cfg.MinAnalysisLength {
		return false
	}
	for _, prefix := range g.cfg.SentinelPrefixes {
		if strings.HasPrefix(analysis, prefix) {
			return false
		}
	}

	if g.requiresRawMaterial(rec.ContentType) &&
		len(strings.TrimSpace(rec.RawMaterial)) <= g.cfg.MinRawMaterialLength {
		return false
	}

	return true
}

func (g *CacheGate) requiresRawMaterial(contentType string) bool {
	for _, t := range g.cfg.RawMaterialTypes {
		if t == contentType {
			return true
		}
	}
	return false
}
