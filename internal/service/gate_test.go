package service

import (
	"strings"
	"testing"

	"github.com/timmy/recap/internal/config"
	"github.com/timmy/recap/internal/domain"
)

func testGateConfig() config.GateConfig {
	return config.GateConfig{
		MinAnalysisLength:    50,
		MinRawMaterialLength: 200,
		SentinelPrefixes:     []string{"Analysis unavailable", "Failed to generate"},
		RawMaterialTypes:     []string{domain.ContentTypeVideo},
	}
}

func TestCacheGateEvaluate(t *testing.T) {
	goodAnalysis := strings.Repeat("insightful analysis ", 10)
	longTranscript := strings.Repeat("transcript words ", 30)

	tests := []struct {
		name  string
		rec   *domain.ContentRecord
		force bool
		want  bool
	}{
		{
			name: "no record",
			rec:  nil,
			want: false,
		},
		{
			name: "force bypasses a complete record",
			rec: &domain.ContentRecord{
				ContentType:        domain.ContentTypeVisual,
				StructuredAnalysis: goodAnalysis,
			},
			force: true,
			want:  false,
		},
		{
			name: "short analysis",
			rec: &domain.ContentRecord{
				ContentType:        domain.ContentTypeVisual,
				StructuredAnalysis: "too short",
			},
			want: false,
		},
		{
			name: "sentinel analysis",
			rec: &domain.ContentRecord{
				ContentType:        domain.ContentTypeVisual,
				StructuredAnalysis: "Analysis unavailable for this capture " + strings.Repeat("x", 60),
			},
			want: false,
		},
		{
			name: "complete visual record",
			rec: &domain.ContentRecord{
				ContentType:        domain.ContentTypeVisual,
				StructuredAnalysis: goodAnalysis,
			},
			want: true,
		},
		{
			name: "video without raw material",
			rec: &domain.ContentRecord{
				ContentType:        domain.ContentTypeVideo,
				StructuredAnalysis: goodAnalysis,
				RawMaterial:        "short",
			},
			want: false,
		},
		{
			name: "video with transcript",
			rec: &domain.ContentRecord{
				ContentType:        domain.ContentTypeVideo,
				StructuredAnalysis: goodAnalysis,
				RawMaterial:        longTranscript,
			},
			want: true,
		},
		{
			name: "visual record ignores raw material requirement",
			rec: &domain.ContentRecord{
				ContentType:        domain.ContentTypeVisual,
				StructuredAnalysis: goodAnalysis,
				RawMaterial:        "",
			},
			want: true,
		},
	}

	gate := NewCacheGate(testGateConfig())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := gate.Evaluate(tt.rec, tt.force); got != tt.want {
				t.Errorf("Evaluate() = %v, want %v", got, tt.want)
			}
		})
	}
}
