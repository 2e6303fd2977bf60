package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/timmy/recap/internal/config"
	"github.com/timmy/recap/internal/logger"
	"github.com/timmy/recap/internal/prompts"
)

const (
	// maxTranscriptChars bounds the transcript slice sent for analysis so the
	// request stays inside the model context window.
	maxTranscriptChars = 8000

	// maxExtractionChars bounds the extraction blob sent for visual analysis.
	maxExtractionChars = 6000
)

// ContentDetection is the first-stage classification of a capture.
type ContentDetection struct {
	Type        string  `json:"type"`
	Confidence  float64 `json:"confidence"`
	Description string  `json:"description"`
	Title       string  `json:"title"`
	Channel     string  `json:"channel"`
}

// Extraction is the transcription pass over visual content.
type Extraction struct {
	ExtractedText   string   `json:"extracted_text"`
	Title           string   `json:"title"`
	KeyInsights     []string `json:"key_insights"`
	Topics          []string `json:"topics"`
	PeopleMentioned []string `json:"people_mentioned"`
	Summary         string   `json:"summary"`
}

// Analysis is the enhanced summary produced from a transcript or extraction.
// Degraded marks analyses synthesized after a parse failure; their summary
// carries a sentinel prefix so the cache gate treats the record as stale.
type Analysis struct {
	Summary         string   `json:"summary"`
	KeyInsights     []string `json:"key_insights"`
	Topics          []string `json:"topics"`
	PeopleMentioned []string `json:"people_mentioned"`
	Frameworks      []string `json:"frameworks,omitempty"`
	ActionItems     []string `json:"action_items,omitempty"`
	Degraded        bool     `json:"-"`
}

// VisionService calls an OpenAI-compatible chat completion API for the three
// vision stages: detect, extract, analyze.
type VisionService struct {
	client *resty.Client
	cfg    config.VisionConfig
}

// NewVisionService creates a vision client from configuration.
func NewVisionService(cfg config.VisionConfig) *VisionService {
	client := resty.New().
		SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Authorization", "Bearer "+cfg.APIKey).
		SetHeader("Content-Type", "application/json")

	return &VisionService{
		client: client,
		cfg:    cfg,
	}
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type textContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type imageContent struct {
	Type     string   `json:"type"`
	ImageURL imageURL `json:"image_url"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// DetectContent classifies a capture and pulls any visible title and channel.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - image: raw capture bytes.
//   - format: image format hint for the data URL ("png", "jpeg", "webp").
// Returns:
//   - *ContentDetection: parsed detection result.
//   - error: non-nil if the request fails or the response is unusable.
func (s *VisionService) DetectContent(ctx context.Context, image []byte, format string) (*ContentDetection, error) {
	content, err := s.chatWithImage(ctx, prompts.DetectSystemPrompt, prompts.DetectUserPrompt, image, format)
	if err != nil {
		return nil, fmt.Errorf("content detection failed: %w", err)
	}

	var det ContentDetection
	if err := json.Unmarshal([]byte(salvageJSON(content)), &det); err != nil {
		return nil, fmt.Errorf("content detection returned unparseable response: %w", err)
	}
	if det.Type == "" {
		det.Type = "other"
	}
	return &det, nil
}

// ExtractText transcribes and analyzes visual content in a single pass.
// A response that cannot be parsed as JSON degrades to a raw-text extraction
// instead of failing the item.
func (s *VisionService) ExtractText(ctx context.Context, image []byte, format string) (*Extraction, error) {
	content, err := s.chatWithImage(ctx, prompts.ExtractSystemPrompt, prompts.ExtractUserPrompt, image, format)
	if err != nil {
		return nil, fmt.Errorf("text extraction failed: %w", err)
	}

	var ex Extraction
	if err := json.Unmarshal([]byte(salvageJSON(content)), &ex); err != nil {
		logger.CtxWarn(ctx, "extraction response was not valid JSON, keeping raw text")
		return &Extraction{
			ExtractedText: content,
			Title:         "Untitled capture",
		}, nil
	}
	if ex.Title == "" {
		ex.Title = "Untitled capture"
	}
	return &ex, nil
}

// AnalyzeTranscript produces an enhanced analysis from a video transcript.
// Parse failures degrade to a sentinel analysis rather than an error so the
// record is still written; the cache gate will treat it as stale.
func (s *VisionService) AnalyzeTranscript(ctx context.Context, title, channel, transcript string) (*Analysis, error) {
	transcript = truncate(transcript, maxTranscriptChars)
	prompt := fmt.Sprintf(prompts.AnalyzeTranscriptPrompt, title, channel, transcript)

	content, err := s.chat(ctx, prompts.AnalyzeSystemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("transcript analysis failed: %w", err)
	}
	return parseAnalysis(ctx, content), nil
}

// AnalyzeVisual enhances a first-pass extraction of non-video content.
func (s *VisionService) AnalyzeVisual(ctx context.Context, ex *Extraction) (*Analysis, error) {
	blob, err := json.Marshal(ex)
	if err != nil {
		return nil, fmt.Errorf("failed to encode extraction: %w", err)
	}
	prompt := fmt.Sprintf(prompts.AnalyzeVisualPrompt, truncate(string(blob), maxExtractionChars))

	content, err := s.chat(ctx, prompts.AnalyzeSystemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("visual analysis failed: %w", err)
	}
	return parseAnalysis(ctx, content), nil
}

func parseAnalysis(ctx context.Context, content string) *Analysis {
	var a Analysis
	if err := json.Unmarshal([]byte(salvageJSON(content)), &a); err != nil || strings.TrimSpace(a.Summary) == "" {
		logger.CtxWarn(ctx, "analysis response was not valid JSON, writing sentinel summary")
		return &Analysis{
			Summary:  "Analysis unavailable for this capture",
			Degraded: true,
		}
	}
	return &a
}

func (s *VisionService) chat(ctx context.Context, system, user string) (string, error) {
	return s.complete(ctx, []chatMessage{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	})
}

func (s *VisionService) chatWithImage(ctx context.Context, system, user string, image []byte, format string) (string, error) {
	if format == "" {
		format = "png"
	}
	dataURL := fmt.Sprintf("data:image/%s;base64,%s", format, base64.StdEncoding.EncodeToString(image))

	return s.complete(ctx, []chatMessage{
		{Role: "system", Content: system},
		{
			Role: "user",
			Content: []interface{}{
				textContent{Type: "text", Text: user},
				imageContent{Type: "image_url", ImageURL: imageURL{URL: dataURL}},
			},
		},
	})
}

func (s *VisionService) complete(ctx context.Context, messages []chatMessage) (string, error) {
	req := chatRequest{
		Model:     s.cfg.Model,
		Messages:  messages,
		MaxTokens: 1500,
	}

	var result chatResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&result).
		Post("/chat/completions")
	if err != nil {
		return "", fmt.Errorf("vision API request failed: %w", err)
	}

	if resp.IsError() {
		if result.Error != nil {
			return "", fmt.Errorf("vision API error (%d): %s", resp.StatusCode(), result.Error.Message)
		}
		return "", fmt.Errorf("vision API error (%d): %s", resp.StatusCode(), resp.String())
	}

	if len(result.Choices) == 0 {
		return "", fmt.Errorf("vision API returned no choices")
	}
	return result.Choices[0].Message.Content, nil
}

// salvageJSON recovers a JSON object from a model response that may be
// wrapped in code fences or surrounded by prose.
func salvageJSON(content string) string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start >= 0 && end > start {
		return content[start : end+1]
	}
	return strings.TrimSpace(content)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
