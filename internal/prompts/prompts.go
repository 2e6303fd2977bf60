package prompts

// Vision prompts. All three stages instruct the model to answer with bare JSON
// so the response salvager in the vision service has a fighting chance.

// DetectSystemPrompt defines the role for content-type detection.
const DetectSystemPrompt = `You classify screenshots. Respond with valid JSON only, no prose and no code fences.`

// DetectUserPrompt asks for the content type and any visible identity metadata.
const DetectUserPrompt = `Analyze this screenshot and determine its content type. Return JSON:
{
  "type": "video" | "document" | "whiteboard" | "chart" | "other",
  "confidence": 0-1,
  "description": "brief description",
  "title": "content title if visible",
  "channel": "creator or channel name if visible"
}

For video player screenshots, extract the title and channel exactly as shown,
even if truncated. Do not include player interface text (view counts,
timestamps, button labels) in the title. For other content, identify the kind
of visual information instead.`

// ExtractSystemPrompt defines the role for text extraction from visual content.
const ExtractSystemPrompt = `You transcribe and analyze visual content. Respond with valid JSON only, no prose and no code fences.`

// ExtractUserPrompt asks for a full transcription plus first-pass analysis.
const ExtractUserPrompt = `Extract and analyze all text content from this image. Return JSON:
{
  "extracted_text": "all visible text transcribed accurately",
  "title": "inferred title or main topic",
  "key_insights": ["insight1", "insight2"],
  "topics": ["topic1", "topic2"],
  "people_mentioned": ["person1"],
  "summary": "2-3 sentence summary of the content"
}

Focus on accurate transcription, key takeaways, important data points, and
people, companies, or tools mentioned.`

// AnalyzeSystemPrompt constrains the enhanced-analysis output.
const AnalyzeSystemPrompt = `Return ONLY valid JSON matching the requested schema. Do not include prose, explanations, or code fences. If a field is absent in the source content, omit it; do not write placeholders.`

// AnalyzeTranscriptPrompt is the template for transcript analysis.
// Arguments: title, channel, transcript (pre-truncated by the caller).
const AnalyzeTranscriptPrompt = `Analyze this video transcript and create an enhanced summary.

Video: %q by %s

Transcript:
%s

Return JSON with:
- summary: 2-3 sentence overview
- key_insights: array of 3-5 main takeaways
- topics: array of relevant topics/tags
- people_mentioned: array of people/companies mentioned

Focus on actionable insights and key information.`

// AnalyzeVisualPrompt is the template for extracted visual content analysis.
// Argument: the extraction JSON (pre-truncated by the caller).
const AnalyzeVisualPrompt = `Analyze this extracted visual content and enhance the analysis.

Content: %s

Return JSON with:
- summary: 2-3 sentence enhanced summary
- key_insights: array of 3-5 main insights (enhance existing ones)
- topics: array of relevant topics/tags (enhance existing ones)
- people_mentioned: array of people/companies mentioned
- frameworks: array of frameworks or methodologies mentioned
- action_items: array of actionable takeaways

Focus on extracting maximum value and searchable insights.`
