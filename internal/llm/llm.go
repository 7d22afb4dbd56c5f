package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"reportflow/internal/analysis"
)

// Client wraps the Anthropic API as a scoring gateway.
type Client struct {
	api   *anthropic.Client
	model anthropic.Model
}

// NewClient creates an LLM client with the given API key and model.
func NewClient(apiKey, model string) *Client {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := anthropic.NewClient(opts...)
	return &Client{
		api:   &client,
		model: anthropic.Model(model),
	}
}

// buildScoringPrompt constructs the system and user prompts for report scoring.
func buildScoringPrompt(req analysis.ScoringRequest) (system string, user string) {
	system = `You review weekly work reports for completeness and quality. Return ONLY a JSON object with these fields:
- "overallScore": number from 0 to 100 rating the report overall
- "isPass": boolean, true when the report meets the quality bar (score 60 or above, no critical gaps)
- "riskLevel": one of "LOW", "MEDIUM", "HIGH" rating how risky it would be to accept this report as-is
- "suggestions": array of short, actionable suggestion strings
- "improvementAreas": array of strings naming weak areas
- "positiveAspects": array of strings naming strong areas
- "riskAssessment": 1-2 sentence explanation of the risk level
- "detailedFeedback": object mapping category names ("completeness", "clarity", "progress", "planning") to {"score": number, "feedback": string}

Rules:
- Judge substance, not formatting: concrete accomplishments, blockers, and next-week plans score well
- A report that is vague, padded, or missing a plan for the next period should not pass
- Keep every score in [0,100]
- Return valid JSON only, no markdown fencing or explanation`

	var sb strings.Builder
	fmt.Fprintf(&sb, "Report period: %s\n", req.PeriodLabel)
	fmt.Fprintf(&sb, "Author: %s\n", req.OwnerID)
	fmt.Fprintf(&sb, "Prompt template: %s\n\n", req.PromptTemplateVersion)
	sb.WriteString("Review this report:\n\n")
	sb.WriteString(req.ContentSummary)
	user = sb.String()
	return
}

// Score sends the report to the LLM and returns a schema-validated result.
// Provider/transport errors come back wrapped as analysis.ErrTransport;
// malformed output comes back as *analysis.ParseError.
func (c *Client) Score(ctx context.Context, req analysis.ScoringRequest) (*analysis.ScoringResponse, error) {
	systemPrompt, userPrompt := buildScoringPrompt(req)

	model := c.model
	if req.Model != "" {
		model = anthropic.Model(req.Model)
	}

	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     model,
		MaxTokens: 2048,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		// Both wrapped: ErrTransport for the failure taxonomy, and the SDK
		// error so context.DeadlineExceeded stays reachable via errors.Is.
		return nil, fmt.Errorf("%w: anthropic API call: %w", analysis.ErrTransport, err)
	}

	// Extract text from response
	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}

	if text == "" {
		return nil, &analysis.ParseError{Reason: "no text content in API response"}
	}

	return analysis.ParseScoringResponse([]byte(stripFences(text)))
}

// stripFences removes markdown code fencing if present.
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		lines := strings.SplitN(text, "\n", 2)
		if len(lines) > 1 {
			text = lines[1]
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}
	return text
}
