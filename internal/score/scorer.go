// Package score qualifies leads with the scoring model: website content in,
// a 0-100 score plus analyst notes out.
package score

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadflow/internal/metrics"
	"github.com/sells-group/leadflow/internal/model"
	"github.com/sells-group/leadflow/pkg/anthropic"
)

// maxContentChars is the truncation limit for scraped content sent to the
// model, roughly 8K tokens.
const maxContentChars = 32000

// systemPrompt is the qualification rubric. It is identical for every lead,
// so it is sent as a cached system block.
const systemPrompt = `You are a lead qualification analyst. Score this business as a sales prospect on a scale of 0 to 100 based on:
- Legitimacy: Is this a real operating business with identifiable services?
- Revenue potential: Does this appear to be an established business with meaningful revenue?
- Service fit: Would this business plausibly buy professional B2B services?
- Reachability: Are there usable contact signals (phone, website, address)?

Respond with ONLY valid JSON, no other text:
{"score": 0, "notes": "brief justification"}`

type scoreResponse struct {
	Score int    `json:"score"`
	Notes string `json:"notes"`
}

// Scorer calls the model and parses its verdict.
type Scorer struct {
	ai        anthropic.Client
	model     string
	maxTokens int64
}

// NewScorer creates a Scorer.
func NewScorer(ai anthropic.Client, modelID string, maxTokens int64) *Scorer {
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &Scorer{ai: ai, model: modelID, maxTokens: maxTokens}
}

// ScoreLead qualifies one lead. The result is clamped to [0, 100].
func (s *Scorer) ScoreLead(ctx context.Context, lead *model.Lead) (int, string, error) {
	resp, err := s.ai.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     s.model,
		MaxTokens: s.maxTokens,
		System:    anthropic.BuildCachedSystemBlocks(systemPrompt),
		Messages: []anthropic.Message{
			{Role: "user", Content: buildUserMessage(lead)},
		},
	})
	if err != nil {
		return 0, "", err
	}
	resp.Usage.LogCost(s.model, "score")
	metrics.ScoreTokens.WithLabelValues("input").Add(float64(resp.Usage.InputTokens))
	metrics.ScoreTokens.WithLabelValues("output").Add(float64(resp.Usage.OutputTokens))

	text := resp.Text()
	if text == "" {
		return 0, "", eris.New("score: empty model response")
	}

	// The model occasionally wraps the JSON in prose despite the prompt.
	jsonStart := strings.Index(text, "{")
	jsonEnd := strings.LastIndex(text, "}")
	if jsonStart < 0 || jsonEnd <= jsonStart {
		return 0, "", eris.Errorf("score: no JSON in response: %s", text)
	}

	var result scoreResponse
	if err := json.Unmarshal([]byte(text[jsonStart:jsonEnd+1]), &result); err != nil {
		return 0, "", eris.Wrap(err, "score: parse response JSON")
	}

	if result.Score < 0 {
		result.Score = 0
	}
	if result.Score > 100 {
		result.Score = 100
	}

	return result.Score, result.Notes, nil
}

// buildUserMessage assembles the lead facts and scraped content into the
// scoring request.
func buildUserMessage(lead *model.Lead) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Business name: %s\n", lead.Name)
	if lead.Phone != "" {
		fmt.Fprintf(&b, "Phone: %s\n", lead.Phone)
	}
	if lead.Website != "" {
		fmt.Fprintf(&b, "Website: %s\n", lead.Website)
	}
	if lead.City != "" || lead.State != "" {
		fmt.Fprintf(&b, "Location: %s, %s\n", lead.City, lead.State)
	}
	if lead.Rating > 0 {
		fmt.Fprintf(&b, "Google rating: %.1f\n", lead.Rating)
	}

	if lead.ScrapedContent != nil && *lead.ScrapedContent != "" {
		content := *lead.ScrapedContent
		if len(content) > maxContentChars {
			content = content[:maxContentChars]
		}
		fmt.Fprintf(&b, "\nWebsite content:\n%s", content)
	} else {
		b.WriteString("\nNo website content available; score from the business facts above.")
	}

	return b.String()
}
