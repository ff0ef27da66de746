// Package niche infers the business category of a scanned website from
// its crawl summary. The primary classifier calls the Anthropic API; a
// keyword heuristic serves as an offline fallback.
package niche

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/tracklens/sitescanner/internal/scan"
)

const systemPrompt = `You classify websites into business niches for a web
analytics product. Given a JSON crawl summary, respond with ONLY a JSON
object of the form:
{"niche": string, "confidence": number between 0 and 1, "sub_category": string, "signals": [string]}
Use short lowercase slugs for niche (e.g. "dental", "legal-services",
"ecommerce", "saas", "home-services"). Signals are the concrete cues you
relied on.`

// messageCreator is the slice of the Anthropic client the classifier
// uses. *anthropic.MessageService satisfies it.
type messageCreator interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// AnthropicClassifier asks a Claude model to classify the site.
type AnthropicClassifier struct {
	messages  messageCreator
	model     anthropic.Model
	maxTokens int64
	logger    *zap.Logger
}

// NewAnthropicClassifier builds a classifier over the given API key and
// model name.
func NewAnthropicClassifier(apiKey, model string, logger *zap.Logger) *AnthropicClassifier {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicClassifier{
		messages:  &client.Messages,
		model:     anthropic.Model(model),
		maxTokens: 1024,
		logger:    logger,
	}
}

// Classify sends the crawl summary to the model and parses its verdict.
func (c *AnthropicClassifier) Classify(ctx context.Context, summary scan.CrawlSummary) (scan.NicheResult, error) {
	payload, err := json.Marshal(summary)
	if err != nil {
		return scan.NicheResult{}, fmt.Errorf("marshaling crawl summary: %w", err)
	}

	msg, err := c.messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(string(payload))),
		},
	})
	if err != nil {
		return scan.NicheResult{}, fmt.Errorf("anthropic messages.create: %w", err)
	}

	text := collectText(msg)
	result, err := parseVerdict(text)
	if err != nil {
		c.logger.Warn("unparseable classifier response",
			zap.String("website_url", summary.WebsiteURL),
			zap.String("response", truncate(text, 200)),
		)
		return scan.NicheResult{}, err
	}

	c.logger.Debug("niche classified",
		zap.String("website_url", summary.WebsiteURL),
		zap.String("niche", result.Niche),
		zap.Float64("confidence", result.Confidence),
	)
	return result, nil
}

func collectText(msg *anthropic.Message) string {
	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String()
}

// parseVerdict tolerates markdown code fences around the JSON object.
func parseVerdict(text string) (scan.NicheResult, error) {
	trimmed := strings.TrimSpace(text)
	if start := strings.Index(trimmed, "{"); start >= 0 {
		if end := strings.LastIndex(trimmed, "}"); end > start {
			trimmed = trimmed[start : end+1]
		}
	}

	var result scan.NicheResult
	if err := json.Unmarshal([]byte(trimmed), &result); err != nil {
		return scan.NicheResult{}, fmt.Errorf("parsing classifier verdict: %w", err)
	}
	if result.Niche == "" {
		return scan.NicheResult{}, fmt.Errorf("classifier verdict missing niche")
	}
	if result.Confidence < 0 {
		result.Confidence = 0
	}
	if result.Confidence > 1 {
		result.Confidence = 1
	}
	return result, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
