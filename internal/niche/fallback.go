package niche

import (
	"context"

	"go.uber.org/zap"

	"github.com/tracklens/sitescanner/internal/scan"
)

// FallbackClassifier tries the primary classifier and degrades to the
// secondary when it errors. Classification is an enrichment step, so a
// primary outage must not fail the scan.
type FallbackClassifier struct {
	primary   scan.Classifier
	secondary scan.Classifier
	logger    *zap.Logger
}

func NewFallbackClassifier(primary, secondary scan.Classifier, logger *zap.Logger) *FallbackClassifier {
	return &FallbackClassifier{primary: primary, secondary: secondary, logger: logger}
}

func (c *FallbackClassifier) Classify(ctx context.Context, summary scan.CrawlSummary) (scan.NicheResult, error) {
	result, err := c.primary.Classify(ctx, summary)
	if err == nil {
		return result, nil
	}
	if ctx.Err() != nil {
		return scan.NicheResult{}, ctx.Err()
	}
	c.logger.Warn("primary classifier failed, using fallback",
		zap.String("website_url", summary.WebsiteURL),
		zap.Error(err),
	)
	return c.secondary.Classify(ctx, summary)
}
