package niche

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/tracklens/sitescanner/internal/scan"
)

// DefaultNiche is returned when no keyword profile matches.
const DefaultNiche = "general-business"

// profile pairs a niche slug with the keywords that indicate it. Title
// and heading hits count double via the weight applied by score.
type profile struct {
	niche       string
	subCategory string
	keywords    []string
}

var profiles = []profile{
	{"dental", "dental-practice", []string{"dentist", "dental", "orthodont", "teeth", "invisalign", "hygienist"}},
	{"healthcare", "medical-practice", []string{"clinic", "physician", "patient", "medical", "doctor", "treatment", "therapy"}},
	{"legal-services", "law-firm", []string{"attorney", "lawyer", "law firm", "legal", "litigation", "paralegal"}},
	{"home-services", "contractor", []string{"plumbing", "plumber", "hvac", "roofing", "electrician", "landscaping", "remodel", "contractor"}},
	{"ecommerce", "online-store", []string{"cart", "checkout", "shop", "free shipping", "add to cart", "sku", "product"}},
	{"saas", "software", []string{"pricing", "free trial", "api", "integration", "dashboard", "platform", "software"}},
	{"restaurant", "food-service", []string{"menu", "reservation", "dine", "restaurant", "catering", "takeout"}},
	{"fitness", "gym", []string{"gym", "fitness", "workout", "membership", "personal trainer", "yoga", "crossfit"}},
	{"real-estate", "brokerage", []string{"listing", "realtor", "real estate", "mortgage", "property", "broker"}},
	{"automotive", "repair-shop", []string{"auto repair", "oil change", "tires", "brake", "vehicle", "mechanic"}},
	{"education", "school", []string{"course", "curriculum", "enroll", "tuition", "students", "academy", "tutoring"}},
}

// HeuristicClassifier scores keyword hits against the crawl summary.
// It never fails, so it can serve as the fallback when the AI
// classifier is unreachable.
type HeuristicClassifier struct {
	logger *zap.Logger
}

func NewHeuristicClassifier(logger *zap.Logger) *HeuristicClassifier {
	return &HeuristicClassifier{logger: logger}
}

// Classify scores each niche profile and returns the best match. The
// confidence is deliberately capped below AI-classifier levels so a
// heuristic verdict routes scans through user confirmation.
func (c *HeuristicClassifier) Classify(_ context.Context, summary scan.CrawlSummary) (scan.NicheResult, error) {
	title := strings.ToLower(summary.HomepageTitle)
	content := strings.ToLower(summary.HomepageContent)
	patterns := strings.ToLower(strings.Join(summary.URLPatterns, " "))

	type scored struct {
		profile profile
		score   int
		signals []string
	}
	var results []scored
	for _, p := range profiles {
		var score int
		var signals []string
		for _, kw := range p.keywords {
			hit := false
			if strings.Contains(title, kw) {
				score += 3
				hit = true
			}
			if strings.Contains(content, kw) {
				score++
				hit = true
			}
			if strings.Contains(patterns, kw) {
				score += 2
				hit = true
			}
			if hit {
				signals = append(signals, "keyword:"+kw)
			}
		}
		if score > 0 {
			results = append(results, scored{profile: p, score: score, signals: signals})
		}
	}

	if len(results) == 0 {
		return scan.NicheResult{
			Niche:      DefaultNiche,
			Confidence: 0.2,
			Signals:    []string{"no keyword matches"},
		}, nil
	}

	sort.Slice(results, func(i, j int) bool { return results[i].score > results[j].score })
	best := results[0]

	confidence := 0.3 + 0.05*float64(best.score)
	if confidence > 0.55 {
		confidence = 0.55
	}

	c.logger.Debug("heuristic niche verdict",
		zap.String("website_url", summary.WebsiteURL),
		zap.String("niche", best.profile.niche),
		zap.Int("score", best.score),
	)
	return scan.NicheResult{
		Niche:       best.profile.niche,
		Confidence:  confidence,
		SubCategory: best.profile.subCategory,
		Signals:     best.signals,
	}, nil
}
