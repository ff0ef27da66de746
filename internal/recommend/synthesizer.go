package recommend

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/tracklens/sitescanner/internal/scan"
)

// Summary is the terminal analysis attached to a completed scan.
type Summary struct {
	ReadinessScore int
	Narrative      string
}

// Synthesizer derives tracking-event recommendations from the pages a
// scan collected.
type Synthesizer struct {
	ids    scan.IDGenerator
	clock  scan.Clock
	logger *zap.Logger
}

func NewSynthesizer(ids scan.IDGenerator, clock scan.Clock, logger *zap.Logger) *Synthesizer {
	return &Synthesizer{ids: ids, clock: clock, logger: logger}
}

// candidate is an unpersisted recommendation plus the evidence count
// used for ordering.
type candidate struct {
	eventName string
	trigger   string
	rationale string
	priority  int
	evidence  int
}

// Synthesize produces one recommendation per distinct tracking event
// the site's pages justify, ordered by priority then evidence.
func (s *Synthesizer) Synthesize(sc *scan.Scan, pages []scan.Page) ([]scan.Recommendation, Summary) {
	byEvent := map[string]*candidate{}

	add := func(c candidate) {
		existing, ok := byEvent[c.eventName]
		if !ok {
			copied := c
			copied.evidence = 1
			byEvent[c.eventName] = &copied
			return
		}
		existing.evidence++
	}

	for _, p := range pages {
		if p.HasForm && p.PageType != "login" {
			add(candidate{
				eventName: "form_submit",
				trigger:   "form submission",
				rationale: "Forms found on crawled pages capture lead and contact intent.",
				priority:  1,
			})
		}
		if p.HasPhoneLink {
			add(candidate{
				eventName: "phone_call_click",
				trigger:   "click on tel: link",
				rationale: "Click-to-call links indicate phone calls are a conversion path.",
				priority:  1,
			})
		}
		if p.HasEmailLink {
			add(candidate{
				eventName: "email_click",
				trigger:   "click on mailto: link",
				rationale: "Email links suggest direct outreach is part of the funnel.",
				priority:  3,
			})
		}
		if p.HasVideo {
			add(candidate{
				eventName: "video_engagement",
				trigger:   "video play / 50% watched",
				rationale: "Embedded video content is worth measuring for engagement.",
				priority:  3,
			})
		}
		if p.HasCTA {
			add(candidate{
				eventName: "cta_click",
				trigger:   "click on primary call-to-action",
				rationale: "Prominent calls to action drive the site's main conversions.",
				priority:  2,
			})
		}

		switch p.PageType {
		case "checkout":
			add(candidate{
				eventName: "purchase",
				trigger:   "checkout completed",
				rationale: "A checkout flow exists; purchases are the primary conversion.",
				priority:  1,
			})
		case "booking":
			add(candidate{
				eventName: "appointment_booked",
				trigger:   "booking flow completed",
				rationale: "The site takes appointments; completed bookings should be tracked.",
				priority:  1,
			})
		case "pricing":
			add(candidate{
				eventName: "pricing_viewed",
				trigger:   "pricing page view",
				rationale: "Pricing page visits are a strong purchase-intent signal.",
				priority:  2,
			})
		case "contact":
			add(candidate{
				eventName: "contact_page_view",
				trigger:   "contact page view",
				rationale: "Contact page visits precede most offline conversions.",
				priority:  2,
			})
		}
	}

	if len(sc.ExistingTracking) == 0 {
		add(candidate{
			eventName: "page_view",
			trigger:   "every page load",
			rationale: "No analytics tooling was detected; baseline page views are missing.",
			priority:  1,
		})
	}

	ordered := make([]*candidate, 0, len(byEvent))
	for _, c := range byEvent {
		ordered = append(ordered, c)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].priority != ordered[j].priority {
			return ordered[i].priority < ordered[j].priority
		}
		if ordered[i].evidence != ordered[j].evidence {
			return ordered[i].evidence > ordered[j].evidence
		}
		return ordered[i].eventName < ordered[j].eventName
	})

	now := s.clock.Now()
	recs := make([]scan.Recommendation, 0, len(ordered))
	for _, c := range ordered {
		recs = append(recs, scan.Recommendation{
			ID:        s.ids.NewID(),
			ScanID:    sc.ID,
			EventName: c.eventName,
			Trigger:   c.trigger,
			Rationale: c.rationale,
			Priority:  c.priority,
			Status:    scan.RecommendationPending,
			CreatedAt: now,
		})
	}

	summary := s.summarize(sc, pages, recs)
	s.logger.Debug("recommendations synthesized",
		zap.String("scan_id", sc.ID),
		zap.Int("count", len(recs)),
		zap.Int("readiness_score", summary.ReadinessScore),
	)
	return recs, summary
}

// summarize computes a 0-100 readiness score. Existing tracking counts
// for most of it; conversion surfaces on the site add the rest.
func (s *Synthesizer) summarize(sc *scan.Scan, pages []scan.Page, recs []scan.Recommendation) Summary {
	score := 10
	if len(sc.ExistingTracking) > 0 {
		score += 40
	}
	if len(sc.ExistingTracking) > 1 {
		score += 10
	}

	var hasForm, hasPhone, hasCTA bool
	for _, p := range pages {
		hasForm = hasForm || p.HasForm
		hasPhone = hasPhone || p.HasPhoneLink
		hasCTA = hasCTA || p.HasCTA
	}
	if hasForm {
		score += 15
	}
	if hasPhone {
		score += 10
	}
	if hasCTA {
		score += 10
	}
	if score > 100 {
		score = 100
	}

	var sb strings.Builder
	if len(sc.ExistingTracking) > 0 {
		fmt.Fprintf(&sb, "Existing tracking detected (%s). ", strings.Join(sc.ExistingTracking, ", "))
	} else {
		sb.WriteString("No analytics tooling detected on the site. ")
	}
	fmt.Fprintf(&sb, "Scanned %d pages and identified %d tracking events to set up", len(pages), len(recs))
	if sc.DetectedNiche != "" {
		fmt.Fprintf(&sb, " tailored to a %s business", niceNiche(sc))
	}
	sb.WriteString(".")

	return Summary{ReadinessScore: score, Narrative: sb.String()}
}

func niceNiche(sc *scan.Scan) string {
	if sc.ConfirmedNiche != "" {
		return sc.ConfirmedNiche
	}
	return sc.DetectedNiche
}
