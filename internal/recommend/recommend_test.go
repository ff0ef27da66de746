package recommend

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tracklens/sitescanner/internal/scan"
)

type seqIDs struct{ n int }

func (s *seqIDs) NewID() string {
	s.n++
	return fmt.Sprintf("rec-%d", s.n)
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func TestClassifyPageType(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		url      string
		title    string
		expected string
	}{
		{"https://example.com", "Welcome", "homepage"},
		{"https://example.com/", "Welcome", "homepage"},
		{"https://example.com/contact-us", "Contact", "contact"},
		{"https://example.com/about/team", "Our Team", "about"},
		{"https://example.com/services/whitening", "Whitening", "services"},
		{"https://example.com/shop/widget-9", "Widget 9", "product"},
		{"https://example.com/cart", "Your Cart", "checkout"},
		{"https://example.com/book-online", "Book Online", "booking"},
		{"https://example.com/plans", "Plans", "pricing"},
		{"https://example.com/blog/2026/launch", "Launch", "blog"},
		{"https://example.com/portal", "Patient Portal", "login"},
		{"https://example.com/misc", "Misc", "general"},
		{"https://example.com/page", "Pricing for teams", "pricing"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected+" "+tc.url, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.expected, ClassifyPageType(tc.url, tc.title))
		})
	}
}

func TestSynthesizeDerivesEventsFromSignals(t *testing.T) {
	t.Parallel()

	syn := NewSynthesizer(&seqIDs{}, fixedClock{t: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)}, zap.NewNop())
	sc := &scan.Scan{ID: "scan-1", DetectedNiche: "dental", ExistingTracking: []string{"ga4"}}
	pages := []scan.Page{
		{URL: "https://acme.example", PageType: "homepage", HasCTA: true, HasPhoneLink: true},
		{URL: "https://acme.example/contact", PageType: "contact", HasForm: true, HasPhoneLink: true},
		{URL: "https://acme.example/book-online", PageType: "booking", HasForm: true, HasCTA: true},
	}

	recs, summary := syn.Synthesize(sc, pages)
	require.NotEmpty(t, recs)

	events := map[string]scan.Recommendation{}
	for _, r := range recs {
		events[r.EventName] = r
		assert.Equal(t, scan.RecommendationPending, r.Status)
		assert.Equal(t, "scan-1", r.ScanID)
		assert.NotEmpty(t, r.ID)
	}

	assert.Contains(t, events, "form_submit")
	assert.Contains(t, events, "phone_call_click")
	assert.Contains(t, events, "cta_click")
	assert.Contains(t, events, "appointment_booked")
	assert.Contains(t, events, "contact_page_view")
	assert.NotContains(t, events, "page_view", "existing tracking should suppress the baseline event")
	assert.NotContains(t, events, "video_engagement")

	// Priority 1 events come first.
	assert.Equal(t, 1, recs[0].Priority)

	assert.Contains(t, summary.Narrative, "ga4")
	assert.Contains(t, summary.Narrative, "dental")
	assert.Greater(t, summary.ReadinessScore, 50)
}

func TestSynthesizeBaselineWhenNoTracking(t *testing.T) {
	t.Parallel()

	syn := NewSynthesizer(&seqIDs{}, fixedClock{t: time.Now()}, zap.NewNop())
	sc := &scan.Scan{ID: "scan-2"}
	pages := []scan.Page{
		{URL: "https://plain.example", PageType: "homepage"},
	}

	recs, summary := syn.Synthesize(sc, pages)
	require.Len(t, recs, 1)
	assert.Equal(t, "page_view", recs[0].EventName)
	assert.Less(t, summary.ReadinessScore, 30)
	assert.Contains(t, summary.Narrative, "No analytics tooling")
}

func TestSynthesizeDeduplicatesAcrossPages(t *testing.T) {
	t.Parallel()

	syn := NewSynthesizer(&seqIDs{}, fixedClock{t: time.Now()}, zap.NewNop())
	sc := &scan.Scan{ID: "scan-3", ExistingTracking: []string{"gtm"}}
	pages := []scan.Page{
		{URL: "https://a.example/p1", PageType: "general", HasForm: true},
		{URL: "https://a.example/p2", PageType: "general", HasForm: true},
		{URL: "https://a.example/p3", PageType: "general", HasForm: true},
	}

	recs, _ := syn.Synthesize(sc, pages)
	require.Len(t, recs, 1)
	assert.Equal(t, "form_submit", recs[0].EventName)
}

func TestSynthesizeIgnoresLoginForms(t *testing.T) {
	t.Parallel()

	syn := NewSynthesizer(&seqIDs{}, fixedClock{t: time.Now()}, zap.NewNop())
	sc := &scan.Scan{ID: "scan-4", ExistingTracking: []string{"ga4"}}
	pages := []scan.Page{
		{URL: "https://a.example/login", PageType: "login", HasForm: true},
	}

	recs, _ := syn.Synthesize(sc, pages)
	for _, r := range recs {
		assert.NotEqual(t, "form_submit", r.EventName)
	}
}
