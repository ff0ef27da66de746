// Package stream turns the persisted scan record into a per-connection
// server-sent-event feed. Each open stream is one cooperative polling
// loop over the scan store; it observes, never mutates.
package stream

import (
	"time"

	"github.com/tracklens/sitescanner/internal/scan"
)

// Event types pushed to subscribers.
const (
	EventStatus      = "status"
	EventPageCrawled = "page_crawled"
	EventCompleted   = "scan_completed"
	EventFailed      = "scan_failed"
	EventCancelled   = "scan_cancelled"
)

// Event is one discrete progress update.
type Event struct {
	Type      string    `json:"type"`
	ScanID    string    `json:"scan_id"`
	Timestamp time.Time `json:"timestamp"`
	Payload   Payload   `json:"payload"`
}

// Payload carries the snapshot fields a subscriber renders.
type Payload struct {
	Status          scan.Status `json:"status"`
	PagesCrawled    int         `json:"pages_crawled"`
	QueueRemaining  int         `json:"queue_remaining"`
	DetectedNiche   string      `json:"detected_niche,omitempty"`
	NicheConfidence float64     `json:"niche_confidence,omitempty"`
	Recommendations int         `json:"recommendations,omitempty"`
	ReadinessScore  int         `json:"readiness_score,omitempty"`
	ErrorMessage    string      `json:"error_message,omitempty"`
}

func snapshot(s *scan.Scan) Payload {
	return Payload{
		Status:          s.Status,
		PagesCrawled:    len(s.CrawledURLs),
		QueueRemaining:  len(s.URLQueue),
		DetectedNiche:   s.DetectedNiche,
		NicheConfidence: s.NicheConfidence,
		Recommendations: s.TotalRecommendations,
		ReadinessScore:  s.TrackingReadinessScore,
		ErrorMessage:    s.ErrorMessage,
	}
}

func terminalEventType(status scan.Status) string {
	switch status {
	case scan.StatusFailed:
		return EventFailed
	case scan.StatusCancelled:
		return EventCancelled
	default:
		return EventCompleted
	}
}
