// Package notify publishes scan lifecycle events to Google Cloud
// Pub/Sub so downstream services can react to finished scans.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/tracklens/sitescanner/internal/scan"
)

// finishedMessage is the wire payload for a finished scan. Consumers
// key routing off the attributes; the body carries the result summary.
type finishedMessage struct {
	ScanID                 string `json:"scan_id"`
	CustomerID             string `json:"customer_id"`
	TenantID               string `json:"tenant_id"`
	WebsiteURL             string `json:"website_url"`
	Status                 string `json:"status"`
	DetectedNiche          string `json:"detected_niche,omitempty"`
	ConfirmedNiche         string `json:"confirmed_niche,omitempty"`
	TotalPagesScanned      int    `json:"total_pages_scanned"`
	TotalRecommendations   int    `json:"total_recommendations"`
	TrackingReadinessScore int    `json:"tracking_readiness_score"`
	ErrorMessage           string `json:"error_message,omitempty"`
}

// PubSubNotifier implements scan.Notifier on a Cloud Pub/Sub topic. It
// authenticates with Application Default Credentials.
type PubSubNotifier struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	logger *zap.Logger
}

// NewPubSubNotifier creates the client and verifies the topic exists.
func NewPubSubNotifier(ctx context.Context, projectID, topicID string, logger *zap.Logger) (*PubSubNotifier, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("closing pubsub client after topic check failure", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("check pubsub topic %q: %w", topicID, err)
	}
	if !exists {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("closing pubsub client after topic check failure", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("pubsub topic %q does not exist in project %q", topicID, projectID)
	}
	return &PubSubNotifier{client: client, topic: topic, logger: logger}, nil
}

// NewPubSubNotifierWithClient builds a notifier on an existing client
// and topic (primarily for testing against pstest).
func NewPubSubNotifierWithClient(client *pubsub.Client, topic *pubsub.Topic, logger *zap.Logger) *PubSubNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PubSubNotifier{client: client, topic: topic, logger: logger}
}

// ScanFinished publishes the terminal scan summary and waits for the
// broker's acknowledgement, so the caller can log delivery failures.
func (n *PubSubNotifier) ScanFinished(ctx context.Context, s *scan.Scan) error {
	data, err := json.Marshal(finishedMessage{
		ScanID:                 s.ID,
		CustomerID:             s.CustomerID,
		TenantID:               s.TenantID,
		WebsiteURL:             s.WebsiteURL,
		Status:                 string(s.Status),
		DetectedNiche:          s.DetectedNiche,
		ConfirmedNiche:         s.ConfirmedNiche,
		TotalPagesScanned:      s.TotalPagesScanned,
		TotalRecommendations:   s.TotalRecommendations,
		TrackingReadinessScore: s.TrackingReadinessScore,
		ErrorMessage:           s.ErrorMessage,
	})
	if err != nil {
		return fmt.Errorf("marshal finished message: %w", err)
	}

	result := n.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"event":     "scan_finished",
			"status":    string(s.Status),
			"tenant_id": s.TenantID,
		},
	})
	id, err := result.Get(ctx)
	if err != nil {
		return fmt.Errorf("publish finished message: %w", err)
	}
	n.logger.Debug("scan finished event published",
		zap.String("scan_id", s.ID),
		zap.String("message_id", id),
	)
	return nil
}

// Close stops the topic's publisher and closes the client connection.
func (n *PubSubNotifier) Close() error {
	n.topic.Stop()
	if err := n.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
