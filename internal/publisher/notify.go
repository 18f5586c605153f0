// Package publisher announces recorded outcomes on a message bus.
package publisher

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/catalog-image-sourcer/internal/sourcing"
)

// Notifier publishes one message.
type Notifier interface {
	Publish(ctx context.Context, payload any, attrs map[string]string) (string, error)
}

// OutcomeMessage is the JSON body published for each recorded outcome.
type OutcomeMessage struct {
	RunID             string    `json:"run_id"`
	RecordedAt        time.Time `json:"recorded_at"`
	SKU               string    `json:"sku"`
	Name              string    `json:"name"`
	Status            string    `json:"status"`
	Score             *int      `json:"score,omitempty"`
	SourceURL         string    `json:"source_url,omitempty"`
	SavedFilename     string    `json:"saved_filename,omitempty"`
	ContentHash       string    `json:"content_hash,omitempty"`
	Message           string    `json:"message,omitempty"`
	MediaID           int64     `json:"media_id,omitempty"`
	PublicationStatus string    `json:"publication_status,omitempty"`
}

// NewOutcomeMessage builds the message for rec.
func NewOutcomeMessage(rec sourcing.MirrorRecord) OutcomeMessage {
	o := rec.Outcome
	msg := OutcomeMessage{
		RunID:             rec.RunID,
		RecordedAt:        rec.RecordedAt.UTC(),
		SKU:               o.SKU,
		Name:              o.Name,
		Status:            string(o.Status),
		SourceURL:         o.SourceURL,
		SavedFilename:     o.SavedFilename,
		ContentHash:       o.ContentHash,
		Message:           o.Message,
		MediaID:           o.Publication.MediaID,
		PublicationStatus: o.Publication.Status,
	}
	if o.HasScore {
		score := o.Score
		msg.Score = &score
	}
	return msg
}

// OutcomeMirror implements sourcing.Mirror over a Notifier.
type OutcomeMirror struct {
	notifier Notifier
}

var _ sourcing.Mirror = (*OutcomeMirror)(nil)

// NewOutcomeMirror wraps n.
func NewOutcomeMirror(n Notifier) *OutcomeMirror {
	return &OutcomeMirror{notifier: n}
}

// Mirror publishes rec with sku, status and run_id attributes so
// subscribers can filter without decoding the body.
func (m *OutcomeMirror) Mirror(ctx context.Context, rec sourcing.MirrorRecord) error {
	attrs := map[string]string{
		"sku":    rec.Outcome.SKU,
		"status": string(rec.Outcome.Status),
		"run_id": rec.RunID,
	}
	if _, err := m.notifier.Publish(ctx, NewOutcomeMessage(rec), attrs); err != nil {
		return fmt.Errorf("notify outcome: %w", err)
	}
	return nil
}
