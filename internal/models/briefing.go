package models

import "time"

// MaxBriefingItems bounds the number of items in one briefing.
const MaxBriefingItems = 5

// BriefingItem is one written entry of a briefing.
type BriefingItem struct {
	ID              string   `json:"id"`
	ItemNumber      int      `json:"item_number"`
	Reason          string   `json:"reason"`
	ReasonLabel     string   `json:"reason_label"`
	Topic           string   `json:"topic"`
	Content         string   `json:"content"`
	SourceURL       string   `json:"source_url,omitempty"`
	SourceLabel     string   `json:"source_label,omitempty"`
	Attribution     string   `json:"attribution,omitempty"`
	SourceSignalIDs []string `json:"source_signal_ids"`
}

// Briefing is the user-facing output of one pipeline run.
type Briefing struct {
	ID               string         `json:"id"`
	UserID           string         `json:"user_id"`
	Items            []BriefingItem `json:"items"`
	GeneratedAt      time.Time      `json:"generated_at"`
	DeliveredAt      *time.Time     `json:"delivered_at,omitempty"`
	PromptTokens     int64          `json:"prompt_tokens"`
	CompletionTokens int64          `json:"completion_tokens"`
}

// SignalIDs returns every signal referenced by the briefing's items.
func (b *Briefing) SignalIDs() []string {
	seen := make(map[string]bool)
	var ids []string
	for i := range b.Items {
		for _, id := range b.Items[i].SourceSignalIDs {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// DeliveryStatus is the outcome reported by a delivery channel.
type DeliveryStatus string

const (
	DeliverySent    DeliveryStatus = "sent"
	DeliveryFailed  DeliveryStatus = "failed"
	DeliverySkipped DeliveryStatus = "skipped"
)

// DeliveryAttempt is what the delivery collaborator reports back.
type DeliveryAttempt struct {
	Status       DeliveryStatus `json:"status"`
	Channel      string         `json:"channel"`
	ErrorMessage string         `json:"error_message,omitempty"`
}
