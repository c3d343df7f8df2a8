package models

import "time"

// SignalLayer identifies which ingestion layer produced a signal.
type SignalLayer string

const (
	LayerSyndication   SignalLayer = "syndication"
	LayerNews          SignalLayer = "news"
	LayerNewsletter    SignalLayer = "newsletter"
	LayerAIResearch    SignalLayer = "ai-research"
	LayerEmailForward  SignalLayer = "email-forward"
	LayerResearch      SignalLayer = "research"
	LayerNarrative     SignalLayer = "narrative"
	LayerEvents        SignalLayer = "events"
	LayerPersonalGraph SignalLayer = "personal-graph"
)

// ValidSignalLayers is the set of all valid signal layers.
var ValidSignalLayers = []SignalLayer{
	LayerSyndication,
	LayerNews,
	LayerNewsletter,
	LayerAIResearch,
	LayerEmailForward,
	LayerResearch,
	LayerNarrative,
	LayerEvents,
	LayerPersonalGraph,
}

// IsValid returns true if the layer is recognized.
func (l SignalLayer) IsValid() bool {
	for _, v := range ValidSignalLayers {
		if l == v {
			return true
		}
	}
	return false
}

// TriggerReason records why a signal entered a user's candidate pool.
type TriggerReason string

const (
	TriggerFollowedOrg            TriggerReason = "followed-org"
	TriggerPeerOrg                TriggerReason = "peer-org"
	TriggerImpressList            TriggerReason = "impress-list"
	TriggerIntelligenceGoal       TriggerReason = "intelligence-goal"
	TriggerIndustryScan           TriggerReason = "industry-scan"
	TriggerPersonalGraph          TriggerReason = "personal-graph"
	TriggerUserCurated            TriggerReason = "user-curated"
	TriggerNewsletterSubscription TriggerReason = "newsletter-subscription"
)

// ValidTriggerReasons is the set of all valid trigger reasons.
var ValidTriggerReasons = []TriggerReason{
	TriggerFollowedOrg,
	TriggerPeerOrg,
	TriggerImpressList,
	TriggerIntelligenceGoal,
	TriggerIndustryScan,
	TriggerPersonalGraph,
	TriggerUserCurated,
	TriggerNewsletterSubscription,
}

// IsValid returns true if the trigger reason is recognized.
func (t TriggerReason) IsValid() bool {
	for _, v := range ValidTriggerReasons {
		if t == v {
			return true
		}
	}
	return false
}

// Signal is one piece of ingested external content. Signals are shared
// across users and immutable once stored.
type Signal struct {
	ID          string            `json:"id"`
	Layer       SignalLayer       `json:"layer"`
	SourceURL   string            `json:"source_url"`
	Title       string            `json:"title"`
	Content     string            `json:"content"`
	Summary     string            `json:"summary"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Embedding   []float32         `json:"embedding,omitempty"`
	ContentHash string            `json:"content_hash"`
	PublishedAt time.Time         `json:"published_at"`
	IngestedAt  time.Time         `json:"ingested_at"`
}

// SignalProvenance is the per-user attribution of a signal.
type SignalProvenance struct {
	ID               string        `json:"id"`
	SignalID         string        `json:"signal_id"`
	UserID           string        `json:"user_id"`
	TriggerReason    TriggerReason `json:"trigger_reason"`
	ProfileReference string        `json:"profile_reference"`
	CreatedAt        time.Time     `json:"created_at"`
}

// UserSignal pairs a signal with the provenance that attached it to a user.
type UserSignal struct {
	Signal     Signal           `json:"signal"`
	Provenance SignalProvenance `json:"provenance"`
}

// FeedbackKind is the direction of explicit user feedback on an item.
type FeedbackKind string

const (
	FeedbackUp   FeedbackKind = "up"
	FeedbackDown FeedbackKind = "down"
	FeedbackMore FeedbackKind = "more"
	FeedbackLess FeedbackKind = "less"
)

// ValidFeedbackKinds is the set of all valid feedback kinds.
var ValidFeedbackKinds = []FeedbackKind{FeedbackUp, FeedbackDown, FeedbackMore, FeedbackLess}

// IsValid returns true if the feedback kind is recognized.
func (k FeedbackKind) IsValid() bool {
	for _, v := range ValidFeedbackKinds {
		if k == v {
			return true
		}
	}
	return false
}

// FeedbackEvent is explicit user feedback on a delivered briefing item.
type FeedbackEvent struct {
	ID             string       `json:"id"`
	UserID         string       `json:"user_id"`
	SignalID       string       `json:"signal_id,omitempty"`
	BriefingItemID string       `json:"briefing_item_id,omitempty"`
	Kind           FeedbackKind `json:"kind"`
	Topic          string       `json:"topic,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}
