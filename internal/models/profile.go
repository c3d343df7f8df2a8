package models

import "time"

// FeedSubscription is an RSS/Atom feed a user curated.
type FeedSubscription struct {
	URL   string `json:"url"`
	Label string `json:"label,omitempty"`
}

// PersonalWatch is a person or org from the user's personal graph to follow.
type PersonalWatch struct {
	Name     string `json:"name"`
	Relation string `json:"relation,omitempty"`
}

// UserProfile is the onboarding-derived context the pipeline reads.
// It is owned by the onboarding layer; the pipeline only appends research
// queries and records the last gap scan.
type UserProfile struct {
	UserID              string             `json:"user_id"`
	Name                string             `json:"name"`
	Role                string             `json:"role"`
	Company             string             `json:"company"`
	Industry            string             `json:"industry"`
	Topics              []string           `json:"topics"`
	Initiatives         []string           `json:"initiatives"`
	Concerns            []string           `json:"concerns"`
	PeerOrgs            []string           `json:"peer_orgs"`
	FollowedOrgs        []string           `json:"followed_orgs"`
	ImpressList         []string           `json:"impress_list"`
	IntelligenceGoals   []string           `json:"intelligence_goals"`
	KnowledgeGaps       []string           `json:"knowledge_gaps"`
	ResearchQueries     []string           `json:"research_queries"`
	Feeds               []FeedSubscription `json:"feeds"`
	NewsletterAddresses []string           `json:"newsletter_addresses"`
	PersonalWatches     []PersonalWatch    `json:"personal_watches"`
	ExemptEntityNames   []string           `json:"exempt_entity_names"`
	DeliveryChannel     string             `json:"delivery_channel"`
	Active              bool               `json:"active"`
	LastGapScanAt       time.Time          `json:"last_gap_scan_at"`
	CreatedAt           time.Time          `json:"created_at"`
}
