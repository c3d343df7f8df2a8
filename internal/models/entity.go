package models

import "time"

// EntityType classifies the kind of knowledge entity.
type EntityType string

const (
	EntityTypeCompany EntityType = "company"
	EntityTypePerson  EntityType = "person"
	EntityTypeConcept EntityType = "concept"
	EntityTypeTerm    EntityType = "term"
	EntityTypeProduct EntityType = "product"
	EntityTypeEvent   EntityType = "event"
	EntityTypeFact    EntityType = "fact"
)

// ValidEntityTypes is the set of all valid entity types.
var ValidEntityTypes = []EntityType{
	EntityTypeCompany,
	EntityTypePerson,
	EntityTypeConcept,
	EntityTypeTerm,
	EntityTypeProduct,
	EntityTypeEvent,
	EntityTypeFact,
}

// IsValid returns true if the entity type is recognized.
func (et EntityType) IsValid() bool {
	for i := range ValidEntityTypes {
		if et == ValidEntityTypes[i] {
			return true
		}
	}
	return false
}

// Relationship names a directed edge between two knowledge entities.
type Relationship string

const (
	RelWorksAt      Relationship = "works-at"
	RelCompetesWith Relationship = "competes-with"
	RelUses         Relationship = "uses"
	RelResearches   Relationship = "researches"
	RelPartOf       Relationship = "part-of"
	RelRelatedTo    Relationship = "related-to"
)

// ValidRelationships is the set of all valid edge relationships.
var ValidRelationships = []Relationship{
	RelWorksAt,
	RelCompetesWith,
	RelUses,
	RelResearches,
	RelPartOf,
	RelRelatedTo,
}

// IsValid returns true if the relationship is recognized.
func (r Relationship) IsValid() bool {
	for _, v := range ValidRelationships {
		if r == v {
			return true
		}
	}
	return false
}

// Entity sources recorded on KnowledgeEntity.Source.
const (
	EntitySourceOnboarding        = "onboarding"
	EntitySourceBriefingDelivered = "briefing-delivered"
	EntitySourceDeepDive          = "deep-dive"
	EntitySourceGapScan           = "gap-scan"
)

// KnowledgeEntity is something a user is modeled as already knowing.
// Entities are owned by exactly one user.
type KnowledgeEntity struct {
	ID               string     `json:"id"`
	UserID           string     `json:"user_id"`
	Type             EntityType `json:"entity_type"`
	Name             string     `json:"name"`
	Description      string     `json:"description,omitempty"`
	Source           string     `json:"source"`
	Confidence       float64    `json:"confidence"`
	KnownSince       time.Time  `json:"known_since"`
	LastReinforced   time.Time  `json:"last_reinforced"`
	Embedding        []float32  `json:"embedding,omitempty"`
	RelatedEntityIDs []string   `json:"related_entity_ids,omitempty"`
}

// KnowledgeEdge is a directed relationship between two entities of the same user.
type KnowledgeEdge struct {
	ID             string       `json:"id"`
	UserID         string       `json:"user_id"`
	SourceEntityID string       `json:"source_entity_id"`
	TargetEntityID string       `json:"target_entity_id"`
	Relationship   Relationship `json:"relationship"`
}

// ExposureRecord marks that a signal was delivered to a user in a briefing.
type ExposureRecord struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	SignalID    string    `json:"signal_id"`
	BriefingID  string    `json:"briefing_id"`
	EntityIDs   []string  `json:"entity_ids,omitempty"`
	DeliveredAt time.Time `json:"delivered_at"`
	UserEngaged bool      `json:"user_engaged"`
}

// ExtractedEntity is an entity identified in free text by the LLM extractor.
type ExtractedEntity struct {
	Name        string     `json:"name"`
	Type        EntityType `json:"type"`
	Description string     `json:"description,omitempty"`
}
