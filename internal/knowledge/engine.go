// Package knowledge maintains each user's graph of known entities: it
// reinforces what a user has been shown, decays and prunes what has gone
// stale, and seeds new entities from onboarding and gap scans.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ajitpratap0/openclaw-briefing/internal/config"
	"github.com/ajitpratap0/openclaw-briefing/internal/llm"
	"github.com/ajitpratap0/openclaw-briefing/internal/metrics"
	"github.com/ajitpratap0/openclaw-briefing/internal/models"
	"github.com/ajitpratap0/openclaw-briefing/internal/store"
)

// gapSeedConfidence is the confidence given to entities seeded by a gap scan.
const gapSeedConfidence = 0.2

// ownCompanyConfidence is the confidence given to the user's own company at onboarding.
const ownCompanyConfidence = 0.9

// Policy holds the graph maintenance parameters.
type Policy struct {
	ReinforceStep     float64
	InitialConfidence float64
	PruneConfidence   float64
	StaleAfter        time.Duration
	GenericTypes      []models.EntityType
	DecayHalfLife     time.Duration
	GapScanInterval   time.Duration
}

// PolicyFromConfig converts the knowledge config section into a Policy.
func PolicyFromConfig(c config.KnowledgeConfig) Policy {
	types := make([]models.EntityType, 0, len(c.GenericTypes))
	for _, t := range c.GenericTypes {
		types = append(types, models.EntityType(strings.ToLower(strings.TrimSpace(t))))
	}
	return Policy{
		ReinforceStep:     c.ReinforceStep,
		InitialConfidence: c.InitialConfidence,
		PruneConfidence:   c.PruneConfidence,
		StaleAfter:        time.Duration(c.StaleDays) * 24 * time.Hour,
		GenericTypes:      types,
		DecayHalfLife:     time.Duration(c.DecayHalfLifeDays * float64(24*time.Hour)),
		GapScanInterval:   time.Duration(c.GapScanIntervalDay) * 24 * time.Hour,
	}
}

func (p Policy) isGeneric(t models.EntityType) bool {
	for _, g := range p.GenericTypes {
		if g == t {
			return true
		}
	}
	return false
}

// EntityRef names an entity to reinforce or insert.
type EntityRef struct {
	Name        string
	Type        models.EntityType
	Description string
}

// Engine implements the knowledge graph operations.
type Engine struct {
	graph     store.KnowledgeStore
	exposures store.ExposureStore
	profiles  store.ProfileStore
	client    llm.Client
	extractor *Extractor
	policy    Policy
	logger    *slog.Logger
	now       func() time.Time
}

// NewEngine creates a knowledge engine. client may be nil, which disables
// gap scans and entity extraction.
func NewEngine(graph store.KnowledgeStore, exposures store.ExposureStore, profiles store.ProfileStore, client llm.Client, policy Policy, logger *slog.Logger) *Engine {
	e := &Engine{
		graph:     graph,
		exposures: exposures,
		profiles:  profiles,
		client:    client,
		policy:    policy,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
	if client != nil {
		e.extractor = NewExtractor(client, logger)
	}
	return e
}

// ReinforceReport counts the effect of a Reinforce call.
type ReinforceReport struct {
	Reinforced int      `json:"reinforced"`
	Inserted   int      `json:"inserted"`
	EntityIDs  []string `json:"entity_ids"`
}

// Reinforce raises the confidence of each referenced entity by the policy
// step, capped at 1.0, and inserts unknown entities with the initial
// confidence and the given source. Duplicate names are reinforced once.
func (e *Engine) Reinforce(ctx context.Context, userID string, refs []EntityRef, source string) (*ReinforceReport, error) {
	now := e.now()
	report := &ReinforceReport{}
	seen := make(map[string]bool, len(refs))

	for _, ref := range refs {
		name := strings.TrimSpace(ref.Name)
		key := strings.ToLower(name)
		if name == "" || seen[key] {
			continue
		}
		seen[key] = true

		existing, err := e.graph.FindEntityByName(ctx, userID, name)
		switch {
		case err == nil:
			existing.Confidence = math.Min(1.0, existing.Confidence+e.policy.ReinforceStep)
			existing.LastReinforced = now
			if existing.Description == "" {
				existing.Description = ref.Description
			}
			if err := e.graph.UpsertEntity(ctx, *existing); err != nil {
				return report, fmt.Errorf("reinforcing %q: %w", name, err)
			}
			report.Reinforced++
			report.EntityIDs = append(report.EntityIDs, existing.ID)
		case errors.Is(err, store.ErrNotFound):
			typ := ref.Type
			if !typ.IsValid() {
				typ = models.EntityTypeConcept
			}
			ent := models.KnowledgeEntity{
				ID:             uuid.New().String(),
				UserID:         userID,
				Type:           typ,
				Name:           name,
				Description:    ref.Description,
				Source:         source,
				Confidence:     e.policy.InitialConfidence,
				KnownSince:     now,
				LastReinforced: now,
			}
			if err := e.graph.UpsertEntity(ctx, ent); err != nil {
				return report, fmt.Errorf("inserting %q: %w", name, err)
			}
			report.Inserted++
			report.EntityIDs = append(report.EntityIDs, ent.ID)
		default:
			return report, fmt.Errorf("looking up %q: %w", name, err)
		}
		metrics.EntitiesReinforced.Inc()
	}

	e.logger.Info("knowledge reinforced", "user_id", userID, "reinforced", report.Reinforced, "inserted", report.Inserted, "source", source)
	return report, nil
}

// PruneReport summarizes a prune pass.
type PruneReport struct {
	Pruned int      `json:"pruned"`
	Kept   int      `json:"kept"`
	Exempt int      `json:"exempt"`
	Names  []string `json:"names,omitempty"`
	DryRun bool     `json:"dry_run"`
}

// Prune removes entities that are low-confidence, of a generic type and not
// reinforced within the staleness window. Names tied to the user's own
// company, role or explicit exemptions are never removed. Removing an entity
// removes its edges.
func (e *Engine) Prune(ctx context.Context, userID string, dryRun bool) (*PruneReport, error) {
	profile, err := e.profiles.GetProfile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading profile %s: %w", userID, err)
	}
	entities, err := e.graph.ListEntities(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing entities: %w", err)
	}

	exempt := exemptNames(*profile)
	cutoff := e.now().Add(-e.policy.StaleAfter)
	report := &PruneReport{DryRun: dryRun}
	var ids []string

	for i := range entities {
		ent := entities[i]
		prunable := ent.Confidence < e.policy.PruneConfidence &&
			e.policy.isGeneric(ent.Type) &&
			ent.LastReinforced.Before(cutoff)
		if !prunable {
			report.Kept++
			continue
		}
		if exempt[strings.ToLower(strings.TrimSpace(ent.Name))] {
			report.Exempt++
			continue
		}
		e.logger.Info("pruning knowledge entity",
			"user_id", userID,
			"id", ent.ID,
			"name", ent.Name,
			"type", ent.Type,
			"confidence", ent.Confidence,
			"last_reinforced", ent.LastReinforced,
			"dry_run", dryRun,
		)
		ids = append(ids, ent.ID)
		report.Names = append(report.Names, ent.Name)
	}

	report.Pruned = len(ids)
	if dryRun || len(ids) == 0 {
		return report, nil
	}
	removed, err := e.graph.DeleteEntities(ctx, userID, ids)
	if err != nil {
		return nil, fmt.Errorf("deleting pruned entities: %w", err)
	}
	report.Pruned = removed
	metrics.EntitiesPruned.Add(float64(removed))
	return report, nil
}

func exemptNames(p models.UserProfile) map[string]bool {
	out := make(map[string]bool, len(p.ExemptEntityNames)+2)
	for _, n := range append([]string{p.Company, p.Role}, p.ExemptEntityNames...) {
		n = strings.ToLower(strings.TrimSpace(n))
		if n != "" {
			out[n] = true
		}
	}
	return out
}

// DecayReport summarizes a decay pass.
type DecayReport struct {
	Decayed int `json:"decayed"`
}

// Decay multiplies the confidence of every entity not reinforced within
// elapsed by 2^(-elapsed/halfLife). The pipeline calls it once per daily
// run with elapsed set to the run interval.
func (e *Engine) Decay(ctx context.Context, userID string, elapsed time.Duration) (*DecayReport, error) {
	report := &DecayReport{}
	if e.policy.DecayHalfLife <= 0 || elapsed <= 0 {
		return report, nil
	}
	entities, err := e.graph.ListEntities(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing entities: %w", err)
	}
	factor := math.Exp(-0.693 * elapsed.Hours() / e.policy.DecayHalfLife.Hours())
	cutoff := e.now().Add(-elapsed)
	for i := range entities {
		ent := entities[i]
		if !ent.LastReinforced.Before(cutoff) || ent.Confidence <= 0 {
			continue
		}
		ent.Confidence = math.Max(0, ent.Confidence*factor)
		if err := e.graph.UpsertEntity(ctx, ent); err != nil {
			return report, fmt.Errorf("decaying %s: %w", ent.ID, err)
		}
		report.Decayed++
	}
	e.logger.Debug("knowledge decayed", "user_id", userID, "decayed", report.Decayed, "factor", factor)
	return report, nil
}

// CheckResult answers whether a user knows an entity.
type CheckResult struct {
	Known      bool              `json:"known"`
	Confidence float64           `json:"confidence"`
	EntityID   string            `json:"entity_id,omitempty"`
	EntityType models.EntityType `json:"entity_type,omitempty"`
}

// Check looks up name in the user's graph case-insensitively.
func (e *Engine) Check(ctx context.Context, userID, name string) (*CheckResult, error) {
	ent, err := e.graph.FindEntityByName(ctx, userID, name)
	if errors.Is(err, store.ErrNotFound) {
		return &CheckResult{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("checking %q: %w", name, err)
	}
	return &CheckResult{Known: true, Confidence: ent.Confidence, EntityID: ent.ID, EntityType: ent.Type}, nil
}

// Entities returns the user's whole entity set.
func (e *Engine) Entities(ctx context.Context, userID string) ([]models.KnowledgeEntity, error) {
	return e.graph.ListEntities(ctx, userID)
}

// Link adds a directed edge between two of the user's entities and records
// the target on the source's related list.
func (e *Engine) Link(ctx context.Context, userID, srcID, dstID string, rel models.Relationship) (*models.KnowledgeEdge, error) {
	if !rel.IsValid() {
		return nil, fmt.Errorf("invalid relationship %q", rel)
	}
	if srcID == dstID {
		return nil, fmt.Errorf("cannot link entity %s to itself", srcID)
	}
	src, err := e.graph.GetEntity(ctx, userID, srcID)
	if err != nil {
		return nil, fmt.Errorf("loading source entity: %w", err)
	}
	edges, err := e.graph.ListEdges(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing edges: %w", err)
	}
	for i := range edges {
		if edges[i].SourceEntityID == srcID && edges[i].TargetEntityID == dstID && edges[i].Relationship == rel {
			return &edges[i], nil
		}
	}
	edge := models.KnowledgeEdge{
		ID:             uuid.New().String(),
		UserID:         userID,
		SourceEntityID: srcID,
		TargetEntityID: dstID,
		Relationship:   rel,
	}
	if err := e.graph.UpsertEdge(ctx, edge); err != nil {
		return nil, fmt.Errorf("linking %s -> %s: %w", srcID, dstID, err)
	}
	for _, id := range src.RelatedEntityIDs {
		if id == dstID {
			return &edge, nil
		}
	}
	src.RelatedEntityIDs = append(src.RelatedEntityIDs, dstID)
	if err := e.graph.UpsertEntity(ctx, *src); err != nil {
		return nil, fmt.Errorf("updating related ids on %s: %w", srcID, err)
	}
	return &edge, nil
}

// SeedReport summarizes onboarding seeding.
type SeedReport struct {
	Seeded int `json:"seeded"`
	Linked int `json:"linked"`
}

// Seed populates a new user's graph from their profile: their company,
// peers, followed organizations, topics and initiatives. Existing entities
// are left untouched. Peers are linked to the user's company as competitors.
func (e *Engine) Seed(ctx context.Context, profile models.UserProfile) (*SeedReport, error) {
	report := &SeedReport{}
	now := e.now()

	add := func(name string, typ models.EntityType, conf float64) (string, error) {
		name = strings.TrimSpace(name)
		if name == "" {
			return "", nil
		}
		existing, err := e.graph.FindEntityByName(ctx, profile.UserID, name)
		if err == nil {
			return existing.ID, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return "", fmt.Errorf("looking up %q: %w", name, err)
		}
		ent := models.KnowledgeEntity{
			ID:             uuid.New().String(),
			UserID:         profile.UserID,
			Type:           typ,
			Name:           name,
			Source:         models.EntitySourceOnboarding,
			Confidence:     conf,
			KnownSince:     now,
			LastReinforced: now,
		}
		if err := e.graph.UpsertEntity(ctx, ent); err != nil {
			return "", fmt.Errorf("seeding %q: %w", name, err)
		}
		report.Seeded++
		return ent.ID, nil
	}

	companyID, err := add(profile.Company, models.EntityTypeCompany, ownCompanyConfidence)
	if err != nil {
		return report, err
	}
	for _, peer := range profile.PeerOrgs {
		peerID, err := add(peer, models.EntityTypeCompany, e.policy.InitialConfidence)
		if err != nil {
			return report, err
		}
		if companyID != "" && peerID != "" && peerID != companyID {
			if _, err := e.Link(ctx, profile.UserID, companyID, peerID, models.RelCompetesWith); err != nil {
				return report, err
			}
			report.Linked++
		}
	}
	for _, org := range profile.FollowedOrgs {
		if _, err := add(org, models.EntityTypeCompany, e.policy.InitialConfidence); err != nil {
			return report, err
		}
	}
	for _, topic := range append(append([]string{}, profile.Topics...), profile.Initiatives...) {
		if _, err := add(topic, models.EntityTypeConcept, e.policy.InitialConfidence); err != nil {
			return report, err
		}
	}

	e.logger.Info("knowledge graph seeded", "user_id", profile.UserID, "seeded", report.Seeded, "linked", report.Linked)
	return report, nil
}
