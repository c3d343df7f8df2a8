package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/ajitpratap0/openclaw-briefing/internal/models"
)

const neo4jTimeout = 15 * time.Second

// Neo4jKnowledgeStore implements KnowledgeStore on a Neo4j graph. Entities
// are :KnowledgeEntity nodes keyed by id; edges are :RELATES relationships
// carrying their own id and relationship name.
type Neo4jKnowledgeStore struct {
	driver   neo4j.DriverWithContext
	database string
	logger   *slog.Logger
}

var _ KnowledgeStore = (*Neo4jKnowledgeStore)(nil)

// NewNeo4jKnowledgeStore connects to Neo4j and verifies connectivity.
func NewNeo4jKnowledgeStore(ctx context.Context, uri, username, password, database string, logger *slog.Logger) (*Neo4jKnowledgeStore, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("creating neo4j driver for %s: %w", uri, err)
	}
	vctx, cancel := context.WithTimeout(ctx, neo4jTimeout)
	defer cancel()
	if err := driver.VerifyConnectivity(vctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("verifying neo4j connection at %s: %w", uri, err)
	}
	logger.Info("connected to Neo4j", "uri", uri, "database", database)
	return &Neo4jKnowledgeStore{driver: driver, database: database, logger: logger}, nil
}

// EnsureSchema creates the uniqueness constraint and lookup index.
func (n *Neo4jKnowledgeStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		"CREATE CONSTRAINT knowledge_entity_id IF NOT EXISTS FOR (e:KnowledgeEntity) REQUIRE e.id IS UNIQUE",
		"CREATE INDEX knowledge_entity_user IF NOT EXISTS FOR (e:KnowledgeEntity) ON (e.user_id, e.name_lower)",
	}
	for _, stmt := range stmts {
		if _, err := n.run(ctx, stmt, nil); err != nil {
			return fmt.Errorf("ensuring neo4j schema: %w", err)
		}
	}
	return nil
}

// Close releases the driver.
func (n *Neo4jKnowledgeStore) Close(ctx context.Context) error {
	return n.driver.Close(ctx)
}

func (n *Neo4jKnowledgeStore) run(ctx context.Context, query string, params map[string]any) (*neo4j.EagerResult, error) {
	qctx, cancel := context.WithTimeout(ctx, neo4jTimeout)
	defer cancel()
	return neo4j.ExecuteQuery(qctx, n.driver, query, params,
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(n.database),
	)
}

const entityReturn = `RETURN e.id AS id, e.user_id AS user_id, e.entity_type AS entity_type,
	e.name AS name, e.description AS description, e.source AS source,
	e.confidence AS confidence, e.known_since AS known_since,
	e.last_reinforced AS last_reinforced, e.embedding AS embedding,
	e.related_entity_ids AS related_entity_ids`

// UpsertEntity merges an entity node by id.
func (n *Neo4jKnowledgeStore) UpsertEntity(ctx context.Context, e models.KnowledgeEntity) error {
	emb := make([]float64, len(e.Embedding))
	for i, v := range e.Embedding {
		emb[i] = float64(v)
	}
	related := e.RelatedEntityIDs
	if related == nil {
		related = []string{}
	}
	_, err := n.run(ctx, `MERGE (e:KnowledgeEntity {id: $id})
SET e.user_id = $user_id, e.entity_type = $entity_type, e.name = $name,
    e.name_lower = $name_lower, e.description = $description, e.source = $source,
    e.confidence = $confidence, e.known_since = $known_since,
    e.last_reinforced = $last_reinforced, e.embedding = $embedding,
    e.related_entity_ids = $related`, map[string]any{
		"id":              e.ID,
		"user_id":         e.UserID,
		"entity_type":     string(e.Type),
		"name":            e.Name,
		"name_lower":      strings.ToLower(e.Name),
		"description":     e.Description,
		"source":          e.Source,
		"confidence":      e.Confidence,
		"known_since":     e.KnownSince,
		"last_reinforced": e.LastReinforced,
		"embedding":       emb,
		"related":         related,
	})
	if err != nil {
		return fmt.Errorf("upserting entity %s: %w", e.ID, err)
	}
	return nil
}

// GetEntity retrieves a single entity owned by the user.
func (n *Neo4jKnowledgeStore) GetEntity(ctx context.Context, userID, id string) (*models.KnowledgeEntity, error) {
	res, err := n.run(ctx, "MATCH (e:KnowledgeEntity {id: $id, user_id: $user_id}) "+entityReturn,
		map[string]any{"id": id, "user_id": userID})
	if err != nil {
		return nil, fmt.Errorf("loading entity %s: %w", id, err)
	}
	if len(res.Records) == 0 {
		return nil, fmt.Errorf("entity %s: %w", id, ErrNotFound)
	}
	e := entityFromRecord(res.Records[0])
	return &e, nil
}

// FindEntityByName looks up the user's entity by case-insensitive name.
func (n *Neo4jKnowledgeStore) FindEntityByName(ctx context.Context, userID, name string) (*models.KnowledgeEntity, error) {
	res, err := n.run(ctx, "MATCH (e:KnowledgeEntity {user_id: $user_id, name_lower: $name}) "+
		entityReturn+" ORDER BY confidence DESC LIMIT 1",
		map[string]any{"user_id": userID, "name": strings.ToLower(strings.TrimSpace(name))})
	if err != nil {
		return nil, fmt.Errorf("finding entity %q: %w", name, err)
	}
	if len(res.Records) == 0 {
		return nil, fmt.Errorf("entity %q: %w", name, ErrNotFound)
	}
	e := entityFromRecord(res.Records[0])
	return &e, nil
}

// ListEntities returns the user's entities ordered by name.
func (n *Neo4jKnowledgeStore) ListEntities(ctx context.Context, userID string) ([]models.KnowledgeEntity, error) {
	res, err := n.run(ctx, "MATCH (e:KnowledgeEntity {user_id: $user_id}) "+entityReturn+" ORDER BY name, id",
		map[string]any{"user_id": userID})
	if err != nil {
		return nil, fmt.Errorf("listing entities: %w", err)
	}
	out := make([]models.KnowledgeEntity, 0, len(res.Records))
	for _, rec := range res.Records {
		out = append(out, entityFromRecord(rec))
	}
	return out, nil
}

// DeleteEntities detach-deletes the entities, removing their edges with them.
func (n *Neo4jKnowledgeStore) DeleteEntities(ctx context.Context, userID string, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := n.run(ctx, `MATCH (e:KnowledgeEntity {user_id: $user_id}) WHERE e.id IN $ids
DETACH DELETE e RETURN count(*) AS removed`, map[string]any{"user_id": userID, "ids": ids})
	if err != nil {
		return 0, fmt.Errorf("deleting entities: %w", err)
	}
	if len(res.Records) == 0 {
		return 0, nil
	}
	removed, _ := res.Records[0].Get("removed")
	count, _ := removed.(int64)
	return int(count), nil
}

// UpsertEdge merges a relationship between two of the user's entities.
func (n *Neo4jKnowledgeStore) UpsertEdge(ctx context.Context, edge models.KnowledgeEdge) error {
	res, err := n.run(ctx, `MATCH (s:KnowledgeEntity {id: $src}), (t:KnowledgeEntity {id: $dst})
RETURN s.user_id AS src_user, t.user_id AS dst_user`, map[string]any{
		"src": edge.SourceEntityID,
		"dst": edge.TargetEntityID,
	})
	if err != nil {
		return fmt.Errorf("loading edge endpoints: %w", err)
	}
	if len(res.Records) == 0 {
		return fmt.Errorf("edge %s endpoints: %w", edge.ID, ErrNotFound)
	}
	srcUser, _ := res.Records[0].Get("src_user")
	dstUser, _ := res.Records[0].Get("dst_user")
	if srcUser != edge.UserID || dstUser != edge.UserID {
		return ErrCrossUserEdge
	}
	_, err = n.run(ctx, `MATCH (s:KnowledgeEntity {id: $src}), (t:KnowledgeEntity {id: $dst})
MERGE (s)-[r:RELATES {id: $id}]->(t)
SET r.relationship = $rel, r.user_id = $user_id`, map[string]any{
		"src":     edge.SourceEntityID,
		"dst":     edge.TargetEntityID,
		"id":      edge.ID,
		"rel":     string(edge.Relationship),
		"user_id": edge.UserID,
	})
	if err != nil {
		return fmt.Errorf("upserting edge %s: %w", edge.ID, err)
	}
	return nil
}

// ListEdges returns every edge in the user's graph.
func (n *Neo4jKnowledgeStore) ListEdges(ctx context.Context, userID string) ([]models.KnowledgeEdge, error) {
	res, err := n.run(ctx, `MATCH (s:KnowledgeEntity)-[r:RELATES {user_id: $user_id}]->(t:KnowledgeEntity)
RETURN r.id AS id, s.id AS src, t.id AS dst, r.relationship AS rel ORDER BY id`,
		map[string]any{"user_id": userID})
	if err != nil {
		return nil, fmt.Errorf("listing edges: %w", err)
	}
	out := make([]models.KnowledgeEdge, 0, len(res.Records))
	for _, rec := range res.Records {
		out = append(out, models.KnowledgeEdge{
			ID:             recordString(rec, "id"),
			UserID:         userID,
			SourceEntityID: recordString(rec, "src"),
			TargetEntityID: recordString(rec, "dst"),
			Relationship:   models.Relationship(recordString(rec, "rel")),
		})
	}
	return out, nil
}

func entityFromRecord(rec *neo4j.Record) models.KnowledgeEntity {
	e := models.KnowledgeEntity{
		ID:          recordString(rec, "id"),
		UserID:      recordString(rec, "user_id"),
		Type:        models.EntityType(recordString(rec, "entity_type")),
		Name:        recordString(rec, "name"),
		Description: recordString(rec, "description"),
		Source:      recordString(rec, "source"),
	}
	if v, ok := rec.Get("confidence"); ok {
		e.Confidence, _ = v.(float64)
	}
	if v, ok := rec.Get("known_since"); ok {
		e.KnownSince, _ = v.(time.Time)
	}
	if v, ok := rec.Get("last_reinforced"); ok {
		e.LastReinforced, _ = v.(time.Time)
	}
	if v, ok := rec.Get("embedding"); ok {
		if list, ok := v.([]any); ok {
			for _, f := range list {
				if fv, ok := f.(float64); ok {
					e.Embedding = append(e.Embedding, float32(fv))
				}
			}
		}
	}
	if v, ok := rec.Get("related_entity_ids"); ok {
		if list, ok := v.([]any); ok {
			for _, s := range list {
				if sv, ok := s.(string); ok {
					e.RelatedEntityIDs = append(e.RelatedEntityIDs, sv)
				}
			}
		}
	}
	return e
}

func recordString(rec *neo4j.Record, key string) string {
	v, ok := rec.Get(key)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}
