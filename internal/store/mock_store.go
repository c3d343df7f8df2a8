package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ajitpratap0/openclaw-briefing/internal/models"
)

// MockStore is an in-memory implementation of Store for tests and local runs.
type MockStore struct {
	mu          sync.RWMutex
	signals     map[string]models.Signal
	byURL       map[string]string
	byHash      map[string]string
	provenance  map[string]models.SignalProvenance // key: signalID|userID
	entities    map[string]models.KnowledgeEntity
	edges       map[string]models.KnowledgeEdge
	exposures   []models.ExposureRecord
	feedback    []models.FeedbackEvent
	runs        map[string]models.PipelineRun
	briefings   map[string]models.Briefing
	profiles    map[string]models.UserProfile
	failSaveFor map[string]error
}

var _ Store = (*MockStore)(nil)

// NewMockStore creates a new mock store.
func NewMockStore() *MockStore {
	return &MockStore{
		signals:     make(map[string]models.Signal),
		byURL:       make(map[string]string),
		byHash:      make(map[string]string),
		provenance:  make(map[string]models.SignalProvenance),
		entities:    make(map[string]models.KnowledgeEntity),
		edges:       make(map[string]models.KnowledgeEdge),
		runs:        make(map[string]models.PipelineRun),
		briefings:   make(map[string]models.Briefing),
		profiles:    make(map[string]models.UserProfile),
		failSaveFor: make(map[string]error),
	}
}

// FailBriefingSaves makes SaveBriefing return err for the given user.
func (m *MockStore) FailBriefingSaves(userID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failSaveFor[userID] = err
}

// Close is a no-op for the mock store.
func (m *MockStore) Close() error { return nil }

// --- signals ---

// InsertSignal stores sig unless its URL or content hash is already known.
func (m *MockStore) InsertSignal(_ context.Context, sig models.Signal) (models.Signal, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sig.SourceURL != "" {
		if id, ok := m.byURL[sig.SourceURL]; ok {
			return copySignal(m.signals[id]), false, nil
		}
	}
	if sig.ContentHash != "" {
		if id, ok := m.byHash[sig.ContentHash]; ok {
			return copySignal(m.signals[id]), false, nil
		}
	}
	if sig.ID == "" {
		return models.Signal{}, false, fmt.Errorf("signal id must not be empty")
	}

	sig = copySignal(sig)
	m.signals[sig.ID] = sig
	if sig.SourceURL != "" {
		m.byURL[sig.SourceURL] = sig.ID
	}
	if sig.ContentHash != "" {
		m.byHash[sig.ContentHash] = sig.ID
	}
	return copySignal(sig), true, nil
}

// GetSignal retrieves a single signal by ID.
func (m *MockStore) GetSignal(_ context.Context, id string) (*models.Signal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sig, ok := m.signals[id]
	if !ok {
		return nil, fmt.Errorf("signal %s: %w", id, ErrNotFound)
	}
	out := copySignal(sig)
	return &out, nil
}

// GetSignals retrieves the signals with the given IDs, in request order.
func (m *MockStore) GetSignals(_ context.Context, ids []string) ([]models.Signal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Signal, 0, len(ids))
	for _, id := range ids {
		if sig, ok := m.signals[id]; ok {
			out = append(out, copySignal(sig))
		}
	}
	return out, nil
}

// AddProvenance inserts a provenance row unless (signal, user) already exists.
func (m *MockStore) AddProvenance(_ context.Context, p models.SignalProvenance) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.signals[p.SignalID]; !ok {
		return false, fmt.Errorf("provenance for signal %s: %w", p.SignalID, ErrNotFound)
	}
	key := provenanceKey(p.SignalID, p.UserID)
	if _, ok := m.provenance[key]; ok {
		return false, nil
	}
	m.provenance[key] = p
	return true, nil
}

// HasProvenance reports whether (signal, user) has a provenance row.
func (m *MockStore) HasProvenance(_ context.Context, userID, signalID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.provenance[provenanceKey(signalID, userID)]
	return ok, nil
}

// ListUserSignals returns the user's signals attributed since the given time.
func (m *MockStore) ListUserSignals(_ context.Context, userID string, since time.Time) ([]models.UserSignal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.UserSignal
	for _, p := range m.provenance {
		if p.UserID != userID || p.CreatedAt.Before(since) {
			continue
		}
		sig, ok := m.signals[p.SignalID]
		if !ok {
			continue
		}
		out = append(out, models.UserSignal{Signal: copySignal(sig), Provenance: p})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Provenance.CreatedAt.Equal(out[j].Provenance.CreatedAt) {
			return out[i].Provenance.CreatedAt.After(out[j].Provenance.CreatedAt)
		}
		return out[i].Signal.ID < out[j].Signal.ID
	})
	return out, nil
}

// SignalCount returns the number of stored signals.
func (m *MockStore) SignalCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.signals)
}

// ProvenanceCount returns the number of provenance rows for the user.
func (m *MockStore) ProvenanceCount(userID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, p := range m.provenance {
		if p.UserID == userID {
			n++
		}
	}
	return n
}

// --- knowledge graph ---

// UpsertEntity inserts or updates an entity.
func (m *MockStore) UpsertEntity(_ context.Context, e models.KnowledgeEntity) error {
	if e.ID == "" || e.UserID == "" {
		return fmt.Errorf("entity id and user id must not be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entities[e.ID] = copyEntity(e)
	return nil
}

// GetEntity retrieves a single entity owned by the user.
func (m *MockStore) GetEntity(_ context.Context, userID, id string) (*models.KnowledgeEntity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entities[id]
	if !ok || e.UserID != userID {
		return nil, fmt.Errorf("entity %s: %w", id, ErrNotFound)
	}
	out := copyEntity(e)
	return &out, nil
}

// FindEntityByName looks up the user's entity by case-insensitive name.
func (m *MockStore) FindEntityByName(_ context.Context, userID, name string) (*models.KnowledgeEntity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	want := strings.ToLower(strings.TrimSpace(name))
	var best *models.KnowledgeEntity
	for _, e := range m.entities {
		if e.UserID != userID || strings.ToLower(e.Name) != want {
			continue
		}
		if best == nil || e.Confidence > best.Confidence {
			cp := copyEntity(e)
			best = &cp
		}
	}
	if best == nil {
		return nil, fmt.Errorf("entity %q: %w", name, ErrNotFound)
	}
	return best, nil
}

// ListEntities returns the user's entities ordered by name.
func (m *MockStore) ListEntities(_ context.Context, userID string) ([]models.KnowledgeEntity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.KnowledgeEntity
	for _, e := range m.entities {
		if e.UserID == userID {
			out = append(out, copyEntity(e))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// DeleteEntities removes entities and cascades to their edges.
func (m *MockStore) DeleteEntities(_ context.Context, userID string, ids []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := make(map[string]bool, len(ids))
	for _, id := range ids {
		if e, ok := m.entities[id]; ok && e.UserID == userID {
			delete(m.entities, id)
			removed[id] = true
		}
	}
	for id, edge := range m.edges {
		if removed[edge.SourceEntityID] || removed[edge.TargetEntityID] {
			delete(m.edges, id)
		}
	}
	return len(removed), nil
}

// UpsertEdge inserts or updates an edge after checking both endpoints.
func (m *MockStore) UpsertEdge(_ context.Context, edge models.KnowledgeEdge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	src, ok := m.entities[edge.SourceEntityID]
	if !ok {
		return fmt.Errorf("edge source %s: %w", edge.SourceEntityID, ErrNotFound)
	}
	dst, ok := m.entities[edge.TargetEntityID]
	if !ok {
		return fmt.Errorf("edge target %s: %w", edge.TargetEntityID, ErrNotFound)
	}
	if src.UserID != edge.UserID || dst.UserID != edge.UserID {
		return ErrCrossUserEdge
	}
	m.edges[edge.ID] = edge
	return nil
}

// ListEdges returns every edge in the user's graph.
func (m *MockStore) ListEdges(_ context.Context, userID string) ([]models.KnowledgeEdge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.KnowledgeEdge
	for _, e := range m.edges {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- exposure & feedback ---

// RecordExposure appends an exposure record.
func (m *MockStore) RecordExposure(_ context.Context, rec models.ExposureRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exposures = append(m.exposures, rec)
	return nil
}

// ListExposures returns the user's exposure history.
func (m *MockStore) ListExposures(_ context.Context, userID string) ([]models.ExposureRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.ExposureRecord
	for _, r := range m.exposures {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

// MarkEngaged flags matching exposures as engaged.
func (m *MockStore) MarkEngaged(_ context.Context, userID, signalID string) ([]models.ExposureRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ExposureRecord
	for i := range m.exposures {
		if m.exposures[i].UserID == userID && m.exposures[i].SignalID == signalID {
			m.exposures[i].UserEngaged = true
			out = append(out, m.exposures[i])
		}
	}
	return out, nil
}

// RecordFeedback appends a feedback event.
func (m *MockStore) RecordFeedback(_ context.Context, ev models.FeedbackEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.feedback = append(m.feedback, ev)
	return nil
}

// ListFeedback returns the user's feedback events.
func (m *MockStore) ListFeedback(_ context.Context, userID string) ([]models.FeedbackEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.FeedbackEvent
	for _, ev := range m.feedback {
		if ev.UserID == userID {
			out = append(out, ev)
		}
	}
	return out, nil
}

// --- runs ---

// SaveRun stores a snapshot of the run.
func (m *MockStore) SaveRun(_ context.Context, run models.PipelineRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stages := make([]models.PipelineStageResult, len(run.Stages))
	copy(stages, run.Stages)
	run.Stages = stages
	m.runs[run.ID] = run
	return nil
}

// GetRun retrieves a run by ID.
func (m *MockStore) GetRun(_ context.Context, id string) (*models.PipelineRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return &run, nil
}

// ListRuns returns the user's runs, newest first.
func (m *MockStore) ListRuns(_ context.Context, userID string, limit int) ([]models.PipelineRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.PipelineRun
	for _, r := range m.runs {
		if userID == "" || r.UserID == userID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- briefings ---

// SaveBriefing stores the briefing and returns its ID.
func (m *MockStore) SaveBriefing(_ context.Context, b models.Briefing) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.failSaveFor[b.UserID]; ok {
		return "", err
	}
	if b.ID == "" {
		return "", fmt.Errorf("briefing id must not be empty")
	}
	items := make([]models.BriefingItem, len(b.Items))
	copy(items, b.Items)
	b.Items = items
	m.briefings[b.ID] = b
	return b.ID, nil
}

// GetBriefing retrieves a briefing by ID.
func (m *MockStore) GetBriefing(_ context.Context, id string) (*models.Briefing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.briefings[id]
	if !ok {
		return nil, fmt.Errorf("briefing %s: %w", id, ErrNotFound)
	}
	return &b, nil
}

// LatestBriefing returns the user's most recent briefing.
func (m *MockStore) LatestBriefing(_ context.Context, userID string) (*models.Briefing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *models.Briefing
	for _, b := range m.briefings {
		if b.UserID != userID {
			continue
		}
		if latest == nil || b.GeneratedAt.After(latest.GeneratedAt) {
			cp := b
			latest = &cp
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("briefing for user %s: %w", userID, ErrNotFound)
	}
	return latest, nil
}

// MarkDelivered sets the delivery timestamp of a briefing.
func (m *MockStore) MarkDelivered(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.briefings[id]
	if !ok {
		return fmt.Errorf("briefing %s: %w", id, ErrNotFound)
	}
	b.DeliveredAt = &at
	m.briefings[id] = b
	return nil
}

// --- profiles ---

// GetProfile retrieves a profile by user ID.
func (m *MockStore) GetProfile(_ context.Context, userID string) (*models.UserProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[userID]
	if !ok {
		return nil, fmt.Errorf("profile %s: %w", userID, ErrNotFound)
	}
	return &p, nil
}

// SaveProfile inserts or replaces a profile.
func (m *MockStore) SaveProfile(_ context.Context, p models.UserProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.UserID] = p
	return nil
}

// ListActiveProfiles returns active profiles ordered by user ID.
func (m *MockStore) ListActiveProfiles(_ context.Context) ([]models.UserProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.UserProfile
	for _, p := range m.profiles {
		if p.Active {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func provenanceKey(signalID, userID string) string {
	return signalID + "|" + userID
}

// copySignal deep-copies mutable fields to prevent external mutation of stored data.
func copySignal(s models.Signal) models.Signal {
	if len(s.Metadata) > 0 {
		meta := make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			meta[k] = v
		}
		s.Metadata = meta
	}
	if len(s.Embedding) > 0 {
		emb := make([]float32, len(s.Embedding))
		copy(emb, s.Embedding)
		s.Embedding = emb
	}
	return s
}

func copyEntity(e models.KnowledgeEntity) models.KnowledgeEntity {
	if len(e.RelatedEntityIDs) > 0 {
		ids := make([]string, len(e.RelatedEntityIDs))
		copy(ids, e.RelatedEntityIDs)
		e.RelatedEntityIDs = ids
	}
	if len(e.Embedding) > 0 {
		emb := make([]float32, len(e.Embedding))
		copy(emb, e.Embedding)
		e.Embedding = emb
	}
	return e
}
