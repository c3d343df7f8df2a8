package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ajitpratap0/openclaw-briefing/internal/models"
)

// SQLStore implements Store on top of gorm. It runs against SQLite for
// single-node deployments and tests, and Postgres in production.
type SQLStore struct {
	db     *gorm.DB
	logger *slog.Logger
}

var _ Store = (*SQLStore)(nil)

// OpenSQL opens a gorm connection for the given driver ("sqlite" or "postgres").
func OpenSQL(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %w", driver, err)
	}
	return db, nil
}

// NewSQLStore wraps an open gorm connection.
func NewSQLStore(db *gorm.DB, logger *slog.Logger) *SQLStore {
	return &SQLStore{db: db, logger: logger}
}

// Migrate creates or updates every table used by the store.
func (s *SQLStore) Migrate(ctx context.Context) error {
	err := s.db.WithContext(ctx).AutoMigrate(
		&signalRow{},
		&provenanceRow{},
		&entityRow{},
		&edgeRow{},
		&exposureRow{},
		&feedbackRow{},
		&runRow{},
		&briefingRow{},
		&profileRow{},
	)
	if err != nil {
		return fmt.Errorf("auto migrating: %w", err)
	}
	s.logger.Info("store schema migrated")
	return nil
}

// Close releases the underlying connection pool.
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting sql.DB: %w", err)
	}
	return sqlDB.Close()
}

// --- rows ---

type signalRow struct {
	ID          string  `gorm:"primaryKey"`
	Layer       string  `gorm:"index"`
	SourceURL   *string `gorm:"uniqueIndex"`
	Title       string
	Content     string
	Summary     string
	Metadata    map[string]string `gorm:"serializer:json"`
	Embedding   []float32         `gorm:"serializer:json"`
	ContentHash *string           `gorm:"uniqueIndex"`
	PublishedAt time.Time
	IngestedAt  time.Time
}

func (signalRow) TableName() string { return "signals" }

type provenanceRow struct {
	ID               string `gorm:"primaryKey"`
	SignalID         string `gorm:"uniqueIndex:idx_provenance_signal_user"`
	UserID           string `gorm:"uniqueIndex:idx_provenance_signal_user;index"`
	TriggerReason    string
	ProfileReference string
	CreatedAt        time.Time `gorm:"index"`
}

func (provenanceRow) TableName() string { return "signal_provenance" }

type entityRow struct {
	ID               string `gorm:"primaryKey"`
	UserID           string `gorm:"index"`
	EntityType       string
	Name             string `gorm:"index"`
	Description      string
	Source           string
	Confidence       float64
	KnownSince       time.Time
	LastReinforced   time.Time
	Embedding        []float32 `gorm:"serializer:json"`
	RelatedEntityIDs []string  `gorm:"serializer:json"`
}

func (entityRow) TableName() string { return "knowledge_entities" }

type edgeRow struct {
	ID             string `gorm:"primaryKey"`
	UserID         string `gorm:"index"`
	SourceEntityID string `gorm:"index"`
	TargetEntityID string `gorm:"index"`
	Relationship   string
}

func (edgeRow) TableName() string { return "knowledge_edges" }

type exposureRow struct {
	ID          string `gorm:"primaryKey"`
	UserID      string `gorm:"index"`
	SignalID    string `gorm:"index"`
	BriefingID  string
	EntityIDs   []string `gorm:"serializer:json"`
	DeliveredAt time.Time
	UserEngaged bool
}

func (exposureRow) TableName() string { return "exposure_records" }

type feedbackRow struct {
	ID             string `gorm:"primaryKey"`
	UserID         string `gorm:"index"`
	SignalID       string
	BriefingItemID string
	Kind           string
	Topic          string
	CreatedAt      time.Time
}

func (feedbackRow) TableName() string { return "feedback_events" }

type runRow struct {
	ID               string `gorm:"primaryKey"`
	UserID           string `gorm:"index"`
	Status           string
	RunType          string
	Stages           []models.PipelineStageResult `gorm:"serializer:json"`
	BriefingID       string
	StartedAt        time.Time `gorm:"index"`
	CompletedAt      *time.Time
	ErrorMessage     string
	PromptTokens     int64
	CompletionTokens int64
}

func (runRow) TableName() string { return "pipeline_runs" }

type briefingRow struct {
	ID               string                `gorm:"primaryKey"`
	UserID           string                `gorm:"index"`
	Items            []models.BriefingItem `gorm:"serializer:json"`
	GeneratedAt      time.Time             `gorm:"index"`
	DeliveredAt      *time.Time
	PromptTokens     int64
	CompletionTokens int64
}

func (briefingRow) TableName() string { return "briefings" }

type profileRow struct {
	UserID  string             `gorm:"primaryKey"`
	Active  bool               `gorm:"index"`
	Profile models.UserProfile `gorm:"serializer:json"`
}

func (profileRow) TableName() string { return "user_profiles" }

// --- signals ---

// InsertSignal stores sig unless its URL or content hash already exists.
// Both columns carry unique indexes, so concurrent writers racing on the
// same article converge on one row.
func (s *SQLStore) InsertSignal(ctx context.Context, sig models.Signal) (models.Signal, bool, error) {
	existing, err := s.findDuplicateSignal(ctx, sig.SourceURL, sig.ContentHash)
	if err != nil {
		return models.Signal{}, false, err
	}
	if existing != nil {
		return existing.toModel(), false, nil
	}
	return s.createSignal(ctx, signalFromModel(sig))
}

// createSignal inserts row, or loads the row that won a dedup conflict.
func (s *SQLStore) createSignal(ctx context.Context, row signalRow) (models.Signal, bool, error) {
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return models.Signal{}, false, fmt.Errorf("inserting signal: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return row.toModel(), true, nil
	}
	winner, err := s.findDuplicateSignal(ctx, deref(row.SourceURL), deref(row.ContentHash))
	if err != nil {
		return models.Signal{}, false, err
	}
	if winner == nil {
		return models.Signal{}, false, fmt.Errorf("signal %s conflicted but no duplicate found", row.ID)
	}
	return winner.toModel(), false, nil
}

func (s *SQLStore) findDuplicateSignal(ctx context.Context, sourceURL, contentHash string) (*signalRow, error) {
	if sourceURL == "" && contentHash == "" {
		return nil, nil
	}
	q := s.db.WithContext(ctx).Where("1 = 0")
	if sourceURL != "" {
		q = q.Or("source_url = ?", sourceURL)
	}
	if contentHash != "" {
		q = q.Or("content_hash = ?", contentHash)
	}
	var rows []signalRow
	if err := q.Limit(1).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("looking up duplicate signal: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// GetSignal retrieves a single signal by ID.
func (s *SQLStore) GetSignal(ctx context.Context, id string) (*models.Signal, error) {
	var row signalRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "signal "+id)
	}
	sig := row.toModel()
	return &sig, nil
}

// GetSignals retrieves the signals with the given IDs, in request order.
func (s *SQLStore) GetSignals(ctx context.Context, ids []string) ([]models.Signal, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []signalRow
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing signals: %w", err)
	}
	byID := make(map[string]signalRow, len(rows))
	for i := range rows {
		byID[rows[i].ID] = rows[i]
	}
	out := make([]models.Signal, 0, len(rows))
	for _, id := range ids {
		if row, ok := byID[id]; ok {
			out = append(out, row.toModel())
		}
	}
	return out, nil
}

// AddProvenance inserts a provenance row, ignoring (signal, user) conflicts.
func (s *SQLStore) AddProvenance(ctx context.Context, p models.SignalProvenance) (bool, error) {
	row := provenanceRow{
		ID:               p.ID,
		SignalID:         p.SignalID,
		UserID:           p.UserID,
		TriggerReason:    string(p.TriggerReason),
		ProfileReference: p.ProfileReference,
		CreatedAt:        p.CreatedAt,
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return false, fmt.Errorf("inserting provenance: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// HasProvenance reports whether (signal, user) has a provenance row.
func (s *SQLStore) HasProvenance(ctx context.Context, userID, signalID string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&provenanceRow{}).
		Where("user_id = ? AND signal_id = ?", userID, signalID).Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("counting provenance: %w", err)
	}
	return n > 0, nil
}

// ListUserSignals returns the user's signals attributed since the given time.
func (s *SQLStore) ListUserSignals(ctx context.Context, userID string, since time.Time) ([]models.UserSignal, error) {
	var provs []provenanceRow
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND created_at >= ?", userID, since).
		Order("created_at DESC").Order("signal_id").
		Find(&provs).Error
	if err != nil {
		return nil, fmt.Errorf("listing provenance: %w", err)
	}
	if len(provs) == 0 {
		return nil, nil
	}
	ids := make([]string, len(provs))
	for i := range provs {
		ids[i] = provs[i].SignalID
	}
	sigs, err := s.GetSignals(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]models.Signal, len(sigs))
	for i := range sigs {
		byID[sigs[i].ID] = sigs[i]
	}
	out := make([]models.UserSignal, 0, len(provs))
	for i := range provs {
		sig, ok := byID[provs[i].SignalID]
		if !ok {
			continue
		}
		out = append(out, models.UserSignal{Signal: sig, Provenance: provs[i].toModel()})
	}
	return out, nil
}

// --- knowledge graph ---

// UpsertEntity inserts or updates an entity.
func (s *SQLStore) UpsertEntity(ctx context.Context, e models.KnowledgeEntity) error {
	row := entityFromModel(e)
	if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
		return fmt.Errorf("upserting entity %s: %w", e.ID, err)
	}
	return nil
}

// GetEntity retrieves a single entity owned by the user.
func (s *SQLStore) GetEntity(ctx context.Context, userID, id string) (*models.KnowledgeEntity, error) {
	var row entityRow
	if err := s.db.WithContext(ctx).First(&row, "id = ? AND user_id = ?", id, userID).Error; err != nil {
		return nil, notFound(err, "entity "+id)
	}
	e := row.toModel()
	return &e, nil
}

// FindEntityByName looks up the user's entity by case-insensitive name.
func (s *SQLStore) FindEntityByName(ctx context.Context, userID, name string) (*models.KnowledgeEntity, error) {
	var row entityRow
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND LOWER(name) = ?", userID, strings.ToLower(strings.TrimSpace(name))).
		Order("confidence DESC").
		First(&row).Error
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("entity %q", name))
	}
	e := row.toModel()
	return &e, nil
}

// ListEntities returns the user's entities ordered by name.
func (s *SQLStore) ListEntities(ctx context.Context, userID string) ([]models.KnowledgeEntity, error) {
	var rows []entityRow
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("name").Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing entities: %w", err)
	}
	out := make([]models.KnowledgeEntity, len(rows))
	for i := range rows {
		out[i] = rows[i].toModel()
	}
	return out, nil
}

// DeleteEntities removes entities and cascades to their edges.
func (s *SQLStore) DeleteEntities(ctx context.Context, userID string, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var removed int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("user_id = ? AND (source_entity_id IN ? OR target_entity_id IN ?)", userID, ids, ids).
			Delete(&edgeRow{}).Error
		if err != nil {
			return fmt.Errorf("deleting edges: %w", err)
		}
		res := tx.Where("user_id = ? AND id IN ?", userID, ids).Delete(&entityRow{})
		if res.Error != nil {
			return fmt.Errorf("deleting entities: %w", res.Error)
		}
		removed = res.RowsAffected
		return nil
	})
	return int(removed), err
}

// UpsertEdge inserts or updates an edge after checking both endpoints.
func (s *SQLStore) UpsertEdge(ctx context.Context, edge models.KnowledgeEdge) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var endpoints []entityRow
		err := tx.Where("id IN ?", []string{edge.SourceEntityID, edge.TargetEntityID}).Find(&endpoints).Error
		if err != nil {
			return fmt.Errorf("loading edge endpoints: %w", err)
		}
		found := make(map[string]string, len(endpoints))
		for i := range endpoints {
			found[endpoints[i].ID] = endpoints[i].UserID
		}
		for _, id := range []string{edge.SourceEntityID, edge.TargetEntityID} {
			owner, ok := found[id]
			if !ok {
				return fmt.Errorf("edge endpoint %s: %w", id, ErrNotFound)
			}
			if owner != edge.UserID {
				return ErrCrossUserEdge
			}
		}
		row := edgeRow{
			ID:             edge.ID,
			UserID:         edge.UserID,
			SourceEntityID: edge.SourceEntityID,
			TargetEntityID: edge.TargetEntityID,
			Relationship:   string(edge.Relationship),
		}
		if err := tx.Save(&row).Error; err != nil {
			return fmt.Errorf("upserting edge: %w", err)
		}
		return nil
	})
}

// ListEdges returns every edge in the user's graph.
func (s *SQLStore) ListEdges(ctx context.Context, userID string) ([]models.KnowledgeEdge, error) {
	var rows []edgeRow
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing edges: %w", err)
	}
	out := make([]models.KnowledgeEdge, len(rows))
	for i := range rows {
		out[i] = models.KnowledgeEdge{
			ID:             rows[i].ID,
			UserID:         rows[i].UserID,
			SourceEntityID: rows[i].SourceEntityID,
			TargetEntityID: rows[i].TargetEntityID,
			Relationship:   models.Relationship(rows[i].Relationship),
		}
	}
	return out, nil
}

// --- exposure & feedback ---

// RecordExposure appends an exposure record.
func (s *SQLStore) RecordExposure(ctx context.Context, rec models.ExposureRecord) error {
	row := exposureRow(rec)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("recording exposure: %w", err)
	}
	return nil
}

// ListExposures returns the user's exposure history.
func (s *SQLStore) ListExposures(ctx context.Context, userID string) ([]models.ExposureRecord, error) {
	var rows []exposureRow
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("delivered_at").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing exposures: %w", err)
	}
	out := make([]models.ExposureRecord, len(rows))
	for i := range rows {
		out[i] = models.ExposureRecord(rows[i])
	}
	return out, nil
}

// MarkEngaged flags matching exposures as engaged.
func (s *SQLStore) MarkEngaged(ctx context.Context, userID, signalID string) ([]models.ExposureRecord, error) {
	var rows []exposureRow
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&exposureRow{}).
			Where("user_id = ? AND signal_id = ?", userID, signalID).
			Update("user_engaged", true).Error; err != nil {
			return fmt.Errorf("marking exposure engaged: %w", err)
		}
		return tx.Where("user_id = ? AND signal_id = ?", userID, signalID).Order("delivered_at").Find(&rows).Error
	})
	if err != nil {
		return nil, err
	}
	out := make([]models.ExposureRecord, len(rows))
	for i := range rows {
		out[i] = models.ExposureRecord(rows[i])
	}
	return out, nil
}

// RecordFeedback appends a feedback event.
func (s *SQLStore) RecordFeedback(ctx context.Context, ev models.FeedbackEvent) error {
	row := feedbackRow{
		ID:             ev.ID,
		UserID:         ev.UserID,
		SignalID:       ev.SignalID,
		BriefingItemID: ev.BriefingItemID,
		Kind:           string(ev.Kind),
		Topic:          ev.Topic,
		CreatedAt:      ev.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("recording feedback: %w", err)
	}
	return nil
}

// ListFeedback returns the user's feedback events.
func (s *SQLStore) ListFeedback(ctx context.Context, userID string) ([]models.FeedbackEvent, error) {
	var rows []feedbackRow
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing feedback: %w", err)
	}
	out := make([]models.FeedbackEvent, len(rows))
	for i := range rows {
		out[i] = models.FeedbackEvent{
			ID:             rows[i].ID,
			UserID:         rows[i].UserID,
			SignalID:       rows[i].SignalID,
			BriefingItemID: rows[i].BriefingItemID,
			Kind:           models.FeedbackKind(rows[i].Kind),
			Topic:          rows[i].Topic,
			CreatedAt:      rows[i].CreatedAt,
		}
	}
	return out, nil
}

// --- runs ---

// SaveRun stores a snapshot of the run.
func (s *SQLStore) SaveRun(ctx context.Context, run models.PipelineRun) error {
	row := runRow{
		ID:               run.ID,
		UserID:           run.UserID,
		Status:           string(run.Status),
		RunType:          string(run.RunType),
		Stages:           run.Stages,
		BriefingID:       run.BriefingID,
		StartedAt:        run.StartedAt,
		CompletedAt:      run.CompletedAt,
		ErrorMessage:     run.ErrorMessage,
		PromptTokens:     run.PromptTokens,
		CompletionTokens: run.CompletionTokens,
	}
	if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
		return fmt.Errorf("saving run %s: %w", run.ID, err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *SQLStore) GetRun(ctx context.Context, id string) (*models.PipelineRun, error) {
	var row runRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "run "+id)
	}
	run := row.toModel()
	return &run, nil
}

// ListRuns returns runs newest first; an empty userID lists all users.
func (s *SQLStore) ListRuns(ctx context.Context, userID string, limit int) ([]models.PipelineRun, error) {
	q := s.db.WithContext(ctx).Order("started_at DESC")
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []runRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	out := make([]models.PipelineRun, len(rows))
	for i := range rows {
		out[i] = rows[i].toModel()
	}
	return out, nil
}

// --- briefings ---

// SaveBriefing stores the briefing and returns the persisted ID.
func (s *SQLStore) SaveBriefing(ctx context.Context, b models.Briefing) (string, error) {
	row := briefingRow{
		ID:               b.ID,
		UserID:           b.UserID,
		Items:            b.Items,
		GeneratedAt:      b.GeneratedAt,
		DeliveredAt:      b.DeliveredAt,
		PromptTokens:     b.PromptTokens,
		CompletionTokens: b.CompletionTokens,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return "", fmt.Errorf("saving briefing: %w", err)
	}
	return row.ID, nil
}

// GetBriefing retrieves a briefing by ID.
func (s *SQLStore) GetBriefing(ctx context.Context, id string) (*models.Briefing, error) {
	var row briefingRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "briefing "+id)
	}
	b := row.toModel()
	return &b, nil
}

// LatestBriefing returns the user's most recent briefing.
func (s *SQLStore) LatestBriefing(ctx context.Context, userID string) (*models.Briefing, error) {
	var row briefingRow
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("generated_at DESC").First(&row).Error
	if err != nil {
		return nil, notFound(err, "briefing for user "+userID)
	}
	b := row.toModel()
	return &b, nil
}

// MarkDelivered sets the delivery timestamp of a briefing.
func (s *SQLStore) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&briefingRow{}).Where("id = ?", id).Update("delivered_at", at)
	if res.Error != nil {
		return fmt.Errorf("marking briefing %s delivered: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("briefing %s: %w", id, ErrNotFound)
	}
	return nil
}

// --- profiles ---

// GetProfile retrieves a profile by user ID.
func (s *SQLStore) GetProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	var row profileRow
	if err := s.db.WithContext(ctx).First(&row, "user_id = ?", userID).Error; err != nil {
		return nil, notFound(err, "profile "+userID)
	}
	return &row.Profile, nil
}

// SaveProfile inserts or replaces a profile.
func (s *SQLStore) SaveProfile(ctx context.Context, p models.UserProfile) error {
	row := profileRow{UserID: p.UserID, Active: p.Active, Profile: p}
	if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
		return fmt.Errorf("saving profile %s: %w", p.UserID, err)
	}
	return nil
}

// ListActiveProfiles returns active profiles ordered by user ID.
func (s *SQLStore) ListActiveProfiles(ctx context.Context) ([]models.UserProfile, error) {
	var rows []profileRow
	if err := s.db.WithContext(ctx).Where("active = ?", true).Order("user_id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing profiles: %w", err)
	}
	out := make([]models.UserProfile, len(rows))
	for i := range rows {
		out[i] = rows[i].Profile
	}
	return out, nil
}

// --- conversions ---

func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("loading %s: %w", what, err)
}

// nullable maps "" to NULL so blank keys stay outside the unique indexes.
func nullable(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func signalFromModel(s models.Signal) signalRow {
	return signalRow{
		ID:          s.ID,
		Layer:       string(s.Layer),
		SourceURL:   nullable(s.SourceURL),
		Title:       s.Title,
		Content:     s.Content,
		Summary:     s.Summary,
		Metadata:    s.Metadata,
		Embedding:   s.Embedding,
		ContentHash: nullable(s.ContentHash),
		PublishedAt: s.PublishedAt,
		IngestedAt:  s.IngestedAt,
	}
}

func (r signalRow) toModel() models.Signal {
	return models.Signal{
		ID:          r.ID,
		Layer:       models.SignalLayer(r.Layer),
		SourceURL:   deref(r.SourceURL),
		Title:       r.Title,
		Content:     r.Content,
		Summary:     r.Summary,
		Metadata:    r.Metadata,
		Embedding:   r.Embedding,
		ContentHash: deref(r.ContentHash),
		PublishedAt: r.PublishedAt,
		IngestedAt:  r.IngestedAt,
	}
}

func (r provenanceRow) toModel() models.SignalProvenance {
	return models.SignalProvenance{
		ID:               r.ID,
		SignalID:         r.SignalID,
		UserID:           r.UserID,
		TriggerReason:    models.TriggerReason(r.TriggerReason),
		ProfileReference: r.ProfileReference,
		CreatedAt:        r.CreatedAt,
	}
}

func entityFromModel(e models.KnowledgeEntity) entityRow {
	return entityRow{
		ID:               e.ID,
		UserID:           e.UserID,
		EntityType:       string(e.Type),
		Name:             e.Name,
		Description:      e.Description,
		Source:           e.Source,
		Confidence:       e.Confidence,
		KnownSince:       e.KnownSince,
		LastReinforced:   e.LastReinforced,
		Embedding:        e.Embedding,
		RelatedEntityIDs: e.RelatedEntityIDs,
	}
}

func (r entityRow) toModel() models.KnowledgeEntity {
	return models.KnowledgeEntity{
		ID:               r.ID,
		UserID:           r.UserID,
		Type:             models.EntityType(r.EntityType),
		Name:             r.Name,
		Description:      r.Description,
		Source:           r.Source,
		Confidence:       r.Confidence,
		KnownSince:       r.KnownSince,
		LastReinforced:   r.LastReinforced,
		Embedding:        r.Embedding,
		RelatedEntityIDs: r.RelatedEntityIDs,
	}
}

func (r runRow) toModel() models.PipelineRun {
	return models.PipelineRun{
		ID:               r.ID,
		UserID:           r.UserID,
		Status:           models.RunStatus(r.Status),
		RunType:          models.RunType(r.RunType),
		Stages:           r.Stages,
		BriefingID:       r.BriefingID,
		StartedAt:        r.StartedAt,
		CompletedAt:      r.CompletedAt,
		ErrorMessage:     r.ErrorMessage,
		PromptTokens:     r.PromptTokens,
		CompletionTokens: r.CompletionTokens,
	}
}

func (r briefingRow) toModel() models.Briefing {
	return models.Briefing{
		ID:               r.ID,
		UserID:           r.UserID,
		Items:            r.Items,
		GeneratedAt:      r.GeneratedAt,
		DeliveredAt:      r.DeliveredAt,
		PromptTokens:     r.PromptTokens,
		CompletionTokens: r.CompletionTokens,
	}
}
