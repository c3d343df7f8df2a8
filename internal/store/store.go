package store

import (
	"context"
	"errors"
	"time"

	"github.com/ajitpratap0/openclaw-briefing/internal/models"
)

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrCrossUserEdge is returned when an edge endpoint belongs to another user's graph.
var ErrCrossUserEdge = errors.New("edge endpoints must belong to the same user")

// SignalStore persists shared signals and per-user provenance.
type SignalStore interface {
	// InsertSignal stores sig unless a signal with the same source URL or
	// content hash already exists. It returns the stored signal (the existing
	// one on a duplicate) and whether a new row was created.
	InsertSignal(ctx context.Context, sig models.Signal) (models.Signal, bool, error)

	// GetSignal retrieves a single signal by ID.
	GetSignal(ctx context.Context, id string) (*models.Signal, error)

	// GetSignals retrieves the signals with the given IDs. Missing IDs are skipped.
	GetSignals(ctx context.Context, ids []string) ([]models.Signal, error)

	// AddProvenance inserts a provenance row, ignoring conflicts on
	// (signal, user). It reports whether a row was created.
	AddProvenance(ctx context.Context, p models.SignalProvenance) (bool, error)

	// HasProvenance reports whether the user has a provenance row for the signal.
	HasProvenance(ctx context.Context, userID, signalID string) (bool, error)

	// ListUserSignals returns signals attributed to the user whose provenance
	// was created at or after since, newest first.
	ListUserSignals(ctx context.Context, userID string, since time.Time) ([]models.UserSignal, error)
}

// KnowledgeStore persists each user's knowledge graph as flat entity and edge tables.
type KnowledgeStore interface {
	// UpsertEntity inserts or updates an entity.
	UpsertEntity(ctx context.Context, entity models.KnowledgeEntity) error

	// GetEntity retrieves a single entity owned by the user.
	GetEntity(ctx context.Context, userID, id string) (*models.KnowledgeEntity, error)

	// FindEntityByName returns the user's entity with the given name, compared
	// case-insensitively.
	FindEntityByName(ctx context.Context, userID, name string) (*models.KnowledgeEntity, error)

	// ListEntities returns every entity owned by the user.
	ListEntities(ctx context.Context, userID string) ([]models.KnowledgeEntity, error)

	// DeleteEntities removes the user's entities with the given IDs and every
	// edge touching them. It returns the number of entities removed.
	DeleteEntities(ctx context.Context, userID string, ids []string) (int, error)

	// UpsertEdge inserts or updates an edge. Both endpoints must exist in the
	// edge owner's graph.
	UpsertEdge(ctx context.Context, edge models.KnowledgeEdge) error

	// ListEdges returns every edge in the user's graph.
	ListEdges(ctx context.Context, userID string) ([]models.KnowledgeEdge, error)
}

// ExposureStore persists delivery exposure and explicit feedback.
type ExposureStore interface {
	RecordExposure(ctx context.Context, rec models.ExposureRecord) error
	ListExposures(ctx context.Context, userID string) ([]models.ExposureRecord, error)

	// MarkEngaged flags the user's exposures of signalID as engaged and
	// returns the updated records.
	MarkEngaged(ctx context.Context, userID, signalID string) ([]models.ExposureRecord, error)

	RecordFeedback(ctx context.Context, ev models.FeedbackEvent) error
	ListFeedback(ctx context.Context, userID string) ([]models.FeedbackEvent, error)
}

// RunStore persists pipeline runs. Runs are append-only; SaveRun on an
// existing ID replaces the stored snapshot of that run.
type RunStore interface {
	SaveRun(ctx context.Context, run models.PipelineRun) error
	GetRun(ctx context.Context, id string) (*models.PipelineRun, error)
	ListRuns(ctx context.Context, userID string, limit int) ([]models.PipelineRun, error)
}

// BriefingStore persists composed briefings.
type BriefingStore interface {
	// SaveBriefing persists the briefing and returns the ID of the stored row.
	SaveBriefing(ctx context.Context, b models.Briefing) (string, error)
	GetBriefing(ctx context.Context, id string) (*models.Briefing, error)
	// LatestBriefing returns the user's most recently generated briefing.
	LatestBriefing(ctx context.Context, userID string) (*models.Briefing, error)
	MarkDelivered(ctx context.Context, id string, at time.Time) error
}

// ProfileStore reads and updates user profiles.
type ProfileStore interface {
	GetProfile(ctx context.Context, userID string) (*models.UserProfile, error)
	SaveProfile(ctx context.Context, p models.UserProfile) error
	ListActiveProfiles(ctx context.Context) ([]models.UserProfile, error)
}

// Store is the full persistence surface used by the pipeline.
type Store interface {
	SignalStore
	KnowledgeStore
	ExposureStore
	RunStore
	BriefingStore
	ProfileStore

	// Close cleans up resources.
	Close() error
}
