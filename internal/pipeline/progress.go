package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ajitpratap0/openclaw-briefing/internal/models"
)

// ErrNoProgress is returned when a user has no run in flight.
var ErrNoProgress = errors.New("no progress recorded")

// Progress is the live state of one user's run.
type Progress struct {
	UserID      string         `json:"user_id"`
	RunID       string         `json:"run_id"`
	RunType     models.RunType `json:"run_type"`
	Stage       models.Stage   `json:"stage,omitempty"`
	StagesDone  int            `json:"stages_done"`
	StagesTotal int            `json:"stages_total"`
	Message     string         `json:"message,omitempty"`
	BriefingID  string         `json:"briefing_id,omitempty"`
	// Error is the latest degraded stage's error; the run is still going.
	Error     string    `json:"error,omitempty"`
	ElapsedMs int64     `json:"elapsed_ms"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StageUpdate describes the stage a run entered. Empty BriefingID and Error
// keep the values already recorded.
type StageUpdate struct {
	Stage      models.Stage
	Message    string
	BriefingID string
	Error      string
}

// ProgressTracker is the progress table. Entries are created when a run
// starts, updated on each stage, and cleared when the run ends; entries
// left behind by a crashed process expire after the tracker's TTL.
type ProgressTracker interface {
	Start(ctx context.Context, userID, runID string, runType models.RunType) error
	Update(ctx context.Context, userID string, u StageUpdate) error
	Clear(ctx context.Context, userID string) error
	Get(ctx context.Context, userID string) (*Progress, error)
}

func advance(p *Progress, u StageUpdate, now time.Time) {
	p.Stage = u.Stage
	p.Message = u.Message
	if u.BriefingID != "" {
		p.BriefingID = u.BriefingID
	}
	if u.Error != "" {
		p.Error = u.Error
	}
	for i, s := range models.StageOrder {
		if s == u.Stage {
			p.StagesDone = i
		}
	}
	p.UpdatedAt = now
}

func withElapsed(p *Progress, now time.Time) *Progress {
	p.ElapsedMs = max(now.Sub(p.StartedAt).Milliseconds(), 0)
	return p
}

// MemoryProgress keeps progress in process memory.
type MemoryProgress struct {
	mu      sync.Mutex
	entries map[string]Progress
	ttl     time.Duration
	now     func() time.Time
}

var _ ProgressTracker = (*MemoryProgress)(nil)

// NewMemoryProgress creates an in-memory tracker whose entries expire ttl
// after their last update.
func NewMemoryProgress(ttl time.Duration) *MemoryProgress {
	return &MemoryProgress{
		entries: make(map[string]Progress),
		ttl:     ttl,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Start creates the user's entry, replacing any stale one.
func (m *MemoryProgress) Start(_ context.Context, userID, runID string, runType models.RunType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.entries[userID] = Progress{
		UserID: userID, RunID: runID, RunType: runType,
		StagesTotal: len(models.StageOrder), StartedAt: now, UpdatedAt: now,
	}
	return nil
}

// Update records the stage the user's run entered.
func (m *MemoryProgress) Update(_ context.Context, userID string, u StageUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.live(userID)
	if !ok {
		return fmt.Errorf("updating %s: %w", userID, ErrNoProgress)
	}
	advance(&p, u, m.now())
	m.entries[userID] = p
	return nil
}

// Clear removes the user's entry.
func (m *MemoryProgress) Clear(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, userID)
	return nil
}

// Get returns the user's entry if it has not expired.
func (m *MemoryProgress) Get(_ context.Context, userID string) (*Progress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.live(userID)
	if !ok {
		return nil, ErrNoProgress
	}
	return withElapsed(&p, m.now()), nil
}

// live must be called with mu held. Expired entries are dropped.
func (m *MemoryProgress) live(userID string) (Progress, bool) {
	p, ok := m.entries[userID]
	if !ok {
		return Progress{}, false
	}
	if m.ttl > 0 && m.now().Sub(p.UpdatedAt) > m.ttl {
		delete(m.entries, userID)
		return Progress{}, false
	}
	return p, true
}

// RedisProgress keeps progress in Redis so any API replica can report it.
type RedisProgress struct {
	client    *redis.Client
	ttl       time.Duration
	keyPrefix string
	now       func() time.Time
}

var _ ProgressTracker = (*RedisProgress)(nil)

// NewRedisProgress creates a Redis-backed tracker. Keys expire ttl after
// the last update.
func NewRedisProgress(client *redis.Client, ttl time.Duration) *RedisProgress {
	return &RedisProgress{
		client:    client,
		ttl:       ttl,
		keyPrefix: "openclaw_briefing:progress:",
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// OpenRedis connects to Redis and verifies the connection.
func OpenRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", addr, err)
	}
	return client, nil
}

func (r *RedisProgress) key(userID string) string {
	return r.keyPrefix + userID
}

func (r *RedisProgress) put(ctx context.Context, p Progress) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshaling progress: %w", err)
	}
	if err := r.client.Set(ctx, r.key(p.UserID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("writing progress for %s: %w", p.UserID, err)
	}
	return nil
}

// Start creates the user's entry, replacing any stale one.
func (r *RedisProgress) Start(ctx context.Context, userID, runID string, runType models.RunType) error {
	now := r.now()
	return r.put(ctx, Progress{
		UserID: userID, RunID: runID, RunType: runType,
		StagesTotal: len(models.StageOrder), StartedAt: now, UpdatedAt: now,
	})
}

// Update records the stage the user's run entered and refreshes the TTL.
func (r *RedisProgress) Update(ctx context.Context, userID string, u StageUpdate) error {
	p, err := r.Get(ctx, userID)
	if err != nil {
		return fmt.Errorf("updating %s: %w", userID, err)
	}
	advance(p, u, r.now())
	return r.put(ctx, *p)
}

// Clear removes the user's entry.
func (r *RedisProgress) Clear(ctx context.Context, userID string) error {
	if err := r.client.Del(ctx, r.key(userID)).Err(); err != nil {
		return fmt.Errorf("clearing progress for %s: %w", userID, err)
	}
	return nil
}

// Get returns the user's entry.
func (r *RedisProgress) Get(ctx context.Context, userID string) (*Progress, error) {
	data, err := r.client.Get(ctx, r.key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoProgress
	}
	if err != nil {
		return nil, fmt.Errorf("reading progress for %s: %w", userID, err)
	}
	var p Progress
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decoding progress for %s: %w", userID, err)
	}
	return withElapsed(&p, r.now()), nil
}
