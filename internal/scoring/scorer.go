// Package scoring ranks a user's recent signals by relevance to their profile
// and novelty against what they already know, producing the bounded
// candidate pool handed to the scoring agent.
package scoring

import (
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/ajitpratap0/openclaw-briefing/internal/config"
	"github.com/ajitpratap0/openclaw-briefing/internal/embedder"
	"github.com/ajitpratap0/openclaw-briefing/internal/models"
)

// Factor names.
const (
	FactorKeywordMatch       = "keyword-match"
	FactorSemanticSimilarity = "semantic-similarity"
	FactorProvenance         = "provenance"
	FactorGoalAlignment      = "goal-alignment"
	FactorFeedbackBoost      = "feedback-boost"
	FactorFreshness          = "freshness"
	FactorNovelty            = "novelty"

	FactorEntityNovelty = "entity-novelty"
	FactorRepetition    = "repetition"
	FactorExposure      = "exposure"
)

// Novelty sub-factor weights.
const (
	entityNoveltyWeight = 0.7
	repetitionWeight    = 0.3
)

// ProvenanceStrength maps each trigger reason to its provenance factor.
var ProvenanceStrength = map[models.TriggerReason]float64{
	models.TriggerUserCurated:            1.0,
	models.TriggerFollowedOrg:            0.9,
	models.TriggerNewsletterSubscription: 0.9,
	models.TriggerPersonalGraph:          0.85,
	models.TriggerImpressList:            0.8,
	models.TriggerIntelligenceGoal:       0.8,
	models.TriggerPeerOrg:                0.7,
	models.TriggerIndustryScan:           0.5,
}

// Factor is one weighted component of a score. Value is Weight × Raw.
type Factor struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
	Raw    float64 `json:"raw"`
	Value  float64 `json:"value"`
}

func newFactor(name string, weight, raw float64) Factor {
	raw = clamp01(raw)
	return Factor{Name: name, Weight: weight, Raw: raw, Value: weight * raw}
}

// RelevanceScore is the combined score of a signal for one user.
type RelevanceScore struct {
	TotalScore float64  `json:"total_score"`
	Factors    []Factor `json:"factors"`
}

// Factor returns the named factor, or a zero Factor.
func (r RelevanceScore) Factor(name string) Factor {
	for _, f := range r.Factors {
		if f.Name == name {
			return f
		}
	}
	return Factor{}
}

// NoveltyScore measures how new a signal is to the user.
type NoveltyScore struct {
	TotalNovelty         float64  `json:"total_novelty"`
	Factors              []Factor `json:"factors"`
	MatchedKnownEntities []string `json:"matched_known_entities"`
	NovelElements        []string `json:"novel_elements"`
}

// Weights are the relevance factor weights.
type Weights struct {
	Keyword    float64
	Semantic   float64
	Provenance float64
	Goal       float64
	Feedback   float64
	Freshness  float64
	Novelty    float64
}

// Options configures the scorer.
type Options struct {
	Weights                 Weights
	Multiplicative          bool
	MinimumThreshold        float64
	NoveltyMinimumThreshold float64
	MaxCandidates           int
	FreshnessHalfLife       time.Duration
	KnownConfidence         float64
}

// OptionsFromConfig converts the scoring config section into Options.
func OptionsFromConfig(c config.ScoringConfig) Options {
	return Options{
		Weights: Weights{
			Keyword:    c.KeywordWeight,
			Semantic:   c.SemanticWeight,
			Provenance: c.ProvenanceWeight,
			Goal:       c.GoalWeight,
			Feedback:   c.FeedbackWeight,
			Freshness:  c.FreshnessWeight,
			Novelty:    c.NoveltyWeight,
		},
		Multiplicative:          c.NoveltyMultiplicative,
		MinimumThreshold:        c.MinimumThreshold,
		NoveltyMinimumThreshold: c.NoveltyMinimumThreshold,
		MaxCandidates:           c.MaxCandidates,
		FreshnessHalfLife:       time.Duration(c.FreshnessHalfLifeHours * float64(time.Hour)),
		KnownConfidence:         c.KnownConfidence,
	}
}

// UserContext is everything about the user the scorer reads.
type UserContext struct {
	Profile  models.UserProfile
	Entities []models.KnowledgeEntity
	// Exposed holds IDs of signals already delivered to the user.
	Exposed map[string]bool
	// ExposedTitles are titles of previously delivered signals.
	ExposedTitles []string
	Feedback      []models.FeedbackEvent
	// ProfileEmbedding is optional; without it semantic similarity scores 0.
	ProfileEmbedding []float32

	keywords    []string
	goals       []map[string]bool
	exposedSets []map[string]bool
	prepared    bool
}

func (uc *UserContext) prepare() {
	if uc.prepared {
		return
	}
	uc.prepared = true
	p := uc.Profile
	seen := map[string]bool{}
	for _, group := range [][]string{p.Topics, p.Initiatives, p.Concerns, p.FollowedOrgs, p.PeerOrgs, p.ImpressList, {p.Industry}} {
		for _, k := range group {
			k = strings.ToLower(strings.TrimSpace(k))
			if k != "" && !seen[k] {
				seen[k] = true
				uc.keywords = append(uc.keywords, k)
			}
		}
	}
	for _, group := range [][]string{p.IntelligenceGoals, p.Initiatives, p.Concerns} {
		for _, g := range group {
			if set := tokenSet(g); len(set) > 0 {
				uc.goals = append(uc.goals, set)
			}
		}
	}
	for _, t := range uc.ExposedTitles {
		if set := tokenSet(t); len(set) > 0 {
			uc.exposedSets = append(uc.exposedSets, set)
		}
	}
}

// Candidate is a scored signal that passed the thresholds.
type Candidate struct {
	Signal     models.Signal           `json:"signal"`
	Provenance models.SignalProvenance `json:"provenance"`
	Relevance  RelevanceScore          `json:"relevance"`
	Novelty    NoveltyScore            `json:"novelty"`
}

// PoolStats counts what happened to each considered signal.
type PoolStats struct {
	Considered       int `json:"considered"`
	DroppedExposed   int `json:"dropped_exposed"`
	DroppedNovelty   int `json:"dropped_novelty"`
	DroppedRelevance int `json:"dropped_relevance"`
	Truncated        int `json:"truncated"`
}

// Pool is the ordered candidate set for one run.
type Pool struct {
	Candidates []Candidate `json:"candidates"`
	Stats      PoolStats   `json:"stats"`
}

// Scorer computes relevance and novelty scores.
type Scorer struct {
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

// NewScorer creates a scorer.
func NewScorer(opts Options, logger *slog.Logger) *Scorer {
	if opts.MaxCandidates <= 0 {
		opts.MaxCandidates = config.DefaultMaxCandidates
	}
	if opts.FreshnessHalfLife <= 0 {
		opts.FreshnessHalfLife = 36 * time.Hour
	}
	return &Scorer{opts: opts, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Novelty diffs the signal's terms against the user's known entities and
// exposure history. An already-delivered signal has novelty 0.
func (s *Scorer) Novelty(sig models.Signal, uc *UserContext) NoveltyScore {
	uc.prepare()
	if uc.Exposed[sig.ID] {
		return NoveltyScore{
			Factors: []Factor{newFactor(FactorExposure, 1, 0)},
		}
	}

	text := sig.Title + ". " + sig.Summary
	lower := strings.ToLower(text + " " + sig.Content)
	var matched, novel []string
	seenKnown := map[string]bool{}
	for i := range uc.Entities {
		ent := uc.Entities[i]
		name := strings.ToLower(strings.TrimSpace(ent.Name))
		if name == "" || ent.Confidence < s.opts.KnownConfidence || seenKnown[name] {
			continue
		}
		if containsPhrase(lower, name) {
			seenKnown[name] = true
			matched = append(matched, ent.Name)
		}
	}
	for _, phrase := range properPhrases(text) {
		key := strings.ToLower(phrase)
		if seenKnown[key] || s.coveredByKnown(key, uc) {
			continue
		}
		novel = append(novel, phrase)
	}

	entityNovelty := 0.5
	if total := len(matched) + len(novel); total > 0 {
		entityNovelty = float64(len(novel)) / float64(total)
	}

	repetition := 1.0
	titleSet := tokenSet(sig.Title)
	for _, set := range uc.exposedSets {
		if sim := jaccard(titleSet, set); 1-sim < repetition {
			repetition = 1 - sim
		}
	}

	factors := []Factor{
		newFactor(FactorEntityNovelty, entityNoveltyWeight, entityNovelty),
		newFactor(FactorRepetition, repetitionWeight, repetition),
		newFactor(FactorExposure, 1, 1),
	}
	return NoveltyScore{
		TotalNovelty:         clamp01(factors[0].Value + factors[1].Value),
		Factors:              factors,
		MatchedKnownEntities: matched,
		NovelElements:        novel,
	}
}

// coveredByKnown reports whether a phrase names a known entity, either
// exactly or as a word-bounded part of a longer known name.
func (s *Scorer) coveredByKnown(phrase string, uc *UserContext) bool {
	for i := range uc.Entities {
		ent := uc.Entities[i]
		if ent.Confidence < s.opts.KnownConfidence {
			continue
		}
		name := strings.ToLower(ent.Name)
		if name == phrase || containsPhrase(name, phrase) {
			return true
		}
	}
	return false
}

// Relevance scores a signal against the user's profile, combining the
// novelty score additively or multiplicatively per the options.
func (s *Scorer) Relevance(us models.UserSignal, uc *UserContext, novelty NoveltyScore) RelevanceScore {
	uc.prepare()
	w := s.opts.Weights
	sig := us.Signal
	text := strings.ToLower(sig.Title + " " + sig.Summary + " " + sig.Content)

	factors := []Factor{
		newFactor(FactorKeywordMatch, w.Keyword, keywordRaw(text, uc.keywords)),
		newFactor(FactorSemanticSimilarity, w.Semantic, embedder.Cosine(sig.Embedding, uc.ProfileEmbedding)),
		newFactor(FactorProvenance, w.Provenance, ProvenanceStrength[us.Provenance.TriggerReason]),
		newFactor(FactorGoalAlignment, w.Goal, goalRaw(tokenSet(text), uc.goals)),
		newFactor(FactorFeedbackBoost, w.Feedback, feedbackRaw(sig, text, uc.Feedback)),
		newFactor(FactorFreshness, w.Freshness, s.freshnessRaw(sig.PublishedAt)),
	}

	var total float64
	if s.opts.Multiplicative {
		var sum, weights float64
		for _, f := range factors {
			sum += f.Value
			weights += f.Weight
		}
		base := 0.0
		if weights > 0 {
			base = sum / weights
		}
		nf := newFactor(FactorNovelty, w.Novelty, novelty.TotalNovelty)
		factors = append(factors, nf)
		total = base * novelty.TotalNovelty
	} else {
		factors = append(factors, newFactor(FactorNovelty, w.Novelty, novelty.TotalNovelty))
		for _, f := range factors {
			total += f.Value
		}
	}
	return RelevanceScore{TotalScore: total, Factors: factors}
}

// BuildPool scores every signal, drops those below the novelty or relevance
// thresholds, orders the rest by total score descending (ties by publish
// time descending, then ID) and caps the result at MaxCandidates.
func (s *Scorer) BuildPool(signals []models.UserSignal, uc *UserContext) Pool {
	var pool Pool
	seen := make(map[string]bool, len(signals))
	for i := range signals {
		us := signals[i]
		if seen[us.Signal.ID] {
			continue
		}
		seen[us.Signal.ID] = true
		pool.Stats.Considered++

		nov := s.Novelty(us.Signal, uc)
		if uc.Exposed[us.Signal.ID] {
			pool.Stats.DroppedExposed++
			continue
		}
		if nov.TotalNovelty < s.opts.NoveltyMinimumThreshold {
			pool.Stats.DroppedNovelty++
			continue
		}
		rel := s.Relevance(us, uc, nov)
		if rel.TotalScore < s.opts.MinimumThreshold {
			pool.Stats.DroppedRelevance++
			continue
		}
		pool.Candidates = append(pool.Candidates, Candidate{
			Signal:     us.Signal,
			Provenance: us.Provenance,
			Relevance:  rel,
			Novelty:    nov,
		})
	}

	sort.SliceStable(pool.Candidates, func(i, j int) bool {
		a, b := pool.Candidates[i], pool.Candidates[j]
		if a.Relevance.TotalScore != b.Relevance.TotalScore {
			return a.Relevance.TotalScore > b.Relevance.TotalScore
		}
		if !a.Signal.PublishedAt.Equal(b.Signal.PublishedAt) {
			return a.Signal.PublishedAt.After(b.Signal.PublishedAt)
		}
		return a.Signal.ID < b.Signal.ID
	})
	if len(pool.Candidates) > s.opts.MaxCandidates {
		pool.Stats.Truncated = len(pool.Candidates) - s.opts.MaxCandidates
		pool.Candidates = pool.Candidates[:s.opts.MaxCandidates]
	}

	s.logger.Debug("candidate pool built",
		"considered", pool.Stats.Considered,
		"candidates", len(pool.Candidates),
		"dropped_exposed", pool.Stats.DroppedExposed,
		"dropped_novelty", pool.Stats.DroppedNovelty,
		"dropped_relevance", pool.Stats.DroppedRelevance,
		"truncated", pool.Stats.Truncated,
	)
	return pool
}

// keywordRaw saturates at three distinct profile keyword hits.
func keywordRaw(text string, keywords []string) float64 {
	hits := 0
	for _, k := range keywords {
		if containsPhrase(text, k) {
			hits++
		}
	}
	return math.Min(1.0, float64(hits)/3.0)
}

// goalRaw is the best token coverage of any single goal.
func goalRaw(textTokens map[string]bool, goals []map[string]bool) float64 {
	best := 0.0
	for _, g := range goals {
		hit := 0
		for t := range g {
			if textTokens[t] {
				hit++
			}
		}
		if cov := float64(hit) / float64(len(g)); cov > best {
			best = cov
		}
	}
	return best
}

// feedbackRaw starts neutral at 0.5 and moves 0.25 per net vote on the
// same signal or on a topic the signal mentions.
func feedbackRaw(sig models.Signal, text string, events []models.FeedbackEvent) float64 {
	net := 0
	for _, ev := range events {
		match := ev.SignalID != "" && ev.SignalID == sig.ID
		if !match && ev.Topic != "" {
			match = containsPhrase(text, strings.ToLower(strings.TrimSpace(ev.Topic)))
		}
		if !match {
			continue
		}
		switch ev.Kind {
		case models.FeedbackUp, models.FeedbackMore:
			net++
		case models.FeedbackDown, models.FeedbackLess:
			net--
		}
	}
	return clamp01(0.5 + 0.25*float64(net))
}

// freshnessRaw decays exponentially with the configured half-life.
func (s *Scorer) freshnessRaw(published time.Time) float64 {
	if published.IsZero() {
		return 0.1
	}
	hoursAgo := s.now().Sub(published).Hours()
	if hoursAgo < 0 {
		hoursAgo = 0
	}
	return math.Exp(-0.693 * hoursAgo / s.opts.FreshnessHalfLife.Hours())
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if b[t] {
			inter++
		}
	}
	return float64(inter) / float64(len(a)+len(b)-inter)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
