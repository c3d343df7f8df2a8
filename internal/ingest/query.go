package ingest

import (
	"strings"
	"time"

	"github.com/ajitpratap0/openclaw-briefing/internal/models"
)

// QueryKind routes a query to the adapters able to poll it.
type QueryKind string

const (
	KindSearch     QueryKind = "search"
	KindResearch   QueryKind = "research"
	KindFeed       QueryKind = "feed"
	KindNewsletter QueryKind = "newsletter"
	KindPerson     QueryKind = "person"
)

// Query is one unit of polling work derived from a user profile.
type Query struct {
	Kind QueryKind
	// Text is the search phrase, feed URL or mailbox address.
	Text             string
	Label            string
	Trigger          models.TriggerReason
	ProfileReference string
	// Since is the start of the lookback window, set by the orchestrator.
	Since time.Time
}

// DeriveQueries is the single path turning a profile into polling work for
// every adapter. Blank and duplicate entries are dropped, and each kind is
// capped at maxPerKind queries (0 means unlimited).
func DeriveQueries(p models.UserProfile, maxPerKind int) []Query {
	d := &deriver{seen: map[string]bool{}, counts: map[QueryKind]int{}, max: maxPerKind}

	for _, org := range p.FollowedOrgs {
		d.add(KindSearch, org, "", models.TriggerFollowedOrg, "followed_orgs")
	}
	for _, org := range p.PeerOrgs {
		d.add(KindSearch, org, "", models.TriggerPeerOrg, "peer_orgs")
	}
	for _, name := range p.ImpressList {
		d.add(KindSearch, name, "", models.TriggerImpressList, "impress_list")
	}
	if p.Industry != "" {
		d.add(KindSearch, p.Industry, "", models.TriggerIndustryScan, "industry")
	}
	for _, topic := range p.Topics {
		d.add(KindSearch, topic, "", models.TriggerIndustryScan, "topics")
	}
	for _, initiative := range p.Initiatives {
		d.add(KindSearch, initiative, "", models.TriggerIntelligenceGoal, "initiatives")
	}
	for _, goal := range p.IntelligenceGoals {
		d.add(KindResearch, goal, "", models.TriggerIntelligenceGoal, "intelligence_goals")
	}
	for _, q := range p.ResearchQueries {
		d.add(KindResearch, q, "", models.TriggerIntelligenceGoal, "research_queries")
	}
	for _, f := range p.Feeds {
		d.add(KindFeed, f.URL, f.Label, models.TriggerUserCurated, "feeds")
	}
	for _, addr := range p.NewsletterAddresses {
		d.add(KindNewsletter, addr, "", models.TriggerNewsletterSubscription, "newsletter_addresses")
	}
	for _, w := range p.PersonalWatches {
		d.add(KindPerson, w.Name, w.Relation, models.TriggerPersonalGraph, "personal_watches")
	}
	return d.out
}

type deriver struct {
	seen   map[string]bool
	counts map[QueryKind]int
	max    int
	out    []Query
}

func (d *deriver) add(kind QueryKind, text, label string, trigger models.TriggerReason, field string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	key := string(kind) + "\x00" + strings.ToLower(text)
	if d.seen[key] {
		return
	}
	if d.max > 0 && d.counts[kind] >= d.max {
		return
	}
	d.seen[key] = true
	d.counts[kind]++
	d.out = append(d.out, Query{
		Kind:             kind,
		Text:             text,
		Label:            label,
		Trigger:          trigger,
		ProfileReference: field + ":" + text,
	})
}

// filterKinds keeps the queries whose kind is one of kinds.
func filterKinds(qs []Query, kinds ...QueryKind) []Query {
	var out []Query
	for _, q := range qs {
		for _, k := range kinds {
			if q.Kind == k {
				out = append(out, q)
				break
			}
		}
	}
	return out
}
