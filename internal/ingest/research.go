package ingest

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ajitpratap0/openclaw-briefing/internal/models"
)

// ResearchAdapter searches the arXiv Atom API for the user's intelligence
// goals and research queries.
type ResearchAdapter struct {
	baseURL    string
	fetch      httpFetcher
	maxResults int
}

var _ Adapter = (*ResearchAdapter)(nil)

// NewResearchAdapter creates an arXiv adapter.
func NewResearchAdapter(baseURL string, ratePerSec float64, maxResults int, timeout time.Duration) *ResearchAdapter {
	if maxResults <= 0 {
		maxResults = 20
	}
	return &ResearchAdapter{baseURL: baseURL, fetch: newHTTPFetcher(timeout, ratePerSec), maxResults: maxResults}
}

func (r *ResearchAdapter) Name() string { return "research" }

func (r *ResearchAdapter) Discover(_ context.Context, profile models.UserProfile) ([]Query, error) {
	return filterKinds(DeriveQueries(profile, 0), KindResearch), nil
}

func (r *ResearchAdapter) Poll(ctx context.Context, q Query) ([]models.Signal, error) {
	params := url.Values{}
	params.Set("search_query", "all:"+strconv.Quote(q.Text))
	params.Set("sortBy", "submittedDate")
	params.Set("sortOrder", "descending")
	params.Set("max_results", strconv.Itoa(r.maxResults))

	body, err := r.fetch.get(ctx, r.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	items, _, err := parseFeed(body)
	if err != nil {
		return nil, fmt.Errorf("parsing arxiv response: %w", err)
	}
	out := make([]models.Signal, 0, len(items))
	for _, it := range items {
		if it.link == "" || it.title == "" {
			continue
		}
		out = append(out, models.Signal{
			Layer:       models.LayerAIResearch,
			SourceURL:   strings.Replace(it.link, "http://", "https://", 1),
			Title:       it.title,
			Content:     it.content,
			Summary:     Summarize(it.content),
			PublishedAt: it.published,
			Metadata: map[string]string{
				"authors": it.author,
				"query":   q.Text,
				"archive": "arxiv",
			},
		})
	}
	return out, nil
}
