package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ajitpratap0/openclaw-briefing/internal/models"
)

// NewsConfig configures the news-search adapter.
type NewsConfig struct {
	BaseURL    string
	APIKey     string
	RatePerSec float64
	MaxResults int
	Timeout    time.Duration
}

// NewsAdapter searches a NewsAPI-compatible /v2/everything endpoint for the
// organizations, people and topics a user follows.
type NewsAdapter struct {
	cfg   NewsConfig
	fetch httpFetcher
}

var _ Adapter = (*NewsAdapter)(nil)

// NewNewsAdapter creates a news adapter.
func NewNewsAdapter(cfg NewsConfig) *NewsAdapter {
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 20
	}
	return &NewsAdapter{cfg: cfg, fetch: newHTTPFetcher(cfg.Timeout, cfg.RatePerSec)}
}

func (n *NewsAdapter) Name() string { return "news" }

func (n *NewsAdapter) Discover(_ context.Context, profile models.UserProfile) ([]Query, error) {
	return filterKinds(DeriveQueries(profile, 0), KindSearch), nil
}

func (n *NewsAdapter) Poll(ctx context.Context, q Query) ([]models.Signal, error) {
	return n.search(ctx, q, models.LayerNews)
}

type newsResponse struct {
	Status   string        `json:"status"`
	Message  string        `json:"message"`
	Articles []newsArticle `json:"articles"`
}

type newsArticle struct {
	Source struct {
		Name string `json:"name"`
	} `json:"source"`
	Author      string `json:"author"`
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
	PublishedAt string `json:"publishedAt"`
	Content     string `json:"content"`
}

func (n *NewsAdapter) search(ctx context.Context, q Query, layer models.SignalLayer) ([]models.Signal, error) {
	params := url.Values{}
	params.Set("q", `"`+q.Text+`"`)
	params.Set("sortBy", "publishedAt")
	params.Set("language", "en")
	params.Set("pageSize", strconv.Itoa(n.cfg.MaxResults))
	if !q.Since.IsZero() {
		params.Set("from", q.Since.UTC().Format(time.RFC3339))
	}
	header := http.Header{}
	if n.cfg.APIKey != "" {
		header.Set("X-Api-Key", n.cfg.APIKey)
	}

	body, err := n.fetch.get(ctx, n.cfg.BaseURL+"?"+params.Encode(), header)
	if err != nil {
		return nil, err
	}
	var resp newsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decoding news response: %w", err)
	}
	if resp.Status != "" && resp.Status != "ok" {
		return nil, fmt.Errorf("news api error: %s", resp.Message)
	}

	out := make([]models.Signal, 0, len(resp.Articles))
	for _, a := range resp.Articles {
		if a.URL == "" || a.Title == "" {
			continue
		}
		content := HTMLToText(a.Content)
		if content == "" {
			content = HTMLToText(a.Description)
		}
		out = append(out, models.Signal{
			Layer:       layer,
			SourceURL:   a.URL,
			Title:       a.Title,
			Content:     content,
			Summary:     Summarize(HTMLToText(a.Description)),
			PublishedAt: parseTime(a.PublishedAt),
			Metadata: map[string]string{
				"source_name": a.Source.Name,
				"author":      a.Author,
				"query":       q.Text,
			},
		})
	}
	return out, nil
}

// PersonalGraphAdapter watches people and organizations from the user's
// personal graph through the news-search backend.
type PersonalGraphAdapter struct {
	news *NewsAdapter
}

var _ Adapter = (*PersonalGraphAdapter)(nil)

// NewPersonalGraphAdapter shares the given news adapter's backend and limiter.
func NewPersonalGraphAdapter(news *NewsAdapter) *PersonalGraphAdapter {
	return &PersonalGraphAdapter{news: news}
}

func (p *PersonalGraphAdapter) Name() string { return "personal-graph" }

func (p *PersonalGraphAdapter) Discover(_ context.Context, profile models.UserProfile) ([]Query, error) {
	return filterKinds(DeriveQueries(profile, 0), KindPerson), nil
}

func (p *PersonalGraphAdapter) Poll(ctx context.Context, q Query) ([]models.Signal, error) {
	sigs, err := p.news.search(ctx, q, models.LayerPersonalGraph)
	if err != nil {
		return nil, err
	}
	for i := range sigs {
		if q.Label != "" {
			sigs[i].Metadata["relation"] = q.Label
		}
	}
	return sigs, nil
}
