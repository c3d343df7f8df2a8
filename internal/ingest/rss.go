package ingest

import (
	"context"
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/ajitpratap0/openclaw-briefing/internal/models"
)

// FeedAdapter polls RSS 2.0 and Atom feeds the user curated.
type FeedAdapter struct {
	fetch      httpFetcher
	maxResults int
}

var _ Adapter = (*FeedAdapter)(nil)

// NewFeedAdapter creates a feed adapter.
func NewFeedAdapter(ratePerSec float64, maxResults int, timeout time.Duration) *FeedAdapter {
	if maxResults <= 0 {
		maxResults = 20
	}
	return &FeedAdapter{fetch: newHTTPFetcher(timeout, ratePerSec), maxResults: maxResults}
}

func (f *FeedAdapter) Name() string { return "rss" }

func (f *FeedAdapter) Discover(_ context.Context, profile models.UserProfile) ([]Query, error) {
	return filterKinds(DeriveQueries(profile, 0), KindFeed), nil
}

func (f *FeedAdapter) Poll(ctx context.Context, q Query) ([]models.Signal, error) {
	body, err := f.fetch.get(ctx, q.Text, nil)
	if err != nil {
		return nil, err
	}
	items, feedTitle, err := parseFeed(body)
	if err != nil {
		return nil, fmt.Errorf("parsing feed %s: %w", q.Text, err)
	}
	label := q.Label
	if label == "" {
		label = feedTitle
	}
	if len(items) > f.maxResults {
		items = items[:f.maxResults]
	}
	out := make([]models.Signal, 0, len(items))
	for _, it := range items {
		if it.link == "" || it.title == "" {
			continue
		}
		out = append(out, models.Signal{
			Layer:       models.LayerSyndication,
			SourceURL:   it.link,
			Title:       it.title,
			Content:     it.content,
			Summary:     Summarize(it.content),
			PublishedAt: it.published,
			Metadata: map[string]string{
				"feed_url":   q.Text,
				"feed_label": label,
				"author":     it.author,
			},
		})
	}
	return out, nil
}

// feedDoc decodes both RSS (<rss><channel><item>) and Atom (<feed><entry>).
type feedDoc struct {
	XMLName xml.Name
	Title   string `xml:"title"`
	Channel struct {
		Title string    `xml:"title"`
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
	Entries []atomEntry `xml:"entry"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	GUID        string `xml:"guid"`
	Description string `xml:"description"`
	Encoded     string `xml:"encoded"`
	PubDate     string `xml:"pubDate"`
	Creator     string `xml:"creator"`
	Author      string `xml:"author"`
}

type atomEntry struct {
	ID        string     `xml:"id"`
	Title     string     `xml:"title"`
	Links     []atomLink `xml:"link"`
	Summary   string     `xml:"summary"`
	Content   string     `xml:"content"`
	Published string     `xml:"published"`
	Updated   string     `xml:"updated"`
	Authors   []struct {
		Name string `xml:"name"`
	} `xml:"author"`
}

type atomLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
}

type feedItem struct {
	title     string
	link      string
	content   string
	author    string
	published time.Time
}

func parseFeed(body []byte) ([]feedItem, string, error) {
	var doc feedDoc
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, "", err
	}
	switch strings.ToLower(doc.XMLName.Local) {
	case "rss", "rdf":
		items := make([]feedItem, 0, len(doc.Channel.Items))
		for _, it := range doc.Channel.Items {
			link := strings.TrimSpace(it.Link)
			if link == "" && strings.HasPrefix(it.GUID, "http") {
				link = strings.TrimSpace(it.GUID)
			}
			content := it.Encoded
			if content == "" {
				content = it.Description
			}
			author := it.Creator
			if author == "" {
				author = it.Author
			}
			items = append(items, feedItem{
				title:     collapseSpace(it.Title),
				link:      link,
				content:   HTMLToText(content),
				author:    author,
				published: parseTime(strings.TrimSpace(it.PubDate)),
			})
		}
		return items, collapseSpace(doc.Channel.Title), nil
	case "feed":
		return atomItems(doc.Entries), collapseSpace(doc.Title), nil
	default:
		return nil, "", fmt.Errorf("unsupported feed root <%s>", doc.XMLName.Local)
	}
}

func atomItems(entries []atomEntry) []feedItem {
	items := make([]feedItem, 0, len(entries))
	for _, e := range entries {
		content := e.Content
		if content == "" {
			content = e.Summary
		}
		published := parseTime(strings.TrimSpace(e.Published))
		if published.IsZero() {
			published = parseTime(strings.TrimSpace(e.Updated))
		}
		var author string
		if len(e.Authors) > 0 {
			names := make([]string, 0, len(e.Authors))
			for _, a := range e.Authors {
				names = append(names, strings.TrimSpace(a.Name))
			}
			author = strings.Join(names, ", ")
		}
		items = append(items, feedItem{
			title:     collapseSpace(e.Title),
			link:      atomAlternate(e.Links, e.ID),
			content:   HTMLToText(content),
			author:    author,
			published: published,
		})
	}
	return items
}

func atomAlternate(links []atomLink, id string) string {
	for _, l := range links {
		if l.Rel == "" || l.Rel == "alternate" {
			return strings.TrimSpace(l.Href)
		}
	}
	if len(links) > 0 {
		return strings.TrimSpace(links[0].Href)
	}
	if strings.HasPrefix(id, "http") {
		return strings.TrimSpace(id)
	}
	return ""
}
