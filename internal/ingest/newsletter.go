package ingest

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/ajitpratap0/openclaw-briefing/internal/models"
)

// Email is one message delivered to a newsletter address.
type Email struct {
	MessageID  string
	From       string
	Subject    string
	HTMLBody   string
	TextBody   string
	ReceivedAt time.Time
	// Forwarded marks mail the user forwarded by hand rather than a subscription.
	Forwarded bool
}

// Mailbox is the inbound email collaborator.
type Mailbox interface {
	Fetch(ctx context.Context, address string, since time.Time) ([]Email, error)
}

// NewsletterAdapter turns newsletter and forwarded email into signals.
type NewsletterAdapter struct {
	mailbox Mailbox
}

var _ Adapter = (*NewsletterAdapter)(nil)

// NewNewsletterAdapter creates a newsletter adapter reading from mailbox.
func NewNewsletterAdapter(mailbox Mailbox) *NewsletterAdapter {
	return &NewsletterAdapter{mailbox: mailbox}
}

func (n *NewsletterAdapter) Name() string { return "newsletter" }

func (n *NewsletterAdapter) Discover(_ context.Context, profile models.UserProfile) ([]Query, error) {
	return filterKinds(DeriveQueries(profile, 0), KindNewsletter), nil
}

func (n *NewsletterAdapter) Poll(ctx context.Context, q Query) ([]models.Signal, error) {
	mails, err := n.mailbox.Fetch(ctx, q.Text, q.Since)
	if err != nil {
		return nil, fmt.Errorf("fetching mail for %s: %w", q.Text, err)
	}
	out := make([]models.Signal, 0, len(mails))
	for _, m := range mails {
		sig, ok := emailSignal(q.Text, m)
		if ok {
			out = append(out, sig)
		}
	}
	return out, nil
}

func emailSignal(address string, m Email) (models.Signal, bool) {
	content := strings.TrimSpace(m.TextBody)
	var link string
	if m.HTMLBody != "" {
		content = HTMLToText(m.HTMLBody)
		link = primaryLink(m.HTMLBody)
	}
	if content == "" || m.MessageID == "" {
		return models.Signal{}, false
	}
	layer := models.LayerNewsletter
	if m.Forwarded {
		layer = models.LayerEmailForward
	}
	subject := strings.TrimSpace(m.Subject)
	if subject == "" {
		subject = Summarize(content)
	}
	meta := map[string]string{
		"from":    m.From,
		"address": address,
	}
	if link != "" {
		meta["primary_link"] = link
	}
	return models.Signal{
		Layer:       layer,
		SourceURL:   mailURL(address, m.MessageID),
		Title:       subject,
		Content:     content,
		Summary:     Summarize(content),
		PublishedAt: m.ReceivedAt.UTC(),
		Metadata:    meta,
	}, true
}

// mailURL gives an email a stable identity usable for URL deduplication.
func mailURL(address, messageID string) string {
	id := strings.Trim(messageID, "<> ")
	return "mailto:" + address + "?message-id=" + url.QueryEscape(id)
}

// primaryLink returns the first external link in the body that is not an
// unsubscribe or preference link.
func primaryLink(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	var found string
	doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		lower := strings.ToLower(href + " " + a.Text())
		if !strings.HasPrefix(href, "http") {
			return true
		}
		if strings.Contains(lower, "unsubscribe") || strings.Contains(lower, "preferences") {
			return true
		}
		found = href
		return false
	})
	return found
}

// MemoryMailbox is an in-process Mailbox fed by an inbound webhook or tests.
type MemoryMailbox struct {
	mu    sync.Mutex
	boxes map[string][]Email
}

var _ Mailbox = (*MemoryMailbox)(nil)

// NewMemoryMailbox creates an empty mailbox.
func NewMemoryMailbox() *MemoryMailbox {
	return &MemoryMailbox{boxes: make(map[string][]Email)}
}

// Deliver stores an email for address.
func (m *MemoryMailbox) Deliver(address string, e Email) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := strings.ToLower(address)
	m.boxes[key] = append(m.boxes[key], e)
}

func (m *MemoryMailbox) Fetch(_ context.Context, address string, since time.Time) ([]Email, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Email
	for _, e := range m.boxes[strings.ToLower(address)] {
		if !e.ReceivedAt.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

// DirMailbox reads HTML messages from <root>/<address>/*.html. The file
// name is the message ID, the <title> the subject and the modification time
// the receive time. Files under a "forwarded" subdirectory are marked forwarded.
type DirMailbox struct {
	root string
}

var _ Mailbox = (*DirMailbox)(nil)

// NewDirMailbox creates a directory-backed mailbox.
func NewDirMailbox(root string) *DirMailbox {
	return &DirMailbox{root: root}
}

func (d *DirMailbox) Fetch(ctx context.Context, address string, since time.Time) ([]Email, error) {
	dir := filepath.Join(d.root, filepath.Base(strings.ToLower(address)))
	var out []Email
	for _, sub := range []string{"", "forwarded"} {
		matches, err := filepath.Glob(filepath.Join(dir, sub, "*.html"))
		if err != nil {
			return nil, fmt.Errorf("listing %s: %w", dir, err)
		}
		for _, path := range matches {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			info, err := os.Stat(path)
			if err != nil || info.ModTime().Before(since) {
				continue
			}
			raw, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("reading %s: %w", path, err)
			}
			out = append(out, Email{
				MessageID:  strings.TrimSuffix(filepath.Base(path), ".html"),
				Subject:    htmlTitle(string(raw)),
				HTMLBody:   string(raw),
				ReceivedAt: info.ModTime().UTC(),
				Forwarded:  sub == "forwarded",
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	return out, nil
}

func htmlTitle(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	return collapseSpace(doc.Find("title").First().Text())
}
