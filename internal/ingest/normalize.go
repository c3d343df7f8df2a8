package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
)

const summaryMaxRunes = 280

// trackingParams are query parameters stripped during URL canonicalization.
var trackingParams = map[string]bool{
	"fbclid": true, "gclid": true, "mc_cid": true, "mc_eid": true,
	"ref": true, "ref_src": true, "igshid": true,
}

// CanonicalURL normalizes a source URL for deduplication: lowercase scheme
// and host, no fragment, no tracking parameters, sorted query, no trailing
// slash. Unparseable input is returned trimmed.
func CanonicalURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	if u.RawQuery != "" {
		q := u.Query()
		for k := range q {
			if strings.HasPrefix(strings.ToLower(k), "utm_") || trackingParams[strings.ToLower(k)] {
				q.Del(k)
			}
		}
		u.RawQuery = q.Encode()
	}
	if len(u.Path) > 1 {
		u.Path = strings.TrimRight(u.Path, "/")
		u.RawPath = ""
	}
	if u.Path == "/" {
		u.Path = ""
	}
	return u.String()
}

// ContentHash is the sha256 of the normalized title and content.
func ContentHash(title, content string) string {
	sum := sha256.Sum256([]byte(normalizeText(title) + "\n" + normalizeText(content)))
	return hex.EncodeToString(sum[:])
}

// normalizeText lowercases and collapses whitespace.
func normalizeText(s string) string {
	return strings.ToLower(collapseSpace(s))
}

func collapseSpace(s string) string {
	return strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
}

// HTMLToText extracts readable text from an HTML fragment or document.
// Script and style contents are dropped. Plain text passes through with
// whitespace collapsed.
func HTMLToText(s string) string {
	if !strings.Contains(s, "<") {
		return collapseSpace(s)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return collapseSpace(s)
	}
	doc.Find("script, style, noscript").Remove()
	var parts []string
	doc.Find("body").Contents().Each(func(_ int, sel *goquery.Selection) {
		if t := strings.TrimSpace(sel.Text()); t != "" {
			parts = append(parts, t)
		}
	})
	if len(parts) == 0 {
		return collapseSpace(doc.Text())
	}
	return collapseSpace(strings.Join(parts, " "))
}

// Summarize truncates text at a word boundary to a short summary.
func Summarize(text string) string {
	text = collapseSpace(text)
	runes := []rune(text)
	if len(runes) <= summaryMaxRunes {
		return text
	}
	cut := string(runes[:summaryMaxRunes])
	if i := strings.LastIndexByte(cut, ' '); i > summaryMaxRunes/2 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " ,.;:") + "…"
}
