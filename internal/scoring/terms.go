package scoring

import (
	"strings"
	"unicode"
)

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "that": true, "this": true,
	"from": true, "are": true, "was": true, "were": true, "has": true, "have": true,
	"had": true, "its": true, "into": true, "over": true, "about": true, "after": true,
	"their": true, "they": true, "will": true, "would": true, "could": true, "should": true,
	"more": true, "than": true, "but": true, "not": true, "new": true, "how": true,
	"what": true, "when": true, "who": true, "why": true, "all": true, "can": true,
	"our": true, "you": true, "your": true, "his": true, "her": true, "she": true,
	"him": true, "been": true, "being": true, "also": true, "which": true, "while": true,
	"said": true, "says": true, "one": true, "two": true, "per": true, "via": true,
}

// tokens lowercases text and returns its significant words.
func tokens(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := words[:0]
	for _, w := range words {
		if len([]rune(w)) >= 3 && !stopwords[w] {
			out = append(out, w)
		}
	}
	return out
}

func tokenSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, t := range tokens(text) {
		set[t] = true
	}
	return set
}

// containsPhrase reports whether phrase occurs in text on word boundaries.
// Both arguments must already be lowercase.
func containsPhrase(text, phrase string) bool {
	if phrase == "" {
		return false
	}
	start := 0
	for {
		i := strings.Index(text[start:], phrase)
		if i < 0 {
			return false
		}
		i += start
		end := i + len(phrase)
		if boundaryBefore(text, i) && boundaryAfter(text, end) {
			return true
		}
		start = i + 1
		if start >= len(text) {
			return false
		}
	}
}

func boundaryBefore(s string, i int) bool {
	if i == 0 {
		return true
	}
	r := rune(s[i-1])
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

func boundaryAfter(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	r := rune(s[i])
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

// properPhrases returns runs of capitalized words, the cheap stand-in for
// named entities used by novelty scoring. Leading stopwords ("The") are
// dropped from each run.
func properPhrases(text string) []string {
	var out []string
	seen := map[string]bool{}
	var run []string

	flush := func() {
		for len(run) > 0 && stopwords[strings.ToLower(run[0])] {
			run = run[1:]
		}
		if len(run) > 0 {
			phrase := strings.Join(run, " ")
			key := strings.ToLower(phrase)
			if !seen[key] {
				seen[key] = true
				out = append(out, phrase)
			}
		}
		run = nil
	}

	for _, f := range strings.Fields(text) {
		word := strings.TrimFunc(f, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '&'
		})
		r := []rune(word)
		if len(r) > 1 && unicode.IsUpper(r[0]) {
			run = append(run, word)
		} else {
			flush()
		}
		if strings.IndexByte(".,;:!?)", f[len(f)-1]) >= 0 {
			flush()
		}
	}
	flush()
	return out
}
