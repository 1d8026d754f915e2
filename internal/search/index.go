// Package search ranks catalog titles against the free text a patron types
// into the search box. Scores are Jaccard similarity over folded word sets,
// |Q ∩ D| / |Q ∪ D|, with ties broken by shorter text and then by key, so the
// same query over the same shelf always lists titles in the same order.
//
// An Analyzer is immutable once built and safe for concurrent use.
package search

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
)

// Doc is one candidate: Key identifies it (an ISBN), Text is what the query
// is matched against (typically name, author and call number).
type Doc struct {
	Key  string
	Text string
}

// Result is a ranked key with its similarity score.
type Result struct {
	Key   string
	Score float64
}

// DefaultStopwords are dropped from both queries and documents.
var DefaultStopwords = []string{"a", "an", "and", "the", "of", "in", "on", "for", "to", "with"}

type set map[string]bool

// Option tunes an Analyzer.
type Option func(*settings)

type settings struct {
	minRunes int
	maxTerms int
	stop     set
}

func defaults() settings { return settings{minRunes: 2, maxTerms: 8} }

// WithMinTermRunes drops query terms shorter than n runes. Negative n is
// ignored.
func WithMinTermRunes(n int) Option {
	return func(s *settings) {
		if n >= 0 {
			s.minRunes = n
		}
	}
}

// WithStopwords replaces the stop-word list; an empty list leaves it unset.
func WithStopwords(words []string) Option {
	return func(s *settings) {
		stop := set{}
		for _, w := range words {
			if w = fold(strings.TrimSpace(w)); w != "" {
				stop[w] = true
			}
		}
		if len(stop) > 0 {
			s.stop = stop
		}
	}
}

// WithMaxTerms keeps only the first n distinct query terms.
func WithMaxTerms(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.maxTerms = n
		}
	}
}

// Analyzer turns queries into search terms and ranks candidates.
type Analyzer struct {
	s settings
}

// NewAnalyzer builds an Analyzer.
func NewAnalyzer(opts ...Option) *Analyzer {
	s := defaults()
	for _, opt := range opts {
		opt(&s)
	}
	return &Analyzer{s: s}
}

// Terms returns the folded query terms, de-duplicated in order of first
// appearance, without stop words or terms under the minimum length.
func (a *Analyzer) Terms(q string) []string {
	var terms []string
	seen := set{}
	for _, w := range words(q) {
		if seen[w] || a.s.stop[w] || utf8.RuneCountInString(w) < a.s.minRunes {
			continue
		}
		seen[w] = true
		terms = append(terms, w)
		if len(terms) == a.s.maxTerms {
			break
		}
	}
	return terms
}

// Rank scores docs against q, best first. Docs sharing no term with the
// query are dropped unless the query names their key outright (an ISBN typed
// into the box scores 1). A query with no usable terms returns every doc in
// input order with score 0.
func (a *Analyzer) Rank(q string, docs []Doc) []Result {
	terms := a.Terms(q)
	if len(terms) == 0 {
		out := make([]Result, len(docs))
		for i, d := range docs {
			out[i] = Result{Key: d.Key}
		}
		return out
	}
	query := set{}
	for _, t := range terms {
		query[t] = true
	}

	type hit struct {
		Result
		textLen int
	}
	var hits []hit
	for _, d := range docs {
		doc := a.bag(d.Text)
		common := 0
		for t := range query {
			if doc[t] {
				common++
			}
		}
		switch {
		case common > 0:
			jac := float64(common) / float64(len(query)+len(doc)-common)
			hits = append(hits, hit{Result{d.Key, jac}, len(d.Text)})
		case query[fold(d.Key)]:
			hits = append(hits, hit{Result{d.Key, 1}, len(d.Text)})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		x, y := hits[i], hits[j]
		if x.Score != y.Score {
			return x.Score > y.Score
		}
		if x.textLen != y.textLen {
			return x.textLen < y.textLen
		}
		return x.Key < y.Key
	})
	out := make([]Result, len(hits))
	for i, h := range hits {
		out[i] = h.Result
	}
	return out
}

// bag is the word set of a document, without stop words.
func (a *Analyzer) bag(text string) set {
	b := set{}
	for _, w := range words(text) {
		if !a.s.stop[w] {
			b[w] = true
		}
	}
	return b
}

var wordRE = regexp.MustCompile(`[\p{L}\p{N}]+`)

func words(s string) []string { return wordRE.FindAllString(fold(s), -1) }

// fold applies Unicode case folding; cases.Caser is stateful, so each call
// gets its own.
func fold(s string) string { return cases.Fold().String(s) }
