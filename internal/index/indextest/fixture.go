// Package indextest builds small, fully known indexes for tests.
package indextest

import (
	"github.com/Adithya-Monish-Kumar-K/search-index-reader/internal/index"
	"github.com/Adithya-Monish-Kumar-K/search-index-reader/internal/snapshot"
)

// Doc is a pre-analyzed test document.
type Doc struct {
	ID     string
	Raw    string
	Tokens []index.Token
}

// Tokens builds a token list from alternating term/position pairs.
func Tokens(pairs ...any) []index.Token {
	tokens := make([]index.Token, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		tokens = append(tokens, index.Token{Term: pairs[i].(string), Position: pairs[i+1].(int)})
	}
	return tokens
}

// ToyDocs is the three-document collection. Stop words ("is", "a") were
// removed by the analyzer, which is why positions have gaps.
func ToyDocs() []Doc {
	return []Doc{
		{
			ID:     "doc1",
			Raw:    "here is some text here is some more text",
			Tokens: Tokens("here", 0, "some", 2, "text", 3, "here", 4, "some", 6, "more", 7, "text", 8),
		},
		{
			ID:     "doc2",
			Raw:    "more texts",
			Tokens: Tokens("more", 0, "text", 1),
		},
		{
			ID:     "doc3",
			Raw:    "here is a test",
			Tokens: Tokens("here", 0, "test", 3),
		},
	}
}

// Vocabulary lists every term of the toy collection.
func Vocabulary() []string {
	return []string{"here", "more", "some", "test", "text"}
}

// Build indexes docs into a fresh MemoryIndex.
func Build(cfg snapshot.Config, docs []Doc, opts ...index.Option) *index.MemoryIndex {
	m := index.NewMemoryIndex(cfg, opts...)
	for _, d := range docs {
		m.AddDocument(d.ID, d.Raw, d.Tokens)
	}
	return m
}

// Toy returns the frozen toy collection with the default config.
func Toy(opts ...index.Option) *index.Snapshot {
	return Build(snapshot.DefaultConfig(), ToyDocs(), opts...).Freeze()
}
