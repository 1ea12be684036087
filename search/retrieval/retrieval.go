// Package retrieval provides the one concrete search.Client this module
// ships: it composes a single EmbeddingGenerator, VectorDB, and
// TextGenerator — the same three collaborators an orchestrator.Core
// registers at ingestion time — into the embed-query-generate sequence a
// query needs. Choosing which provider to register per collaborator slot
// is a deployment decision (see cmd/semindexd); this package only wires
// whichever three are handed to it.
package retrieval

import (
	"context"
	"fmt"
	"sort"

	"github.com/hazyhaar/semindex/search"
)

// Client composes one of each query-time collaborator.
type Client struct {
	Embedder  search.EmbeddingGenerator
	Vectors   search.VectorDB
	Generator search.TextGenerator

	// DefaultTopK is used by Ask, and by Search when limit <= 0.
	DefaultTopK int
	// MinRelevance filters out matches below this score. Zero disables
	// filtering.
	MinRelevance float32
}

// New creates a Client from its three collaborators. topK defaults to 5
// when non-positive.
func New(embedder search.EmbeddingGenerator, vectors search.VectorDB, generator search.TextGenerator, topK int) *Client {
	if topK <= 0 {
		topK = 5
	}
	return &Client{Embedder: embedder, Vectors: vectors, Generator: generator, DefaultTopK: topK}
}

// Ask embeds question, queries the index's collection, and asks the text
// generator for a grounded answer from the retrieved matches.
func (c *Client) Ask(ctx context.Context, index, question string) (string, []search.Match, error) {
	matches, err := c.Search(ctx, index, question, c.DefaultTopK)
	if err != nil {
		return "", nil, err
	}
	if c.Generator == nil {
		return "", matches, nil
	}
	answer, err := c.Generator.Generate(ctx, question, matches)
	if err != nil {
		return "", matches, fmt.Errorf("retrieval: generate: %w", err)
	}
	return answer, matches, nil
}

// Search embeds query and returns the topK matches from index's collection,
// filtered by MinRelevance when set.
func (c *Client) Search(ctx context.Context, index, query string, topK int) ([]search.Match, error) {
	if topK <= 0 {
		topK = c.DefaultTopK
	}
	vec, err := c.Embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("retrieval: embed: %w", err)
	}
	matches, err := c.Vectors.Query(ctx, index, vec, topK)
	if err != nil {
		return nil, fmt.Errorf("retrieval: query %s: %w", index, err)
	}
	if c.MinRelevance > 0 {
		filtered := matches[:0]
		for _, m := range matches {
			if m.Score >= c.MinRelevance {
				filtered = append(filtered, m)
			}
		}
		matches = filtered
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	return matches, nil
}
