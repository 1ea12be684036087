// Package search defines the query-time contracts: a top-level
// Client that answers questions over previously ingested content, and
// the three collaborator interfaces the orchestrator registers multiple
// instances of at ingestion time (EmbeddingGenerator, VectorDB,
// TextGenerator) — retrieval uses exactly one of each, selected by the
// deployment's embedding/vector-store/text-generator configuration.
//
// This is a contract-only package: it deliberately keeps provider
// internals out of this module. Concrete adapters live in sibling packages
// (search/memorydb/qdrant, search/memorydb/fsvector, search/embedding,
// search/textgen).
package search

import "context"

// Vector is a dense embedding.
type Vector []float32

// EmbeddingGenerator converts text to vectors, grounded on
// horosembed.Embedder's interface-first design.
type EmbeddingGenerator interface {
	Name() string
	Embed(ctx context.Context, text string) (Vector, error)
	EmbedBatch(ctx context.Context, texts []string) ([]Vector, error)
	Dimension() int
}

// Match is one retrieved partition with its similarity score.
type Match struct {
	ID       string
	Text     string
	Score    float32
	Metadata map[string]string
}

// VectorDB stores and retrieves vectors keyed by id, scoped within a
// collection (conventionally the index name).
type VectorDB interface {
	Name() string
	EnsureCollection(ctx context.Context, collection string, dimension int) error
	Upsert(ctx context.Context, collection, id string, vec Vector, text string, metadata map[string]string) error
	Delete(ctx context.Context, collection, id string) error
	Query(ctx context.Context, collection string, vec Vector, topK int) ([]Match, error)
}

// TextGenerator produces a natural-language answer from a question and its
// retrieved context, the query-time counterpart to EmbeddingGenerator.
type TextGenerator interface {
	Name() string
	Generate(ctx context.Context, question string, context []Match) (string, error)
}

// Client answers questions by embedding the question, querying a VectorDB,
// and handing the results to a TextGenerator.
type Client interface {
	Ask(ctx context.Context, index, question string) (string, []Match, error)
	Search(ctx context.Context, index, question string, topK int) ([]Match, error)
}
