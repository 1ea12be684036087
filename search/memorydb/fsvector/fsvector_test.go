package fsvector

import (
	"context"
	"testing"

	"github.com/hazyhaar/semindex/search"
)

func TestUpsertThenQueryRanksByCosineSimilarity(t *testing.T) {
	s := New(t.TempDir())
	ctx := context.Background()

	if err := s.EnsureCollection(ctx, "docs", 3); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if err := s.Upsert(ctx, "docs", "a", search.Vector{1, 0, 0}, "alpha", nil); err != nil {
		t.Fatalf("upsert a: %v", err)
	}
	if err := s.Upsert(ctx, "docs", "b", search.Vector{0, 1, 0}, "beta", nil); err != nil {
		t.Fatalf("upsert b: %v", err)
	}

	matches, err := s.Query(ctx, "docs", search.Vector{1, 0, 0}, 5)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	if matches[0].ID != "a" {
		t.Fatalf("expected exact match 'a' ranked first, got %q", matches[0].ID)
	}
	if matches[0].Score <= matches[1].Score {
		t.Fatalf("expected a's score %f to exceed b's score %f", matches[0].Score, matches[1].Score)
	}
}

func TestUpsertReplacesExistingID(t *testing.T) {
	s := New(t.TempDir())
	ctx := context.Background()

	s.Upsert(ctx, "docs", "a", search.Vector{1, 0}, "first", nil)
	s.Upsert(ctx, "docs", "a", search.Vector{0, 1}, "second", nil)

	matches, err := s.Query(ctx, "docs", search.Vector{0, 1}, 5)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected replace not append, got %d records", len(matches))
	}
	if matches[0].Text != "second" {
		t.Fatalf("expected updated text, got %q", matches[0].Text)
	}
}

func TestDeleteRemovesRecord(t *testing.T) {
	s := New(t.TempDir())
	ctx := context.Background()

	s.Upsert(ctx, "docs", "a", search.Vector{1, 0}, "alpha", nil)
	if err := s.Delete(ctx, "docs", "a"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	matches, err := s.Query(ctx, "docs", search.Vector{1, 0}, 5)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(matches) != 0 {
		t.Fatalf("expected no matches after delete, got %d", len(matches))
	}
}

func TestQueryRespectsTopK(t *testing.T) {
	s := New(t.TempDir())
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		s.Upsert(ctx, "docs", id, search.Vector{1, 0}, id, nil)
	}

	matches, err := s.Query(ctx, "docs", search.Vector{1, 0}, 2)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected topK=2 to cap results, got %d", len(matches))
	}
}

func TestQueryOnMissingCollectionReturnsEmpty(t *testing.T) {
	s := New(t.TempDir())
	matches, err := s.Query(context.Background(), "nonexistent", search.Vector{1}, 5)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(matches) != 0 {
		t.Fatalf("expected empty result, got %d", len(matches))
	}
}
