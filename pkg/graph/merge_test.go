package graph

import (
	"context"
	"testing"

	"github.com/loreforge/loreforge/backend/pkg/common"
)

func TestMergeContentNextWins(t *testing.T) {
	base := map[string]any{"role": "regent", "age": 50}
	next := map[string]any{"role": "queen"}

	merged := MergeContent(base, next)
	if merged["role"] != "queen" {
		t.Fatalf("expected next to win on role, got %v", merged["role"])
	}
	if merged["age"] != 50 {
		t.Fatalf("expected base-only key retained, got %v", merged["age"])
	}
	if base["role"] != "regent" {
		t.Fatalf("base was mutated: %v", base)
	}
}

func TestMergeContentBothEmpty(t *testing.T) {
	merged := MergeContent(nil, nil)
	if merged == nil || len(merged) != 0 {
		t.Fatalf("expected empty non-nil map, got %v", merged)
	}
}

func TestMergeEntitiesCanonicalWinsAndRepoints(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	canonical := env.store.addEntity(1, "canon", "Queen Elara", "character")
	canonical.Content = map[string]any{"role": "queen"}
	duplicate := env.store.addEntity(1, "dup", "Elara", "character")
	duplicate.Content = map[string]any{"role": "regent", "age": 50}
	env.store.addEntity(1, "city", "Dunmere", "location")
	env.store.addEntity(1, "knight", "Ser Aldric", "character")

	// Colliding edge: both entities already point at the city.
	env.store.addEdge(1, "canon", "city", RelLocatedIn)
	env.store.addEdge(1, "dup", "city", RelLocatedIn)
	env.store.addEdge(1, "knight", "dup", RelKnows)

	merged, err := env.engine.MergeEntities(ctx, 1, "canon", "dup")
	if err != nil {
		t.Fatalf("merge failed: %v", err)
	}
	if merged.Content["role"] != "queen" {
		t.Fatalf("canonical content must win, got %v", merged.Content["role"])
	}
	if merged.Content["age"] != 50 {
		t.Fatalf("duplicate-only keys must survive, got %v", merged.Content["age"])
	}

	retired, err := env.store.GetEntity(ctx, 1, "dup")
	if err != nil {
		t.Fatalf("duplicate lookup failed: %v", err)
	}
	if retired.ApprovalStatus != common.ApprovalDeleted {
		t.Fatalf("duplicate should be soft-deleted, got %q", retired.ApprovalStatus)
	}

	rels, err := env.store.ListRelationships(ctx, 1)
	if err != nil {
		t.Fatalf("list relationships failed: %v", err)
	}
	var toCity, fromKnight int
	for _, r := range rels {
		if r.FromEntityID == "dup" || r.ToEntityID == "dup" {
			t.Fatalf("edge still touches duplicate: %+v", r)
		}
		if r.FromEntityID == "canon" && r.ToEntityID == "city" {
			toCity++
		}
		if r.FromEntityID == "knight" && r.ToEntityID == "canon" {
			fromKnight++
		}
	}
	if toCity != 1 {
		t.Fatalf("colliding edges must collapse to one row, got %d", toCity)
	}
	if fromKnight != 1 {
		t.Fatalf("incoming edge not repointed, got %d", fromKnight)
	}
}

func TestMergeEntitiesStubAbsorbsDescribedDuplicate(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	stub := env.store.addEntity(1, "stub", "The Ashen Order", "faction")
	stub.Provenance = common.ProvenanceReferenced
	stub.Content = map[string]any{}
	described := env.store.addEntity(1, "desc", "Ashen Order", "faction")
	described.Provenance = common.ProvenanceExtracted
	described.Confidence = 0.8
	described.Content = map[string]any{"goal": "restore the old throne"}

	merged, err := env.engine.MergeEntities(ctx, 1, "stub", "desc")
	if err != nil {
		t.Fatalf("merge failed: %v", err)
	}
	if merged.Provenance != common.ProvenanceExtracted {
		t.Fatalf("stub should take the duplicate's provenance, got %q", merged.Provenance)
	}
	if merged.Confidence != 0.8 {
		t.Fatalf("stub should take the duplicate's confidence, got %v", merged.Confidence)
	}
	if merged.IsStub() {
		t.Fatalf("merged entity should no longer be a stub")
	}
}

func TestMergeEntitiesIntoItselfRejected(t *testing.T) {
	env := newTestEnv()
	env.store.addEntity(1, "a", "Elara", "character")
	if _, err := env.engine.MergeEntities(context.Background(), 1, "a", "a"); err == nil {
		t.Fatalf("expected self-merge to fail")
	}
}
