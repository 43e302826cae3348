package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/loreforge/loreforge/backend/pkg/common"
)

func TestNeighborhoodShallowestDepthWins(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	// Diamond: a -> b -> d, a -> c -> d. d must appear once, at depth 2.
	env.store.addEntity(1, "a", "Alpha", "character")
	env.store.addEntity(1, "b", "Bravo", "character")
	env.store.addEntity(1, "c", "Charlie", "character")
	env.store.addEntity(1, "d", "Delta", "character")
	env.store.addEdge(1, "a", "b", RelKnows)
	env.store.addEdge(1, "a", "c", RelKnows)
	env.store.addEdge(1, "b", "d", RelKnows)
	env.store.addEdge(1, "c", "d", RelKnows)

	neighbors, err := env.engine.Neighborhood(ctx, 1, "a", 3, "")
	if err != nil {
		t.Fatalf("neighborhood failed: %v", err)
	}
	if len(neighbors) != 3 {
		t.Fatalf("expected 3 neighbors, got %d: %+v", len(neighbors), neighbors)
	}
	for _, n := range neighbors {
		if n.EntityID == "a" {
			t.Fatalf("seed must be excluded")
		}
		if n.EntityID == "d" && n.Depth != 2 {
			t.Fatalf("d should sit at its shallowest depth 2, got %d", n.Depth)
		}
	}

	// Ordered by depth ascending, then name ascending.
	if neighbors[0].Name != "Bravo" || neighbors[1].Name != "Charlie" || neighbors[2].Name != "Delta" {
		t.Fatalf("unexpected order: %+v", neighbors)
	}
}

func TestNeighborhoodDepthDefaultsAndCap(t *testing.T) {
	env := newTestEnv()
	env.engine = NewEngine(NewEngineParams{
		Store:             env.store,
		AI:                env.ai,
		MaxTraversalDepth: 2,
	})
	ctx := context.Background()

	env.store.addEntity(1, "a", "Alpha", "character")
	env.store.addEntity(1, "b", "Bravo", "character")
	env.store.addEntity(1, "c", "Charlie", "character")
	env.store.addEntity(1, "d", "Delta", "character")
	env.store.addEdge(1, "a", "b", RelKnows)
	env.store.addEdge(1, "b", "c", RelKnows)
	env.store.addEdge(1, "c", "d", RelKnows)

	// maxDepth 0 defaults to 1.
	neighbors, err := env.engine.Neighborhood(ctx, 1, "a", 0, "")
	if err != nil {
		t.Fatalf("neighborhood failed: %v", err)
	}
	if len(neighbors) != 1 || neighbors[0].EntityID != "b" {
		t.Fatalf("expected only the direct neighbor, got %+v", neighbors)
	}

	// Requests above the engine cap are clamped to it.
	neighbors, err = env.engine.Neighborhood(ctx, 1, "a", 10, "")
	if err != nil {
		t.Fatalf("neighborhood failed: %v", err)
	}
	if len(neighbors) != 2 {
		t.Fatalf("expected depth capped at 2, got %+v", neighbors)
	}
	for _, n := range neighbors {
		if n.EntityID == "d" {
			t.Fatalf("d is beyond the traversal cap")
		}
	}
}

func TestNeighborhoodTypeFilterNormalized(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	env.store.addEntity(1, "a", "Alpha", "character")
	env.store.addEntity(1, "b", "Bravo", "location")
	env.store.addEntity(1, "c", "Charlie", "character")
	env.store.addEdge(1, "a", "b", RelLocatedIn)
	env.store.addEdge(1, "a", "c", RelKnows)

	// The filter goes through the vocabulary, so a synonym selects the
	// canonical edge type.
	neighbors, err := env.engine.Neighborhood(ctx, 1, "a", 1, "resides in")
	if err != nil {
		t.Fatalf("neighborhood failed: %v", err)
	}
	if len(neighbors) != 1 || neighbors[0].EntityID != "b" {
		t.Fatalf("expected only the located_in edge, got %+v", neighbors)
	}
	if neighbors[0].ViaEntityID != "a" || neighbors[0].RelationshipType != RelLocatedIn {
		t.Fatalf("unexpected neighbor record: %+v", neighbors[0])
	}
}

func TestNeighborhoodMissingSeed(t *testing.T) {
	env := newTestEnv()
	_, err := env.engine.Neighborhood(context.Background(), 1, "ghost", 1, "")
	if !errors.Is(err, ErrEntityNotFound) {
		t.Fatalf("expected ErrEntityNotFound, got %v", err)
	}
}

func TestNeighborhoodAppliesOverlay(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	env.store.addEntity(1, "a", "Alpha", "character")
	env.store.addEntity(1, "b", "Beta", "character")
	env.store.addEdge(1, "a", "b", RelKnows)

	// A live delta renames the neighbor before any rebuild folds it.
	_, err := env.engine.RecordDelta(ctx, RecordDeltaParams{
		CampaignID: 1,
		Payload: common.ChangelogPayload{
			EntityUpdates: map[string]map[string]any{"b": {"name": "Betrayer"}},
		},
	})
	if err != nil {
		t.Fatalf("record delta failed: %v", err)
	}

	neighbors, err := env.engine.Neighborhood(ctx, 1, "a", 1, "")
	if err != nil {
		t.Fatalf("neighborhood failed: %v", err)
	}
	if len(neighbors) != 1 || neighbors[0].Name != "Betrayer" {
		t.Fatalf("traversal must be overlay-merged, got %+v", neighbors)
	}
}
