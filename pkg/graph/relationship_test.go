package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/loreforge/loreforge/backend/pkg/common"
)

func TestUpsertEdgeNormalizesType(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.store.addEntity(1, "a", "Elara", "character")
	env.store.addEntity(1, "b", "Dunmere", "location")

	rel, err := env.engine.UpsertEdge(ctx, UpsertEdgeParams{
		CampaignID:       1,
		FromEntityID:     "a",
		ToEntityID:       "b",
		RelationshipType: "resides in",
	})
	if err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if rel.RelationshipType != RelLocatedIn {
		t.Fatalf("type must normalize before storage, got %q", rel.RelationshipType)
	}
}

func TestUpsertEdgeRefreshesExistingRow(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.store.addEntity(1, "a", "Elara", "character")
	env.store.addEntity(1, "b", "Aldric", "character")

	strength := 0.4
	first, err := env.engine.UpsertEdge(ctx, UpsertEdgeParams{
		CampaignID:       1,
		FromEntityID:     "a",
		ToEntityID:       "b",
		RelationshipType: RelKnows,
		Strength:         &strength,
	})
	if err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	// Re-asserting the same triple through a synonym updates in place.
	stronger := 0.9
	second, err := env.engine.UpsertEdge(ctx, UpsertEdgeParams{
		CampaignID:       1,
		FromEntityID:     "a",
		ToEntityID:       "b",
		RelationshipType: "acquainted with",
		Strength:         &stronger,
	})
	if err != nil {
		t.Fatalf("re-upsert failed: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("same composite key must reuse the row: %q vs %q", first.ID, second.ID)
	}
	if *second.Strength != 0.9 {
		t.Fatalf("strength must refresh, got %v", *second.Strength)
	}

	rels, _ := env.store.ListRelationships(ctx, 1)
	if len(rels) != 1 {
		t.Fatalf("expected a single row, got %d", len(rels))
	}
}

func TestUpsertEdgeRejectsSelfLoop(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.store.addEntity(1, "a", "Elara", "character")

	_, err := env.engine.UpsertEdge(ctx, UpsertEdgeParams{
		CampaignID:       1,
		FromEntityID:     "a",
		ToEntityID:       "a",
		RelationshipType: RelKnows,
	})
	if !errors.Is(err, ErrSelfRelation) {
		t.Fatalf("expected ErrSelfRelation, got %v", err)
	}
	var selfErr *SelfReferentialRelationshipError
	if !errors.As(err, &selfErr) || selfErr.EntityID != "a" {
		t.Fatalf("expected typed self-relation error, got %v", err)
	}

	// Explicit opt-in allows the loop.
	if _, err := env.engine.UpsertEdge(ctx, UpsertEdgeParams{
		CampaignID:        1,
		FromEntityID:      "a",
		ToEntityID:        "a",
		RelationshipType:  RelKnows,
		AllowSelfRelation: true,
	}); err != nil {
		t.Fatalf("opt-in self relation failed: %v", err)
	}
}

func TestUpsertEdgeValidatesEndpoints(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.store.addEntity(1, "a", "Elara", "character")

	_, err := env.engine.UpsertEdge(ctx, UpsertEdgeParams{
		CampaignID:       1,
		FromEntityID:     "a",
		ToEntityID:       "ghost",
		RelationshipType: RelKnows,
	})
	if !errors.Is(err, ErrEntityNotFound) {
		t.Fatalf("expected ErrEntityNotFound, got %v", err)
	}
	var nfErr *EntityNotFoundError
	if !errors.As(err, &nfErr) || nfErr.EntityID != "ghost" {
		t.Fatalf("expected typed not-found error naming the endpoint, got %v", err)
	}
}

func TestRemoveEdgeByKeyNormalizesType(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.store.addEntity(1, "a", "Elara", "character")
	env.store.addEntity(1, "b", "Dunmere", "location")
	env.store.addEdge(1, "a", "b", RelLocatedIn)

	if err := env.engine.RemoveEdgeByKey(ctx, 1, "a", "b", "lives at"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	rels, _ := env.store.ListRelationships(ctx, 1)
	if len(rels) != 0 {
		t.Fatalf("edge should be gone, got %d", len(rels))
	}
}

func TestRelationshipsOfFiltersByNormalizedType(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.store.addEntity(1, "a", "Elara", "character")
	env.store.addEntity(1, "b", "Dunmere", "location")
	env.store.addEntity(1, "c", "Aldric", "character")
	env.store.addEdge(1, "a", "b", RelLocatedIn)
	env.store.addEdge(1, "c", "a", RelKnows)

	all, err := env.engine.RelationshipsOf(ctx, 1, "a", "")
	if err != nil {
		t.Fatalf("relationships failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("both directions must be returned, got %d", len(all))
	}

	located, err := env.engine.RelationshipsOf(ctx, 1, "a", "based in")
	if err != nil {
		t.Fatalf("relationships failed: %v", err)
	}
	if len(located) != 1 || located[0].RelationshipType != RelLocatedIn {
		t.Fatalf("filter must normalize, got %+v", located)
	}
}

func TestRelationshipsOfAppliesOverlay(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.store.addEntity(1, "a", "Elara", "character")
	env.store.addEntity(1, "b", "Aldric", "character")
	rel := env.store.addEdge(1, "a", "b", RelKnows)

	_, err := env.engine.RecordDelta(ctx, RecordDeltaParams{
		CampaignID: 1,
		Payload: common.ChangelogPayload{
			RelationshipUpdates: map[string]map[string]any{rel.ID: {"strength": 0.8}},
		},
	})
	if err != nil {
		t.Fatalf("record delta failed: %v", err)
	}

	rels, err := env.engine.RelationshipsOf(ctx, 1, "a", "")
	if err != nil {
		t.Fatalf("relationships failed: %v", err)
	}
	if len(rels) != 1 || rels[0].Strength == nil || *rels[0].Strength != 0.8 {
		t.Fatalf("edge listing must be overlay-merged, got %+v", rels)
	}
}
