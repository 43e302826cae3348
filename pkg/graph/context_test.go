package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/loreforge/loreforge/backend/pkg/common"
	"github.com/loreforge/loreforge/backend/pkg/store"
)

func TestAssembleEntityContextDegradesGracefully(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.store.addEntity(1, "e1", "Elara", "character")
	env.store.addEntity(1, "b", "Dunmere", "location")
	env.store.addEdge(1, "e1", "b", RelLocatedIn)

	// No importance, no communities, no summaries.
	out, err := env.engine.AssembleEntityContext(ctx, 1, "e1")
	if err != nil {
		t.Fatalf("assemble failed: %v", err)
	}
	if out.Entity.ID != "e1" {
		t.Fatalf("wrong entity: %+v", out.Entity)
	}
	if len(out.Relationships) != 1 {
		t.Fatalf("expected 1 relationship, got %d", len(out.Relationships))
	}
	if out.Importance != nil || out.DisplayScore != 0 {
		t.Fatalf("missing importance must degrade to zero, got %+v score %v", out.Importance, out.DisplayScore)
	}
	if len(out.Summaries) != 0 {
		t.Fatalf("no summaries expected, got %d", len(out.Summaries))
	}
}

func TestAssembleEntityContextAppliesOverrideAndOverlay(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	e := env.store.addEntity(1, "e1", "Elara", "character")
	e.ImportanceOverride = "high"
	env.store.addEntity(1, "b", "Dunmere", "location")
	env.store.addEdge(1, "e1", "b", RelLocatedIn)

	err := env.store.UpsertImportance(ctx, &common.EntityImportance{
		EntityID: "e1", CampaignID: 1, ImportanceScore: 0.4,
	})
	if err != nil {
		t.Fatalf("seed importance failed: %v", err)
	}

	// A live delta renames the entity and bumps the edge strength.
	rels, _ := env.store.ListRelationships(ctx, 1)
	_, err = env.engine.RecordDelta(ctx, RecordDeltaParams{
		CampaignID: 1,
		Payload: common.ChangelogPayload{
			EntityUpdates:       map[string]map[string]any{"e1": {"name": "Queen Elara"}},
			RelationshipUpdates: map[string]map[string]any{rels[0].ID: {"strength": 0.9}},
		},
	})
	if err != nil {
		t.Fatalf("record delta failed: %v", err)
	}

	out, err := env.engine.AssembleEntityContext(ctx, 1, "e1")
	if err != nil {
		t.Fatalf("assemble failed: %v", err)
	}
	if out.Entity.Name != "Queen Elara" {
		t.Fatalf("overlay must apply to the entity, got %q", out.Entity.Name)
	}
	if out.Relationships[0].Strength == nil || *out.Relationships[0].Strength != 0.9 {
		t.Fatalf("overlay must apply to relationships, got %+v", out.Relationships[0])
	}
	if out.DisplayScore != OverrideScoreHigh {
		t.Fatalf("override band must win over the computed score, got %v", out.DisplayScore)
	}
	if out.Importance == nil || out.Importance.ImportanceScore != 0.4 {
		t.Fatalf("computed score must stay auditable, got %+v", out.Importance)
	}
}

func TestAssembleEntityContextIncludesCommunitySummaries(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.store.addEntity(1, "e1", "Elara", "character")

	ids, err := env.store.InsertCommunityGeneration(ctx, 1, 1, []store.CommunityRecord{
		{Community: common.Community{CampaignID: 1, Level: 0}, MemberIDs: []string{"e1"}, ParentIdx: -1},
	})
	if err != nil {
		t.Fatalf("insert generation failed: %v", err)
	}
	if err := env.store.SetActiveCommunityGeneration(ctx, 1, 1); err != nil {
		t.Fatalf("set active generation failed: %v", err)
	}
	err = env.store.UpsertCommunitySummary(ctx, &common.CommunitySummary{
		CommunityID: ids[0],
		Title:       "The Court of Dunmere",
	})
	if err != nil {
		t.Fatalf("seed summary failed: %v", err)
	}

	out, err := env.engine.AssembleEntityContext(ctx, 1, "e1")
	if err != nil {
		t.Fatalf("assemble failed: %v", err)
	}
	if len(out.Communities) != 1 || len(out.Summaries) != 1 {
		t.Fatalf("expected community and summary, got %d/%d", len(out.Communities), len(out.Summaries))
	}
	if out.Summaries[0].Title != "The Court of Dunmere" {
		t.Fatalf("unexpected summary: %+v", out.Summaries[0])
	}
}

func TestAssembleEntityContextMissingEntityFails(t *testing.T) {
	env := newTestEnv()
	_, err := env.engine.AssembleEntityContext(context.Background(), 1, "ghost")
	if !errors.Is(err, ErrEntityNotFound) {
		t.Fatalf("expected ErrEntityNotFound, got %v", err)
	}
}
