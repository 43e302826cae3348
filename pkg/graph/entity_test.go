package graph

import (
	"context"
	"testing"

	"github.com/loreforge/loreforge/backend/pkg/common"
	"github.com/loreforge/loreforge/backend/pkg/store"
)

func TestCreateEntityDefaults(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	entity, err := env.engine.CreateEntity(ctx, CreateEntityParams{
		CampaignID: 1,
		EntityType: "character",
		Name:       "Elara",
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if entity.ApprovalStatus != common.ApprovalStaging {
		t.Fatalf("new entities start in staging, got %q", entity.ApprovalStatus)
	}
	if entity.Provenance != common.ProvenanceManual {
		t.Fatalf("provenance defaults to manual, got %q", entity.Provenance)
	}
	if entity.Content == nil {
		t.Fatalf("content must never be nil")
	}
	if entity.ID == "" {
		t.Fatalf("entity needs a generated id")
	}
}

func TestCreateEntityRequiresNameAndType(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	if _, err := env.engine.CreateEntity(ctx, CreateEntityParams{CampaignID: 1, EntityType: "character", Name: "  "}); err == nil {
		t.Fatalf("blank name must be rejected")
	}
	if _, err := env.engine.CreateEntity(ctx, CreateEntityParams{CampaignID: 1, Name: "Elara"}); err == nil {
		t.Fatalf("blank type must be rejected")
	}
}

func TestUpdateEntityMergesContent(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	e := env.store.addEntity(1, "e1", "Elara", "character")
	e.Content = map[string]any{"role": "regent", "age": 30}

	updated, err := env.engine.UpdateEntity(ctx, 1, "e1", map[string]any{
		"content": map[string]any{"role": "queen"},
	})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.Content["role"] != "queen" || updated.Content["age"] != 30 {
		t.Fatalf("content must merge, got %v", updated.Content)
	}

	replaced, err := env.engine.UpdateEntity(ctx, 1, "e1", map[string]any{
		"content_replace": map[string]any{"role": "exile"},
	})
	if err != nil {
		t.Fatalf("replace failed: %v", err)
	}
	if len(replaced.Content) != 1 || replaced.Content["role"] != "exile" {
		t.Fatalf("content_replace must overwrite wholesale, got %v", replaced.Content)
	}
}

func TestUpdateEntityValidatesEnums(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.store.addEntity(1, "e1", "Elara", "character")

	if _, err := env.engine.UpdateEntity(ctx, 1, "e1", map[string]any{"approval_status": "published"}); err == nil {
		t.Fatalf("invalid approval status must be rejected")
	}
	if _, err := env.engine.UpdateEntity(ctx, 1, "e1", map[string]any{"importance_override": "critical"}); err == nil {
		t.Fatalf("invalid override must be rejected")
	}

	// Empty override is valid and clears the override.
	updated, err := env.engine.UpdateEntity(ctx, 1, "e1", map[string]any{"importance_override": ""})
	if err != nil {
		t.Fatalf("clearing the override failed: %v", err)
	}
	if updated.ImportanceOverride != "" {
		t.Fatalf("override not cleared: %q", updated.ImportanceOverride)
	}
}

func TestSetApprovalStatus(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.store.addEntity(1, "e1", "Elara", "character")

	updated, err := env.engine.SetApprovalStatus(ctx, 1, "e1", common.ApprovalApproved)
	if err != nil {
		t.Fatalf("approve failed: %v", err)
	}
	if updated.ApprovalStatus != common.ApprovalApproved {
		t.Fatalf("status not applied: %q", updated.ApprovalStatus)
	}
	if _, err := env.engine.SetApprovalStatus(ctx, 1, "e1", "banished"); err == nil {
		t.Fatalf("invalid status must be rejected")
	}
}

func TestApplyExtractedEntityMergesExisting(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	existing := env.store.addEntity(1, "e1", "Elara", "character")
	existing.Content = map[string]any{"role": "regent"}

	entity, created, err := env.engine.ApplyExtractedEntity(ctx, 1, CreateEntityParams{
		CampaignID: 1,
		EntityType: "Character",
		Name:       "elara",
		Content:    map[string]any{"role": "queen", "home": "Dunmere"},
		Provenance: common.ProvenanceExtracted,
	})
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if created {
		t.Fatalf("case-insensitive name and type match must merge, not create")
	}
	if entity.ID != "e1" {
		t.Fatalf("expected the existing record, got %q", entity.ID)
	}
	if entity.Content["role"] != "queen" || entity.Content["home"] != "Dunmere" {
		t.Fatalf("re-extracted content must win, got %v", entity.Content)
	}
}

func TestApplyExtractedEntityCreatesWhenAbsent(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	entity, created, err := env.engine.ApplyExtractedEntity(ctx, 1, CreateEntityParams{
		CampaignID: 1,
		EntityType: "location",
		Name:       "Dunmere",
		Provenance: common.ProvenanceExtracted,
	})
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if !created || entity.ID == "" {
		t.Fatalf("expected a new entity, got created=%v", created)
	}
}

func TestApplyExtractedEntityUpgradesStub(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	stub := env.store.addEntity(1, "s1", "The Ashen Order", "faction")
	stub.Provenance = common.ProvenanceReferenced
	stub.Content = map[string]any{}

	entity, created, err := env.engine.ApplyExtractedEntity(ctx, 1, CreateEntityParams{
		CampaignID: 1,
		EntityType: "faction",
		Name:       "The Ashen Order",
		Content:    map[string]any{"goal": "restore the old throne"},
		Confidence: 0.7,
		Provenance: common.ProvenanceExtracted,
	})
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if created {
		t.Fatalf("stub must be upgraded in place")
	}
	if entity.Provenance != common.ProvenanceExtracted || entity.Confidence != 0.7 {
		t.Fatalf("stub upgrade must adopt provenance and confidence: %+v", entity)
	}
	if entity.IsStub() {
		t.Fatalf("described entity is no longer a stub")
	}
}

func TestApplyExtractedEntitySkipsRetiredRecords(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	retired := env.store.addEntity(1, "e1", "Elara", "character")
	retired.ApprovalStatus = common.ApprovalDeleted

	_, created, err := env.engine.ApplyExtractedEntity(ctx, 1, CreateEntityParams{
		CampaignID: 1,
		EntityType: "character",
		Name:       "Elara",
		Provenance: common.ProvenanceExtracted,
	})
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if !created {
		t.Fatalf("deleted records must not absorb re-extractions")
	}
}

func TestSearchEntitiesFiltersStubs(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.store.addEntity(1, "e1", "Elara", "character")
	stub := env.store.addEntity(1, "s1", "Elara's Blade", "item")
	stub.Provenance = common.ProvenanceReferenced
	stub.Content = nil

	results, err := env.engine.SearchEntities(ctx, 1, "Elara", 10)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 1 || results[0].ID != "e1" {
		t.Fatalf("stubs must be filtered from user-facing search, got %+v", results)
	}

	empty, err := env.engine.SearchEntities(ctx, 1, "   ", 10)
	if err != nil || empty != nil {
		t.Fatalf("blank query must return nothing, got %v %v", empty, err)
	}
}

func TestSearchEntitiesSemanticEmbedsQuery(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.store.semantic = []store.EntityMatch{
		{EntityID: "e1", Name: "Elara", Score: 0.92},
		{EntityID: "e2", Name: "Dunmere", Score: 0.61},
	}

	matches, err := env.engine.SearchEntitiesSemantic(ctx, 1, "who rules the city", 10, 0.7)
	if err != nil {
		t.Fatalf("semantic search failed: %v", err)
	}
	if len(matches) != 1 || matches[0].EntityID != "e1" {
		t.Fatalf("minimum score must filter, got %+v", matches)
	}

	matches, err = env.engine.SearchEntitiesSemantic(ctx, 1, "", 10, 0)
	if err != nil || matches != nil {
		t.Fatalf("blank query must short-circuit, got %v %v", matches, err)
	}
}
