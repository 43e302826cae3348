package graph

import (
	"context"
	"fmt"

	"github.com/loreforge/loreforge/backend/pkg/common"
	"github.com/loreforge/loreforge/backend/pkg/logger"
)

// MergeContent combines two entity content payloads by shallow key union.
// Keys present in both take the value from next; keys only in base are
// retained. Neither input is modified.
func MergeContent(base, next map[string]any) map[string]any {
	if len(base) == 0 && len(next) == 0 {
		return map[string]any{}
	}

	merged := make(map[string]any, len(base)+len(next))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range next {
		merged[k] = v
	}
	return merged
}

// MergeEntities folds the duplicate entity into the canonical one: content
// is unioned with the canonical side winning on conflicting keys, all
// relationships touching the duplicate are repointed at the canonical
// entity, and the duplicate is soft-deleted.
//
// Repointing relies on the relationship upsert key, so edges that would
// collide after the merge collapse into one row instead of duplicating.
func (g *Engine) MergeEntities(
	ctx context.Context,
	campaignID int64,
	canonicalID string,
	duplicateID string,
) (*common.Entity, error) {
	if canonicalID == duplicateID {
		return nil, fmt.Errorf("cannot merge an entity into itself: %s", canonicalID)
	}

	canonical, err := g.store.GetEntity(ctx, campaignID, canonicalID)
	if err != nil {
		return nil, err
	}
	duplicate, err := g.store.GetEntity(ctx, campaignID, duplicateID)
	if err != nil {
		return nil, err
	}

	content := MergeContent(duplicate.Content, canonical.Content)

	fields := map[string]any{"content": content}
	if canonical.IsStub() && !duplicate.IsStub() {
		// A stub absorbing a described duplicate stops being a stub.
		fields["provenance"] = duplicate.Provenance
		fields["confidence"] = duplicate.Confidence
	}

	merged, err := g.store.UpdateEntity(ctx, campaignID, canonicalID, fields)
	if err != nil {
		return nil, fmt.Errorf("failed to merge entity content: %w", err)
	}

	if err := g.store.RepointRelationships(ctx, campaignID, duplicateID, canonicalID); err != nil {
		return nil, fmt.Errorf("failed to repoint relationships: %w", err)
	}

	if _, err := g.store.UpdateEntity(ctx, campaignID, duplicateID, map[string]any{
		"approval_status": common.ApprovalDeleted,
	}); err != nil {
		return nil, fmt.Errorf("failed to retire duplicate entity: %w", err)
	}

	logger.Info("[Merge] Entities merged",
		"campaign_id", campaignID,
		"canonical_id", canonicalID,
		"duplicate_id", duplicateID,
	)

	return merged, nil
}
