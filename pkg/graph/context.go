package graph

import (
	"context"
	"errors"

	"github.com/loreforge/loreforge/backend/pkg/common"
)

// EntityContext bundles everything a caller needs to present one entity:
// the overlay-merged record, its relationships, the communities containing
// it with their summaries, and its importance.
type EntityContext struct {
	Entity        *common.Entity            `json:"entity"`
	Relationships []common.Relationship     `json:"relationships"`
	Communities   []common.Community        `json:"communities"`
	Summaries     []common.CommunitySummary `json:"summaries,omitempty"`
	Importance    *common.EntityImportance  `json:"importance,omitempty"`
	// DisplayScore is the importance shown to callers, override applied.
	DisplayScore float64 `json:"display_score"`
}

// AssembleEntityContext gathers the full context for one entity. Missing
// importance or summaries degrade to partial context rather than failing
// the whole call; a missing entity fails.
func (g *Engine) AssembleEntityContext(ctx context.Context, campaignID int64, entityID string) (*EntityContext, error) {
	entity, err := g.GetEntity(ctx, campaignID, entityID)
	if err != nil {
		return nil, err
	}

	out := &EntityContext{Entity: entity}

	rels, err := g.RelationshipsOf(ctx, campaignID, entityID, "")
	if err != nil {
		return nil, err
	}
	out.Relationships = rels

	communities, err := g.store.CommunitiesContainingEntity(ctx, campaignID, entityID)
	if err != nil {
		return nil, err
	}
	out.Communities = communities
	for _, community := range communities {
		summary, err := g.store.GetCommunitySummary(ctx, community.ID)
		if err != nil || summary == nil {
			continue
		}
		out.Summaries = append(out.Summaries, *summary)
	}

	importance, err := g.store.GetImportance(ctx, campaignID, entityID)
	if err != nil && !errors.Is(err, ErrEntityNotFound) {
		return nil, err
	}
	out.Importance = importance

	computed := 0.0
	if importance != nil {
		computed = importance.ImportanceScore
	}
	out.DisplayScore = DisplayImportance(entity, computed)

	return out, nil
}
