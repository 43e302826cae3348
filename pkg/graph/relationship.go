package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/loreforge/loreforge/backend/pkg/common"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// UpsertEdgeParams describes a typed edge assertion. RelationshipType is
// normalized through the vocabulary before storage, so synonyms from the
// extraction collaborator collapse to one canonical type.
type UpsertEdgeParams struct {
	CampaignID       int64
	FromEntityID     string
	ToEntityID       string
	RelationshipType string
	Strength         *float64
	Metadata         map[string]any
	// AllowSelfRelation permits from == to, rejected by default.
	AllowSelfRelation bool
}

// UpsertEdge asserts a directed, typed edge between two entities. The
// (from, to, type) triple is unique per campaign; re-asserting it
// refreshes strength and metadata on the existing row.
func (g *Engine) UpsertEdge(ctx context.Context, params UpsertEdgeParams) (*common.Relationship, error) {
	if params.FromEntityID == params.ToEntityID && !params.AllowSelfRelation {
		return nil, &SelfReferentialRelationshipError{EntityID: params.FromEntityID}
	}

	relType := NormalizeRelationshipType(params.RelationshipType)

	for _, endpoint := range []string{params.FromEntityID, params.ToEntityID} {
		if _, err := g.store.GetEntity(ctx, params.CampaignID, endpoint); err != nil {
			if errors.Is(err, ErrEntityNotFound) {
				return nil, &EntityNotFoundError{CampaignID: params.CampaignID, EntityID: endpoint}
			}
			return nil, err
		}
	}

	id, err := gonanoid.New()
	if err != nil {
		return nil, fmt.Errorf("failed to generate relationship ID: %w", err)
	}

	rel, err := g.store.UpsertRelationship(ctx, &common.Relationship{
		ID:               id,
		CampaignID:       params.CampaignID,
		FromEntityID:     params.FromEntityID,
		ToEntityID:       params.ToEntityID,
		RelationshipType: relType,
		Strength:         params.Strength,
		Metadata:         params.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upsert relationship: %w", err)
	}
	if rel == nil {
		return nil, &RelationshipUpsertError{
			FromEntityID:     params.FromEntityID,
			ToEntityID:       params.ToEntityID,
			RelationshipType: relType,
		}
	}
	return rel, nil
}

// RemoveEdgeByID deletes a single relationship row by its public id.
func (g *Engine) RemoveEdgeByID(ctx context.Context, campaignID int64, relationshipID string) error {
	return g.store.DeleteRelationshipByID(ctx, campaignID, relationshipID)
}

// RemoveEdgeByKey deletes a relationship by its composite key. The type is
// normalized before lookup.
func (g *Engine) RemoveEdgeByKey(ctx context.Context, campaignID int64, fromID, toID, relationshipType string) error {
	return g.store.DeleteRelationshipByKey(ctx, campaignID, fromID, toID, NormalizeRelationshipType(relationshipType))
}

// RelationshipsOf returns every edge touching the entity in either
// direction, optionally filtered by normalized type. Unapplied changelog
// deltas are overlay-merged into the result.
func (g *Engine) RelationshipsOf(ctx context.Context, campaignID int64, entityID string, typeFilter string) ([]common.Relationship, error) {
	if typeFilter != "" {
		typeFilter = NormalizeRelationshipType(typeFilter)
	}
	rels, err := g.store.RelationshipsOf(ctx, campaignID, entityID, typeFilter)
	if err != nil {
		return nil, err
	}

	snapshot, err := g.OverlaySnapshot(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	out := make([]common.Relationship, 0, len(rels))
	for i := range rels {
		out = append(out, *snapshot.ApplyToRelationship(&rels[i]))
	}
	return out, nil
}
