package graph

import (
	"context"
	"sort"
)

// Neighbor is one entry of a neighborhood query result.
type Neighbor struct {
	EntityID         string `json:"entity_id"`
	Name             string `json:"name"`
	Depth            int    `json:"depth"`
	RelationshipType string `json:"relationship_type"`
	ViaEntityID      string `json:"via_entity_id"`
}

// Neighborhood expands breadth-first from the seed entity along forward
// edges only, bounded by maxDepth (minimum 1, default 1, capped by the
// engine's traversal limit). Each reachable entity appears once at its
// shallowest depth; the seed itself is excluded. Results are ordered by
// depth ascending, then name ascending.
func (g *Engine) Neighborhood(
	ctx context.Context,
	campaignID int64,
	entityID string,
	maxDepth int,
	typeFilter string,
) ([]Neighbor, error) {
	if maxDepth < 1 {
		maxDepth = 1
	}
	if maxDepth > g.maxTraversalDepth {
		maxDepth = g.maxTraversalDepth
	}
	if typeFilter != "" {
		typeFilter = NormalizeRelationshipType(typeFilter)
	}

	seed, err := g.store.GetEntity(ctx, campaignID, entityID)
	if err != nil {
		return nil, err
	}

	// Unapplied deltas are visible through traversals too, not just
	// single-entity fetches.
	snapshot, err := g.OverlaySnapshot(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	visited := map[string]bool{seed.ID: true}
	frontier := []string{seed.ID}
	results := make([]Neighbor, 0)

	for depth := 1; depth <= maxDepth && len(frontier) > 0; depth++ {
		edges, err := g.store.OutgoingRelationships(ctx, campaignID, frontier, typeFilter)
		if err != nil {
			return nil, err
		}

		next := make([]string, 0, len(edges))
		for _, edge := range edges {
			if visited[edge.ToEntityID] {
				continue
			}
			visited[edge.ToEntityID] = true

			target, err := g.store.GetEntity(ctx, campaignID, edge.ToEntityID)
			if err != nil {
				return nil, err
			}
			target = snapshot.ApplyToEntity(target)
			patched := snapshot.ApplyToRelationship(&edge)

			results = append(results, Neighbor{
				EntityID:         target.ID,
				Name:             target.Name,
				Depth:            depth,
				RelationshipType: patched.RelationshipType,
				ViaEntityID:      patched.FromEntityID,
			})
			next = append(next, target.ID)
		}
		frontier = next
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Depth != results[j].Depth {
			return results[i].Depth < results[j].Depth
		}
		return results[i].Name < results[j].Name
	})

	return results, nil
}
