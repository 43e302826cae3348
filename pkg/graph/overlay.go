package graph

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/loreforge/loreforge/backend/pkg/common"
	"github.com/loreforge/loreforge/backend/pkg/store"
)

// RecordDeltaParams describes one session-level world-state delta.
type RecordDeltaParams struct {
	CampaignID  int64
	SessionID   *int64
	Payload     common.ChangelogPayload
	ImpactScore float64
	// Timestamp defaults to now.
	Timestamp time.Time
}

// RecordDelta appends an immutable changelog entry. The base graph is
// never mutated synchronously; deltas become visible through the overlay
// until a rebuild folds them in.
func (g *Engine) RecordDelta(ctx context.Context, params RecordDeltaParams) (*common.ChangelogEntry, error) {
	if len(params.Payload.EntityUpdates) == 0 &&
		len(params.Payload.RelationshipUpdates) == 0 &&
		len(params.Payload.NewEntities) == 0 {
		return nil, fmt.Errorf("changelog payload is empty")
	}

	timestamp := params.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}

	entry := &common.ChangelogEntry{
		CampaignID:  params.CampaignID,
		SessionID:   params.SessionID,
		Timestamp:   timestamp,
		Payload:     params.Payload,
		ImpactScore: params.ImpactScore,
	}
	if err := g.store.AppendChangelogEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to append changelog entry: %w", err)
	}
	return entry, nil
}

// ListChangelog lists a campaign's live changelog entries.
func (g *Engine) ListChangelog(ctx context.Context, campaignID int64, sessionID *int64, unappliedOnly bool, limit int) ([]common.ChangelogEntry, error) {
	return g.store.ListChangelog(ctx, campaignID, changelogFilter(sessionID, unappliedOnly, limit))
}

// OverlayPatch is the folded view of a campaign's unapplied changelog
// entries: one shallow field patch per entity and relationship id, plus
// new-entity stubs not yet present in the base graph.
type OverlayPatch struct {
	EntityPatches       map[string]map[string]any
	RelationshipPatches map[string]map[string]any
	NewEntities         []common.Entity
	// EntryIDs are the folded entries in application order.
	EntryIDs []int64
}

// Empty reports whether the patch changes nothing.
func (p *OverlayPatch) Empty() bool {
	return p == nil ||
		(len(p.EntityPatches) == 0 && len(p.RelationshipPatches) == 0 && len(p.NewEntities) == 0)
}

// ApplyToEntity returns the entity with its overlay patch applied, or the
// entity unchanged when no delta touches it. The stored record is never
// mutated.
func (p *OverlayPatch) ApplyToEntity(entity *common.Entity) *common.Entity {
	if p.Empty() {
		return entity
	}
	patch, ok := p.EntityPatches[entity.ID]
	if !ok {
		return entity
	}

	patched := *entity
	patched.Content = MergeContent(entity.Content, nil)
	for field, value := range patch {
		switch field {
		case "name":
			if s, ok := value.(string); ok {
				patched.Name = s
			}
		case "entity_type":
			if s, ok := value.(string); ok {
				patched.EntityType = s
			}
		case "approval_status":
			if s, ok := value.(string); ok {
				patched.ApprovalStatus = common.ApprovalStatus(s)
			}
		case "importance_override":
			if s, ok := value.(string); ok {
				patched.ImportanceOverride = s
			}
		case "content":
			if m, ok := value.(map[string]any); ok {
				patched.Content = MergeContent(patched.Content, m)
			}
		default:
			// Unknown fields land in content so narration is never lost.
			patched.Content[field] = value
		}
	}
	return &patched
}

// foldEntityFields rewrites one entity's overlay patch into an
// UpdateEntity field map. Column fields pass through; free-form keys fold
// into the content patch, so the persisted record matches what
// ApplyToEntity showed through the overlay.
func foldEntityFields(patch map[string]any) map[string]any {
	fields := make(map[string]any, len(patch))
	content := make(map[string]any)
	for field, value := range patch {
		switch field {
		case "name", "entity_type", "approval_status", "importance_override":
			fields[field] = value
		case "content":
			if m, ok := value.(map[string]any); ok {
				content = MergeContent(content, m)
			}
		default:
			content[field] = value
		}
	}
	if len(content) > 0 {
		fields["content"] = content
	}
	return fields
}

// ApplyToRelationship returns the relationship with its overlay patch
// applied.
func (p *OverlayPatch) ApplyToRelationship(rel *common.Relationship) *common.Relationship {
	if p.Empty() {
		return rel
	}
	patch, ok := p.RelationshipPatches[rel.ID]
	if !ok {
		return rel
	}

	patched := *rel
	patched.Metadata = MergeContent(rel.Metadata, nil)
	for field, value := range patch {
		switch field {
		case "strength":
			if f, ok := toFloat(value); ok {
				patched.Strength = &f
			}
		case "relationship_type":
			if s, ok := value.(string); ok {
				patched.RelationshipType = NormalizeRelationshipType(s)
			}
		case "metadata":
			if m, ok := value.(map[string]any); ok {
				patched.Metadata = MergeContent(patched.Metadata, m)
			}
		default:
			patched.Metadata[field] = value
		}
	}
	return &patched
}

// OverlaySnapshot folds all unapplied changelog entries for the campaign,
// in (timestamp, insertion) order, into an OverlayPatch. Later entries win
// per key; within one key the field maps union shallowly.
func (g *Engine) OverlaySnapshot(ctx context.Context, campaignID int64) (*OverlayPatch, error) {
	entries, err := g.store.ListChangelog(ctx, campaignID, changelogFilter(nil, true, 0))
	if err != nil {
		return nil, err
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].Timestamp.Equal(entries[j].Timestamp) {
			return entries[i].Timestamp.Before(entries[j].Timestamp)
		}
		return entries[i].Seq < entries[j].Seq
	})

	patch := &OverlayPatch{
		EntityPatches:       map[string]map[string]any{},
		RelationshipPatches: map[string]map[string]any{},
	}
	seenNew := map[string]int{}

	for _, entry := range entries {
		patch.EntryIDs = append(patch.EntryIDs, entry.ID)

		for id, fields := range entry.Payload.EntityUpdates {
			patch.EntityPatches[id] = MergeContent(patch.EntityPatches[id], fields)
		}
		for id, fields := range entry.Payload.RelationshipUpdates {
			patch.RelationshipPatches[id] = MergeContent(patch.RelationshipPatches[id], fields)
		}
		for _, stub := range entry.Payload.NewEntities {
			if idx, ok := seenNew[stub.ID]; ok {
				patch.NewEntities[idx] = stub
				continue
			}
			seenNew[stub.ID] = len(patch.NewEntities)
			patch.NewEntities = append(patch.NewEntities, stub)
		}
	}

	return patch, nil
}

func changelogFilter(sessionID *int64, unappliedOnly bool, limit int) store.ChangelogFilter {
	return store.ChangelogFilter{SessionID: sessionID, UnappliedOnly: unappliedOnly, Limit: limit}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
