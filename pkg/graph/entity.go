package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/loreforge/loreforge/backend/internal/util"
	"github.com/loreforge/loreforge/backend/pkg/common"
	"github.com/loreforge/loreforge/backend/pkg/logger"
	"github.com/loreforge/loreforge/backend/pkg/store"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// CreateEntityParams describes a new entity. Provenance defaults to
// manual; extraction paths set it explicitly.
type CreateEntityParams struct {
	CampaignID int64
	EntityType string
	Name       string
	Content    map[string]any
	Provenance common.Provenance
	Confidence float64
	SourceType string
	SourceID   string
	// EvaluateDedup runs the deduplication workflow after creation.
	EvaluateDedup bool
}

// CreateEntity creates an entity, generates its embedding, and optionally
// evaluates it for duplicates. New entities start in staging until approved.
func (g *Engine) CreateEntity(ctx context.Context, params CreateEntityParams) (*common.Entity, error) {
	if strings.TrimSpace(params.Name) == "" {
		return nil, fmt.Errorf("entity name is required")
	}
	if strings.TrimSpace(params.EntityType) == "" {
		return nil, fmt.Errorf("entity type is required")
	}

	id, err := gonanoid.New()
	if err != nil {
		return nil, fmt.Errorf("failed to generate entity ID: %w", err)
	}

	provenance := params.Provenance
	if provenance == "" {
		provenance = common.ProvenanceManual
	}
	content := params.Content
	if content == nil {
		content = map[string]any{}
	}

	entity := &common.Entity{
		ID:             id,
		CampaignID:     params.CampaignID,
		EntityType:     params.EntityType,
		Name:           params.Name,
		Content:        content,
		ApprovalStatus: common.ApprovalStaging,
		Provenance:     provenance,
		Confidence:     params.Confidence,
		SourceType:     params.SourceType,
		SourceID:       params.SourceID,
	}

	if err := g.store.CreateEntity(ctx, entity); err != nil {
		return nil, fmt.Errorf("failed to create entity: %w", err)
	}

	if params.EvaluateDedup && !entity.IsStub() {
		if _, err := g.EvaluateEntity(ctx, params.CampaignID, entity.ID, entity.EntityType); err != nil {
			// Dedup evaluation is advisory; the entity itself is already
			// durable, so log and return it.
			logger.Warn("[Entity] Dedup evaluation failed", "entity_id", entity.ID, "error", err)
		}
	}

	return entity, nil
}

// GetEntity fetches an entity by id with the changelog overlay applied,
// so live session deltas are visible before the next rebuild.
func (g *Engine) GetEntity(ctx context.Context, campaignID int64, entityID string) (*common.Entity, error) {
	entity, err := g.store.GetEntity(ctx, campaignID, entityID)
	if err != nil {
		return nil, err
	}

	snapshot, err := g.OverlaySnapshot(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to build overlay snapshot: %w", err)
	}
	return snapshot.ApplyToEntity(entity), nil
}

// GetBaseEntity fetches the stored entity without the overlay. Rebuilds
// and merge operations read through this path.
func (g *Engine) GetBaseEntity(ctx context.Context, campaignID int64, entityID string) (*common.Entity, error) {
	return g.store.GetEntity(ctx, campaignID, entityID)
}

// UpdateEntity applies a partial field update. A "content" field is merged
// with the stored content via MergeContent rather than replacing it; pass
// "content_replace" to overwrite wholesale.
func (g *Engine) UpdateEntity(
	ctx context.Context,
	campaignID int64,
	entityID string,
	fields map[string]any,
) (*common.Entity, error) {
	if len(fields) == 0 {
		return g.store.GetEntity(ctx, campaignID, entityID)
	}

	if status, ok := fields["approval_status"]; ok {
		if err := validateApprovalStatus(status); err != nil {
			return nil, err
		}
	}
	if override, ok := fields["importance_override"]; ok {
		if err := validateImportanceOverride(override); err != nil {
			return nil, err
		}
	}

	if raw, ok := fields["content"]; ok {
		next, err := toContentMap(raw)
		if err != nil {
			return nil, err
		}
		current, err := g.store.GetEntity(ctx, campaignID, entityID)
		if err != nil {
			return nil, err
		}
		fields["content"] = MergeContent(current.Content, next)
	}
	if raw, ok := fields["content_replace"]; ok {
		next, err := toContentMap(raw)
		if err != nil {
			return nil, err
		}
		delete(fields, "content_replace")
		fields["content"] = next
	}

	return g.store.UpdateEntity(ctx, campaignID, entityID, fields)
}

// SetApprovalStatus transitions an entity's visibility tag.
func (g *Engine) SetApprovalStatus(
	ctx context.Context,
	campaignID int64,
	entityID string,
	status common.ApprovalStatus,
) (*common.Entity, error) {
	if err := validateApprovalStatus(status); err != nil {
		return nil, err
	}
	return g.store.UpdateEntity(ctx, campaignID, entityID, map[string]any{
		"approval_status": status,
	})
}

// ListEntities lists campaign entities. Stubs are excluded unless the
// filter opts in.
func (g *Engine) ListEntities(ctx context.Context, campaignID int64, filter store.EntityFilter) ([]common.Entity, error) {
	return g.store.ListEntities(ctx, campaignID, filter)
}

// SearchEntities runs a text search over entity names and content. Stubs
// match in storage so extraction can absorb them, but they are filtered
// from user-facing results here.
func (g *Engine) SearchEntities(ctx context.Context, campaignID int64, query string, limit int) ([]common.Entity, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	matches, err := g.store.SearchEntitiesByText(ctx, campaignID, query, limit)
	if err != nil {
		return nil, err
	}
	out := make([]common.Entity, 0, len(matches))
	for i := range matches {
		if matches[i].IsStub() {
			continue
		}
		out = append(out, matches[i])
	}
	return out, nil
}

// SearchEntitiesSemantic embeds the query and returns the nearest
// entities by cosine similarity, stubs excluded.
func (g *Engine) SearchEntitiesSemantic(
	ctx context.Context,
	campaignID int64,
	query string,
	topK int,
	minScore float64,
) ([]store.EntityMatch, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if topK <= 0 {
		topK = 10
	}

	embedding, err := util.RetryWithContext(ctx, g.maxRetries, func(ctx context.Context) ([]float32, error) {
		return g.ai.GenerateEmbedding(ctx, []byte(query))
	})
	if err != nil {
		return nil, &EmbeddingGenerationError{Err: err}
	}

	return g.store.SearchEntitiesSemantic(ctx, campaignID, embedding, topK, minScore)
}

// DeleteEntity hard-deletes an entity; the store cascades deletion of all
// relationships touching it. Normal removal goes through
// SetApprovalStatus(deleted); this is for callers that really want the
// rows gone.
func (g *Engine) DeleteEntity(ctx context.Context, campaignID int64, entityID string) error {
	return g.store.DeleteEntity(ctx, campaignID, entityID)
}

// ApplyExtractedEntity folds a re-extracted entity into the store: if an
// approved or staging entity with the same name and type exists, its
// content is merged (new values win) and the existing record returned;
// otherwise a new entity is created. Repeated extraction over overlapping
// text is therefore idempotent in effect.
func (g *Engine) ApplyExtractedEntity(
	ctx context.Context,
	campaignID int64,
	candidate CreateEntityParams,
) (*common.Entity, bool, error) {
	existing, err := g.findEntityByNameAndType(ctx, campaignID, candidate.Name, candidate.EntityType)
	if err != nil {
		return nil, false, err
	}

	if existing == nil {
		entity, err := g.CreateEntity(ctx, candidate)
		if err != nil {
			return nil, false, err
		}
		return entity, true, nil
	}

	fields := map[string]any{
		"content": MergeContent(existing.Content, candidate.Content),
	}
	if existing.IsStub() && len(candidate.Content) > 0 {
		fields["provenance"] = common.ProvenanceExtracted
		fields["confidence"] = candidate.Confidence
	}
	entity, err := g.store.UpdateEntity(ctx, campaignID, existing.ID, fields)
	if err != nil {
		return nil, false, err
	}
	return entity, false, nil
}

func (g *Engine) findEntityByNameAndType(
	ctx context.Context,
	campaignID int64,
	name string,
	entityType string,
) (*common.Entity, error) {
	matches, err := g.store.SearchEntitiesByText(ctx, campaignID, name, 25)
	if err != nil {
		return nil, err
	}
	for i := range matches {
		if !strings.EqualFold(matches[i].Name, name) {
			continue
		}
		if !strings.EqualFold(matches[i].EntityType, entityType) {
			continue
		}
		if matches[i].ApprovalStatus == common.ApprovalDeleted || matches[i].ApprovalStatus == common.ApprovalRejected {
			continue
		}
		return &matches[i], nil
	}
	return nil, nil
}

func validateApprovalStatus(v any) error {
	s, ok := v.(common.ApprovalStatus)
	if !ok {
		if str, okStr := v.(string); okStr {
			s = common.ApprovalStatus(str)
		} else {
			return fmt.Errorf("invalid approval status: %v", v)
		}
	}
	switch s {
	case common.ApprovalStaging, common.ApprovalApproved, common.ApprovalRejected, common.ApprovalDeleted:
		return nil
	}
	return fmt.Errorf("invalid approval status: %q", s)
}

func validateImportanceOverride(v any) error {
	s, ok := v.(string)
	if !ok {
		return fmt.Errorf("invalid importance override: %v", v)
	}
	switch s {
	case "", "high", "medium", "low":
		return nil
	}
	return fmt.Errorf("invalid importance override: %q", s)
}

func toContentMap(raw any) (map[string]any, error) {
	switch v := raw.(type) {
	case map[string]any:
		return v, nil
	case json.RawMessage:
		var m map[string]any
		if err := json.Unmarshal(v, &m); err != nil {
			return nil, fmt.Errorf("invalid content payload: %w", err)
		}
		return m, nil
	case nil:
		return map[string]any{}, nil
	default:
		return nil, fmt.Errorf("invalid content payload type %T", raw)
	}
}
