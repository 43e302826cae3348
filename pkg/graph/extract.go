package graph

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/loreforge/loreforge/backend/internal/util"
	"github.com/loreforge/loreforge/backend/pkg/ai"
	"github.com/loreforge/loreforge/backend/pkg/common"
	"github.com/loreforge/loreforge/backend/pkg/loader"
	"github.com/loreforge/loreforge/backend/pkg/logger"

	"golang.org/x/sync/errgroup"
)

var defaultEntityTypes = []string{
	"npc", "location", "faction", "item", "event", "creature", "organization", "concept",
}

type extractFact struct {
	Key   string `json:"key" jsonschema_description:"Short snake_case attribute name, e.g. occupation or allegiance"`
	Value string `json:"value" jsonschema_description:"The attribute's value as stated by the passage"`
}

type extractEntity struct {
	Name       string        `json:"name" jsonschema_description:"Name of the entity, capitalized"`
	EntityType string        `json:"entity_type" jsonschema_description:"One of the provided entity types"`
	Facts      []extractFact `json:"facts" jsonschema_description:"Facts the passage states about the entity; empty for entities that are only mentioned"`
}

type extractRelationship struct {
	SourceEntity     string  `json:"source_entity" jsonschema_description:"Name of the source entity, as listed in entities"`
	TargetEntity     string  `json:"target_entity" jsonschema_description:"Name of the target entity, as listed in entities"`
	RelationshipType string  `json:"relationship_type" jsonschema_description:"Type of the directed relationship, e.g. allied_with, located_in"`
	Strength         float64 `json:"strength" jsonschema_description:"How strongly the passage supports the relationship, 1 to 10"`
}

type extractResponse struct {
	Entities      []extractEntity       `json:"entities" jsonschema_description:"Entities identified in the passage"`
	Relationships []extractRelationship `json:"relationships" jsonschema_description:"Directed relationships identified in the passage"`
}

// extractedEntity is an in-memory candidate before it hits the store.
type extractedEntity struct {
	Name       string
	EntityType string
	Content    map[string]any
	// Mentioned entities arrive with no facts and become stubs.
	Mentioned bool
}

type extractedRelation struct {
	SourceName       string
	TargetName       string
	RelationshipType string
	Strength         float64
}

// IngestResult reports what one document contributed to the graph.
type IngestResult struct {
	DocumentID      string `json:"document_id"`
	Units           int    `json:"units"`
	EntitiesCreated int    `json:"entities_created"`
	EntitiesMerged  int    `json:"entities_merged"`
	StubsCreated    int    `json:"stubs_created"`
	EdgesUpserted   int    `json:"edges_upserted"`
}

// IngestNarrative chunks a narrative document, extracts entities and
// relationships from each unit via the extraction collaborator, and folds
// them into the campaign graph. Entities seen before are content-merged,
// relationship re-assertions collapse into the existing edge, and each
// genuinely new entity is evaluated for duplicates, so re-ingesting
// overlapping text is idempotent in effect.
func (g *Engine) IngestNarrative(
	ctx context.Context,
	campaignID int64,
	doc loader.Document,
) (*IngestResult, error) {
	units, err := g.getUnitsFromDocument(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("failed to chunk document: %w", err)
	}

	result := &IngestResult{DocumentID: doc.ID, Units: len(units)}
	if len(units) == 0 {
		return result, nil
	}

	logger.Info("[Ingest] Extracting", "campaign_id", campaignID, "document_id", doc.ID, "units", len(units))

	var (
		entities  []extractedEntity
		relations []extractedRelation
		mergeMu   sync.Mutex
	)

	eg, gCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.parallelAiRequests)
	for _, unit := range units {
		u := unit
		eg.Go(func() error {
			select {
			case <-gCtx.Done():
				return nil
			default:
			}

			e, r, err := util.Retry2WithContext(gCtx, g.maxRetries, func(ctx context.Context) ([]extractedEntity, []extractedRelation, error) {
				return g.extractFromUnit(ctx, u, doc)
			})
			if err != nil {
				return &EntityExtractionError{SourceID: doc.ID, Err: err}
			}

			mergeMu.Lock()
			entities, relations = mergeExtracted(entities, e, relations, r)
			mergeMu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	if err := g.persistExtracted(ctx, campaignID, doc, entities, relations, result); err != nil {
		return nil, err
	}

	logger.Info("[Ingest] Document folded into graph",
		"campaign_id", campaignID,
		"document_id", doc.ID,
		"created", result.EntitiesCreated,
		"merged", result.EntitiesMerged,
		"stubs", result.StubsCreated,
		"edges", result.EdgesUpserted,
	)
	return result, nil
}

func (g *Engine) extractFromUnit(
	ctx context.Context,
	unit processUnit,
	doc loader.Document,
) ([]extractedEntity, []extractedRelation, error) {
	types := doc.EntityTypes
	if len(types) == 0 {
		types = defaultEntityTypes
	}
	typeList := strings.Join(types, ",")

	sourceName := doc.Name
	if sourceName == "" {
		sourceName = doc.ID
	}

	systemPrompt := fmt.Sprintf(ai.ExtractPrompt, typeList, sourceName, typeList, typeList)

	var res extractResponse
	err := g.ai.GenerateCompletionWithFormat(
		ctx,
		"extract_entities_and_relationships",
		"Extract entities and relationships from a passage of narrative campaign content.",
		unit.text,
		&res,
		ai.WithSystemPrompts(systemPrompt),
	)
	if err != nil {
		return nil, nil, err
	}

	entities := make([]extractedEntity, 0, len(res.Entities))
	for _, e := range res.Entities {
		name := util.SanitizePostgresText(strings.TrimSpace(e.Name))
		if name == "" {
			continue
		}
		content := make(map[string]any, len(e.Facts))
		for _, fact := range e.Facts {
			if strings.TrimSpace(fact.Key) == "" {
				continue
			}
			content[fact.Key] = util.SanitizePostgresText(fact.Value)
		}
		entities = append(entities, extractedEntity{
			Name:       name,
			EntityType: strings.ToLower(strings.TrimSpace(e.EntityType)),
			Content:    content,
			Mentioned:  len(content) == 0,
		})
	}

	relations := make([]extractedRelation, 0, len(res.Relationships))
	for _, r := range res.Relationships {
		if strings.TrimSpace(r.SourceEntity) == "" || strings.TrimSpace(r.TargetEntity) == "" {
			continue
		}
		relations = append(relations, extractedRelation{
			SourceName:       strings.TrimSpace(r.SourceEntity),
			TargetName:       strings.TrimSpace(r.TargetEntity),
			RelationshipType: NormalizeRelationshipType(r.RelationshipType),
			Strength:         r.Strength,
		})
	}

	return entities, relations, nil
}

// mergeExtracted folds one unit's candidates into the accumulated set.
// Entities key on name; content unions with the earlier unit winning, so
// a later mere mention never erases facts. Duplicate relations average
// their strength.
func mergeExtracted(
	entities []extractedEntity,
	newEntities []extractedEntity,
	relations []extractedRelation,
	newRelations []extractedRelation,
) ([]extractedEntity, []extractedRelation) {
	for _, entity := range newEntities {
		found := false
		for j := range entities {
			if !strings.EqualFold(entities[j].Name, entity.Name) {
				continue
			}
			entities[j].Content = MergeContent(entity.Content, entities[j].Content)
			entities[j].Mentioned = entities[j].Mentioned && entity.Mentioned
			found = true
			break
		}
		if !found {
			entities = append(entities, entity)
		}
	}

	for _, rel := range newRelations {
		found := false
		for j := range relations {
			if strings.EqualFold(relations[j].SourceName, rel.SourceName) &&
				strings.EqualFold(relations[j].TargetName, rel.TargetName) &&
				relations[j].RelationshipType == rel.RelationshipType {
				relations[j].Strength = (relations[j].Strength + rel.Strength) / 2
				found = true
				break
			}
		}
		if !found {
			relations = append(relations, rel)
		}
	}

	return entities, relations
}

func (g *Engine) persistExtracted(
	ctx context.Context,
	campaignID int64,
	doc loader.Document,
	entities []extractedEntity,
	relations []extractedRelation,
	result *IngestResult,
) error {
	idsByName := make(map[string]string, len(entities))

	for _, candidate := range entities {
		provenance := common.ProvenanceExtracted
		if candidate.Mentioned {
			provenance = common.ProvenanceReferenced
		}

		entity, created, err := g.ApplyExtractedEntity(ctx, campaignID, CreateEntityParams{
			CampaignID:    campaignID,
			EntityType:    candidate.EntityType,
			Name:          candidate.Name,
			Content:       candidate.Content,
			Provenance:    provenance,
			Confidence:    extractionConfidence,
			SourceType:    string(doc.Kind),
			SourceID:      doc.ID,
			EvaluateDedup: !candidate.Mentioned,
		})
		if err != nil {
			return err
		}

		idsByName[strings.ToLower(candidate.Name)] = entity.ID
		switch {
		case created && candidate.Mentioned:
			result.StubsCreated++
		case created:
			result.EntitiesCreated++
		default:
			result.EntitiesMerged++
		}
	}

	for _, rel := range relations {
		fromID, okF := idsByName[strings.ToLower(rel.SourceName)]
		toID, okT := idsByName[strings.ToLower(rel.TargetName)]
		if !okF || !okT || fromID == toID {
			continue
		}

		strength := rel.Strength / 10
		_, err := g.UpsertEdge(ctx, UpsertEdgeParams{
			CampaignID:       campaignID,
			FromEntityID:     fromID,
			ToEntityID:       toID,
			RelationshipType: rel.RelationshipType,
			Strength:         &strength,
		})
		if err != nil {
			return err
		}
		result.EdgesUpserted++
	}

	return nil
}

const extractionConfidence = 0.7
