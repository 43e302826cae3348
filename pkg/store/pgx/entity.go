package pgx

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/loreforge/loreforge/backend/pkg/common"
	"github.com/loreforge/loreforge/backend/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

const entityColumns = `id, campaign_id, entity_type, name, content, approval_status,
	importance_override, provenance, confidence, source_type, source_id,
	created_at, updated_at`

// stubPredicate identifies referenced-only entities with no content yet.
const stubPredicate = `(provenance = 'referenced' AND content = '{}'::jsonb)`

func scanEntity(row pgxv5.Row) (*common.Entity, error) {
	var e common.Entity
	err := row.Scan(
		&e.ID, &e.CampaignID, &e.EntityType, &e.Name, &e.Content, &e.ApprovalStatus,
		&e.ImportanceOverride, &e.Provenance, &e.Confidence, &e.SourceType, &e.SourceID,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if e.Content == nil {
		e.Content = map[string]any{}
	}
	return &e, nil
}

// embeddingInput flattens an entity into the text its embedding is
// generated from.
func embeddingInput(e *common.Entity) []byte {
	var b strings.Builder
	b.WriteString(e.Name)
	b.WriteString(" (")
	b.WriteString(e.EntityType)
	b.WriteString(")")
	if len(e.Content) > 0 {
		if data, err := json.Marshal(e.Content); err == nil {
			b.WriteString(" ")
			b.Write(data)
		}
	}
	return []byte(b.String())
}

func (s *CampaignDBStorage) entityEmbedding(ctx context.Context, e *common.Entity) (*pgvector.Vector, error) {
	if s.aiClient == nil {
		return nil, nil
	}
	embedding, err := s.aiClient.GenerateEmbedding(ctx, embeddingInput(e))
	if err != nil {
		return nil, fmt.Errorf("failed to generate entity embedding: %w", err)
	}
	vec := pgvector.NewVector(embedding)
	return &vec, nil
}

func (s *CampaignDBStorage) CreateEntity(ctx context.Context, entity *common.Entity) error {
	embedding, err := s.entityEmbedding(ctx, entity)
	if err != nil {
		return err
	}

	content := entity.Content
	if content == nil {
		content = map[string]any{}
	}

	err = s.conn.QueryRow(ctx, `
		INSERT INTO entities (
			id, campaign_id, entity_type, name, content, approval_status,
			importance_override, provenance, confidence, source_type, source_id, embedding
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at`,
		entity.ID, entity.CampaignID, entity.EntityType, entity.Name, content,
		entity.ApprovalStatus, entity.ImportanceOverride, entity.Provenance,
		entity.Confidence, entity.SourceType, entity.SourceID, embedding,
	).Scan(&entity.CreatedAt, &entity.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert entity: %w", err)
	}
	return nil
}

func (s *CampaignDBStorage) GetEntity(ctx context.Context, campaignID int64, entityID string) (*common.Entity, error) {
	row := s.conn.QueryRow(ctx, `
		SELECT `+entityColumns+`
		FROM entities
		WHERE campaign_id = $1 AND id = $2`, campaignID, entityID)

	entity, err := scanEntity(row)
	if err != nil {
		if err == pgxv5.ErrNoRows {
			return nil, fmt.Errorf("entity %q in campaign %d: %w", entityID, campaignID, store.ErrEntityNotFound)
		}
		return nil, fmt.Errorf("failed to get entity: %w", err)
	}
	return entity, nil
}

// entityUpdateColumns whitelists the fields UpdateEntity may touch.
var entityUpdateColumns = map[string]string{
	"name":                "name",
	"entity_type":         "entity_type",
	"content":             "content",
	"approval_status":     "approval_status",
	"importance_override": "importance_override",
	"provenance":          "provenance",
	"confidence":          "confidence",
	"source_type":         "source_type",
	"source_id":           "source_id",
}

func (s *CampaignDBStorage) UpdateEntity(
	ctx context.Context,
	campaignID int64,
	entityID string,
	fields map[string]any,
) (*common.Entity, error) {
	if len(fields) == 0 {
		return s.GetEntity(ctx, campaignID, entityID)
	}

	sets := make([]string, 0, len(fields)+1)
	args := []any{campaignID, entityID}
	argIdx := 3
	reembed := false

	for field, value := range fields {
		column, ok := entityUpdateColumns[field]
		if !ok {
			return nil, fmt.Errorf("unknown entity field %q", field)
		}
		if column == "name" || column == "entity_type" || column == "content" {
			reembed = true
		}
		sets = append(sets, fmt.Sprintf("%s = $%d", column, argIdx))
		args = append(args, value)
		argIdx++
	}
	sets = append(sets, "updated_at = now()")

	query := fmt.Sprintf(`
		UPDATE entities SET %s
		WHERE campaign_id = $1 AND id = $2
		RETURNING `+entityColumns, strings.Join(sets, ", "))

	entity, err := scanEntity(s.conn.QueryRow(ctx, query, args...))
	if err != nil {
		if err == pgxv5.ErrNoRows {
			return nil, fmt.Errorf("entity %q in campaign %d: %w", entityID, campaignID, store.ErrEntityNotFound)
		}
		return nil, fmt.Errorf("failed to update entity: %w", err)
	}

	if reembed {
		embedding, err := s.entityEmbedding(ctx, entity)
		if err != nil {
			return nil, err
		}
		if embedding != nil {
			_, err = s.conn.Exec(ctx, `
				UPDATE entities SET embedding = $3
				WHERE campaign_id = $1 AND id = $2`, campaignID, entityID, embedding)
			if err != nil {
				return nil, fmt.Errorf("failed to refresh entity embedding: %w", err)
			}
		}
	}

	return entity, nil
}

func (s *CampaignDBStorage) ListEntities(
	ctx context.Context,
	campaignID int64,
	filter store.EntityFilter,
) ([]common.Entity, error) {
	conditions := []string{"campaign_id = $1"}
	args := []any{campaignID}
	argIdx := 2

	if filter.EntityType != "" {
		conditions = append(conditions, fmt.Sprintf("entity_type = $%d", argIdx))
		args = append(args, filter.EntityType)
		argIdx++
	}
	if filter.ApprovalStatus != "" {
		conditions = append(conditions, fmt.Sprintf("approval_status = $%d", argIdx))
		args = append(args, filter.ApprovalStatus)
		argIdx++
	} else if !filter.IncludeHidden {
		conditions = append(conditions, "approval_status NOT IN ('rejected', 'deleted')")
	}
	if !filter.IncludeStubs {
		conditions = append(conditions, "NOT "+stubPredicate)
	}

	query := fmt.Sprintf(`
		SELECT %s FROM entities
		WHERE %s
		ORDER BY name, id`, entityColumns, strings.Join(conditions, " AND "))

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filter.Limit)
		argIdx++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}
	defer rows.Close()

	return collectEntities(rows)
}

// SearchEntitiesByText matches entity names and content. Stubs are
// included so extraction paths can find and absorb them; user-facing
// search filters them out above this layer.
func (s *CampaignDBStorage) SearchEntitiesByText(
	ctx context.Context,
	campaignID int64,
	query string,
	limit int,
) ([]common.Entity, error) {
	pattern := "%" + query + "%"

	rows, err := s.conn.Query(ctx, `
		SELECT `+entityColumns+`
		FROM entities
		WHERE campaign_id = $1
		  AND approval_status NOT IN ('rejected', 'deleted')
		  AND (name ILIKE $2 OR content::text ILIKE $2)
		ORDER BY (lower(name) = lower($3)) DESC, name, id
		LIMIT $4`, campaignID, pattern, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search entities: %w", err)
	}
	defer rows.Close()

	return collectEntities(rows)
}

func (s *CampaignDBStorage) SearchEntitiesSemantic(
	ctx context.Context,
	campaignID int64,
	embedding []float32,
	topK int,
	minScore float64,
) ([]store.EntityMatch, error) {
	vec := pgvector.NewVector(embedding)

	rows, err := s.conn.Query(ctx, `
		SELECT id, name, 1 - (embedding <=> $2) AS score
		FROM entities
		WHERE campaign_id = $1
		  AND embedding IS NOT NULL
		  AND approval_status NOT IN ('rejected', 'deleted')
		  AND NOT `+stubPredicate+`
		  AND 1 - (embedding <=> $2) >= $3
		ORDER BY embedding <=> $2
		LIMIT $4`, campaignID, vec, minScore, topK)
	if err != nil {
		return nil, fmt.Errorf("failed to run semantic search: %w", err)
	}
	defer rows.Close()

	return collectMatches(rows)
}

func (s *CampaignDBStorage) FindSimilarEntities(
	ctx context.Context,
	campaignID int64,
	entityID string,
	entityType string,
	topK int,
	minScore float64,
) ([]store.EntityMatch, error) {
	conditions := []string{
		"e.campaign_id = $1",
		"e.id <> $2",
		"e.embedding IS NOT NULL",
		"e.approval_status NOT IN ('rejected', 'deleted')",
		"NOT (e.provenance = 'referenced' AND e.content = '{}'::jsonb)",
		"1 - (e.embedding <=> ref.embedding) >= $3",
	}
	args := []any{campaignID, entityID, minScore, topK}
	if entityType != "" {
		conditions = append(conditions, "e.entity_type = $5")
		args = append(args, entityType)
	}

	query := fmt.Sprintf(`
		WITH ref AS (
			SELECT embedding FROM entities
			WHERE campaign_id = $1 AND id = $2 AND embedding IS NOT NULL
		)
		SELECT e.id, e.name, 1 - (e.embedding <=> ref.embedding) AS score
		FROM entities e, ref
		WHERE %s
		ORDER BY e.embedding <=> ref.embedding
		LIMIT $4`, strings.Join(conditions, " AND "))

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find similar entities: %w", err)
	}
	defer rows.Close()

	return collectMatches(rows)
}

// DeleteEntity hard-deletes the entity row and every relationship touching
// it, in one transaction.
func (s *CampaignDBStorage) DeleteEntity(ctx context.Context, campaignID int64, entityID string) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		DELETE FROM relationships
		WHERE campaign_id = $1 AND (from_entity_id = $2 OR to_entity_id = $2)`,
		campaignID, entityID)
	if err != nil {
		return fmt.Errorf("failed to delete entity relationships: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		DELETE FROM entities WHERE campaign_id = $1 AND id = $2`, campaignID, entityID)
	if err != nil {
		return fmt.Errorf("failed to delete entity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("entity %q in campaign %d: %w", entityID, campaignID, store.ErrEntityNotFound)
	}

	return tx.Commit(ctx)
}

func collectEntities(rows pgxv5.Rows) ([]common.Entity, error) {
	var entities []common.Entity
	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		entities = append(entities, *entity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entities: %w", err)
	}
	return entities, nil
}

func collectMatches(rows pgxv5.Rows) ([]store.EntityMatch, error) {
	var matches []store.EntityMatch
	for rows.Next() {
		var m store.EntityMatch
		if err := rows.Scan(&m.EntityID, &m.Name, &m.Score); err != nil {
			return nil, fmt.Errorf("failed to scan entity match: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entity matches: %w", err)
	}
	return matches, nil
}
