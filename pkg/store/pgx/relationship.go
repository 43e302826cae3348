package pgx

import (
	"context"
	"fmt"

	"github.com/loreforge/loreforge/backend/pkg/common"

	pgxv5 "github.com/jackc/pgx/v5"
)

const relationshipColumns = `id, campaign_id, from_entity_id, to_entity_id,
	relationship_type, strength, metadata, created_at, updated_at`

func scanRelationship(row pgxv5.Row) (*common.Relationship, error) {
	var r common.Relationship
	err := row.Scan(
		&r.ID, &r.CampaignID, &r.FromEntityID, &r.ToEntityID,
		&r.RelationshipType, &r.Strength, &r.Metadata, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// UpsertRelationship inserts the edge or, when the campaign already holds
// the same (from, to, type) triple, updates its strength and metadata in
// place. The returned row carries the surviving id and timestamps.
func (s *CampaignDBStorage) UpsertRelationship(ctx context.Context, rel *common.Relationship) (*common.Relationship, error) {
	row := s.conn.QueryRow(ctx, `
		INSERT INTO relationships (
			id, campaign_id, from_entity_id, to_entity_id, relationship_type, strength, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (campaign_id, from_entity_id, to_entity_id, relationship_type)
		DO UPDATE SET
			strength = COALESCE(EXCLUDED.strength, relationships.strength),
			metadata = COALESCE(EXCLUDED.metadata, relationships.metadata),
			updated_at = now()
		RETURNING `+relationshipColumns,
		rel.ID, rel.CampaignID, rel.FromEntityID, rel.ToEntityID,
		rel.RelationshipType, rel.Strength, rel.Metadata)

	upserted, err := scanRelationship(row)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert relationship: %w", err)
	}
	return upserted, nil
}

func (s *CampaignDBStorage) DeleteRelationshipByID(ctx context.Context, campaignID int64, relationshipID string) error {
	tag, err := s.conn.Exec(ctx, `
		DELETE FROM relationships WHERE campaign_id = $1 AND id = $2`,
		campaignID, relationshipID)
	if err != nil {
		return fmt.Errorf("failed to delete relationship: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("relationship %q not found in campaign %d", relationshipID, campaignID)
	}
	return nil
}

func (s *CampaignDBStorage) DeleteRelationshipByKey(
	ctx context.Context,
	campaignID int64,
	fromID, toID, relationshipType string,
) error {
	tag, err := s.conn.Exec(ctx, `
		DELETE FROM relationships
		WHERE campaign_id = $1 AND from_entity_id = $2 AND to_entity_id = $3 AND relationship_type = $4`,
		campaignID, fromID, toID, relationshipType)
	if err != nil {
		return fmt.Errorf("failed to delete relationship: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("relationship %s -[%s]-> %s not found in campaign %d",
			fromID, relationshipType, toID, campaignID)
	}
	return nil
}

// RelationshipsOf returns every edge touching the entity, in either
// direction.
func (s *CampaignDBStorage) RelationshipsOf(
	ctx context.Context,
	campaignID int64,
	entityID string,
	typeFilter string,
) ([]common.Relationship, error) {
	query := `
		SELECT ` + relationshipColumns + `
		FROM relationships
		WHERE campaign_id = $1 AND (from_entity_id = $2 OR to_entity_id = $2)`
	args := []any{campaignID, entityID}
	if typeFilter != "" {
		query += " AND relationship_type = $3"
		args = append(args, typeFilter)
	}
	query += " ORDER BY relationship_type, to_entity_id"

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list entity relationships: %w", err)
	}
	defer rows.Close()

	return collectRelationships(rows)
}

// OutgoingRelationships returns edges leaving any of the given entities,
// batched for traversal frontiers.
func (s *CampaignDBStorage) OutgoingRelationships(
	ctx context.Context,
	campaignID int64,
	fromIDs []string,
	typeFilter string,
) ([]common.Relationship, error) {
	if len(fromIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT ` + relationshipColumns + `
		FROM relationships
		WHERE campaign_id = $1 AND from_entity_id = ANY($2)`
	args := []any{campaignID, fromIDs}
	if typeFilter != "" {
		query += " AND relationship_type = $3"
		args = append(args, typeFilter)
	}

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list outgoing relationships: %w", err)
	}
	defer rows.Close()

	return collectRelationships(rows)
}

func (s *CampaignDBStorage) ListRelationships(ctx context.Context, campaignID int64) ([]common.Relationship, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT `+relationshipColumns+`
		FROM relationships
		WHERE campaign_id = $1
		ORDER BY from_entity_id, relationship_type, to_entity_id`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to list relationships: %w", err)
	}
	defer rows.Close()

	return collectRelationships(rows)
}

// RepointRelationships moves every edge touching fromEntityID onto
// toEntityID. Edges that would collide with an existing edge of the target
// are dropped rather than duplicated, as are edges that would become
// self-loops.
func (s *CampaignDBStorage) RepointRelationships(ctx context.Context, campaignID int64, fromEntityID, toEntityID string) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Edges between the two entities become self-loops after repointing.
	_, err = tx.Exec(ctx, `
		DELETE FROM relationships
		WHERE campaign_id = $1
		  AND ((from_entity_id = $2 AND to_entity_id = $3)
		    OR (from_entity_id = $3 AND to_entity_id = $2))`,
		campaignID, fromEntityID, toEntityID)
	if err != nil {
		return fmt.Errorf("failed to drop would-be self-loops: %w", err)
	}

	_, err = tx.Exec(ctx, `
		DELETE FROM relationships r
		WHERE r.campaign_id = $1 AND r.from_entity_id = $2
		  AND EXISTS (
			SELECT 1 FROM relationships k
			WHERE k.campaign_id = $1 AND k.from_entity_id = $3
			  AND k.to_entity_id = r.to_entity_id
			  AND k.relationship_type = r.relationship_type)`,
		campaignID, fromEntityID, toEntityID)
	if err != nil {
		return fmt.Errorf("failed to drop colliding outgoing edges: %w", err)
	}
	_, err = tx.Exec(ctx, `
		UPDATE relationships SET from_entity_id = $3, updated_at = now()
		WHERE campaign_id = $1 AND from_entity_id = $2`,
		campaignID, fromEntityID, toEntityID)
	if err != nil {
		return fmt.Errorf("failed to repoint outgoing edges: %w", err)
	}

	_, err = tx.Exec(ctx, `
		DELETE FROM relationships r
		WHERE r.campaign_id = $1 AND r.to_entity_id = $2
		  AND EXISTS (
			SELECT 1 FROM relationships k
			WHERE k.campaign_id = $1 AND k.to_entity_id = $3
			  AND k.from_entity_id = r.from_entity_id
			  AND k.relationship_type = r.relationship_type)`,
		campaignID, fromEntityID, toEntityID)
	if err != nil {
		return fmt.Errorf("failed to drop colliding incoming edges: %w", err)
	}
	_, err = tx.Exec(ctx, `
		UPDATE relationships SET to_entity_id = $3, updated_at = now()
		WHERE campaign_id = $1 AND to_entity_id = $2`,
		campaignID, fromEntityID, toEntityID)
	if err != nil {
		return fmt.Errorf("failed to repoint incoming edges: %w", err)
	}

	return tx.Commit(ctx)
}

func collectRelationships(rows pgxv5.Rows) ([]common.Relationship, error) {
	var relationships []common.Relationship
	for rows.Next() {
		rel, err := scanRelationship(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan relationship: %w", err)
		}
		relationships = append(relationships, *rel)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating relationships: %w", err)
	}
	return relationships, nil
}
