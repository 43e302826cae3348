package pgx

import (
	"context"
	"fmt"

	"github.com/loreforge/loreforge/backend/pkg/common"

	pgxv5 "github.com/jackc/pgx/v5"
)

func (s *CampaignDBStorage) UpsertImportance(ctx context.Context, imp *common.EntityImportance) error {
	_, err := s.conn.Exec(ctx, `
		INSERT INTO entity_importance (
			campaign_id, entity_id, pagerank, betweenness_centrality,
			hierarchy_level, importance_score, computed_at
		) VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (campaign_id, entity_id)
		DO UPDATE SET
			pagerank = EXCLUDED.pagerank,
			betweenness_centrality = EXCLUDED.betweenness_centrality,
			hierarchy_level = EXCLUDED.hierarchy_level,
			importance_score = EXCLUDED.importance_score,
			computed_at = now()`,
		imp.CampaignID, imp.EntityID, imp.PageRank, imp.BetweennessCentrality,
		imp.HierarchyLevel, imp.ImportanceScore)
	if err != nil {
		return fmt.Errorf("failed to upsert importance: %w", err)
	}
	return nil
}

// GetImportance returns the cached score record, or nil when the entity
// has not been scored yet.
func (s *CampaignDBStorage) GetImportance(ctx context.Context, campaignID int64, entityID string) (*common.EntityImportance, error) {
	var imp common.EntityImportance
	err := s.conn.QueryRow(ctx, `
		SELECT campaign_id, entity_id, pagerank, betweenness_centrality,
		       hierarchy_level, importance_score, computed_at
		FROM entity_importance
		WHERE campaign_id = $1 AND entity_id = $2`, campaignID, entityID,
	).Scan(
		&imp.CampaignID, &imp.EntityID, &imp.PageRank, &imp.BetweennessCentrality,
		&imp.HierarchyLevel, &imp.ImportanceScore, &imp.ComputedAt,
	)
	if err != nil {
		if err == pgxv5.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get importance: %w", err)
	}
	return &imp, nil
}

func (s *CampaignDBStorage) TopImportance(
	ctx context.Context,
	campaignID int64,
	minScore float64,
	limit, offset int,
) ([]common.EntityImportance, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT campaign_id, entity_id, pagerank, betweenness_centrality,
		       hierarchy_level, importance_score, computed_at
		FROM entity_importance
		WHERE campaign_id = $1 AND importance_score >= $2
		ORDER BY importance_score DESC, entity_id
		LIMIT $3 OFFSET $4`, campaignID, minScore, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list top importance: %w", err)
	}
	defer rows.Close()

	var scores []common.EntityImportance
	for rows.Next() {
		var imp common.EntityImportance
		err := rows.Scan(
			&imp.CampaignID, &imp.EntityID, &imp.PageRank, &imp.BetweennessCentrality,
			&imp.HierarchyLevel, &imp.ImportanceScore, &imp.ComputedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan importance: %w", err)
		}
		scores = append(scores, imp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating importance scores: %w", err)
	}
	return scores, nil
}
