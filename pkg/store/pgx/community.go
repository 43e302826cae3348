package pgx

import (
	"context"
	"fmt"

	"github.com/loreforge/loreforge/backend/pkg/common"
	"github.com/loreforge/loreforge/backend/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
)

const communityColumns = `id, campaign_id, level, parent_community_id, generation, metadata, created_at`

func scanCommunity(row pgxv5.Row) (*common.Community, error) {
	var c common.Community
	err := row.Scan(
		&c.ID, &c.CampaignID, &c.Level, &c.ParentCommunityID,
		&c.Generation, &c.Metadata, &c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// InsertCommunityGeneration writes a full community generation in one
// transaction: all rows first, parent links backfilled second (a record's
// parent may appear later in the slice), members last. The generation is
// invisible to readers until the active-generation pointer flips to it.
func (s *CampaignDBStorage) InsertCommunityGeneration(
	ctx context.Context,
	campaignID int64,
	generation int64,
	records []store.CommunityRecord,
) (map[int]int64, error) {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	ids := make(map[int]int64, len(records))
	for idx, record := range records {
		var id int64
		err := tx.QueryRow(ctx, `
			INSERT INTO communities (campaign_id, level, generation, metadata)
			VALUES ($1, $2, $3, $4)
			RETURNING id`,
			campaignID, record.Community.Level, generation, record.Community.Metadata,
		).Scan(&id)
		if err != nil {
			return nil, fmt.Errorf("failed to insert community: %w", err)
		}
		ids[idx] = id
	}

	for idx, record := range records {
		if record.ParentIdx < 0 {
			continue
		}
		parentID, ok := ids[record.ParentIdx]
		if !ok {
			return nil, fmt.Errorf("community record %d references missing parent record %d", idx, record.ParentIdx)
		}
		_, err := tx.Exec(ctx, `
			UPDATE communities SET parent_community_id = $2 WHERE id = $1`,
			ids[idx], parentID)
		if err != nil {
			return nil, fmt.Errorf("failed to link community parent: %w", err)
		}
	}

	for idx, record := range records {
		for _, entityID := range record.MemberIDs {
			_, err := tx.Exec(ctx, `
				INSERT INTO community_members (community_id, entity_id)
				VALUES ($1, $2)
				ON CONFLICT DO NOTHING`, ids[idx], entityID)
			if err != nil {
				return nil, fmt.Errorf("failed to insert community member: %w", err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit community generation: %w", err)
	}
	return ids, nil
}

func (s *CampaignDBStorage) SetActiveCommunityGeneration(ctx context.Context, campaignID int64, generation int64) error {
	_, err := s.conn.Exec(ctx, `
		INSERT INTO campaign_graph_state (campaign_id, active_generation)
		VALUES ($1, $2)
		ON CONFLICT (campaign_id)
		DO UPDATE SET active_generation = EXCLUDED.active_generation, updated_at = now()`,
		campaignID, generation)
	if err != nil {
		return fmt.Errorf("failed to set active community generation: %w", err)
	}
	return nil
}

// ActiveCommunityGeneration returns 0 for a campaign that was never
// clustered.
func (s *CampaignDBStorage) ActiveCommunityGeneration(ctx context.Context, campaignID int64) (int64, error) {
	var generation int64
	err := s.conn.QueryRow(ctx, `
		SELECT active_generation FROM campaign_graph_state WHERE campaign_id = $1`,
		campaignID).Scan(&generation)
	if err != nil {
		if err == pgxv5.ErrNoRows {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get active community generation: %w", err)
	}
	return generation, nil
}

// DropCommunityGeneration removes a superseded generation's communities;
// members and summaries go with them via cascade.
func (s *CampaignDBStorage) DropCommunityGeneration(ctx context.Context, campaignID int64, generation int64) error {
	_, err := s.conn.Exec(ctx, `
		DELETE FROM communities WHERE campaign_id = $1 AND generation = $2`,
		campaignID, generation)
	if err != nil {
		return fmt.Errorf("failed to drop community generation: %w", err)
	}
	return nil
}

func (s *CampaignDBStorage) ListCommunities(ctx context.Context, campaignID int64, level *int) ([]common.Community, error) {
	query := `
		SELECT ` + communityColumns + `
		FROM communities
		WHERE campaign_id = $1
		  AND generation = (SELECT COALESCE(MAX(active_generation), 0) FROM campaign_graph_state WHERE campaign_id = $1)`
	args := []any{campaignID}
	if level != nil {
		query += " AND level = $2"
		args = append(args, *level)
	}
	query += " ORDER BY level, id"

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list communities: %w", err)
	}
	defer rows.Close()

	return collectCommunities(rows)
}

func (s *CampaignDBStorage) GetCommunity(ctx context.Context, campaignID int64, communityID int64) (*common.Community, error) {
	community, err := scanCommunity(s.conn.QueryRow(ctx, `
		SELECT `+communityColumns+`
		FROM communities
		WHERE campaign_id = $1 AND id = $2`, campaignID, communityID))
	if err != nil {
		if err == pgxv5.ErrNoRows {
			return nil, fmt.Errorf("community %d not found in campaign %d", communityID, campaignID)
		}
		return nil, fmt.Errorf("failed to get community: %w", err)
	}
	return community, nil
}

func (s *CampaignDBStorage) ChildCommunities(ctx context.Context, campaignID int64, communityID int64) ([]common.Community, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT `+communityColumns+`
		FROM communities
		WHERE campaign_id = $1 AND parent_community_id = $2
		ORDER BY id`, campaignID, communityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list child communities: %w", err)
	}
	defer rows.Close()

	return collectCommunities(rows)
}

func (s *CampaignDBStorage) CommunityMembers(ctx context.Context, communityID int64) ([]string, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT entity_id FROM community_members
		WHERE community_id = $1
		ORDER BY entity_id`, communityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list community members: %w", err)
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan community member: %w", err)
		}
		members = append(members, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating community members: %w", err)
	}
	return members, nil
}

func (s *CampaignDBStorage) CommunitiesContainingEntity(ctx context.Context, campaignID int64, entityID string) ([]common.Community, error) {
	byEntity, err := s.CommunitiesContainingEntities(ctx, campaignID, []string{entityID})
	if err != nil {
		return nil, err
	}
	return byEntity[entityID], nil
}

func (s *CampaignDBStorage) CommunitiesContainingEntities(
	ctx context.Context,
	campaignID int64,
	entityIDs []string,
) (map[string][]common.Community, error) {
	if len(entityIDs) == 0 {
		return map[string][]common.Community{}, nil
	}

	rows, err := s.conn.Query(ctx, `
		SELECT m.entity_id, c.id, c.campaign_id, c.level, c.parent_community_id,
		       c.generation, c.metadata, c.created_at
		FROM community_members m
		JOIN communities c ON c.id = m.community_id
		WHERE c.campaign_id = $1
		  AND c.generation = (SELECT COALESCE(MAX(active_generation), 0) FROM campaign_graph_state WHERE campaign_id = $1)
		  AND m.entity_id = ANY($2)
		ORDER BY c.level, c.id`, campaignID, entityIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to list containing communities: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]common.Community)
	for rows.Next() {
		var entityID string
		var c common.Community
		err := rows.Scan(
			&entityID,
			&c.ID, &c.CampaignID, &c.Level, &c.ParentCommunityID,
			&c.Generation, &c.Metadata, &c.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan containing community: %w", err)
		}
		out[entityID] = append(out[entityID], c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating containing communities: %w", err)
	}
	return out, nil
}

func (s *CampaignDBStorage) UpsertCommunitySummary(ctx context.Context, summary *common.CommunitySummary) error {
	err := s.conn.QueryRow(ctx, `
		INSERT INTO community_summaries (community_id, title, summary_text, key_entity_ids, membership_hash)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (community_id)
		DO UPDATE SET
			title = EXCLUDED.title,
			summary_text = EXCLUDED.summary_text,
			key_entity_ids = EXCLUDED.key_entity_ids,
			membership_hash = EXCLUDED.membership_hash,
			generated_at = now()
		RETURNING generated_at`,
		summary.CommunityID, summary.Title, summary.SummaryText,
		summary.KeyEntityIDs, summary.MembershipHash,
	).Scan(&summary.GeneratedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert community summary: %w", err)
	}
	return nil
}

func (s *CampaignDBStorage) GetCommunitySummary(ctx context.Context, communityID int64) (*common.CommunitySummary, error) {
	var summary common.CommunitySummary
	err := s.conn.QueryRow(ctx, `
		SELECT community_id, title, summary_text, key_entity_ids, membership_hash, generated_at
		FROM community_summaries
		WHERE community_id = $1`, communityID,
	).Scan(
		&summary.CommunityID, &summary.Title, &summary.SummaryText,
		&summary.KeyEntityIDs, &summary.MembershipHash, &summary.GeneratedAt,
	)
	if err != nil {
		if err == pgxv5.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get community summary: %w", err)
	}
	return &summary, nil
}

// SummariesByMembershipHash returns the campaign's summaries keyed by the
// member-set hash they were generated for, across generations, so a fresh
// generation can carry forward summaries of unchanged communities.
func (s *CampaignDBStorage) SummariesByMembershipHash(ctx context.Context, campaignID int64) (map[string]common.CommunitySummary, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT s.community_id, s.title, s.summary_text, s.key_entity_ids, s.membership_hash, s.generated_at
		FROM community_summaries s
		JOIN communities c ON c.id = s.community_id
		WHERE c.campaign_id = $1
		ORDER BY s.generated_at`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to list community summaries: %w", err)
	}
	defer rows.Close()

	out := make(map[string]common.CommunitySummary)
	for rows.Next() {
		var summary common.CommunitySummary
		err := rows.Scan(
			&summary.CommunityID, &summary.Title, &summary.SummaryText,
			&summary.KeyEntityIDs, &summary.MembershipHash, &summary.GeneratedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan community summary: %w", err)
		}
		out[summary.MembershipHash] = summary
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating community summaries: %w", err)
	}
	return out, nil
}

func collectCommunities(rows pgxv5.Rows) ([]common.Community, error) {
	var communities []common.Community
	for rows.Next() {
		community, err := scanCommunity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan community: %w", err)
		}
		communities = append(communities, *community)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating communities: %w", err)
	}
	return communities, nil
}
