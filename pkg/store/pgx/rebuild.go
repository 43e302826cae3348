package pgx

import (
	"context"
	"fmt"

	"github.com/loreforge/loreforge/backend/pkg/common"

	pgxv5 "github.com/jackc/pgx/v5"
)

const rebuildColumns = `id, campaign_id, rebuild_type, status, affected_entity_ids,
	phase, started_at, completed_at, error_message, metadata, created_at`

func scanRebuild(row pgxv5.Row) (*common.Rebuild, error) {
	var r common.Rebuild
	err := row.Scan(
		&r.ID, &r.CampaignID, &r.Type, &r.Status, &r.AffectedEntityIDs,
		&r.Phase, &r.StartedAt, &r.CompletedAt, &r.ErrorMessage, &r.Metadata, &r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// CreateRebuildIfNone inserts the rebuild unless the campaign already has a
// pending or in-progress one. The insert races against a partial unique
// index on active rebuilds, so concurrent triggers settle to one row; the
// losing caller gets the existing rebuild back with created=false.
func (s *CampaignDBStorage) CreateRebuildIfNone(ctx context.Context, rebuild *common.Rebuild) (*common.Rebuild, bool, error) {
	row := s.conn.QueryRow(ctx, `
		INSERT INTO rebuilds (id, campaign_id, rebuild_type, status, affected_entity_ids, metadata)
		VALUES ($1, $2, $3, 'pending', $4, $5)
		ON CONFLICT (campaign_id) WHERE status IN ('pending', 'in_progress')
		DO NOTHING
		RETURNING `+rebuildColumns,
		rebuild.ID, rebuild.CampaignID, rebuild.Type, rebuild.AffectedEntityIDs, rebuild.Metadata)

	created, err := scanRebuild(row)
	if err == nil {
		return created, true, nil
	}
	if err != pgxv5.ErrNoRows {
		return nil, false, fmt.Errorf("failed to create rebuild: %w", err)
	}

	existing, err := s.GetActiveRebuildForCampaign(ctx, rebuild.CampaignID)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		// The active rebuild finished between the insert and the lookup.
		return nil, false, fmt.Errorf("rebuild insert conflicted but no active rebuild found for campaign %d", rebuild.CampaignID)
	}
	return existing, false, nil
}

func (s *CampaignDBStorage) GetRebuild(ctx context.Context, rebuildID string) (*common.Rebuild, error) {
	rebuild, err := scanRebuild(s.conn.QueryRow(ctx, `
		SELECT `+rebuildColumns+`
		FROM rebuilds
		WHERE id = $1`, rebuildID))
	if err != nil {
		if err == pgxv5.ErrNoRows {
			return nil, fmt.Errorf("rebuild %q not found", rebuildID)
		}
		return nil, fmt.Errorf("failed to get rebuild: %w", err)
	}
	return rebuild, nil
}

// GetActiveRebuildForCampaign returns the campaign's pending or in-progress
// rebuild, or nil when none is active.
func (s *CampaignDBStorage) GetActiveRebuildForCampaign(ctx context.Context, campaignID int64) (*common.Rebuild, error) {
	rebuild, err := scanRebuild(s.conn.QueryRow(ctx, `
		SELECT `+rebuildColumns+`
		FROM rebuilds
		WHERE campaign_id = $1 AND status IN ('pending', 'in_progress')
		ORDER BY created_at DESC
		LIMIT 1`, campaignID))
	if err != nil {
		if err == pgxv5.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get active rebuild: %w", err)
	}
	return rebuild, nil
}

func (s *CampaignDBStorage) ListRebuilds(ctx context.Context, campaignID int64, limit, offset int) ([]common.Rebuild, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT `+rebuildColumns+`
		FROM rebuilds
		WHERE campaign_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3`, campaignID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list rebuilds: %w", err)
	}
	defer rows.Close()

	var rebuilds []common.Rebuild
	for rows.Next() {
		rebuild, err := scanRebuild(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rebuild: %w", err)
		}
		rebuilds = append(rebuilds, *rebuild)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rebuilds: %w", err)
	}
	return rebuilds, nil
}

// TransitionRebuild moves the rebuild from any of the given states to the
// target state in one guarded update, and reports whether a transition
// happened. started_at is stamped on entering in_progress, completed_at on
// entering a terminal state.
func (s *CampaignDBStorage) TransitionRebuild(
	ctx context.Context,
	rebuildID string,
	from []common.RebuildState,
	to common.RebuildState,
	errorMessage string,
) (bool, error) {
	fromStates := make([]string, len(from))
	for i, state := range from {
		fromStates[i] = string(state)
	}

	tag, err := s.conn.Exec(ctx, `
		UPDATE rebuilds
		SET status = $3,
		    error_message = $4,
		    started_at = CASE WHEN $3 = 'in_progress' AND started_at IS NULL THEN now() ELSE started_at END,
		    completed_at = CASE WHEN $3 IN ('completed', 'failed', 'cancelled') THEN now() ELSE completed_at END
		WHERE id = $1 AND status = ANY($2)`,
		rebuildID, fromStates, to, errorMessage)
	if err != nil {
		return false, fmt.Errorf("failed to transition rebuild: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *CampaignDBStorage) SetRebuildPhase(ctx context.Context, rebuildID string, phase string) error {
	_, err := s.conn.Exec(ctx, `
		UPDATE rebuilds SET phase = $2 WHERE id = $1`, rebuildID, phase)
	if err != nil {
		return fmt.Errorf("failed to set rebuild phase: %w", err)
	}
	return nil
}
