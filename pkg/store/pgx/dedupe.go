package pgx

import (
	"context"
	"fmt"

	"github.com/loreforge/loreforge/backend/pkg/common"

	pgxv5 "github.com/jackc/pgx/v5"
)

const dedupColumns = `id, campaign_id, new_entity_id, candidate_ids, scores,
	status, user_decision, created_at, resolved_at`

func scanDedupEntry(row pgxv5.Row) (*common.DeduplicationEntry, error) {
	var e common.DeduplicationEntry
	err := row.Scan(
		&e.ID, &e.CampaignID, &e.NewEntityID, &e.CandidateIDs, &e.Scores,
		&e.Status, &e.UserDecision, &e.CreatedAt, &e.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *CampaignDBStorage) CreateDedupEntry(ctx context.Context, entry *common.DeduplicationEntry) error {
	err := s.conn.QueryRow(ctx, `
		INSERT INTO dedup_entries (campaign_id, new_entity_id, candidate_ids, scores, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		entry.CampaignID, entry.NewEntityID, entry.CandidateIDs, entry.Scores, entry.Status,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert dedup entry: %w", err)
	}
	return nil
}

func (s *CampaignDBStorage) GetDedupEntry(ctx context.Context, campaignID int64, entryID int64) (*common.DeduplicationEntry, error) {
	entry, err := scanDedupEntry(s.conn.QueryRow(ctx, `
		SELECT `+dedupColumns+`
		FROM dedup_entries
		WHERE campaign_id = $1 AND id = $2`, campaignID, entryID))
	if err != nil {
		if err == pgxv5.ErrNoRows {
			return nil, fmt.Errorf("dedup entry %d not found in campaign %d", entryID, campaignID)
		}
		return nil, fmt.Errorf("failed to get dedup entry: %w", err)
	}
	return entry, nil
}

// GetDedupEntryForEntity returns the most recent entry flagging the entity
// as a potential duplicate, or nil when it was never flagged.
func (s *CampaignDBStorage) GetDedupEntryForEntity(ctx context.Context, campaignID int64, entityID string) (*common.DeduplicationEntry, error) {
	entry, err := scanDedupEntry(s.conn.QueryRow(ctx, `
		SELECT `+dedupColumns+`
		FROM dedup_entries
		WHERE campaign_id = $1 AND new_entity_id = $2
		ORDER BY created_at DESC, id DESC
		LIMIT 1`, campaignID, entityID))
	if err != nil {
		if err == pgxv5.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get dedup entry for entity: %w", err)
	}
	return entry, nil
}

func (s *CampaignDBStorage) ListDedupEntries(ctx context.Context, campaignID int64, status common.DedupStatus) ([]common.DeduplicationEntry, error) {
	query := `
		SELECT ` + dedupColumns + `
		FROM dedup_entries
		WHERE campaign_id = $1`
	args := []any{campaignID}
	if status != "" {
		query += " AND status = $2"
		args = append(args, status)
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list dedup entries: %w", err)
	}
	defer rows.Close()

	var entries []common.DeduplicationEntry
	for rows.Next() {
		entry, err := scanDedupEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dedup entry: %w", err)
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dedup entries: %w", err)
	}
	return entries, nil
}

// ResolveDedupEntry transitions the entry out of pending, guarded so that
// concurrent resolutions settle to exactly one winner. It reports whether
// this call performed the transition.
func (s *CampaignDBStorage) ResolveDedupEntry(
	ctx context.Context,
	campaignID int64,
	entryID int64,
	status common.DedupStatus,
	decision string,
) (bool, error) {
	tag, err := s.conn.Exec(ctx, `
		UPDATE dedup_entries
		SET status = $3, user_decision = $4, resolved_at = now()
		WHERE campaign_id = $1 AND id = $2 AND status = 'pending'`,
		campaignID, entryID, status, decision)
	if err != nil {
		return false, fmt.Errorf("failed to resolve dedup entry: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
