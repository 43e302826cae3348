package pgx

import (
	"context"
	"fmt"
	"strings"

	"github.com/loreforge/loreforge/backend/pkg/common"
	"github.com/loreforge/loreforge/backend/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
)

const changelogColumns = `id, campaign_id, session_id, ts, seq, payload, impact_score, applied_to_graph`

func scanChangelogEntry(row pgxv5.Row) (*common.ChangelogEntry, error) {
	var e common.ChangelogEntry
	err := row.Scan(
		&e.ID, &e.CampaignID, &e.SessionID, &e.Timestamp, &e.Seq,
		&e.Payload, &e.ImpactScore, &e.AppliedToGraph,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// AppendChangelogEntry inserts an immutable delta. Seq is assigned by the
// database and totally orders entries that share a timestamp.
func (s *CampaignDBStorage) AppendChangelogEntry(ctx context.Context, entry *common.ChangelogEntry) error {
	err := s.conn.QueryRow(ctx, `
		INSERT INTO changelog_entries (campaign_id, session_id, ts, payload, impact_score)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, seq`,
		entry.CampaignID, entry.SessionID, entry.Timestamp, entry.Payload, entry.ImpactScore,
	).Scan(&entry.ID, &entry.Seq)
	if err != nil {
		return fmt.Errorf("failed to append changelog entry: %w", err)
	}
	return nil
}

func (s *CampaignDBStorage) ListChangelog(
	ctx context.Context,
	campaignID int64,
	filter store.ChangelogFilter,
) ([]common.ChangelogEntry, error) {
	conditions := []string{"campaign_id = $1"}
	args := []any{campaignID}
	argIdx := 2

	if filter.SessionID != nil {
		conditions = append(conditions, fmt.Sprintf("session_id = $%d", argIdx))
		args = append(args, *filter.SessionID)
		argIdx++
	}
	if filter.UnappliedOnly {
		conditions = append(conditions, "NOT applied_to_graph")
	}

	query := `
		SELECT ` + changelogColumns + `
		FROM changelog_entries
		WHERE ` + strings.Join(conditions, " AND ") + `
		ORDER BY ts, seq`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filter.Limit)
	}

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list changelog entries: %w", err)
	}
	defer rows.Close()

	var entries []common.ChangelogEntry
	for rows.Next() {
		entry, err := scanChangelogEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan changelog entry: %w", err)
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating changelog entries: %w", err)
	}
	return entries, nil
}

// MarkChangelogApplied flips applied_to_graph for the given entries. The
// flag never goes back to false.
func (s *CampaignDBStorage) MarkChangelogApplied(ctx context.Context, campaignID int64, entryIDs []int64) error {
	if len(entryIDs) == 0 {
		return nil
	}
	_, err := s.conn.Exec(ctx, `
		UPDATE changelog_entries SET applied_to_graph = true
		WHERE campaign_id = $1 AND id = ANY($2)`, campaignID, entryIDs)
	if err != nil {
		return fmt.Errorf("failed to mark changelog entries applied: %w", err)
	}
	return nil
}

func (s *CampaignDBStorage) DeleteChangelogEntries(ctx context.Context, campaignID int64, entryIDs []int64) error {
	if len(entryIDs) == 0 {
		return nil
	}
	_, err := s.conn.Exec(ctx, `
		DELETE FROM changelog_entries
		WHERE campaign_id = $1 AND id = ANY($2)`, campaignID, entryIDs)
	if err != nil {
		return fmt.Errorf("failed to delete changelog entries: %w", err)
	}
	return nil
}

const archiveColumns = `id, campaign_id, session_min, session_max, timestamp_min,
	timestamp_max, entry_count, archive_key, rebuild_id, created_at`

func scanArchiveMetadata(row pgxv5.Row) (*common.ArchiveMetadata, error) {
	var m common.ArchiveMetadata
	err := row.Scan(
		&m.ID, &m.CampaignID, &m.SessionMin, &m.SessionMax, &m.TimestampMin,
		&m.TimestampMax, &m.EntryCount, &m.ArchiveKey, &m.RebuildID, &m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *CampaignDBStorage) InsertArchiveMetadata(ctx context.Context, meta *common.ArchiveMetadata) error {
	err := s.conn.QueryRow(ctx, `
		INSERT INTO archive_metadata (
			campaign_id, session_min, session_max, timestamp_min, timestamp_max,
			entry_count, archive_key, rebuild_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`,
		meta.CampaignID, meta.SessionMin, meta.SessionMax, meta.TimestampMin,
		meta.TimestampMax, meta.EntryCount, meta.ArchiveKey, meta.RebuildID,
	).Scan(&meta.ID, &meta.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert archive metadata: %w", err)
	}
	return nil
}

func (s *CampaignDBStorage) ListArchiveMetadata(
	ctx context.Context,
	campaignID int64,
	filter store.ArchiveFilter,
) ([]common.ArchiveMetadata, error) {
	conditions := []string{"campaign_id = $1"}
	args := []any{campaignID}
	argIdx := 2

	if filter.SessionMin != nil {
		conditions = append(conditions, fmt.Sprintf("session_max >= $%d", argIdx))
		args = append(args, *filter.SessionMin)
		argIdx++
	}
	if filter.SessionMax != nil {
		conditions = append(conditions, fmt.Sprintf("session_min <= $%d", argIdx))
		args = append(args, *filter.SessionMax)
		argIdx++
	}
	if filter.TimestampMin != nil {
		conditions = append(conditions, fmt.Sprintf("timestamp_max >= $%d", argIdx))
		args = append(args, *filter.TimestampMin)
		argIdx++
	}
	if filter.TimestampMax != nil {
		conditions = append(conditions, fmt.Sprintf("timestamp_min <= $%d", argIdx))
		args = append(args, *filter.TimestampMax)
	}

	query := `
		SELECT ` + archiveColumns + `
		FROM archive_metadata
		WHERE ` + strings.Join(conditions, " AND ") + `
		ORDER BY timestamp_min, id`

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list archive metadata: %w", err)
	}
	defer rows.Close()

	var metas []common.ArchiveMetadata
	for rows.Next() {
		meta, err := scanArchiveMetadata(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan archive metadata: %w", err)
		}
		metas = append(metas, *meta)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating archive metadata: %w", err)
	}
	return metas, nil
}

func (s *CampaignDBStorage) GetArchiveMetadataByKey(ctx context.Context, campaignID int64, archiveKey string) (*common.ArchiveMetadata, error) {
	meta, err := scanArchiveMetadata(s.conn.QueryRow(ctx, `
		SELECT `+archiveColumns+`
		FROM archive_metadata
		WHERE campaign_id = $1 AND archive_key = $2`, campaignID, archiveKey))
	if err != nil {
		if err == pgxv5.ErrNoRows {
			return nil, fmt.Errorf("archive %q not found in campaign %d", archiveKey, campaignID)
		}
		return nil, fmt.Errorf("failed to get archive metadata: %w", err)
	}
	return meta, nil
}
