package graph

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/loreforge/loreforge/backend/pkg/common"
	"github.com/loreforge/loreforge/backend/pkg/logger"
	"github.com/loreforge/loreforge/backend/pkg/store"
)

// archiveBlob is the compacted on-blob form of one changelog range. The
// entries are stored verbatim so reconstruction round-trips losslessly.
type archiveBlob struct {
	CampaignID int64                   `json:"campaign_id"`
	RebuildID  string                  `json:"rebuild_id"`
	Entries    []common.ChangelogEntry `json:"entries"`
}

// ArchiveAppliedEntries compacts a set of already-folded changelog entries
// into a blob and removes the live rows. The move is two-phase: blob
// first, then metadata, then row deletion. A crash between phases leaves
// at worst a dangling blob or duplicated rows, never silent data loss.
func (g *Engine) ArchiveAppliedEntries(
	ctx context.Context,
	campaignID int64,
	rebuildID string,
	entries []common.ChangelogEntry,
) (*common.ArchiveMetadata, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	if g.blobs == nil {
		return nil, fmt.Errorf("no blob store configured for archival")
	}

	for _, e := range entries {
		if !e.AppliedToGraph {
			return nil, fmt.Errorf("changelog entry %d is not applied to the graph yet", e.ID)
		}
	}

	meta := &common.ArchiveMetadata{
		CampaignID:   campaignID,
		RebuildID:    rebuildID,
		EntryCount:   len(entries),
		TimestampMin: entries[0].Timestamp,
		TimestampMax: entries[0].Timestamp,
	}
	entryIDs := make([]int64, 0, len(entries))
	for _, e := range entries {
		entryIDs = append(entryIDs, e.ID)
		if e.Timestamp.Before(meta.TimestampMin) {
			meta.TimestampMin = e.Timestamp
		}
		if e.Timestamp.After(meta.TimestampMax) {
			meta.TimestampMax = e.Timestamp
		}
		if e.SessionID != nil {
			if meta.SessionMin == nil || *e.SessionID < *meta.SessionMin {
				v := *e.SessionID
				meta.SessionMin = &v
			}
			if meta.SessionMax == nil || *e.SessionID > *meta.SessionMax {
				v := *e.SessionID
				meta.SessionMax = &v
			}
		}
	}
	meta.ArchiveKey = fmt.Sprintf("campaigns/%d/changelog/%s.json", campaignID, rebuildID)

	data, err := json.Marshal(archiveBlob{
		CampaignID: campaignID,
		RebuildID:  rebuildID,
		Entries:    entries,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode archive blob: %w", err)
	}

	if err := g.blobs.Upload(ctx, meta.ArchiveKey, data); err != nil {
		return nil, fmt.Errorf("failed to upload archive blob: %w", err)
	}
	if err := g.store.InsertArchiveMetadata(ctx, meta); err != nil {
		return nil, fmt.Errorf("failed to record archive metadata: %w", err)
	}
	if err := g.store.DeleteChangelogEntries(ctx, campaignID, entryIDs); err != nil {
		// Metadata and blob are durable; the live rows will be swept by
		// the next rebuild's archival pass.
		logger.Warn("[Archive] Archived rows not deleted", "campaign_id", campaignID, "archive_key", meta.ArchiveKey, "error", err)
	}

	logger.Info("[Archive] Changelog range compacted",
		"campaign_id", campaignID,
		"archive_key", meta.ArchiveKey,
		"entries", len(entries),
	)
	return meta, nil
}

// ListArchives queries archive metadata by session or timestamp range.
func (g *Engine) ListArchives(ctx context.Context, campaignID int64, filter store.ArchiveFilter) ([]common.ArchiveMetadata, error) {
	return g.store.ListArchiveMetadata(ctx, campaignID, filter)
}

// ReadArchive reconstructs the changelog entries behind an archive key.
func (g *Engine) ReadArchive(ctx context.Context, campaignID int64, archiveKey string) ([]common.ChangelogEntry, error) {
	if g.blobs == nil {
		return nil, fmt.Errorf("no blob store configured for archival")
	}

	meta, err := g.store.GetArchiveMetadataByKey(ctx, campaignID, archiveKey)
	if err != nil {
		return nil, err
	}

	data, err := g.blobs.Download(ctx, meta.ArchiveKey)
	if err != nil {
		return nil, fmt.Errorf("failed to download archive blob: %w", err)
	}

	var blob archiveBlob
	if err := json.Unmarshal(data, &blob); err != nil {
		return nil, fmt.Errorf("failed to decode archive blob %q: %w", archiveKey, err)
	}
	if blob.CampaignID != campaignID {
		return nil, fmt.Errorf("archive blob %q belongs to campaign %d, not %d", archiveKey, blob.CampaignID, campaignID)
	}
	if len(blob.Entries) != meta.EntryCount {
		return nil, fmt.Errorf("archive blob %q holds %d entries, metadata records %d", archiveKey, len(blob.Entries), meta.EntryCount)
	}
	return blob.Entries, nil
}
