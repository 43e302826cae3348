package graph

import (
	"context"
	"fmt"

	"github.com/loreforge/loreforge/backend/pkg/common"
	"github.com/loreforge/loreforge/backend/pkg/logger"
)

const dedupCandidateLimit = 10

// EvaluateEntity checks a newly created entity against existing entities
// of the same type by embedding similarity. Matches at or above the
// engine's threshold produce one pending DeduplicationEntry listing all
// candidates ranked by score. Returns nil when no candidate clears the
// threshold or a pending entry already exists for the entity.
func (g *Engine) EvaluateEntity(
	ctx context.Context,
	campaignID int64,
	entityID string,
	entityType string,
) (*common.DeduplicationEntry, error) {
	existing, err := g.store.GetDedupEntryForEntity(ctx, campaignID, entityID)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Status == common.DedupPending {
		return existing, nil
	}

	matches, err := g.store.FindSimilarEntities(ctx, campaignID, entityID, entityType, dedupCandidateLimit, g.dedupThreshold)
	if err != nil {
		return nil, fmt.Errorf("failed to query similar entities: %w", err)
	}
	if len(matches) == 0 {
		return nil, nil
	}

	entry := &common.DeduplicationEntry{
		CampaignID:   campaignID,
		NewEntityID:  entityID,
		CandidateIDs: make([]string, 0, len(matches)),
		Scores:       make([]float64, 0, len(matches)),
		Status:       common.DedupPending,
	}
	for _, m := range matches {
		entry.CandidateIDs = append(entry.CandidateIDs, m.EntityID)
		entry.Scores = append(entry.Scores, m.Score)
	}

	if err := g.store.CreateDedupEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to create dedup entry: %w", err)
	}

	logger.Info("[Dedupe] Potential duplicate flagged",
		"campaign_id", campaignID,
		"entity_id", entityID,
		"candidates", len(entry.CandidateIDs),
		"top_score", entry.Scores[0],
	)

	return entry, nil
}

// ResolvePendingEntry transitions a deduplication entry out of pending
// exactly once. A merged resolution additionally folds the new entity into
// the top candidate (or the candidate named in userDecision) via
// MergeEntities. Re-resolving a resolved entry returns ErrDedupResolved.
func (g *Engine) ResolvePendingEntry(
	ctx context.Context,
	campaignID int64,
	entryID int64,
	status common.DedupStatus,
	userDecision string,
) (*common.DeduplicationEntry, error) {
	switch status {
	case common.DedupMerged, common.DedupRejected, common.DedupConfirmedUnique:
	default:
		return nil, fmt.Errorf("invalid resolution status: %q", status)
	}

	entry, err := g.store.GetDedupEntry(ctx, campaignID, entryID)
	if err != nil {
		return nil, err
	}

	transitioned, err := g.store.ResolveDedupEntry(ctx, campaignID, entryID, status, userDecision)
	if err != nil {
		return nil, err
	}
	if !transitioned {
		return nil, ErrDedupResolved
	}

	if status == common.DedupMerged {
		canonicalID := g.pickMergeTarget(entry, userDecision)
		if canonicalID == "" {
			return nil, fmt.Errorf("dedup entry %d has no merge candidate", entryID)
		}
		if _, err := g.MergeEntities(ctx, campaignID, canonicalID, entry.NewEntityID); err != nil {
			return nil, fmt.Errorf("failed to merge duplicate entity: %w", err)
		}
	}

	return g.store.GetDedupEntry(ctx, campaignID, entryID)
}

// ListDedupEntries lists a campaign's deduplication entries, defaulting to
// pending when no status is given.
func (g *Engine) ListDedupEntries(
	ctx context.Context,
	campaignID int64,
	status common.DedupStatus,
) ([]common.DeduplicationEntry, error) {
	if status == "" {
		status = common.DedupPending
	}
	return g.store.ListDedupEntries(ctx, campaignID, status)
}

// pickMergeTarget resolves which candidate survives a merge: the candidate
// named in the user decision when it is one of the ranked candidates,
// otherwise the highest-scoring one.
func (g *Engine) pickMergeTarget(entry *common.DeduplicationEntry, userDecision string) string {
	if userDecision != "" {
		for _, id := range entry.CandidateIDs {
			if id == userDecision {
				return id
			}
		}
	}
	if len(entry.CandidateIDs) > 0 {
		return entry.CandidateIDs[0]
	}
	return ""
}
