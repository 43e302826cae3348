package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/loreforge/loreforge/backend/pkg/common"
	"github.com/loreforge/loreforge/backend/pkg/logger"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Rebuild phases, in execution order. Cancellation is honored between
// phases; a running phase completes before it takes effect.
const (
	PhaseFoldChangelog = "fold_changelog"
	PhaseCluster       = "cluster"
	PhaseImportance    = "importance"
	PhaseSummaries     = "summaries"
	PhaseArchive       = "archive"
)

var errRebuildCancelled = errors.New("rebuild cancelled")

// TriggerRebuild creates a rebuild job and enqueues it. At most one
// pending or in-progress rebuild exists per campaign: the creation is a
// single conditional insert, and a concurrent trigger receives the
// already-active job with created=false instead of racing.
func (g *Engine) TriggerRebuild(
	ctx context.Context,
	campaignID int64,
	rebuildType common.RebuildType,
	affectedEntityIDs []string,
) (*common.Rebuild, bool, error) {
	if rebuildType != common.RebuildFull && rebuildType != common.RebuildPartial {
		return nil, false, fmt.Errorf("invalid rebuild type: %q", rebuildType)
	}
	if rebuildType == common.RebuildPartial && len(affectedEntityIDs) == 0 {
		// A partial rebuild with no scope is a full one.
		rebuildType = common.RebuildFull
	}

	id, err := gonanoid.New()
	if err != nil {
		return nil, false, fmt.Errorf("failed to generate rebuild ID: %w", err)
	}

	rebuild, created, err := g.store.CreateRebuildIfNone(ctx, &common.Rebuild{
		ID:                id,
		CampaignID:        campaignID,
		Type:              rebuildType,
		Status:            common.RebuildPending,
		AffectedEntityIDs: affectedEntityIDs,
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to create rebuild: %w", err)
	}
	if !created {
		logger.Info("[Rebuild] Active rebuild already exists", "campaign_id", campaignID, "rebuild_id", rebuild.ID)
		return rebuild, false, nil
	}

	if g.queue != nil {
		if err := g.queue.EnqueueRebuild(ctx, rebuild.ID, campaignID); err != nil {
			// The job row exists; stale-job recovery will pick it up.
			logger.Warn("[Rebuild] Enqueue failed", "rebuild_id", rebuild.ID, "error", err)
		}
	}

	logger.Info("[Rebuild] Triggered", "campaign_id", campaignID, "rebuild_id", rebuild.ID, "type", rebuildType)
	return rebuild, true, nil
}

// GetRebuild returns one rebuild job record.
func (g *Engine) GetRebuild(ctx context.Context, rebuildID string) (*common.Rebuild, error) {
	return g.store.GetRebuild(ctx, rebuildID)
}

// GetActiveRebuild returns the campaign's pending or in-progress rebuild,
// or nil when none is active.
func (g *Engine) GetActiveRebuild(ctx context.Context, campaignID int64) (*common.Rebuild, error) {
	return g.store.GetActiveRebuildForCampaign(ctx, campaignID)
}

// ListRebuilds returns a campaign's rebuild history, newest first.
func (g *Engine) ListRebuilds(ctx context.Context, campaignID int64, limit, offset int) ([]common.Rebuild, error) {
	if limit <= 0 {
		limit = 20
	}
	return g.store.ListRebuilds(ctx, campaignID, limit, offset)
}

// CancelRebuild requests cancellation. Valid only from pending or
// in_progress; terminal states are immutable and return ErrRebuildTerminal.
// An in-progress rebuild stops at its next phase boundary.
func (g *Engine) CancelRebuild(ctx context.Context, rebuildID string) error {
	ok, err := g.store.TransitionRebuild(
		ctx,
		rebuildID,
		[]common.RebuildState{common.RebuildPending, common.RebuildInProgress},
		common.RebuildCancelled,
		"",
	)
	if err != nil {
		return err
	}
	if !ok {
		return ErrRebuildTerminal
	}
	logger.Info("[Rebuild] Cancelled", "rebuild_id", rebuildID)
	return nil
}

// ExecuteRebuild runs a rebuild job to completion. Delivery is
// at-least-once, so execution is idempotent for a given rebuild id: a job
// already terminal is a no-op, and every phase can be safely re-run.
//
// On failure the job is marked failed with the error recorded, the
// community generation pointer stays where it was, and the folded
// changelog entries remain unapplied, so the next attempt retries them.
func (g *Engine) ExecuteRebuild(ctx context.Context, rebuildID string) error {
	rebuild, err := g.store.GetRebuild(ctx, rebuildID)
	if err != nil {
		return err
	}
	if rebuild.Status.IsTerminal() {
		logger.Info("[Rebuild] Job already terminal, skipping", "rebuild_id", rebuildID, "status", rebuild.Status)
		return nil
	}

	started, err := g.store.TransitionRebuild(
		ctx,
		rebuildID,
		[]common.RebuildState{common.RebuildPending, common.RebuildInProgress},
		common.RebuildInProgress,
		"",
	)
	if err != nil {
		return err
	}
	if !started {
		// Lost a race with a cancel.
		return nil
	}

	logger.Info("[Rebuild] Executing", "rebuild_id", rebuildID, "campaign_id", rebuild.CampaignID, "type", rebuild.Type)

	if err := g.runRebuildPhases(ctx, rebuild); err != nil {
		if errors.Is(err, errRebuildCancelled) {
			logger.Info("[Rebuild] Stopped at phase boundary after cancel", "rebuild_id", rebuildID)
			return nil
		}
		if _, terr := g.store.TransitionRebuild(
			ctx,
			rebuildID,
			[]common.RebuildState{common.RebuildInProgress},
			common.RebuildFailed,
			err.Error(),
		); terr != nil {
			logger.Error("[Rebuild] Failed to mark rebuild failed", "rebuild_id", rebuildID, "error", terr)
		}
		logger.Error("[Rebuild] Failed", "rebuild_id", rebuildID, "error", err)
		return err
	}

	if _, err := g.store.TransitionRebuild(
		ctx,
		rebuildID,
		[]common.RebuildState{common.RebuildInProgress},
		common.RebuildCompleted,
		"",
	); err != nil {
		return err
	}

	logger.Info("[Rebuild] Completed", "rebuild_id", rebuildID, "campaign_id", rebuild.CampaignID)
	return nil
}

func (g *Engine) runRebuildPhases(ctx context.Context, rebuild *common.Rebuild) error {
	campaignID := rebuild.CampaignID

	if err := g.enterPhase(ctx, rebuild.ID, PhaseFoldChangelog); err != nil {
		return err
	}
	folded, err := g.foldChangelog(ctx, campaignID)
	if err != nil {
		return fmt.Errorf("fold changelog: %w", err)
	}

	var (
		newGeneration int64
		communityIDs  map[int]int64
		clusters      []clusteredCommunity
		full          = rebuild.Type == common.RebuildFull
	)

	if full {
		if err := g.enterPhase(ctx, rebuild.ID, PhaseCluster); err != nil {
			return err
		}
		activeGeneration, err := g.store.ActiveCommunityGeneration(ctx, campaignID)
		if err != nil {
			return fmt.Errorf("cluster: %w", err)
		}
		newGeneration = activeGeneration + 1
		communityIDs, clusters, err = g.RebuildCommunities(ctx, campaignID, newGeneration)
		if err != nil {
			g.dropGeneration(ctx, campaignID, newGeneration)
			return fmt.Errorf("cluster: %w", err)
		}
	}

	if err := g.enterPhase(ctx, rebuild.ID, PhaseImportance); err != nil {
		g.dropGeneration(ctx, campaignID, newGeneration)
		return err
	}
	restrictTo := rebuild.AffectedEntityIDs
	if full {
		restrictTo = nil
	} else if len(restrictTo) > 0 {
		restrictTo, err = g.expandAffectedNeighborhood(ctx, campaignID, restrictTo)
		if err != nil {
			return fmt.Errorf("importance: %w", err)
		}
	}
	if err := g.RecomputeImportance(ctx, campaignID, restrictTo); err != nil {
		g.dropGeneration(ctx, campaignID, newGeneration)
		return fmt.Errorf("importance: %w", err)
	}

	if full {
		if err := g.enterPhase(ctx, rebuild.ID, PhaseSummaries); err != nil {
			g.dropGeneration(ctx, campaignID, newGeneration)
			return err
		}
		if err := g.RegenerateSummaries(ctx, campaignID, communityIDs, clusters); err != nil {
			g.dropGeneration(ctx, campaignID, newGeneration)
			return fmt.Errorf("summaries: %w", err)
		}
	}

	// Changelog entries flip to applied only once every recompute phase
	// has succeeded; a failure above leaves them unapplied for the next
	// attempt.
	if len(folded) > 0 {
		if err := g.store.MarkChangelogApplied(ctx, campaignID, folded); err != nil {
			g.dropGeneration(ctx, campaignID, newGeneration)
			return fmt.Errorf("mark changelog applied: %w", err)
		}
	}

	if full && newGeneration > 0 {
		previous, err := g.store.ActiveCommunityGeneration(ctx, campaignID)
		if err != nil {
			return fmt.Errorf("generation swap: %w", err)
		}
		if err := g.store.SetActiveCommunityGeneration(ctx, campaignID, newGeneration); err != nil {
			g.dropGeneration(ctx, campaignID, newGeneration)
			return fmt.Errorf("generation swap: %w", err)
		}
		if previous > 0 && previous != newGeneration {
			g.dropGeneration(ctx, campaignID, previous)
		}
	}

	if err := g.enterPhase(ctx, rebuild.ID, PhaseArchive); err != nil {
		return err
	}
	if g.blobs != nil {
		// Sweep every applied entry still in the live table, not just this
		// fold, so a previously failed archive phase heals here.
		applied, err := g.appliedEntries(ctx, campaignID)
		if err != nil {
			return fmt.Errorf("archive: %w", err)
		}
		if _, err := g.ArchiveAppliedEntries(ctx, campaignID, rebuild.ID, applied); err != nil {
			return fmt.Errorf("archive: %w", err)
		}
	}

	return nil
}

// enterPhase records the phase and honors a cancellation requested since
// the last boundary.
func (g *Engine) enterPhase(ctx context.Context, rebuildID string, phase string) error {
	current, err := g.store.GetRebuild(ctx, rebuildID)
	if err != nil {
		return err
	}
	if current.Status == common.RebuildCancelled {
		return errRebuildCancelled
	}
	if err := g.store.SetRebuildPhase(ctx, rebuildID, phase); err != nil {
		return err
	}
	logger.Debug("[Rebuild] Phase entered", "rebuild_id", rebuildID, "phase", phase)
	return nil
}

// foldChangelog applies the campaign's unapplied deltas to the base graph
// and returns the folded entry ids. Every write is an idempotent upsert,
// so re-running after a mid-fold failure converges to the same state.
func (g *Engine) foldChangelog(ctx context.Context, campaignID int64) ([]int64, error) {
	patch, err := g.OverlaySnapshot(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if patch.Empty() {
		return patch.EntryIDs, nil
	}

	for _, stub := range patch.NewEntities {
		_, _, err := g.ApplyExtractedEntity(ctx, campaignID, CreateEntityParams{
			CampaignID: campaignID,
			EntityType: stub.EntityType,
			Name:       stub.Name,
			Content:    stub.Content,
			Provenance: common.ProvenanceExtracted,
			Confidence: stub.Confidence,
			SourceType: stub.SourceType,
			SourceID:   stub.SourceID,
		})
		if err != nil {
			return nil, err
		}
	}

	for entityID, fields := range patch.EntityPatches {
		if _, err := g.UpdateEntity(ctx, campaignID, entityID, foldEntityFields(fields)); err != nil {
			if errors.Is(err, ErrEntityNotFound) {
				// The entity was removed after the delta was recorded.
				logger.Warn("[Rebuild] Delta targets missing entity", "campaign_id", campaignID, "entity_id", entityID)
				continue
			}
			return nil, err
		}
	}

	for relID, fields := range patch.RelationshipPatches {
		if err := g.applyRelationshipPatch(ctx, campaignID, relID, fields); err != nil {
			return nil, err
		}
	}

	return patch.EntryIDs, nil
}

func (g *Engine) applyRelationshipPatch(ctx context.Context, campaignID int64, relID string, fields map[string]any) error {
	rels, err := g.store.ListRelationships(ctx, campaignID)
	if err != nil {
		return err
	}
	for i := range rels {
		if rels[i].ID != relID {
			continue
		}
		patch := &OverlayPatch{RelationshipPatches: map[string]map[string]any{relID: fields}}
		patched := patch.ApplyToRelationship(&rels[i])
		_, err := g.store.UpsertRelationship(ctx, patched)
		return err
	}
	logger.Warn("[Rebuild] Delta targets missing relationship", "campaign_id", campaignID, "relationship_id", relID)
	return nil
}

// expandAffectedNeighborhood widens a partial rebuild's scope to the
// connected forward neighborhood of the affected entities.
func (g *Engine) expandAffectedNeighborhood(ctx context.Context, campaignID int64, seedIDs []string) ([]string, error) {
	affected := make(map[string]bool, len(seedIDs))
	for _, id := range seedIDs {
		affected[id] = true
	}

	for _, id := range seedIDs {
		neighbors, err := g.Neighborhood(ctx, campaignID, id, g.maxTraversalDepth, "")
		if err != nil {
			if errors.Is(err, ErrEntityNotFound) {
				continue
			}
			return nil, err
		}
		for _, n := range neighbors {
			affected[n.EntityID] = true
		}
	}

	out := make([]string, 0, len(affected))
	for id := range affected {
		out = append(out, id)
	}
	return out, nil
}

func (g *Engine) appliedEntries(ctx context.Context, campaignID int64) ([]common.ChangelogEntry, error) {
	all, err := g.store.ListChangelog(ctx, campaignID, changelogFilter(nil, false, 0))
	if err != nil {
		return nil, err
	}

	out := make([]common.ChangelogEntry, 0, len(all))
	for _, e := range all {
		if e.AppliedToGraph {
			out = append(out, e)
		}
	}
	return out, nil
}

// dropGeneration is best-effort cleanup of an unswapped community
// generation after a failed or cancelled rebuild.
func (g *Engine) dropGeneration(ctx context.Context, campaignID int64, generation int64) {
	if generation == 0 {
		return
	}
	if err := g.store.DropCommunityGeneration(ctx, campaignID, generation); err != nil {
		logger.Warn("[Rebuild] Failed to drop orphaned community generation",
			"campaign_id", campaignID,
			"generation", generation,
			"error", err,
		)
	}
}
