package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/loreforge/loreforge/backend/pkg/graph"
	"github.com/loreforge/loreforge/backend/pkg/leaselock"
	"github.com/loreforge/loreforge/backend/pkg/logger"
)

// ProcessRebuildMessage runs one rebuild job under a lease, so redelivered
// messages never execute the same rebuild on two workers at once. A busy
// lease is not an error: the other holder is already doing the work.
func ProcessRebuildMessage(
	ctx context.Context,
	engine *graph.Engine,
	locks *leaselock.Client,
	msg string,
) error {
	var job RebuildJobMsg
	if err := json.Unmarshal([]byte(msg), &job); err != nil {
		return fmt.Errorf("failed to unmarshal rebuild job: %w", err)
	}
	if job.RebuildID == "" {
		return fmt.Errorf("rebuild job carries no rebuild id")
	}

	lockKey := "rebuild:" + job.RebuildID
	err := locks.WithLease(ctx, lockKey, leaselock.Options{
		TTL: 10 * time.Minute,
	}, func(ctx context.Context) error {
		return engine.ExecuteRebuild(ctx, job.RebuildID)
	})
	if errors.Is(err, leaselock.ErrBusy) {
		logger.Info("[Queue] Rebuild already running elsewhere, skipping",
			"rebuild_id", job.RebuildID, "campaign_id", job.CampaignID)
		return nil
	}
	return err
}
