package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/loreforge/loreforge/backend/pkg/logger"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rabbitmq/amqp091-go"
)

// RecoverStaleRebuilds re-enqueues rebuild jobs whose delivery was lost:
// jobs still pending well past creation, and in-progress jobs whose worker
// lease has expired (a crashed worker). Re-enqueueing a live job is
// harmless since execution is lease-guarded and idempotent.
func RecoverStaleRebuilds(
	ctx context.Context,
	conn *pgxpool.Pool,
	ch *amqp091.Channel,
) error {
	rows, err := conn.Query(ctx, `
		SELECT r.id, r.campaign_id
		FROM rebuilds r
		WHERE (r.status = 'pending' AND r.created_at < now() - interval '2 minutes')
		   OR (r.status = 'in_progress' AND NOT EXISTS (
			SELECT 1 FROM rebuild_locks l
			WHERE l.lock_key = 'rebuild:' || r.id AND l.expires_at > now()))`)
	if err != nil {
		return fmt.Errorf("failed to query stale rebuilds: %w", err)
	}
	defer rows.Close()

	var jobs []RebuildJobMsg
	for rows.Next() {
		var job RebuildJobMsg
		if err := rows.Scan(&job.RebuildID, &job.CampaignID); err != nil {
			return fmt.Errorf("failed to scan stale rebuild: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating stale rebuilds: %w", err)
	}

	if len(jobs) == 0 {
		logger.Debug("[Queue] No stale rebuilds found")
		return nil
	}
	logger.Info("[Queue] Found stale rebuilds", "count", len(jobs))

	for _, job := range jobs {
		data, err := json.Marshal(job)
		if err != nil {
			logger.Error("[Queue] Failed to marshal rebuild job", "rebuild_id", job.RebuildID, "err", err)
			continue
		}
		if err := PublishFIFO(ch, RebuildQueueName, data); err != nil {
			logger.Error("[Queue] Failed to republish rebuild", "rebuild_id", job.RebuildID, "err", err)
			continue
		}
		logger.Info("[Queue] Recovered stale rebuild", "rebuild_id", job.RebuildID, "campaign_id", job.CampaignID)
	}

	return nil
}
