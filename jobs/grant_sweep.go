package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orbit-hq/orbit/internal/rbac"
)

// NewGrantSweepHandler returns the handler for TaskGrantSweep. Expired rows
// are already invisible to the permission resolver; the sweep removes them
// and busts the cached permission sets of the affected users.
func NewGrantSweepHandler(pool *pgxpool.Pool, cache *rbac.Cache, logger *slog.Logger, metrics *Metrics) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		tracker := metrics.Track(TaskGrantSweep)
		var payload GrantSweepPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return tracker.End(asynq.SkipRetry)
		}
		before := payload.Before
		if before.IsZero() {
			before = time.Now().UTC()
		}

		affected := make(map[int64]struct{})

		rows, err := pool.Query(ctx, `DELETE FROM user_roles WHERE expires_at IS NOT NULL AND expires_at <= $1 RETURNING user_id`, before)
		if err != nil {
			return tracker.End(err)
		}
		roleCount, err := collectUserIDs(rows, affected)
		if err != nil {
			return tracker.End(err)
		}

		rows, err = pool.Query(ctx, `DELETE FROM user_permissions WHERE expires_at IS NOT NULL AND expires_at <= $1 RETURNING user_id`, before)
		if err != nil {
			return tracker.End(err)
		}
		grantCount, err := collectUserIDs(rows, affected)
		if err != nil {
			return tracker.End(err)
		}

		if len(affected) > 0 {
			userIDs := make([]int64, 0, len(affected))
			for id := range affected {
				userIDs = append(userIDs, id)
			}
			if err := cache.Invalidate(ctx, userIDs...); err != nil && logger != nil {
				logger.Error("grant sweep cache invalidation", slog.Any("error", err))
			}
		}

		if logger != nil {
			logger.Info("grant sweep completed",
				slog.Int("expired_assignments", roleCount),
				slog.Int("expired_grants", grantCount),
				slog.Int("affected_users", len(affected)))
		}
		return tracker.End(nil)
	}
}

func collectUserIDs(rows pgx.Rows, into map[int64]struct{}) (int, error) {
	defer rows.Close()
	count := 0
	for rows.Next() {
		var userID int64
		if err := rows.Scan(&userID); err != nil {
			return count, err
		}
		into[userID] = struct{}{}
		count++
	}
	return count, rows.Err()
}
