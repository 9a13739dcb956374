package observability

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// RetentionConfig specifies per-table retention in days. Zero means no
// cleanup for that table.
type RetentionConfig struct {
	EventLogsDays  int
	HeartbeatsDays int
	RunVacuumAfter bool
}

// Cleanup deletes records exceeding the retention thresholds.
func Cleanup(ctx context.Context, db *sql.DB, cfg RetentionConfig) error {
	now := time.Now().Unix()

	type cleanupTarget struct {
		table  string
		column string
		days   int
	}
	targets := []cleanupTarget{
		{"business_event_logs", "created_at", cfg.EventLogsDays},
		{"worker_heartbeats", "timestamp", cfg.HeartbeatsDays},
	}

	for _, t := range targets {
		if t.days <= 0 {
			continue
		}
		cutoff := now - int64(t.days*86400)
		q := fmt.Sprintf("DELETE FROM %s WHERE %s < ?", t.table, t.column)
		if _, err := db.ExecContext(ctx, q, cutoff); err != nil {
			return fmt.Errorf("cleanup %s: %w", t.table, err)
		}
	}

	if cfg.RunVacuumAfter {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			return fmt.Errorf("vacuum: %w", err)
		}
	}
	return nil
}

// ScheduleCleanup registers a recurring Cleanup run on the given cron
// scheduler. schedule uses standard 5-field cron syntax. The caller owns
// the scheduler lifecycle (Start/Stop).
func ScheduleCleanup(c *cron.Cron, db *sql.DB, cfg RetentionConfig, schedule string) (cron.EntryID, error) {
	id, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := Cleanup(ctx, db, cfg); err != nil {
			slog.Error("observability cleanup failed", "error", err)
			return
		}
		slog.Info("observability cleanup completed",
			"event_logs_days", cfg.EventLogsDays,
			"heartbeats_days", cfg.HeartbeatsDays)
	})
	if err != nil {
		return 0, fmt.Errorf("schedule cleanup: %w", err)
	}
	return id, nil
}
