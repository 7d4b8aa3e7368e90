package storage

import (
	"context"
	"fmt"
	"time"
)

// ScheduleJob arms the job row for broadcastID. A second call for the same id
// leaves the existing row untouched and reports false.
func (s *Store) ScheduleJob(ctx context.Context, broadcastID int64, runAt time.Time) (bool, error) {
	j := &ScheduledJob{
		BroadcastID: broadcastID,
		RunAtMS:     runAt.UnixMilli(),
		State:       JobScheduled,
		UpdatedAtMS: time.Now().UnixMilli(),
	}
	res, err := s.db.NewInsert().
		Model(j).
		On("CONFLICT (broadcast_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("insert job: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// DueJobs returns scheduled jobs whose run time is at or before now.
func (s *Store) DueJobs(ctx context.Context, now time.Time, limit int) ([]ScheduledJob, error) {
	var out []ScheduledJob
	q := s.db.NewSelect().
		Model(&out).
		Where("state = ?", JobScheduled).
		Where("run_at_ms <= ?", now.UnixMilli()).
		Order("run_at_ms ASC", "broadcast_id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("due jobs: %w", err)
	}
	return out, nil
}

// ClaimJob moves a scheduled job to running. Only one caller can win.
func (s *Store) ClaimJob(ctx context.Context, broadcastID int64) (bool, error) {
	res, err := s.db.NewUpdate().
		Model((*ScheduledJob)(nil)).
		Set("state = ?", JobRunning).
		Set("attempts = attempts + 1").
		Set("updated_at_ms = ?", time.Now().UnixMilli()).
		Where("broadcast_id = ?", broadcastID).
		Where("state = ?", JobScheduled).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("claim job %d: %w", broadcastID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// FinishJob records the outcome of a claimed job.
func (s *Store) FinishJob(ctx context.Context, broadcastID int64, runErr error) error {
	state, msg := JobDone, ""
	if runErr != nil {
		state, msg = JobFailed, runErr.Error()
	}
	_, err := s.db.NewUpdate().
		Model((*ScheduledJob)(nil)).
		Set("state = ?", state).
		Set("last_error = ?", nullString(msg)).
		Set("updated_at_ms = ?", time.Now().UnixMilli()).
		Where("broadcast_id = ?", broadcastID).
		Where("state = ?", JobRunning).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("finish job %d: %w", broadcastID, err)
	}
	return nil
}

// FailStaleJobs marks running jobs not updated since before as failed. They
// were interrupted mid-run and are not retried, so no recipient gets a
// broadcast twice.
func (s *Store) FailStaleJobs(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.NewUpdate().
		Model((*ScheduledJob)(nil)).
		Set("state = ?", JobFailed).
		Set("last_error = ?", "interrupted").
		Set("updated_at_ms = ?", time.Now().UnixMilli()).
		Where("state = ?", JobRunning).
		Where("updated_at_ms < ?", before.UnixMilli()).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("fail stale jobs: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) GetJob(ctx context.Context, broadcastID int64) (*ScheduledJob, error) {
	j := new(ScheduledJob)
	if err := s.db.NewSelect().Model(j).Where("broadcast_id = ?", broadcastID).Scan(ctx); err != nil {
		return nil, wrapNotFound(err, "get job")
	}
	return j, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
