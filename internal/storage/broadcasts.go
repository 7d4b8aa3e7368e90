package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateBroadcast inserts b and fills its id. Status defaults to pending.
func (s *Store) CreateBroadcast(ctx context.Context, b *Broadcast) error {
	if b.Status == "" {
		b.Status = StatusPending
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	b.CreatedAt = b.CreatedAt.UTC()
	if b.ScheduledTime != nil {
		t := b.ScheduledTime.UTC()
		b.ScheduledTime = &t
	}
	if _, err := s.db.NewInsert().Model(b).Exec(ctx); err != nil {
		return fmt.Errorf("insert broadcast: %w", err)
	}
	return nil
}

func (s *Store) GetBroadcast(ctx context.Context, id int64) (*Broadcast, error) {
	b := new(Broadcast)
	err := s.db.NewSelect().Model(b).Where("id = ?", id).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get broadcast %d: %w", id, err)
	}
	return b, nil
}

func (s *Store) ListBroadcasts(ctx context.Context) ([]Broadcast, error) {
	var out []Broadcast
	if err := s.db.NewSelect().Model(&out).Order("id ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("list broadcasts: %w", err)
	}
	return out, nil
}

// ListPendingBroadcasts returns pending broadcasts, earliest run time first.
func (s *Store) ListPendingBroadcasts(ctx context.Context) ([]Broadcast, error) {
	var out []Broadcast
	err := s.db.NewSelect().
		Model(&out).
		Where("status = ?", StatusPending).
		Order("scheduled_time ASC", "id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pending broadcasts: %w", err)
	}
	return out, nil
}

// MarkBroadcastDone moves a pending broadcast to status with its stats. It
// reports false when the row was not pending anymore, which makes a repeated
// fire a no-op.
func (s *Store) MarkBroadcastDone(ctx context.Context, id int64, status Status, stats Stats) (bool, error) {
	if status == StatusPending {
		return false, fmt.Errorf("mark broadcast %d: target status must not be pending", id)
	}
	res, err := s.db.NewUpdate().
		Model((*Broadcast)(nil)).
		Set("status = ?", status).
		Set("stats = ?", stats).
		Set("sent_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Where("status = ?", StatusPending).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("mark broadcast %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}
