// Package jobs is the durable deferred-job store behind the scheduler.
//
// Two backends share the Queue interface: River on PostgreSQL and a
// cron-polled job table for sqlite. Both key jobs by broadcast id and
// schedule each id at most once.
package jobs

import (
	"context"
	"errors"
	"time"
)

var ErrNotStarted = errors.New("jobs: queue not started")

// Handler runs a due job. It is bound once, at Start.
type Handler func(ctx context.Context, broadcastID int64) error

type Queue interface {
	// Schedule arms a job for broadcastID at runAt. Arming an id that already
	// has a job is a no-op.
	Schedule(ctx context.Context, broadcastID int64, runAt time.Time) error
	Start(ctx context.Context, h Handler) error
	Stop(ctx context.Context) error
}
