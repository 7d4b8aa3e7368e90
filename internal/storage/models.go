package storage

import (
	"time"

	"github.com/uptrace/bun"

	"broadcastbot/internal/content"
)

type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID        int64     `bun:"id,pk"`
	Username  string    `bun:"username,nullzero"`
	Role      Role      `bun:"role,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull"`
}

type Broadcast struct {
	bun.BaseModel `bun:"table:broadcasts,alias:b"`

	ID            int64           `bun:"id,pk,autoincrement"`
	CreatedBy     int64           `bun:"created_by,notnull"`
	Content       content.Payload `bun:"content,notnull"`
	ScheduledTime *time.Time      `bun:"scheduled_time"`
	Status        Status          `bun:"status,notnull"`
	Stats         *Stats          `bun:"stats"`
	CreatedAt     time.Time       `bun:"created_at,notnull"`
	SentAt        *time.Time      `bun:"sent_at"`
}

// JobState is the state of a row in scheduled_jobs.
type JobState string

const (
	JobScheduled JobState = "scheduled"
	JobRunning   JobState = "running"
	JobDone      JobState = "done"
	JobFailed    JobState = "failed"
)

// ScheduledJob is the table-backed deferred job. One row per broadcast; the
// primary key makes arming idempotent.
type ScheduledJob struct {
	bun.BaseModel `bun:"table:scheduled_jobs,alias:j"`

	BroadcastID int64    `bun:"broadcast_id,pk"`
	RunAtMS     int64    `bun:"run_at_ms,notnull"`
	State       JobState `bun:"state,notnull"`
	Attempts    int      `bun:"attempts,notnull"`
	LastError   string   `bun:"last_error,nullzero"`
	UpdatedAtMS int64    `bun:"updated_at_ms,notnull"`
}

func (j ScheduledJob) RunAt() time.Time { return time.UnixMilli(j.RunAtMS) }

// AuditKind tells immediate and scheduled delivery runs apart.
type AuditKind string

const (
	AuditImmediate AuditKind = "immediate"
	AuditScheduled AuditKind = "scheduled"
)

// AuditEntry records one delivery run.
type AuditEntry struct {
	bun.BaseModel `bun:"table:delivery_audit,alias:a"`

	ID          int64     `bun:"id,pk,autoincrement"`
	At          time.Time `bun:"at,notnull"`
	ActorID     int64     `bun:"actor_id,notnull"`
	BroadcastID int64     `bun:"broadcast_id,nullzero"`
	Kind        AuditKind `bun:"kind,notnull"`
	Total       int       `bun:"total,notnull"`
	OK          int       `bun:"ok,notnull"`
	Fail        int       `bun:"fail,notnull"`
	TookMS      int64     `bun:"took_ms,notnull"`
}
