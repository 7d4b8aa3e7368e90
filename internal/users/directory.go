// Package users is the user directory: registration, role lookup and change,
// and the broadcast roster.
package users

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"broadcastbot/internal/eventbus"
	"broadcastbot/internal/storage"
	logx "broadcastbot/pkg/logx"
)

// Repo is the storage surface the directory needs.
type Repo interface {
	GetOrCreateUser(ctx context.Context, id int64, username string) (*storage.User, bool, error)
	UserByID(ctx context.Context, id int64) (*storage.User, error)
	UpdateUserRole(ctx context.Context, id int64, role storage.Role) error
	CountUsersByRole(ctx context.Context) (map[storage.Role]int, error)
	RecipientIDs(ctx context.Context) ([]int64, error)
}

// Publisher receives role change events.
type Publisher interface {
	Publish(topic string, data any) error
}

// RoleChanged is published on eventbus.TopicRoleChanged.
type RoleChanged struct {
	UserID int64        `json:"user_id"`
	Role   storage.Role `json:"role"`
}

type Directory struct {
	repo   Repo
	log    logx.Logger
	events Publisher

	mu     sync.RWMutex
	admins map[int64]struct{}
}

type Option func(*Directory)

func WithEvents(p Publisher) Option { return func(d *Directory) { d.events = p } }

func New(repo Repo, log logx.Logger, bootstrapAdmins []int64, opts ...Option) *Directory {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Directory{repo: repo, log: log.With(logx.String("comp", "users"))}
	d.SetBootstrapAdmins(bootstrapAdmins)
	for _, o := range opts {
		o(d)
	}
	return d
}

// SetBootstrapAdmins replaces the configured admin ids. Safe to call on reload.
func (d *Directory) SetBootstrapAdmins(ids []int64) {
	m := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	d.mu.Lock()
	d.admins = m
	d.mu.Unlock()
}

func (d *Directory) isBootstrapAdmin(id int64) bool {
	d.mu.RLock()
	_, ok := d.admins[id]
	d.mu.RUnlock()
	return ok
}

// GetOrCreate returns the user, creating it with the default role on first
// contact. An existing record is returned unchanged.
func (d *Directory) GetOrCreate(ctx context.Context, id int64, username string) (*storage.User, error) {
	u, created, err := d.repo.GetOrCreateUser(ctx, id, username)
	if err != nil {
		return nil, err
	}
	if created {
		d.log.Info("user registered", logx.Int64("user_id", id), logx.String("username", username))
	}
	return u, nil
}

// Register is GetOrCreate plus promotion of configured bootstrap admins.
func (d *Directory) Register(ctx context.Context, id int64, username string) (*storage.User, error) {
	u, err := d.GetOrCreate(ctx, id, username)
	if err != nil {
		return nil, err
	}
	if u.Role == storage.RoleAdmin || !d.isBootstrapAdmin(id) {
		return u, nil
	}
	if err := d.repo.UpdateUserRole(ctx, id, storage.RoleAdmin); err != nil {
		return nil, fmt.Errorf("promote bootstrap admin: %w", err)
	}
	d.log.Info("bootstrap admin promoted", logx.Int64("user_id", id))
	u.Role = storage.RoleAdmin
	return u, nil
}

// Role returns the stored role of id. Unknown users are plain users, except
// bootstrap admins.
func (d *Directory) Role(ctx context.Context, id int64) (storage.Role, error) {
	if d.isBootstrapAdmin(id) {
		return storage.RoleAdmin, nil
	}
	u, err := d.repo.UserByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.RoleUser, nil
	}
	if err != nil {
		return "", err
	}
	return u.Role, nil
}

// SetRole validates token against the role set and stores it. It fails with
// storage.ErrInvalidRole, storage.ErrRoleLocked (demoting a configured admin)
// or storage.ErrNotFound and never partially applies.
func (d *Directory) SetRole(ctx context.Context, id int64, token string) (storage.Role, error) {
	role, err := storage.ParseRole(token)
	if err != nil {
		return "", err
	}
	if role != storage.RoleAdmin && d.isBootstrapAdmin(id) {
		return "", storage.ErrRoleLocked
	}
	if err := d.repo.UpdateUserRole(ctx, id, role); err != nil {
		return "", err
	}
	d.log.Info("role changed", logx.Int64("user_id", id), logx.String("role", string(role)))
	if d.events != nil {
		if err := d.events.Publish(eventbus.TopicRoleChanged, RoleChanged{UserID: id, Role: role}); err != nil {
			d.log.Warn("event publish failed", logx.Err(err))
		}
	}
	return role, nil
}

// Roster returns the current full recipient list.
func (d *Directory) Roster(ctx context.Context) ([]int64, error) {
	return d.repo.RecipientIDs(ctx)
}

// Counts is the per-role breakdown shown to admins.
type Counts struct {
	Total  int
	ByRole map[storage.Role]int
}

func (d *Directory) Counts(ctx context.Context) (Counts, error) {
	by, err := d.repo.CountUsersByRole(ctx)
	if err != nil {
		return Counts{}, err
	}
	c := Counts{ByRole: by}
	for _, n := range by {
		c.Total += n
	}
	return c, nil
}
