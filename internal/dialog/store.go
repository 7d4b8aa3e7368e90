package dialog

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
)

// Store keeps one session per chat. Entries expire after the store TTL; an
// expired session reads as absent.
type Store interface {
	Get(ctx context.Context, chatID int64) (Session, bool, error)
	Put(ctx context.Context, chatID int64, s Session) error
	Delete(ctx context.Context, chatID int64) error
}

// MemoryStore is an in-process TTL map. Sessions are lost on restart.
type MemoryStore struct {
	mu sync.RWMutex

	max int
	ttl time.Duration

	// An O(n) sweep runs at most once per cleanupInterval.
	cleanupInterval time.Duration
	nextCleanup     time.Time

	now func() time.Time
	m   map[int64]memEntry
}

type memEntry struct {
	s   Session
	exp time.Time
}

// NewMemoryStore creates a store with the given TTL (default 30m) and at most
// 10000 live sessions.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &MemoryStore{
		ttl:             ttl,
		max:             10000,
		cleanupInterval: time.Minute,
		now:             time.Now,
		m:               map[int64]memEntry{},
	}
}

// WithMax sets the maximum number of live sessions.
func (s *MemoryStore) WithMax(max int) *MemoryStore {
	if max <= 0 {
		max = 10000
	}
	s.mu.Lock()
	s.max = max
	s.mu.Unlock()
	return s
}

// SetTTL changes the TTL of sessions written from now on.
func (s *MemoryStore) SetTTL(ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	s.mu.Lock()
	s.ttl = ttl
	s.mu.Unlock()
}

// SetClock is for tests.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *MemoryStore) clock() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.now()
}

func (s *MemoryStore) Get(_ context.Context, chatID int64) (Session, bool, error) {
	now := s.clock()
	s.maybeCleanup(now)

	s.mu.RLock()
	e, ok := s.m[chatID]
	s.mu.RUnlock()
	if !ok {
		return Session{}, false, nil
	}
	if now.After(e.exp) {
		s.mu.Lock()
		if e2, ok2 := s.m[chatID]; ok2 && now.After(e2.exp) {
			delete(s.m, chatID)
		}
		s.mu.Unlock()
		return Session{}, false, nil
	}
	return e.s, true, nil
}

func (s *MemoryStore) Put(_ context.Context, chatID int64, sess Session) error {
	now := s.clock()
	s.maybeCleanup(now)

	s.mu.Lock()
	s.m[chatID] = memEntry{s: sess, exp: now.Add(s.ttl)}
	s.enforceMaxLocked(chatID)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, chatID int64) error {
	s.mu.Lock()
	delete(s.m, chatID)
	s.mu.Unlock()
	return nil
}

// Len reports the number of stored sessions, expired ones included until the
// next sweep.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}

func (s *MemoryStore) maybeCleanup(now time.Time) {
	s.mu.RLock()
	next := s.nextCleanup
	s.mu.RUnlock()
	if !next.IsZero() && now.Before(next) {
		return
	}

	s.mu.Lock()
	if s.nextCleanup.IsZero() || !now.Before(s.nextCleanup) {
		for k, e := range s.m {
			if now.After(e.exp) {
				delete(s.m, k)
			}
		}
		s.nextCleanup = now.Add(s.cleanupInterval)
	}
	s.mu.Unlock()
}

// enforceMaxLocked evicts arbitrary sessions other than keep.
func (s *MemoryStore) enforceMaxLocked(keep int64) {
	over := len(s.m) - s.max
	if s.max <= 0 || over <= 0 {
		return
	}
	for k := range s.m {
		if k == keep {
			continue
		}
		delete(s.m, k)
		over--
		if over <= 0 {
			return
		}
	}
}

// RedisStore keeps sessions as JSON values with a TTL, so in-flight dialogs
// survive a restart.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    atomic.Int64
}

func NewRedisStore(rdb redis.UniversalClient, prefix string, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	if prefix == "" {
		prefix = "broadcastbot:dialog:"
	}
	s := &RedisStore{rdb: rdb, prefix: prefix}
	s.ttl.Store(int64(ttl))
	return s
}

// SetTTL applies to sessions written from now on.
func (s *RedisStore) SetTTL(ttl time.Duration) {
	if ttl > 0 {
		s.ttl.Store(int64(ttl))
	}
}

func (s *RedisStore) key(chatID int64) string {
	return s.prefix + strconv.FormatInt(chatID, 10)
}

func (s *RedisStore) Get(ctx context.Context, chatID int64) (Session, bool, error) {
	b, err := s.rdb.Get(ctx, s.key(chatID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, err
	}
	var sess Session
	if err := json.Unmarshal(b, &sess); err != nil {
		return Session{}, false, err
	}
	return sess, true, nil
}

func (s *RedisStore) Put(ctx context.Context, chatID int64, sess Session) error {
	b, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.key(chatID), b, time.Duration(s.ttl.Load())).Err()
}

func (s *RedisStore) Delete(ctx context.Context, chatID int64) error {
	return s.rdb.Del(ctx, s.key(chatID)).Err()
}
