package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Registry guards against two enrichments running for the same content id.
// Acquire returns ok=false when a task for id is already in flight; the
// caller must invoke release exactly once when ok is true.
type Registry interface {
	Acquire(ctx context.Context, id int64) (release func(), ok bool)
}

// MemoryRegistry is a process-local Registry.
type MemoryRegistry struct {
	mu       sync.Mutex
	inFlight map[int64]struct{}
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{inFlight: make(map[int64]struct{})}
}

func (r *MemoryRegistry) Acquire(_ context.Context, id int64) (func(), bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.inFlight[id]; busy {
		return nil, false
	}
	r.inFlight[id] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.inFlight, id)
			r.mu.Unlock()
		})
	}, true
}

// Len reports the number of ids in flight.
func (r *MemoryRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inFlight)
}

// RedisRegistry shares the in-flight set between gateway replicas. Keys
// expire after ttl so a crashed replica cannot block an id forever.
type RedisRegistry struct {
	rdb    *goredis.Client
	prefix string
	ttl    time.Duration
	log    *slog.Logger
}

// NewRedisRegistry connects to addr and pings it.
func NewRedisRegistry(ctx context.Context, addr string, ttl time.Duration, log *slog.Logger) (*RedisRegistry, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &RedisRegistry{rdb: rdb, prefix: "lesson:enrich:", ttl: ttl, log: log}, nil
}

// Acquire lets the task run when Redis is unreachable; a duplicate
// enrichment only rewrites the same payload.
func (r *RedisRegistry) Acquire(ctx context.Context, id int64) (func(), bool) {
	key := r.prefix + strconv.FormatInt(id, 10)
	ok, err := r.rdb.SetNX(ctx, key, "1", r.ttl).Result()
	if err != nil {
		r.log.Warn("enrich registry unavailable", "content_id", id, "error", err)
		return func() {}, true
	}
	if !ok {
		return nil, false
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			delCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if delErr := r.rdb.Del(delCtx, key).Err(); delErr != nil {
				r.log.Warn("enrich registry release failed", "content_id", id, "error", delErr)
			}
		})
	}, true
}

func (r *RedisRegistry) Close() error {
	return r.rdb.Close()
}
