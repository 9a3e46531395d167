package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/therealutkarshpriyadarshi/reelforge/internal/metrics"
	"github.com/therealutkarshpriyadarshi/reelforge/pkg/models"
)

// Cache provides caching functionality using Redis
type Cache struct {
	client *redis.Client
}

// NewCache creates a new cache instance
func NewCache(host string, port int, password string, db int) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Cache{client: client}, nil
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	return c.client.Close()
}

// Ping checks the connection
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Probe Cache Operations

// SetProbe caches a probed media descriptor under a file fingerprint
func (c *Cache) SetProbe(ctx context.Context, key string, desc *models.MediaDescriptor, ttl time.Duration) error {
	return c.setJSON(ctx, probeKey(key), desc, ttl)
}

// GetProbe returns the cached descriptor, or nil on a miss
func (c *Cache) GetProbe(ctx context.Context, key string) (*models.MediaDescriptor, error) {
	var desc models.MediaDescriptor
	found, err := c.getJSON(ctx, probeKey(key), &desc)
	if err != nil {
		return nil, err
	}

	metrics.RecordCacheAccess("probe", found)
	if !found {
		return nil, nil
	}
	return &desc, nil
}

func probeKey(key string) string {
	return "probe:" + key
}

// Run Report Operations

// SetRun caches a run report and marks it as the latest run of its pipeline
func (c *Cache) SetRun(ctx context.Context, report *models.RunReport, ttl time.Duration) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal run report: %w", err)
	}

	pipe := c.client.TxPipeline()
	pipe.Set(ctx, runKey(report.ID), data, ttl)
	pipe.Set(ctx, latestRunKey(report.Pipeline), report.ID, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to cache run report: %w", err)
	}
	return nil
}

// GetRun returns a cached run report, or nil on a miss
func (c *Cache) GetRun(ctx context.Context, runID string) (*models.RunReport, error) {
	var report models.RunReport
	found, err := c.getJSON(ctx, runKey(runID), &report)
	if err != nil {
		return nil, err
	}

	metrics.RecordCacheAccess("run", found)
	if !found {
		return nil, nil
	}
	return &report, nil
}

// GetLatestRun returns the most recent cached run of a pipeline, or nil
func (c *Cache) GetLatestRun(ctx context.Context, pipeline string) (*models.RunReport, error) {
	runID, err := c.client.Get(ctx, latestRunKey(pipeline)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // Cache miss
		}
		return nil, fmt.Errorf("failed to get latest run: %w", err)
	}
	return c.GetRun(ctx, runID)
}

func runKey(runID string) string {
	return "run:" + runID
}

func latestRunKey(pipeline string) string {
	return "run:latest:" + pipeline
}

// Locking Operations

// ErrLockNotHeld is returned by ReleaseLock when the lock expired or was
// taken over by another holder.
var ErrLockNotHeld = errors.New("cache: lock not held")

// releaseScript deletes the lock only while it still carries our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// AcquireLock attempts to take a named lock for ttl. The returned token
// must be passed to ReleaseLock.
func (c *Cache) AcquireLock(ctx context.Context, resource string, ttl time.Duration) (string, bool, error) {
	key := fmt.Sprintf("lock:%s", resource)
	token := uuid.NewString()
	acquired, err := c.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil || !acquired {
		return "", false, err
	}
	return token, true, nil
}

// releaseTimeout bounds lock cleanup once the caller's context is done
const releaseTimeout = 5 * time.Second

// ReleaseContext detaches from parent's cancellation so a lock can still be
// released after the run was interrupted.
func ReleaseContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(parent), releaseTimeout)
}

// ReleaseLock releases a named lock if token still owns it
func (c *Cache) ReleaseLock(ctx context.Context, resource, token string) error {
	key := fmt.Sprintf("lock:%s", resource)
	deleted, err := releaseScript.Run(ctx, c.client, []string{key}, token).Int64()
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", resource, err)
	}
	if deleted == 0 {
		return fmt.Errorf("%w: %s", ErrLockNotHeld, resource)
	}
	return nil
}

func (c *Cache) setJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}

func (c *Cache) getJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get %s from cache: %w", key, err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return true, nil
}
