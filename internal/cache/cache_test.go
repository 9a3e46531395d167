package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/therealutkarshpriyadarshi/reelforge/internal/transcoder"
	"github.com/therealutkarshpriyadarshi/reelforge/pkg/models"
)

var _ transcoder.ProbeCache = (*Cache)(nil)

func setupTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}

	cache, err := NewCache(mr.Host(), mr.Server().Addr().Port, "", 0)
	if err != nil {
		mr.Close()
		t.Fatalf("Failed to create cache: %v", err)
	}

	return cache, mr
}

func TestNewCache(t *testing.T) {
	cache, mr := setupTestCache(t)
	defer mr.Close()
	defer cache.Close()

	if err := cache.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestNewCache_Unreachable(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	host, port := mr.Host(), mr.Server().Addr().Port
	mr.Close()

	if _, err := NewCache(host, port, "", 0); err == nil {
		t.Fatal("Expected an error for a closed server")
	}
}

func TestCache_ProbeOperations(t *testing.T) {
	cache, mr := setupTestCache(t)
	defer mr.Close()
	defer cache.Close()

	ctx := context.Background()
	key := "/media/in.mp4:1048576:1700000000"

	miss, err := cache.GetProbe(ctx, key)
	if err != nil {
		t.Fatalf("GetProbe failed: %v", err)
	}
	if miss != nil {
		t.Fatal("Expected cache miss")
	}

	desc := &models.MediaDescriptor{Width: 1280, Height: 720, DurationSeconds: 8, SizeBytes: 1048576}
	if err := cache.SetProbe(ctx, key, desc, time.Hour); err != nil {
		t.Fatalf("SetProbe failed: %v", err)
	}

	got, err := cache.GetProbe(ctx, key)
	if err != nil {
		t.Fatalf("GetProbe failed: %v", err)
	}
	if got == nil || *got != *desc {
		t.Fatalf("Expected %+v, got %+v", desc, got)
	}

	mr.FastForward(2 * time.Hour)

	expired, err := cache.GetProbe(ctx, key)
	if err != nil {
		t.Fatalf("GetProbe failed: %v", err)
	}
	if expired != nil {
		t.Error("Expected entry to expire")
	}
}

func TestCache_ProbeCorrupt(t *testing.T) {
	cache, mr := setupTestCache(t)
	defer mr.Close()
	defer cache.Close()

	if err := mr.Set("probe:bad", "{not json"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if _, err := cache.GetProbe(context.Background(), "bad"); err == nil {
		t.Error("Expected unmarshal error")
	}
}

func TestCache_RunOperations(t *testing.T) {
	cache, mr := setupTestCache(t)
	defer mr.Close()
	defer cache.Close()

	ctx := context.Background()
	report := &models.RunReport{
		ID:        "run-1",
		Pipeline:  "daily",
		StartedAt: time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC),
		Succeeded: false,
		HaltedAt:  "normalize",
		Stages: models.StageResults{
			{Name: "generate", Status: models.StageStatusSucceeded},
			{Name: "normalize", Status: models.StageStatusFailed, ExitCode: 1},
		},
	}

	if err := cache.SetRun(ctx, report, time.Hour); err != nil {
		t.Fatalf("SetRun failed: %v", err)
	}

	got, err := cache.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got == nil || got.HaltedAt != "normalize" || len(got.Stages) != 2 {
		t.Fatalf("Unexpected report: %+v", got)
	}

	latest, err := cache.GetLatestRun(ctx, "daily")
	if err != nil {
		t.Fatalf("GetLatestRun failed: %v", err)
	}
	if latest == nil || latest.ID != "run-1" {
		t.Fatalf("Expected latest run run-1, got %+v", latest)
	}

	none, err := cache.GetLatestRun(ctx, "weekly")
	if err != nil {
		t.Fatalf("GetLatestRun failed: %v", err)
	}
	if none != nil {
		t.Error("Expected no latest run for an unknown pipeline")
	}

	missing, err := cache.GetRun(ctx, "run-404")
	if err != nil || missing != nil {
		t.Errorf("Expected clean miss, got %+v, %v", missing, err)
	}
}

func TestCache_Locking(t *testing.T) {
	cache, mr := setupTestCache(t)
	defer mr.Close()
	defer cache.Close()

	ctx := context.Background()

	token, acquired, err := cache.AcquireLock(ctx, "pipeline:daily", time.Minute)
	if err != nil || !acquired || token == "" {
		t.Fatalf("First acquire should succeed: %q, %v, %v", token, acquired, err)
	}

	second, acquired, err := cache.AcquireLock(ctx, "pipeline:daily", time.Minute)
	if err != nil || acquired || second != "" {
		t.Fatalf("Second acquire should fail: %q, %v, %v", second, acquired, err)
	}

	if err := cache.ReleaseLock(ctx, "pipeline:daily", token); err != nil {
		t.Fatalf("ReleaseLock failed: %v", err)
	}

	_, acquired, err = cache.AcquireLock(ctx, "pipeline:daily", time.Minute)
	if err != nil || !acquired {
		t.Fatalf("Acquire after release should succeed: %v, %v", acquired, err)
	}

	mr.FastForward(2 * time.Minute)
	if mr.Exists("lock:pipeline:daily") {
		t.Error("Lock should expire")
	}
}

func TestCache_ReleaseLockKeepsOtherHoldersLock(t *testing.T) {
	cache, mr := setupTestCache(t)
	defer mr.Close()
	defer cache.Close()

	ctx := context.Background()

	stale, _, err := cache.AcquireLock(ctx, "pipeline:daily", time.Minute)
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}

	// the first holder overruns its ttl and a second run takes the lock
	mr.FastForward(2 * time.Minute)
	current, acquired, err := cache.AcquireLock(ctx, "pipeline:daily", time.Minute)
	if err != nil || !acquired {
		t.Fatalf("Acquire after expiry should succeed: %v, %v", acquired, err)
	}

	err = cache.ReleaseLock(ctx, "pipeline:daily", stale)
	if !errors.Is(err, ErrLockNotHeld) {
		t.Fatalf("Expected ErrLockNotHeld, got %v", err)
	}
	if got, _ := mr.Get("lock:pipeline:daily"); got != current {
		t.Fatalf("Second holder's lock was removed, key holds %q", got)
	}

	if err := cache.ReleaseLock(ctx, "pipeline:daily", current); err != nil {
		t.Fatalf("ReleaseLock by owner failed: %v", err)
	}
	if mr.Exists("lock:pipeline:daily") {
		t.Error("Owner release should delete the lock")
	}
}

func TestCache_ReleaseLockAfterCancel(t *testing.T) {
	cache, mr := setupTestCache(t)
	defer mr.Close()
	defer cache.Close()

	ctx, cancel := context.WithCancel(context.Background())
	token, _, err := cache.AcquireLock(ctx, "pipeline:daily", time.Hour)
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}
	cancel()

	if err := cache.ReleaseLock(ctx, "pipeline:daily", token); err == nil {
		t.Fatal("Release on a cancelled context should fail")
	}

	releaseCtx, done := ReleaseContext(ctx)
	defer done()
	if err := cache.ReleaseLock(releaseCtx, "pipeline:daily", token); err != nil {
		t.Fatalf("ReleaseLock with detached context failed: %v", err)
	}
	if mr.Exists("lock:pipeline:daily") {
		t.Error("Lock should be released after the run is cancelled")
	}
}
