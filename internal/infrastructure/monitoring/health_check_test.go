package monitoring

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHealthChecker_CheckAll(t *testing.T) {
	h := NewHealthChecker()
	h.AddPingCheck("repositories", func(ctx context.Context) error { return nil }, 0, time.Second)
	h.AddRecordingsDirCheck(t.TempDir(), 0, time.Second)

	status := h.CheckAll(context.Background())
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, "healthy", status.Checks["repositories"])
	assert.Equal(t, "healthy", status.Checks["recordings_dir"])
	assert.True(t, h.IsReady(context.Background()))

	h.AddPingCheck("redis", func(ctx context.Context) error { return errors.New("connection refused") }, 0, time.Second)
	h.AddCheck("flaky", func(ctx context.Context) (bool, error) { return false, nil }, 0, time.Second)

	status = h.GetReadinessStatus(context.Background())
	assert.Equal(t, "unhealthy", status.Status)
	assert.Equal(t, "connection refused", status.Checks["redis"])
	assert.Equal(t, "check failed", status.Checks["flaky"])
	assert.False(t, h.IsReady(context.Background()))
}

func TestHealthChecker_MissingRecordingsDir(t *testing.T) {
	h := NewHealthChecker()
	h.AddRecordingsDirCheck(filepath.Join(t.TempDir(), "missing"), 0, time.Second)

	status := h.CheckAll(context.Background())
	assert.Equal(t, "unhealthy", status.Status)
	assert.Contains(t, status.Checks["recordings_dir"], "not writable")
}

func TestHealthChecker_TimeoutApplies(t *testing.T) {
	h := NewHealthChecker()
	h.AddCheck("slow", func(ctx context.Context) (bool, error) {
		<-ctx.Done()
		return false, ctx.Err()
	}, 0, 10*time.Millisecond)

	status := h.CheckAll(context.Background())
	assert.Equal(t, context.DeadlineExceeded.Error(), status.Checks["slow"])
}

func TestHealthChecker_BackgroundChecks(t *testing.T) {
	h := NewHealthChecker()
	h.AddPingCheck("repositories", func(ctx context.Context) error { return nil }, 5*time.Millisecond, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.StartBackgroundChecks(ctx)

	assert.Eventually(t, func() bool {
		return h.LastResults()["repositories"] == "healthy"
	}, time.Second, 5*time.Millisecond)
}
