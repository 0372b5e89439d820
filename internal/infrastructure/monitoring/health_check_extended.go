package monitoring

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// AddPingCheck adds a check backed by any ping function, such as a
// repository factory health check.
func (h *HealthChecker) AddPingCheck(name string, ping func(ctx context.Context) error, interval, timeout time.Duration) {
	h.AddCheck(name, func(ctx context.Context) (bool, error) {
		if err := ping(ctx); err != nil {
			return false, err
		}
		return true, nil
	}, interval, timeout)
}

// AddRecordingsDirCheck verifies the recordings directory is writable.
func (h *HealthChecker) AddRecordingsDirCheck(dir string, interval, timeout time.Duration) {
	h.AddCheck("recordings_dir", func(ctx context.Context) (bool, error) {
		f, err := os.CreateTemp(dir, ".healthcheck-*")
		if err != nil {
			return false, fmt.Errorf("recordings dir not writable: %w", err)
		}
		name := f.Name()
		f.Close()
		if err := os.Remove(name); err != nil {
			return false, fmt.Errorf("failed to remove probe %s: %w", filepath.Base(name), err)
		}
		return true, nil
	}, interval, timeout)
}

// GetReadinessStatus returns readiness status for load balancer
func (h *HealthChecker) GetReadinessStatus(ctx context.Context) HealthStatus {
	return h.CheckAll(ctx)
}

// IsReady checks if the service is ready to accept traffic
func (h *HealthChecker) IsReady(ctx context.Context) bool {
	status := h.CheckAll(ctx)
	return status.Status == "healthy"
}
