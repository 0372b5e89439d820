package repositories

import (
	"context"
	"fmt"

	"eventcast/internal/core/domain"
	"eventcast/internal/core/ports"
	"eventcast/pkg/circuitbreaker"

	"go.uber.org/zap"
)

// GuardedRecordingRepository fails fast while the wrapped store keeps
// erroring, so finalizing a recording does not wait on a dead backend.
type GuardedRecordingRepository struct {
	next    ports.RecordingRepository
	breaker *circuitbreaker.Breaker
}

var _ ports.RecordingRepository = (*GuardedRecordingRepository)(nil)

func NewGuardedRecordingRepository(next ports.RecordingRepository, cfg circuitbreaker.Config, logger *zap.SugaredLogger) *GuardedRecordingRepository {
	breaker := circuitbreaker.New(cfg)
	breaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Warnw("Recording metadata store breaker changed state",
			"from", from.String(),
			"to", to.String(),
		)
	})
	return &GuardedRecordingRepository{next: next, breaker: breaker}
}

func (r *GuardedRecordingRepository) PersistRecordingMetadata(ctx context.Context, meta domain.RecordingMetadata) error {
	err := r.breaker.Do(ctx, func(ctx context.Context) error {
		return r.next.PersistRecordingMetadata(ctx, meta)
	})
	if err != nil {
		return fmt.Errorf("persist metadata for %s: %w", meta.Filename, err)
	}
	return nil
}

func (r *GuardedRecordingRepository) ListByEvent(ctx context.Context, eventID domain.EventID) ([]domain.RecordingMetadata, error) {
	return circuitbreaker.Call(ctx, r.breaker, func(ctx context.Context) ([]domain.RecordingMetadata, error) {
		return r.next.ListByEvent(ctx, eventID)
	})
}

// State reports the breaker state.
func (r *GuardedRecordingRepository) State() circuitbreaker.State {
	return r.breaker.State()
}
