package memory

import (
	"context"
	"sort"
	"sync"

	"eventcast/internal/core/domain"
	"eventcast/internal/core/ports"
)

type MemoryRecordingRepository struct {
	recordings map[domain.EventID][]domain.RecordingMetadata
	mu         sync.RWMutex
}

var _ ports.RecordingRepository = (*MemoryRecordingRepository)(nil)

func NewMemoryRecordingRepository() *MemoryRecordingRepository {
	return &MemoryRecordingRepository{
		recordings: make(map[domain.EventID][]domain.RecordingMetadata),
	}
}

func (r *MemoryRecordingRepository) PersistRecordingMetadata(ctx context.Context, meta domain.RecordingMetadata) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.recordings[meta.EventID] = append(r.recordings[meta.EventID], meta)
	return nil
}

// ListByEvent returns recordings of eventID, newest first.
func (r *MemoryRecordingRepository) ListByEvent(ctx context.Context, eventID domain.EventID) ([]domain.RecordingMetadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := append([]domain.RecordingMetadata(nil), r.recordings[eventID]...)
	sort.SliceStable(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	return list, nil
}
