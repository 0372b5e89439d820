package services

import (
	"context"
	"errors"
	"time"

	"eventcast/internal/core/domain"
	"eventcast/internal/core/ports"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CachedEventRepository wraps an EventRepository with a bounded TTL cache.
// Unknown ids are cached too so that repeated joins for a bogus event do
// not reach the backing store.
type CachedEventRepository struct {
	base     ports.EventRepository
	events   *expirable.LRU[domain.EventID, *domain.Event]
	negative *expirable.LRU[domain.EventID, bool]
}

var _ ports.EventRepository = (*CachedEventRepository)(nil)

func NewCachedEventRepository(base ports.EventRepository, size int, ttl time.Duration) *CachedEventRepository {
	if size <= 0 {
		size = 1024
	}
	return &CachedEventRepository{
		base:     base,
		events:   expirable.NewLRU[domain.EventID, *domain.Event](size, nil, ttl),
		negative: expirable.NewLRU[domain.EventID, bool](size, nil, ttl),
	}
}

// LookupEvent serves from the cache when possible. The slug is checked
// against the cached record.
func (r *CachedEventRepository) LookupEvent(ctx context.Context, id domain.EventID, slug string) (*domain.Event, error) {
	if _, missing := r.negative.Get(id); missing {
		return nil, domain.ErrEventNotFound
	}

	event, ok := r.events.Get(id)
	if !ok {
		var err error
		event, err = r.base.LookupEvent(ctx, id, "")
		if err != nil {
			if errors.Is(err, domain.ErrEventNotFound) {
				r.negative.Add(id, true)
			}
			return nil, err
		}
		r.events.Add(id, event)
	}

	if slug != "" && event.Slug != slug {
		return nil, domain.ErrEventNotFound
	}
	return event, nil
}

// Invalidate drops id from the cache.
func (r *CachedEventRepository) Invalidate(id domain.EventID) {
	r.events.Remove(id)
	r.negative.Remove(id)
}
