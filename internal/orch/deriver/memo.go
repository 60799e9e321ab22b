package deriver

import (
	"fmt"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/fleetforge/orchestrator/internal/domain/orch"
)

// MemoizedDeriver wraps DeriveItemStatus in a ristretto cache keyed by
// (itemID, event count), following the teacher's ristretto adapter.
// A log append needs no invalidation — it changes the event count,
// which is itself part of the cache key, so a stale entry is simply
// never looked up again rather than evicted.
type MemoizedDeriver struct {
	cache *ristretto.Cache[string, ItemStatus]
}

// NewMemoizedDeriver constructs a MemoizedDeriver sized for maxEntries
// distinct (item, event-count) derivations.
func NewMemoizedDeriver(maxEntries int64) (*MemoizedDeriver, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, ItemStatus]{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("deriver: new cache: %w", err)
	}
	return &MemoizedDeriver{cache: c}, nil
}

// DeriveItemStatus returns the cached status for this exact event
// count if present, otherwise computes it via DeriveItemStatus and
// caches the result keyed by (itemID, len(events)).
func (m *MemoizedDeriver) DeriveItemStatus(itemID string, events []orch.Event) ItemStatus {
	key := memoKey(itemID, len(events))
	if status, ok := m.cache.Get(key); ok {
		return status
	}
	status := DeriveItemStatus(events)
	m.cache.Set(key, status, 1)
	return status
}

// Invalidate drops the cached entry for itemID at exactly eventCount
// events, used when a log is truncated or rewritten out of band (e.g.
// item deletion); entries for other event counts are left in place.
func (m *MemoizedDeriver) Invalidate(itemID string, eventCount int) {
	m.cache.Del(memoKey(itemID, eventCount))
}

// Close releases the underlying cache's background goroutines.
func (m *MemoizedDeriver) Close() {
	m.cache.Close()
}

func memoKey(itemID string, n int) string {
	return fmt.Sprintf("%s@%d", itemID, n)
}
