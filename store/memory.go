package store

import (
	"context"
	"sync"

	"github.com/pnvasko/hit-counter/common"
	"go.uber.org/atomic"
)

// MemoryCounter keeps counters in process memory. It serves local runs of
// the handler; counts are lost on exit.
type MemoryCounter struct {
	*baseStore
	counters sync.Map // key -> *atomic.Int64
}

func NewMemoryCounter(opts ...StoreOption[*MemoryCounter]) (*MemoryCounter, error) {
	mc := &MemoryCounter{
		baseStore: newBaseStore("memory"),
	}
	for _, opt := range opts {
		if err := opt(mc); err != nil {
			return nil, err
		}
	}
	return mc, nil
}

func (mc *MemoryCounter) Incr(ctx context.Context, key string) error {
	if key == "" {
		return common.NewStoreError(key, common.ErrEmptyKey)
	}
	if err := ctx.Err(); err != nil {
		return common.NewStoreError(key, err)
	}
	mc.counter(key).Add(mc.increment)
	return nil
}

// Value returns the current count of key.
func (mc *MemoryCounter) Value(key string) int64 {
	v, ok := mc.counters.Load(key)
	if !ok {
		return 0
	}
	return v.(*atomic.Int64).Load()
}

func (mc *MemoryCounter) counter(key string) *atomic.Int64 {
	if v, ok := mc.counters.Load(key); ok {
		return v.(*atomic.Int64)
	}
	v, _ := mc.counters.LoadOrStore(key, atomic.NewInt64(0))
	return v.(*atomic.Int64)
}
