package cache

import (
	"context"
	"time"
)

// NoopKV is a KV backend that stores nothing. Used when no cache backend is
// configured so the rest of the pipeline can stay cache-agnostic: every read
// misses, every write succeeds.
type NoopKV struct{}

func (NoopKV) Get(context.Context, string) ([]byte, error) { return nil, ErrKeyNotFound }

func (NoopKV) SetWithTTL(context.Context, string, []byte, time.Duration) error { return nil }

func (NoopKV) Del(context.Context, string) error { return nil }
