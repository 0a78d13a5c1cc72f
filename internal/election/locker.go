// Package election elects a single leader among processes sharing one store.
package election

import (
	"context"
	"hash/fnv"
	"strconv"
	"strings"
)

// Locker is a non-blocking, store-native mutual exclusion token.
type Locker interface {
	// TryAcquire takes the lock if it is free. It never waits for a holder.
	TryAcquire(ctx context.Context) (bool, error)
	// Held confirms (and for leases, renews) a lock this process holds.
	Held(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// LockKey maps the configured lock value to a numeric key. Integers are
// used as-is, anything else is hashed with FNV-1a.
func LockKey(v string) int64 {
	v = strings.TrimSpace(v)
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return n
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(v))
	return int64(h.Sum64())
}
