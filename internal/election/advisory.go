package election

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AdvisoryLocker holds a session-level pg_advisory_lock on a dedicated
// pooled connection. If that connection dies, Postgres drops the lock.
type AdvisoryLocker struct {
	pool *pgxpool.Pool
	key  int64

	mu   sync.Mutex
	conn *pgxpool.Conn
}

var _ Locker = (*AdvisoryLocker)(nil)

func NewAdvisoryLocker(pool *pgxpool.Pool, key int64) *AdvisoryLocker {
	return &AdvisoryLocker{pool: pool, key: key}
}

func (l *AdvisoryLocker) TryAcquire(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn != nil {
		return true, nil
	}

	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire conn: %w", err)
	}

	var ok bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, l.key).Scan(&ok); err != nil {
		conn.Release()
		return false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !ok {
		conn.Release()
		return false, nil
	}

	l.conn = conn
	return true, nil
}

// Held pings the lock connection. A dead connection means the lock is gone.
func (l *AdvisoryLocker) Held(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn == nil {
		return false, nil
	}
	if err := l.conn.Ping(ctx); err != nil {
		l.dropConn()
		return false, fmt.Errorf("lock connection lost: %w", err)
	}
	return true, nil
}

func (l *AdvisoryLocker) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn == nil {
		return nil
	}

	var ok bool
	err := l.conn.QueryRow(ctx, `SELECT pg_advisory_unlock($1)`, l.key).Scan(&ok)
	if err != nil {
		// closing the session releases the lock anyway
		l.dropConn()
		return fmt.Errorf("advisory unlock: %w", err)
	}
	l.conn.Release()
	l.conn = nil
	return nil
}

// dropConn closes the underlying session instead of returning it to the pool.
func (l *AdvisoryLocker) dropConn() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = l.conn.Conn().Close(ctx)
	l.conn.Release()
	l.conn = nil
}
