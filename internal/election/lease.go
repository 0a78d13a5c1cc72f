package election

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

// LeaseLocker emulates an advisory lock with a row in leader_leases. The row
// is taken over only when its lease has expired, so a crashed holder is
// replaced after at most one TTL.
type LeaseLocker struct {
	db    *sql.DB
	sb    sq.StatementBuilderType
	name  string
	owner string
	ttl   time.Duration
	now   func() time.Time

	mu   sync.Mutex
	held bool
}

var _ Locker = (*LeaseLocker)(nil)

func NewLeaseLocker(db *sql.DB, name string, ttl time.Duration) *LeaseLocker {
	if ttl <= 0 {
		ttl = 3 * time.Second
	}
	return &LeaseLocker{
		db:    db,
		sb:    sq.StatementBuilder.PlaceholderFormat(sq.Question),
		name:  name,
		owner: uuid.NewString(),
		ttl:   ttl,
		now:   time.Now,
	}
}

func (l *LeaseLocker) Owner() string { return l.owner }

func (l *LeaseLocker) TryAcquire(ctx context.Context) (bool, error) {
	return l.claim(ctx)
}

// Held renews the lease. It fails if another owner took the row.
func (l *LeaseLocker) Held(ctx context.Context) (bool, error) {
	return l.claim(ctx)
}

// claim inserts the lease row or takes it over when it is ours or expired.
func (l *LeaseLocker) claim(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now().UnixMilli()
	sqlStr, args, err := l.sb.
		Insert("leader_leases").
		Columns("name", "owner", "expires_at").
		Values(l.name, l.owner, now+l.ttl.Milliseconds()).
		Suffix(`ON CONFLICT(name) DO UPDATE
			SET owner = excluded.owner, expires_at = excluded.expires_at
			WHERE leader_leases.owner = excluded.owner OR leader_leases.expires_at < ?`, now).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build lease claim: %w", err)
	}

	res, err := l.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		l.held = false
		return false, fmt.Errorf("claim lease: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		l.held = false
		return false, fmt.Errorf("claim lease rows: %w", err)
	}

	l.held = n > 0
	return l.held, nil
}

func (l *LeaseLocker) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.held {
		return nil
	}
	l.held = false

	sqlStr, args, err := l.sb.
		Delete("leader_leases").
		Where(sq.Eq{"name": l.name, "owner": l.owner}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build lease release: %w", err)
	}
	if _, err := l.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}
