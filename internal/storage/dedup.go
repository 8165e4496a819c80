package storage

import (
	"context"
	"time"
)

// ClaimDedup records key until the given instant unless an unexpired record
// already exists. It reports whether the caller won the claim.
func (s *Store) ClaimDedup(ctx context.Context, key string, until, now time.Time) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrDisabled
	}
	res, err := s.exec(ctx,
		`INSERT INTO dedup(key, until) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET until=excluded.until WHERE dedup.until < ?`,
		key, toMillis(until), toMillis(now),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 50*time.Millisecond)
		_ = s.pruneExpired(pctx, now)
		cancel()
	}
	return n > 0, nil
}

func (s *Store) pruneExpired(ctx context.Context, now time.Time) error {
	_, err := s.exec(ctx, `DELETE FROM dedup WHERE until < ?`, toMillis(now))
	return err
}
