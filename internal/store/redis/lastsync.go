package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// SetLastSync records when the user's last sync run finished
func (s *Store) SetLastSync(ctx context.Context, userID string, at time.Time) error {
	val := at.UTC().Format(time.RFC3339)
	if err := s.client.Set(ctx, LastSyncKey(s.platform, userID), val, 0).Err(); err != nil {
		return fmt.Errorf("failed to set last sync: %w", err)
	}
	return nil
}

// LastSync returns the last sync time; ok is false when the user never synced
func (s *Store) LastSync(ctx context.Context, userID string) (at time.Time, ok bool, err error) {
	val, err := s.client.Get(ctx, LastSyncKey(s.platform, userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("failed to get last sync: %w", err)
	}
	at, err = time.Parse(time.RFC3339, val)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("invalid last sync value %q: %w", val, err)
	}
	return at, true, nil
}

// ClearLastSync forgets the user's sync history (on disconnect)
func (s *Store) ClearLastSync(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, LastSyncKey(s.platform, userID)).Err(); err != nil {
		return fmt.Errorf("failed to clear last sync: %w", err)
	}
	return nil
}
