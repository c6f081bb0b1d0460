package redis

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only if it still holds our token, so an
// expired holder cannot release a lock taken over by someone else.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// AcquireRefreshLock tries once to take the user's refresh lock for ttl.
// It returns the holder token when acquired.
func (s *Store) AcquireRefreshLock(ctx context.Context, userID string, ttl time.Duration) (string, bool, error) {
	token, err := randomToken()
	if err != nil {
		return "", false, err
	}
	ok, err := s.client.SetNX(ctx, RefreshLockKey(s.platform, userID), token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("failed to acquire refresh lock: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// ReleaseRefreshLock releases a lock previously acquired with token
func (s *Store) ReleaseRefreshLock(ctx context.Context, userID, token string) error {
	if err := releaseScript.Run(ctx, s.client, []string{RefreshLockKey(s.platform, userID)}, token).Err(); err != nil {
		return fmt.Errorf("failed to release refresh lock: %w", err)
	}
	return nil
}

func randomToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate lock token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
