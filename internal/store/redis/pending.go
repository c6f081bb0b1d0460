package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/bookmirror/internal/domain"
)

// ErrPendingNotFound means the authorization session is unknown, expired,
// or was already consumed.
var ErrPendingNotFound = errors.New("pending authorization not found")

// SavePending stores an in-flight authorization until ttl elapses
func (s *Store) SavePending(ctx context.Context, p *domain.PendingAuthorization, ttl time.Duration) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal pending authorization: %w", err)
	}
	if err := s.client.Set(ctx, PendingKey(p.SessionID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save pending authorization: %w", err)
	}
	return nil
}

// TakePending returns and deletes the session in one step, so a code
// verifier can be used at most once.
func (s *Store) TakePending(ctx context.Context, sessionID string) (*domain.PendingAuthorization, error) {
	data, err := s.client.GetDel(ctx, PendingKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrPendingNotFound
		}
		return nil, fmt.Errorf("failed to take pending authorization: %w", err)
	}

	var p domain.PendingAuthorization
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pending authorization: %w", err)
	}
	return &p, nil
}
