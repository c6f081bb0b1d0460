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

// Store is the token store. It keeps one credential per (platform, user)
// as a single JSON value so a replace is one atomic SET and readers never
// observe a half-written credential.
type Store struct {
	client   *redis.Client
	platform string
	now      func() time.Time
}

// NewStore creates a token store for one platform
func NewStore(client *redis.Client, platform string) *Store {
	return &Store{
		client:   client,
		platform: platform,
		now:      time.Now,
	}
}

// Platform returns the platform this store holds credentials for
func (s *Store) Platform() string { return s.platform }

// Get returns the user's credential or domain.ErrCredentialNotFound
func (s *Store) Get(ctx context.Context, userID string) (*domain.Credential, error) {
	data, err := s.client.Get(ctx, CredentialKey(s.platform, userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrCredentialNotFound
		}
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}

	var cred domain.Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, fmt.Errorf("failed to unmarshal credential: %w", err)
	}
	return &cred, nil
}

// Save overwrites the user's credential
func (s *Store) Save(ctx context.Context, cred *domain.Credential) error {
	if cred.UserID == "" {
		return errors.New("credential has no user id")
	}
	cred.Platform = s.platform
	cred.UpdatedAt = s.now().UTC()

	data, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("failed to marshal credential: %w", err)
	}
	if err := s.client.Set(ctx, CredentialKey(s.platform, cred.UserID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}
	return nil
}

// Delete removes the user's credential. Deleting a missing one is not an error.
func (s *Store) Delete(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, CredentialKey(s.platform, userID)).Err(); err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	return nil
}

// MarkRevoked flags the credential so the next run asks for a reconnect.
// The read-modify-write is guarded with WATCH so a concurrent Save wins.
func (s *Store) MarkRevoked(ctx context.Context, userID string) error {
	key := CredentialKey(s.platform, userID)

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil
			}
			return err
		}
		var cred domain.Credential
		if err := json.Unmarshal(data, &cred); err != nil {
			return err
		}
		cred.Revoked = true
		cred.UpdatedAt = s.now().UTC()
		updated, err := json.Marshal(&cred)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)
			return nil
		})
		return err
	}, key)
	if err != nil && !errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("failed to revoke credential: %w", err)
	}
	return nil
}

// IsExpiringSoon reports whether cred must be refreshed before use
func (s *Store) IsExpiringSoon(cred *domain.Credential, skew time.Duration) bool {
	return cred.ExpiresWithin(skew, s.now())
}
