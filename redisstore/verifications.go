package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/petlink-dev/petauth/verification"
)

const defaultRetention = time.Hour

// VerificationStore implements verification.Store on Redis. Requests are
// JSON values keyed by id; reset token digests get their own index key.
// Keys carry a TTL of code expiry plus a retention window, so an expired
// request is still found (and reported as expired) until retention runs
// out, after which it reads as not found.
type VerificationStore struct {
	redis     redis.UniversalClient
	prefix    string
	retention time.Duration
}

// NewVerificationStore creates a VerificationStore. prefix defaults to
// "pa", retention to one hour.
func NewVerificationStore(redisClient redis.UniversalClient, prefix string, retention time.Duration) *VerificationStore {
	if prefix == "" {
		prefix = defaultPrefix
	}
	if retention <= 0 {
		retention = defaultRetention
	}
	return &VerificationStore{redis: redisClient, prefix: prefix, retention: retention}
}

func (s *VerificationStore) requestKey(id string) string {
	return s.prefix + ":vreq:" + id
}

func (s *VerificationStore) resetTokenKey(tokenHash string) string {
	return s.prefix + ":vrt:" + tokenHash
}

// Save writes the request, replacing any prior version. A previously
// indexed reset token digest that req no longer carries is unindexed.
func (s *VerificationStore) Save(ctx context.Context, req *verification.Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode verification request: %w", err)
	}

	ttl := time.Until(req.ExpiresAt) + s.retention
	if ttl <= 0 {
		ttl = s.retention
	}

	prior, err := s.load(ctx, req.ID)
	if err != nil && !errors.Is(err, verification.ErrNotFound) {
		return err
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.requestKey(req.ID), data, ttl)
		if prior != nil && prior.ResetTokenHash != "" && prior.ResetTokenHash != req.ResetTokenHash {
			pipe.Del(ctx, s.resetTokenKey(prior.ResetTokenHash))
		}
		if req.ResetTokenHash != "" {
			pipe.Set(ctx, s.resetTokenKey(req.ResetTokenHash), req.ID, ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("verification store: %v", err)
	}
	return nil
}

// Get fetches a request by id.
func (s *VerificationStore) Get(ctx context.Context, id string) (*verification.Request, error) {
	return s.load(ctx, id)
}

// GetByResetToken resolves a reset token digest to its request.
func (s *VerificationStore) GetByResetToken(ctx context.Context, tokenHash string) (*verification.Request, error) {
	id, err := s.redis.Get(ctx, s.resetTokenKey(tokenHash)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, verification.ErrNotFound
		}
		return nil, fmt.Errorf("verification store: %v", err)
	}
	return s.load(ctx, id)
}

// Delete removes the request and its reset token index.
func (s *VerificationStore) Delete(ctx context.Context, id string) error {
	req, err := s.load(ctx, id)
	if err != nil {
		if errors.Is(err, verification.ErrNotFound) {
			return nil
		}
		return err
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.requestKey(id))
		if req.ResetTokenHash != "" {
			pipe.Del(ctx, s.resetTokenKey(req.ResetTokenHash))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("verification store: %v", err)
	}
	return nil
}

func (s *VerificationStore) load(ctx context.Context, id string) (*verification.Request, error) {
	data, err := s.redis.Get(ctx, s.requestKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, verification.ErrNotFound
		}
		return nil, fmt.Errorf("verification store: %v", err)
	}

	req := &verification.Request{}
	if err := json.Unmarshal(data, req); err != nil {
		return nil, fmt.Errorf("corrupt verification request %s: %v", id, err)
	}
	return req, nil
}
