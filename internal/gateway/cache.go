package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/solutionners/marketplace-backend/internal/logger"
)

const verifyCachePrefix = "gateway:verify:"

// kv подмножество redis-клиента, нужное кэшу.
type kv interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// CachedVerifier кэширует в redis только подтверждённые проверки.
// Неподтверждённый ответ всегда запрашивается у провайдера заново.
type CachedVerifier struct {
	next   Verifier
	client kv
	ttl    time.Duration
}

// NewCachedVerifier оборачивает next кэшем.
func NewCachedVerifier(next Verifier, client kv, ttl time.Duration) *CachedVerifier {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &CachedVerifier{next: next, client: client, ttl: ttl}
}

func (c *CachedVerifier) VerifyTransaction(ctx context.Context, reference string) (*Verification, error) {
	key := verifyCachePrefix + reference

	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var v Verification
		if jsonErr := json.Unmarshal(raw, &v); jsonErr == nil {
			return &v, nil
		}
	case !errors.Is(err, redis.Nil):
		logger.Get().WithError(err).WithField("reference", reference).Warn("gateway cache: read failed")
	}

	v, err := c.next.VerifyTransaction(ctx, reference)
	if err != nil || !v.Verified {
		return v, err
	}

	if payload, jsonErr := json.Marshal(v); jsonErr == nil {
		if setErr := c.client.Set(ctx, key, payload, c.ttl).Err(); setErr != nil {
			logger.Get().WithError(setErr).WithField("reference", reference).Warn("gateway cache: write failed")
		}
	}
	return v, nil
}
