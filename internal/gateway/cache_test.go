package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mapKV struct {
	mu   sync.Mutex
	data map[string]string
	fail bool
}

func (m *mapKV) Get(ctx context.Context, key string) *redis.StringCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return redis.NewStringResult("", errors.New("connection refused"))
	}
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *mapKV) Set(ctx context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return redis.NewStatusResult("", errors.New("connection refused"))
	}
	switch v := value.(type) {
	case []byte:
		m.data[key] = string(v)
	case string:
		m.data[key] = v
	}
	return redis.NewStatusResult("OK", nil)
}

type mockVerifier struct {
	mock.Mock
}

func (m *mockVerifier) VerifyTransaction(ctx context.Context, reference string) (*Verification, error) {
	args := m.Called(ctx, reference)
	if v := args.Get(0); v != nil {
		return v.(*Verification), args.Error(1)
	}
	return nil, args.Error(1)
}

func TestCachedVerifier_CachesOnlyVerified(t *testing.T) {
	ctx := context.Background()
	next := new(mockVerifier)
	kv := &mapKV{data: map[string]string{}}
	c := NewCachedVerifier(next, kv, time.Minute)

	ok := &Verification{Reference: "ref_ok", Verified: true, Amount: decimal.NewFromInt(10), Currency: "NGN"}
	bad := &Verification{Reference: "ref_bad", Verified: false}
	next.On("VerifyTransaction", ctx, "ref_ok").Return(ok, nil).Once()
	next.On("VerifyTransaction", ctx, "ref_bad").Return(bad, nil).Twice()

	for i := 0; i < 2; i++ {
		v, err := c.VerifyTransaction(ctx, "ref_ok")
		require.NoError(t, err)
		assert.True(t, v.Verified)
		assert.True(t, v.Amount.Equal(decimal.NewFromInt(10)))

		v, err = c.VerifyTransaction(ctx, "ref_bad")
		require.NoError(t, err)
		assert.False(t, v.Verified)
	}

	next.AssertExpectations(t)
}

func TestCachedVerifier_RedisFailureFallsThrough(t *testing.T) {
	ctx := context.Background()
	next := new(mockVerifier)
	c := NewCachedVerifier(next, &mapKV{data: map[string]string{}, fail: true}, time.Minute)
	next.On("VerifyTransaction", ctx, "ref").Return(&Verification{Verified: true}, nil).Twice()

	for i := 0; i < 2; i++ {
		v, err := c.VerifyTransaction(ctx, "ref")
		require.NoError(t, err)
		assert.True(t, v.Verified)
	}
	next.AssertExpectations(t)
}
