package marketdata

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
)

func TestMemoryCache_SetGet(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()

	_, ok := c.Get(ctx, "AAPL")
	assert.False(t, ok, "empty cache should miss")

	c.Set(ctx, "AAPL", 187.25, time.Minute)
	price, ok := c.Get(ctx, "AAPL")
	assert.True(t, ok)
	assert.Equal(t, 187.25, price)
}

func TestMemoryCache_Expiry(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()

	c.Set(ctx, "MSFT", 410.0, -time.Second) // already expired
	_, ok := c.Get(ctx, "MSFT")
	assert.False(t, ok, "expired entry should miss")
}

func TestRedisCache_SetGet(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewRedis(db)
	ctx := context.Background()

	mock.ExpectSet("quote:NVDA", "875.5", time.Minute).SetVal("OK")
	c.Set(ctx, "NVDA", 875.5, time.Minute)

	mock.ExpectGet("quote:NVDA").SetVal("875.5")
	price, ok := c.Get(ctx, "NVDA")
	assert.True(t, ok)
	assert.Equal(t, 875.5, price)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisCache_MissAndBadPayload(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewRedis(db)
	ctx := context.Background()

	mock.ExpectGet("quote:TSLA").RedisNil()
	_, ok := c.Get(ctx, "TSLA")
	assert.False(t, ok)

	mock.ExpectGet("quote:TSLA").SetVal("not-a-number")
	_, ok = c.Get(ctx, "TSLA")
	assert.False(t, ok)
}
