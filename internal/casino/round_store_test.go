package casino

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func sampleRound(expires time.Time) *MinesRound {
	return &MinesRound{
		RoundID:   uuid.NewString(),
		UserID:    "user-1",
		BetID:     uuid.NewString(),
		BetAmount: decimal.NewFromInt(10),
		MineCount: 2,
		Mines:     []int{4, 17},
		Revealed:  []int{1},
		ExpiresAt: expires,
	}
}

func TestMemoryRoundStoreExpiry(t *testing.T) {
	store := NewMemoryRoundStore()
	now := time.Now()
	store.now = func() time.Time { return now }
	ctx := context.Background()

	round := sampleRound(now.Add(time.Minute))
	require.NoError(t, store.Save(ctx, round))

	got, err := store.Get(ctx, round.RoundID)
	require.NoError(t, err)
	require.Equal(t, round.Mines, got.Mines)

	// callers get copies
	got.Revealed = append(got.Revealed, 9)
	again, err := store.Get(ctx, round.RoundID)
	require.NoError(t, err)
	require.Equal(t, []int{1}, again.Revealed)

	now = now.Add(2 * time.Minute)
	_, err = store.Get(ctx, round.RoundID)
	require.ErrorIs(t, err, ErrRoundNotFound)

	require.ErrorIs(t, store.Save(ctx, round), ErrRoundNotFound)
}

func TestMemoryRoundStoreDelete(t *testing.T) {
	store := NewMemoryRoundStore()
	ctx := context.Background()

	round := sampleRound(time.Now().Add(time.Minute))
	require.NoError(t, store.Save(ctx, round))
	require.NoError(t, store.Delete(ctx, round.RoundID))

	_, err := store.Get(ctx, round.RoundID)
	require.ErrorIs(t, err, ErrRoundNotFound)
}

func TestRedisRoundStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()
	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}

	store := NewRedisRoundStore(rdb)
	round := sampleRound(time.Now().Add(time.Minute))
	require.NoError(t, store.Save(ctx, round))

	got, err := store.Get(ctx, round.RoundID)
	require.NoError(t, err)
	require.Equal(t, round.Mines, got.Mines)
	require.True(t, got.BetAmount.Equal(round.BetAmount))

	ttl, err := rdb.TTL(ctx, roundKey(round.RoundID)).Result()
	require.NoError(t, err)
	require.True(t, ttl > 0 && ttl <= time.Minute)

	require.NoError(t, store.Delete(ctx, round.RoundID))
	_, err = store.Get(ctx, round.RoundID)
	require.ErrorIs(t, err, ErrRoundNotFound)
}
