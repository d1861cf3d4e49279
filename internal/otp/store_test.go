package otp_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"wallet_ledger/internal/otp"
	"wallet_ledger/internal/wallet/wallettest"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func TestIssueProducesSixDigits(t *testing.T) {
	store := otp.NewStore(wallettest.OpenDB(t, &otp.AuthCode{}), time.Minute)

	ac, err := store.Issue(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, ac.Code, 6)
	for _, r := range ac.Code {
		require.True(t, r >= '0' && r <= '9')
	}
}

func TestVerifyConsumesCode(t *testing.T) {
	db := wallettest.OpenDB(t, &otp.AuthCode{})
	store := otp.NewStore(db, time.Minute)
	ctx := context.Background()

	ac, err := store.Issue(ctx, "user-1")
	require.NoError(t, err)

	res, err := store.Verify(ctx, db, "user-1", ac.Code)
	require.NoError(t, err)
	require.Equal(t, otp.Valid, res)

	res, err = store.Verify(ctx, db, "user-1", ac.Code)
	require.NoError(t, err)
	require.Equal(t, otp.Invalid, res)
}

func TestVerifyRejectsOtherUsersCode(t *testing.T) {
	db := wallettest.OpenDB(t, &otp.AuthCode{})
	store := otp.NewStore(db, time.Minute)
	ctx := context.Background()

	ac, err := store.Issue(ctx, "user-1")
	require.NoError(t, err)

	res, err := store.Verify(ctx, db, "user-2", ac.Code)
	require.NoError(t, err)
	require.Equal(t, otp.Invalid, res)
}

func TestVerifyRolledBackKeepsCode(t *testing.T) {
	db := wallettest.OpenDB(t, &otp.AuthCode{})
	store := otp.NewStore(db, time.Minute)
	ctx := context.Background()

	ac, err := store.Issue(ctx, "user-1")
	require.NoError(t, err)

	tx := db.Begin()
	res, err := store.Verify(ctx, tx, "user-1", ac.Code)
	require.NoError(t, err)
	require.Equal(t, otp.Valid, res)
	require.NoError(t, tx.Rollback().Error)

	res, err = store.Verify(ctx, db, "user-1", ac.Code)
	require.NoError(t, err)
	require.Equal(t, otp.Valid, res)
}

func TestIssueReplacesPreviousCode(t *testing.T) {
	db := wallettest.OpenDB(t, &otp.AuthCode{})
	store := otp.NewStore(db, time.Minute)
	ctx := context.Background()

	first, err := store.Issue(ctx, "user-1")
	require.NoError(t, err)
	second, err := store.Issue(ctx, "user-1")
	require.NoError(t, err)

	var count int64
	require.NoError(t, db.Model(&otp.AuthCode{}).Where("user_id = ?", "user-1").Count(&count).Error)
	require.Equal(t, int64(1), count)

	if first.Code != second.Code {
		res, err := store.Verify(ctx, db, "user-1", first.Code)
		require.NoError(t, err)
		require.Equal(t, otp.Invalid, res)
	}
}

func TestExpiredCodeRejectedAndPurged(t *testing.T) {
	db := wallettest.OpenDB(t, &otp.AuthCode{})
	c := &clock{t: time.Now()}
	store := otp.NewStore(db, time.Minute).WithClock(c.now)
	ctx := context.Background()

	ac, err := store.Issue(ctx, "user-1")
	require.NoError(t, err)

	c.t = c.t.Add(2 * time.Minute)
	res, err := store.Verify(ctx, db, "user-1", ac.Code)
	require.NoError(t, err)
	require.Equal(t, otp.Expired, res)

	n, err := store.PurgeExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestDiscardExpiredIsPerUser(t *testing.T) {
	db := wallettest.OpenDB(t, &otp.AuthCode{})
	c := &clock{t: time.Now()}
	store := otp.NewStore(db, time.Minute).WithClock(c.now)
	ctx := context.Background()

	stale, err := store.Issue(ctx, "user-1")
	require.NoError(t, err)
	live, err := store.Issue(ctx, "user-2")
	require.NoError(t, err)

	c.t = c.t.Add(2 * time.Minute)
	require.NoError(t, store.DiscardExpired(ctx, "user-1"))

	c.t = c.t.Add(-2 * time.Minute)
	res, err := store.Verify(ctx, db, "user-1", stale.Code)
	require.NoError(t, err)
	require.Equal(t, otp.Invalid, res)

	res, err = store.Verify(ctx, db, "user-2", live.Code)
	require.NoError(t, err)
	require.Equal(t, otp.Valid, res)
}
