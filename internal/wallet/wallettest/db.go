// Package wallettest provides an in-memory database and funding helpers for
// tests of packages built on the wallet.
package wallettest

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"wallet_ledger/internal/wallet"
)

// OpenDB opens a private in-memory sqlite database with the wallet schema and
// any extra models migrated. A single connection keeps writers serialized the
// way row locks would on postgres.
func OpenDB(t *testing.T, extra ...interface{}) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(append(wallet.Models(), extra...)...))
	return db
}

// NewService wires a wallet service over db.
func NewService(db *gorm.DB, opts ...wallet.Option) *wallet.Service {
	return wallet.NewService(db, wallet.NewWalletRepositoryImpl(db), opts...)
}

// NewFundedAccount creates an account for a fresh user id holding balance.
// The funding bypasses the ledger, like an opening balance would.
func NewFundedAccount(t *testing.T, svc *wallet.Service, balance int64) string {
	t.Helper()

	userID := uuid.NewString()
	_, err := svc.GetOrCreateAccount(context.Background(), userID)
	require.NoError(t, err)

	if balance > 0 {
		err = svc.WithLockedAccount(context.Background(), userID, func(sc *wallet.Scope) error {
			return sc.Credit(decimal.NewFromInt(balance))
		})
		require.NoError(t, err)
	}
	return userID
}

// Balance reads the committed balance of userID.
func Balance(t *testing.T, svc *wallet.Service, userID string) decimal.Decimal {
	t.Helper()

	a, err := svc.GetAccount(context.Background(), userID)
	require.NoError(t, err)
	return a.Balance
}

// RequireBalance compares decimals by value so 50 and 50.00 are equal.
func RequireBalance(t *testing.T, svc *wallet.Service, userID string, want int64) {
	t.Helper()

	got := Balance(t, svc, userID)
	require.Truef(t, got.Equal(decimal.NewFromInt(want)), "balance: want %d, got %s", want, got)
}
