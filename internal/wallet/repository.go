package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrInvalidInput         = errors.New("invalid input")
	ErrInvalidAuthorization = errors.New("invalid authorization code")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrNotFound             = errors.New("not found")
	ErrConcurrencyTimeout   = errors.New("timed out waiting for account lock")
	// ErrDuplicateDerivation never leaves this package; Scope.Derive absorbs it.
	ErrDuplicateDerivation = errors.New("transaction already derived")
	ErrOptimisticLock      = errors.New("optimistic lock error")

	ErrAccountNotFound = fmt.Errorf("account %w", ErrNotFound)
)

// postgres SQLSTATE lock_not_available, raised when lock_timeout expires
const pgLockNotAvailable = "55P03"

type WalletRepository interface {
	GetAccount(ctx context.Context, userID string) (*Account, error)
	CreateAccount(ctx context.Context, userID string) (*Account, error)
	LockAccount(ctx context.Context, tx *gorm.DB, userID string) (*Account, error)
	SaveBalance(ctx context.Context, tx *gorm.DB, account *Account) error
	FindTransaction(ctx context.Context, tx *gorm.DB, origin Origin, kind TransactionKind) (*Transaction, error)
	CreateTransaction(ctx context.Context, tx *gorm.DB, t *Transaction) error
	ListTransactions(ctx context.Context, userID string, kinds []TransactionKind) ([]Transaction, error)
}

type WalletRepositoryImpl struct {
	db *gorm.DB
}

func NewWalletRepositoryImpl(db *gorm.DB) WalletRepository {
	return &WalletRepositoryImpl{db: db}
}

func (r *WalletRepositoryImpl) GetAccount(ctx context.Context, userID string) (*Account, error) {
	var a Account
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&a).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &a, nil
}

// CreateAccount is idempotent per user: a concurrent insert for the same user
// is ignored and the stored row is returned.
func (r *WalletRepositoryImpl) CreateAccount(ctx context.Context, userID string) (*Account, error) {
	now := time.Now()
	a := Account{
		AccountID: uuid.New().String(),
		UserID:    userID,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(&a).Error
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	return r.GetAccount(ctx, userID)
}

func (r *WalletRepositoryImpl) LockAccount(ctx context.Context, tx *gorm.DB, userID string) (*Account, error) {
	var a Account
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		First(&a).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		if isLockTimeout(err) {
			return nil, ErrConcurrencyTimeout
		}
		return nil, fmt.Errorf("failed to lock account: %w", err)
	}
	return &a, nil
}

// SaveBalance writes account.Balance guarded by the version read under lock.
func (r *WalletRepositoryImpl) SaveBalance(ctx context.Context, tx *gorm.DB, a *Account) error {
	now := time.Now()
	result := tx.WithContext(ctx).Model(&Account{}).
		Where("account_id = ? AND version = ?", a.AccountID, a.Version).
		Updates(map[string]interface{}{
			"balance":    a.Balance,
			"version":    gorm.Expr("version + 1"),
			"updated_at": now,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update balance: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrOptimisticLock
	}
	a.Version++
	a.UpdatedAt = now
	return nil
}

func (r *WalletRepositoryImpl) FindTransaction(ctx context.Context, tx *gorm.DB, origin Origin, kind TransactionKind) (*Transaction, error) {
	var t Transaction
	err := tx.WithContext(ctx).
		Where("origin_type = ? AND origin_id = ? AND kind = ?", origin.Type, origin.ID, kind).
		First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find transaction: %w", err)
	}
	return &t, nil
}

// CreateTransaction inserts t unless a row for the same (origin, kind) exists,
// in which case it returns ErrDuplicateDerivation without aborting tx.
func (r *WalletRepositoryImpl) CreateTransaction(ctx context.Context, tx *gorm.DB, t *Transaction) error {
	result := tx.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(t)
	if result.Error != nil {
		return fmt.Errorf("failed to create transaction: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrDuplicateDerivation
	}
	return nil
}

func (r *WalletRepositoryImpl) ListTransactions(ctx context.Context, userID string, kinds []TransactionKind) ([]Transaction, error) {
	q := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if len(kinds) > 0 {
		q = q.Where("kind IN ?", kinds)
	}
	var out []Transaction
	if err := q.Order("created_at DESC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return out, nil
}

func isLockTimeout(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgLockNotAvailable
}
