package requests

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"wallet_ledger/internal/wallet"
)

var (
	ErrRequestNotFound  = fmt.Errorf("request %w", wallet.ErrNotFound)
	ErrRequestFinalized = fmt.Errorf("%w: request already finalized", wallet.ErrInvalidInput)
	errStatusChanged    = errors.New("request status changed concurrently")
)

type RequestRepository interface {
	CreateDeposit(ctx context.Context, tx *gorm.DB, r *wallet.DepositRequest) error
	GetDeposit(ctx context.Context, requestID string) (*wallet.DepositRequest, error)
	GetDepositForUpdate(ctx context.Context, tx *gorm.DB, requestID string) (*wallet.DepositRequest, error)
	UpdateDepositStatus(ctx context.Context, tx *gorm.DB, requestID string, status wallet.RequestStatus) error
	ListDeposits(ctx context.Context, userID string) ([]wallet.DepositRequest, error)

	CreateWithdrawal(ctx context.Context, tx *gorm.DB, r *wallet.WithdrawalRequest) error
	GetWithdrawal(ctx context.Context, requestID string) (*wallet.WithdrawalRequest, error)
	GetWithdrawalForUpdate(ctx context.Context, tx *gorm.DB, requestID string) (*wallet.WithdrawalRequest, error)
	UpdateWithdrawalStatus(ctx context.Context, tx *gorm.DB, requestID string, status wallet.RequestStatus) error
	ListWithdrawals(ctx context.Context, userID string) ([]wallet.WithdrawalRequest, error)
	PendingWithdrawalTotal(ctx context.Context, userID string) (decimal.Decimal, error)
}

type RequestRepositoryImpl struct {
	db *gorm.DB
}

func NewRequestRepository(db *gorm.DB) *RequestRepositoryImpl {
	return &RequestRepositoryImpl{db: db}
}

func (r *RequestRepositoryImpl) CreateDeposit(ctx context.Context, tx *gorm.DB, req *wallet.DepositRequest) error {
	if err := tx.WithContext(ctx).Create(req).Error; err != nil {
		return fmt.Errorf("failed to create deposit request: %w", err)
	}
	return nil
}

func (r *RequestRepositoryImpl) GetDeposit(ctx context.Context, requestID string) (*wallet.DepositRequest, error) {
	var req wallet.DepositRequest
	if err := first(r.db.WithContext(ctx), &req, requestID); err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *RequestRepositoryImpl) GetDepositForUpdate(ctx context.Context, tx *gorm.DB, requestID string) (*wallet.DepositRequest, error) {
	var req wallet.DepositRequest
	if err := first(tx.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), &req, requestID); err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *RequestRepositoryImpl) UpdateDepositStatus(ctx context.Context, tx *gorm.DB, requestID string, status wallet.RequestStatus) error {
	return updatePending(tx.WithContext(ctx).Model(&wallet.DepositRequest{}), requestID, status)
}

func (r *RequestRepositoryImpl) ListDeposits(ctx context.Context, userID string) ([]wallet.DepositRequest, error) {
	var out []wallet.DepositRequest
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list deposit requests: %w", err)
	}
	return out, nil
}

func (r *RequestRepositoryImpl) CreateWithdrawal(ctx context.Context, tx *gorm.DB, req *wallet.WithdrawalRequest) error {
	if err := tx.WithContext(ctx).Create(req).Error; err != nil {
		return fmt.Errorf("failed to create withdrawal request: %w", err)
	}
	return nil
}

func (r *RequestRepositoryImpl) GetWithdrawal(ctx context.Context, requestID string) (*wallet.WithdrawalRequest, error) {
	var req wallet.WithdrawalRequest
	if err := first(r.db.WithContext(ctx), &req, requestID); err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *RequestRepositoryImpl) GetWithdrawalForUpdate(ctx context.Context, tx *gorm.DB, requestID string) (*wallet.WithdrawalRequest, error) {
	var req wallet.WithdrawalRequest
	if err := first(tx.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), &req, requestID); err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *RequestRepositoryImpl) UpdateWithdrawalStatus(ctx context.Context, tx *gorm.DB, requestID string, status wallet.RequestStatus) error {
	return updatePending(tx.WithContext(ctx).Model(&wallet.WithdrawalRequest{}), requestID, status)
}

func (r *RequestRepositoryImpl) ListWithdrawals(ctx context.Context, userID string) ([]wallet.WithdrawalRequest, error) {
	var out []wallet.WithdrawalRequest
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list withdrawal requests: %w", err)
	}
	return out, nil
}

// PendingWithdrawalTotal is the amount held in escrow for userID.
func (r *RequestRepositoryImpl) PendingWithdrawalTotal(ctx context.Context, userID string) (decimal.Decimal, error) {
	var pending []wallet.WithdrawalRequest
	err := r.db.WithContext(ctx).
		Select("amount").
		Where("user_id = ? AND status = ?", userID, wallet.StatusPending).
		Find(&pending).Error
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum pending withdrawals: %w", err)
	}
	total := decimal.Zero
	for _, w := range pending {
		total = total.Add(w.Amount)
	}
	return total, nil
}

func first(q *gorm.DB, dest interface{}, requestID string) error {
	err := q.Where("request_id = ?", requestID).First(dest).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrRequestNotFound
		}
		return fmt.Errorf("failed to get request: %w", err)
	}
	return nil
}

// updatePending moves a pending request to status. It fails if the row is no
// longer pending.
func updatePending(q *gorm.DB, requestID string, status wallet.RequestStatus) error {
	result := q.
		Where("request_id = ? AND status = ?", requestID, wallet.StatusPending).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update request status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return errStatusChanged
	}
	return nil
}
