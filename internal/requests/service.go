package requests

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"wallet_ledger/internal/logger"
	"wallet_ledger/internal/otp"
	"wallet_ledger/internal/wallet"
)

// CodeVerifier checks an authorization code inside the caller's transaction
// and consumes it when valid.
type CodeVerifier interface {
	Verify(ctx context.Context, tx *gorm.DB, userID, code string) (otp.Result, error)
}

// expiredCodeDiscarder is implemented by verifiers that can drop a user's
// expired codes outside any request transaction.
type expiredCodeDiscarder interface {
	DiscardExpired(ctx context.Context, userID string) error
}

// ErrCodeExpired is returned when the presented code has lapsed.
var ErrCodeExpired = fmt.Errorf("%w: code is expired", wallet.ErrInvalidAuthorization)

type Service struct {
	wallet *wallet.Service
	repo   RequestRepository
	codes  CodeVerifier
}

func NewService(w *wallet.Service, repo RequestRepository, codes CodeVerifier) *Service {
	return &Service{wallet: w, repo: repo, codes: codes}
}

// CreateDeposit records a pending deposit. The balance is untouched until an
// administrator approves it.
func (s *Service) CreateDeposit(ctx context.Context, userID, code string, amount decimal.Decimal) (*wallet.DepositRequest, error) {
	if err := wallet.CheckAmount(amount, "deposit amount"); err != nil {
		return nil, err
	}

	var req *wallet.DepositRequest
	err := s.wallet.WithLockedAccount(ctx, userID, func(sc *wallet.Scope) error {
		if err := s.verifyCode(sc, userID, code); err != nil {
			return err
		}
		now := time.Now()
		req = &wallet.DepositRequest{
			RequestID: uuid.New().String(),
			AccountID: sc.Account.AccountID,
			UserID:    userID,
			Amount:    amount,
			Status:    wallet.StatusPending,
			AuthCode:  code,
			CreatedAt: now,
			UpdatedAt: now,
		}
		return s.repo.CreateDeposit(sc.Context(), sc.Tx, req)
	})
	if err != nil {
		s.discardExpiredCode(ctx, userID, err)
		return nil, err
	}

	s.wallet.Metrics().Transition("deposit", string(wallet.StatusPending))
	logger.Info(ctx).Str("request_id", req.RequestID).Str("user_id", userID).Str("amount", amount.StringFixed(2)).Msg("deposit requested")
	return req, nil
}

// ApproveDeposit credits the request amount once. Approving an approved
// request returns it unchanged.
func (s *Service) ApproveDeposit(ctx context.Context, requestID string) (*wallet.DepositRequest, error) {
	return s.transitionDeposit(ctx, requestID, wallet.StatusApproved, func(sc *wallet.Scope, req *wallet.DepositRequest) error {
		if err := sc.Credit(req.Amount); err != nil {
			return err
		}
		_, err := sc.Derive(depositOrigin(req.RequestID), wallet.KindDeposit, req.Amount)
		return err
	})
}

// RejectDeposit closes a pending deposit without touching the balance.
func (s *Service) RejectDeposit(ctx context.Context, requestID string) (*wallet.DepositRequest, error) {
	return s.transitionDeposit(ctx, requestID, wallet.StatusRejected, nil)
}

func (s *Service) transitionDeposit(
	ctx context.Context,
	requestID string,
	target wallet.RequestStatus,
	effect func(*wallet.Scope, *wallet.DepositRequest) error,
) (*wallet.DepositRequest, error) {
	req, err := s.repo.GetDeposit(ctx, requestID)
	if err != nil {
		return nil, err
	}

	changed := false
	err = s.wallet.WithLockedAccount(ctx, req.UserID, func(sc *wallet.Scope) error {
		locked, err := s.repo.GetDepositForUpdate(sc.Context(), sc.Tx, requestID)
		if err != nil {
			return err
		}
		req = locked
		if req.Status == target {
			return nil
		}
		if req.Status != wallet.StatusPending {
			return fmt.Errorf("%w: deposit %s is %s", ErrRequestFinalized, requestID, req.Status)
		}
		if err := s.repo.UpdateDepositStatus(sc.Context(), sc.Tx, requestID, target); err != nil {
			return err
		}
		if effect != nil {
			if err := effect(sc, req); err != nil {
				return err
			}
		}
		req.Status = target
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.wallet.Metrics().Transition("deposit", string(target))
		logger.Info(ctx).Str("request_id", requestID).Str("status", string(target)).Msg("deposit request updated")
	}
	return req, nil
}

// CreateWithdrawal escrows amount by debiting it now. If funds are short
// nothing is written and the code stays usable.
func (s *Service) CreateWithdrawal(ctx context.Context, userID, code string, amount decimal.Decimal) (*wallet.WithdrawalRequest, error) {
	if err := wallet.CheckAmount(amount, "withdrawal amount"); err != nil {
		return nil, err
	}

	var req *wallet.WithdrawalRequest
	err := s.wallet.WithLockedAccount(ctx, userID, func(sc *wallet.Scope) error {
		if err := s.verifyCode(sc, userID, code); err != nil {
			return err
		}
		if err := sc.Debit(amount); err != nil {
			return err
		}
		now := time.Now()
		req = &wallet.WithdrawalRequest{
			RequestID: uuid.New().String(),
			AccountID: sc.Account.AccountID,
			UserID:    userID,
			Amount:    amount,
			Status:    wallet.StatusPending,
			AuthCode:  code,
			CreatedAt: now,
			UpdatedAt: now,
		}
		return s.repo.CreateWithdrawal(sc.Context(), sc.Tx, req)
	})
	if err != nil {
		s.discardExpiredCode(ctx, userID, err)
		return nil, err
	}

	s.wallet.Metrics().Transition("withdrawal", string(wallet.StatusPending))
	logger.Info(ctx).Str("request_id", req.RequestID).Str("user_id", userID).Str("amount", amount.StringFixed(2)).Msg("withdrawal requested")
	return req, nil
}

// ApproveWithdrawal records the escrowed amount as withdrawn. The balance was
// already debited at creation.
func (s *Service) ApproveWithdrawal(ctx context.Context, requestID string) (*wallet.WithdrawalRequest, error) {
	return s.transitionWithdrawal(ctx, requestID, wallet.StatusApproved, func(sc *wallet.Scope, req *wallet.WithdrawalRequest) error {
		_, err := sc.Derive(withdrawalOrigin(req.RequestID), wallet.KindWithdraw, req.Amount)
		return err
	})
}

// RejectWithdrawal returns the escrowed amount to the account.
func (s *Service) RejectWithdrawal(ctx context.Context, requestID string) (*wallet.WithdrawalRequest, error) {
	return s.transitionWithdrawal(ctx, requestID, wallet.StatusRejected, func(sc *wallet.Scope, req *wallet.WithdrawalRequest) error {
		if err := sc.Credit(req.Amount); err != nil {
			return err
		}
		_, err := sc.Derive(withdrawalOrigin(req.RequestID), wallet.KindWithdrawReversal, req.Amount)
		return err
	})
}

func (s *Service) transitionWithdrawal(
	ctx context.Context,
	requestID string,
	target wallet.RequestStatus,
	effect func(*wallet.Scope, *wallet.WithdrawalRequest) error,
) (*wallet.WithdrawalRequest, error) {
	req, err := s.repo.GetWithdrawal(ctx, requestID)
	if err != nil {
		return nil, err
	}

	changed := false
	err = s.wallet.WithLockedAccount(ctx, req.UserID, func(sc *wallet.Scope) error {
		locked, err := s.repo.GetWithdrawalForUpdate(sc.Context(), sc.Tx, requestID)
		if err != nil {
			return err
		}
		req = locked
		if req.Status == target {
			return nil
		}
		if req.Status != wallet.StatusPending {
			return fmt.Errorf("%w: withdrawal %s is %s", ErrRequestFinalized, requestID, req.Status)
		}
		if err := s.repo.UpdateWithdrawalStatus(sc.Context(), sc.Tx, requestID, target); err != nil {
			return err
		}
		if err := effect(sc, req); err != nil {
			return err
		}
		req.Status = target
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.wallet.Metrics().Transition("withdrawal", string(target))
		logger.Info(ctx).Str("request_id", requestID).Str("status", string(target)).Msg("withdrawal request updated")
	}
	return req, nil
}

func (s *Service) ListDeposits(ctx context.Context, userID string) ([]wallet.DepositRequest, error) {
	return s.repo.ListDeposits(ctx, userID)
}

func (s *Service) ListWithdrawals(ctx context.Context, userID string) ([]wallet.WithdrawalRequest, error) {
	return s.repo.ListWithdrawals(ctx, userID)
}

// Exposure is the sum of the user's pending withdrawals.
func (s *Service) Exposure(ctx context.Context, userID string) (decimal.Decimal, error) {
	return s.repo.PendingWithdrawalTotal(ctx, userID)
}

func (s *Service) verifyCode(sc *wallet.Scope, userID, code string) error {
	if code == "" {
		return fmt.Errorf("%w: missing code", wallet.ErrInvalidAuthorization)
	}
	res, err := s.codes.Verify(sc.Context(), sc.Tx, userID, code)
	if err != nil {
		return err
	}
	switch res {
	case otp.Valid:
		return nil
	case otp.Expired:
		return ErrCodeExpired
	default:
		return fmt.Errorf("%w: code is %s", wallet.ErrInvalidAuthorization, res)
	}
}

// discardExpiredCode runs after the request scope rolled back, so the expired
// code is removed even though the verifying transaction was not committed.
func (s *Service) discardExpiredCode(ctx context.Context, userID string, err error) {
	if !errors.Is(err, ErrCodeExpired) {
		return
	}
	d, ok := s.codes.(expiredCodeDiscarder)
	if !ok {
		return
	}
	if derr := d.DiscardExpired(context.WithoutCancel(ctx), userID); derr != nil {
		logger.Warn(ctx).Err(derr).Str("user_id", userID).Msg("failed to discard expired code")
	}
}

func depositOrigin(id string) wallet.Origin {
	return wallet.Origin{Type: wallet.OriginDepositRequest, ID: id}
}

func withdrawalOrigin(id string) wallet.Origin {
	return wallet.Origin{Type: wallet.OriginWithdrawalRequest, ID: id}
}
