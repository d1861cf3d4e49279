package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"wallet_ledger/internal/logger"
	"wallet_ledger/internal/metrics"
)

const DefaultLockTimeout = 5 * time.Second

// EntryPublisher is notified of every ledger row after its scope committed.
type EntryPublisher interface {
	PublishEntry(ctx context.Context, t *Transaction) error
}

type Service struct {
	db          *gorm.DB
	repo        WalletRepository
	locks       *accountLocker
	lockTimeout time.Duration
	publisher   EntryPublisher
	metrics     *metrics.Collector
}

type Option func(*Service)

func WithLockTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

func WithPublisher(p EntryPublisher) Option {
	return func(s *Service) { s.publisher = p }
}

func WithMetrics(m *metrics.Collector) Option {
	return func(s *Service) { s.metrics = m }
}

func NewService(db *gorm.DB, repo WalletRepository, opts ...Option) *Service {
	s := &Service{
		db:          db,
		repo:        repo,
		locks:       newAccountLocker(),
		lockTimeout: DefaultLockTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Metrics returns the collector the service reports to; may be nil.
func (s *Service) Metrics() *metrics.Collector {
	return s.metrics
}

// GetAccount is a display read. Never base a debit decision on it.
func (s *Service) GetAccount(ctx context.Context, userID string) (*Account, error) {
	return s.repo.GetAccount(ctx, userID)
}

func (s *Service) GetOrCreateAccount(ctx context.Context, userID string) (*Account, error) {
	a, err := s.repo.GetAccount(ctx, userID)
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	a, err = s.repo.CreateAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	logger.Info(ctx).Str("user_id", userID).Str("account_id", a.AccountID).Msg("account created")
	return a, nil
}

// History lists the user's ledger, newest first, optionally restricted to kinds.
func (s *Service) History(ctx context.Context, userID string, kinds ...TransactionKind) ([]Transaction, error) {
	return s.repo.ListTransactions(ctx, userID, kinds)
}

// WithLockedAccount runs fn with the user's account locked. The balance change
// and every row fn writes through Scope.Tx commit together or not at all.
// Once the lock is held the scope ignores caller cancellation.
func (s *Service) WithLockedAccount(ctx context.Context, userID string, fn func(*Scope) error) error {
	lockCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()

	waitStart := time.Now()
	release, err := s.locks.Acquire(lockCtx, userID)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return ctx.Err()
		}
		s.metrics.LockTimeout()
		logger.Warn(ctx).Str("user_id", userID).Dur("waited", time.Since(waitStart)).Msg("account lock timeout")
		return ErrConcurrencyTimeout
	}
	defer release()
	s.metrics.LockWait(time.Since(waitStart))

	scope := &Scope{svc: s, ctx: context.WithoutCancel(ctx)}
	err = s.db.WithContext(scope.ctx).Transaction(func(tx *gorm.DB) error {
		if tx.Dialector.Name() == "postgres" {
			stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())
			if err := tx.Exec(stmt).Error; err != nil {
				return fmt.Errorf("failed to set lock timeout: %w", err)
			}
		}

		account, err := s.repo.LockAccount(scope.ctx, tx, userID)
		if err != nil {
			return err
		}
		scope.Tx = tx
		scope.Account = account
		opening := account.Balance

		if err := fn(scope); err != nil {
			return err
		}
		if account.Balance.IsNegative() {
			return fmt.Errorf("%w: balance would become %s", ErrInsufficientFunds, account.Balance.StringFixed(2))
		}
		if account.Balance.Equal(opening) {
			return nil
		}
		return s.repo.SaveBalance(scope.ctx, tx, account)
	})
	if err != nil {
		s.metrics.Rollback(rollbackReason(err))
		return err
	}

	for _, t := range scope.derived {
		s.metrics.LedgerEntry(string(t.Kind))
		if s.publisher == nil {
			continue
		}
		if pubErr := s.publisher.PublishEntry(scope.ctx, t); pubErr != nil {
			logger.Error(ctx).Err(pubErr).Str("transaction_id", t.TransactionID).Msg("failed to publish ledger entry")
		}
	}
	return nil
}

func rollbackReason(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrInvalidAuthorization):
		return "rejected_input"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConcurrencyTimeout):
		return "lock_timeout"
	default:
		return "error"
	}
}

// Scope is the mutable view of one locked account.
type Scope struct {
	Tx      *gorm.DB
	Account *Account

	svc     *Service
	ctx     context.Context
	derived []*Transaction
}

// Context is the scope's context; it is not cancelled by the caller.
func (sc *Scope) Context() context.Context {
	return sc.ctx
}

func (sc *Scope) Balance() decimal.Decimal {
	return sc.Account.Balance
}

func (sc *Scope) Credit(amount decimal.Decimal) error {
	if err := CheckAmount(amount, "credit amount"); err != nil {
		return err
	}
	sc.Account.Balance = sc.Account.Balance.Add(amount)
	return nil
}

// Debit fails without touching the balance if it would go negative.
func (sc *Scope) Debit(amount decimal.Decimal) error {
	if err := CheckAmount(amount, "debit amount"); err != nil {
		return err
	}
	if sc.Account.Balance.LessThan(amount) {
		return ErrInsufficientFunds
	}
	sc.Account.Balance = sc.Account.Balance.Sub(amount)
	return nil
}

// Derive records exactly one ledger row per (origin, kind). If the row already
// exists it is returned unchanged and nothing is written.
func (sc *Scope) Derive(origin Origin, kind TransactionKind, amount decimal.Decimal) (*Transaction, error) {
	if err := CheckAmount(amount, "ledger amount"); err != nil {
		return nil, err
	}
	repo := sc.svc.repo

	existing, err := repo.FindTransaction(sc.ctx, sc.Tx, origin, kind)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	t := &Transaction{
		TransactionID: uuid.New().String(),
		AccountID:     sc.Account.AccountID,
		UserID:        sc.Account.UserID,
		Kind:          kind,
		Amount:        amount,
		BalanceAfter:  sc.Account.Balance,
		OriginType:    origin.Type,
		OriginID:      origin.ID,
		CreatedAt:     time.Now(),
	}
	err = repo.CreateTransaction(sc.ctx, sc.Tx, t)
	if errors.Is(err, ErrDuplicateDerivation) {
		logger.Debug(sc.ctx).Str("origin_id", origin.ID).Str("kind", string(kind)).Msg("derivation already recorded")
		return repo.FindTransaction(sc.ctx, sc.Tx, origin, kind)
	}
	if err != nil {
		return nil, err
	}
	sc.derived = append(sc.derived, t)
	return t, nil
}
