package wallet

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type TransactionKind string

const (
	KindDeposit          TransactionKind = "deposit"
	KindWithdraw         TransactionKind = "withdraw"
	KindWithdrawReversal TransactionKind = "withdraw_reversal"
	KindBetPlaced        TransactionKind = "bet_placed"
	KindBetWon           TransactionKind = "bet_won"
)

type RequestStatus string

const (
	StatusPending  RequestStatus = "pending"
	StatusApproved RequestStatus = "approved"
	StatusRejected RequestStatus = "rejected"
)

type BetStatus string

const (
	BetOpen BetStatus = "open"
	BetWon  BetStatus = "won"
	BetLost BetStatus = "lost"
)

// OriginType names the entity a ledger row was derived from.
type OriginType string

const (
	OriginDepositRequest    OriginType = "deposit_request"
	OriginWithdrawalRequest OriginType = "withdrawal_request"
	OriginCasinoBet         OriginType = "casino_bet"
)

// Origin is the non-owning back-reference used to keep derivation idempotent.
type Origin struct {
	Type OriginType
	ID   string
}

type Account struct {
	AccountID string          `gorm:"column:account_id;primaryKey;type:varchar(36)"`
	UserID    string          `gorm:"column:user_id;type:varchar(64);not null;uniqueIndex"`
	Balance   decimal.Decimal `gorm:"column:balance;type:numeric(12,2);not null;default:0"`
	Version   int             `gorm:"column:version;not null;default:1"`
	CreatedAt time.Time       `gorm:"column:created_at;not null"`
	UpdatedAt time.Time       `gorm:"column:updated_at;not null"`
}

type DepositRequest struct {
	RequestID string          `gorm:"column:request_id;primaryKey;type:varchar(36)" json:"id"`
	AccountID string          `gorm:"column:account_id;type:varchar(36);not null;index" json:"-"`
	UserID    string          `gorm:"column:user_id;type:varchar(64);not null;index" json:"-"`
	Amount    decimal.Decimal `gorm:"column:amount;type:numeric(12,2);not null" json:"amount"`
	Status    RequestStatus   `gorm:"column:status;type:varchar(10);not null;default:'pending'" json:"status"`
	AuthCode  string          `gorm:"column:auth_code;type:varchar(10);not null" json:"transaction_id"`
	CreatedAt time.Time       `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt time.Time       `gorm:"column:updated_at;not null" json:"-"`
}

// WithdrawalRequest has the same shape as DepositRequest; its amount is
// debited from the account when the request is created.
type WithdrawalRequest struct {
	RequestID string          `gorm:"column:request_id;primaryKey;type:varchar(36)" json:"id"`
	AccountID string          `gorm:"column:account_id;type:varchar(36);not null;index" json:"-"`
	UserID    string          `gorm:"column:user_id;type:varchar(64);not null;index" json:"-"`
	Amount    decimal.Decimal `gorm:"column:amount;type:numeric(12,2);not null" json:"amount"`
	Status    RequestStatus   `gorm:"column:status;type:varchar(10);not null;default:'pending'" json:"status"`
	AuthCode  string          `gorm:"column:auth_code;type:varchar(10);not null" json:"transaction_id"`
	CreatedAt time.Time       `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt time.Time       `gorm:"column:updated_at;not null" json:"-"`
}

type Transaction struct {
	TransactionID string          `gorm:"column:transaction_id;primaryKey;type:varchar(36)" json:"id"`
	AccountID     string          `gorm:"column:account_id;type:varchar(36);not null;index" json:"-"`
	UserID        string          `gorm:"column:user_id;type:varchar(64);not null;index" json:"-"`
	Kind          TransactionKind `gorm:"column:kind;type:varchar(20);not null;uniqueIndex:idx_transactions_origin_kind" json:"transaction_type"`
	Amount        decimal.Decimal `gorm:"column:amount;type:numeric(12,2);not null" json:"amount"`
	BalanceAfter  decimal.Decimal `gorm:"column:balance_after;type:numeric(12,2);not null" json:"balance_after"`
	OriginType    OriginType      `gorm:"column:origin_type;type:varchar(20);not null;uniqueIndex:idx_transactions_origin_kind" json:"origin_type"`
	OriginID      string          `gorm:"column:origin_id;type:varchar(36);not null;uniqueIndex:idx_transactions_origin_kind" json:"origin_id"`
	CreatedAt     time.Time       `gorm:"column:created_at;not null;index" json:"timestamp"`
}

type CasinoBet struct {
	BetID      string          `gorm:"column:bet_id;primaryKey;type:varchar(36)" json:"id"`
	AccountID  string          `gorm:"column:account_id;type:varchar(36);not null;index" json:"-"`
	UserID     string          `gorm:"column:user_id;type:varchar(64);not null;index" json:"-"`
	GameName   string          `gorm:"column:game_name;type:varchar(50);not null" json:"game_name"`
	BetAmount  decimal.Decimal `gorm:"column:bet_amount;type:numeric(12,2);not null" json:"bet_amount"`
	Winnings   decimal.Decimal `gorm:"column:winnings;type:numeric(12,2);not null;default:0" json:"winnings"`
	Multiplier decimal.Decimal `gorm:"column:multiplier;type:numeric(12,2);not null;default:0" json:"multiplier"`
	Status     BetStatus       `gorm:"column:status;type:varchar(10);not null;default:'open'" json:"status"`
	CreatedAt  time.Time       `gorm:"column:created_at;not null;index" json:"timestamp"`
	SettledAt  *time.Time      `gorm:"column:settled_at" json:"settled_at,omitempty"`
}

// Models lists every entity for AutoMigrate.
func Models() []interface{} {
	return []interface{}{
		&Account{}, &DepositRequest{}, &WithdrawalRequest{}, &Transaction{}, &CasinoBet{},
	}
}

// Multiplier is winnings/bet rounded to cents, zero for a zero bet.
func Multiplier(bet, winnings decimal.Decimal) decimal.Decimal {
	if !bet.IsPositive() {
		return decimal.Zero
	}
	return winnings.DivRound(bet, 2)
}

// MoneyScale is the number of decimal places every stored amount keeps.
const MoneyScale = 2

// CheckAmount rejects amounts that are not positive or that carry more
// precision than the money columns store.
func CheckAmount(amount decimal.Decimal, what string) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: %s must be positive", ErrInvalidInput, what)
	}
	if !amount.Equal(amount.Truncate(MoneyScale)) {
		return fmt.Errorf("%w: %s must not have more than %d decimal places", ErrInvalidInput, what, MoneyScale)
	}
	return nil
}
