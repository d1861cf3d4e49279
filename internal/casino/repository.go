package casino

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"wallet_ledger/internal/wallet"
)

var (
	ErrBetNotFound   = fmt.Errorf("bet %w", wallet.ErrNotFound)
	ErrBetSettled    = fmt.Errorf("%w: bet already settled", wallet.ErrInvalidInput)
	ErrRoundNotFound = fmt.Errorf("mines round %w", wallet.ErrNotFound)
)

type BetRepository interface {
	CreateBet(ctx context.Context, tx *gorm.DB, bet *wallet.CasinoBet) error
	GetBetForUpdate(ctx context.Context, tx *gorm.DB, betID string) (*wallet.CasinoBet, error)
	SettleBet(ctx context.Context, tx *gorm.DB, bet *wallet.CasinoBet) error
	ListBets(ctx context.Context, userID string) ([]wallet.CasinoBet, error)
	ListOpenBets(ctx context.Context, game string, placedBefore time.Time) ([]wallet.CasinoBet, error)
}

type BetRepositoryImpl struct {
	db *gorm.DB
}

func NewBetRepository(db *gorm.DB) *BetRepositoryImpl {
	return &BetRepositoryImpl{db: db}
}

func (r *BetRepositoryImpl) CreateBet(ctx context.Context, tx *gorm.DB, bet *wallet.CasinoBet) error {
	if err := tx.WithContext(ctx).Create(bet).Error; err != nil {
		return fmt.Errorf("failed to create bet: %w", err)
	}
	return nil
}

func (r *BetRepositoryImpl) GetBetForUpdate(ctx context.Context, tx *gorm.DB, betID string) (*wallet.CasinoBet, error) {
	var bet wallet.CasinoBet
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("bet_id = ?", betID).
		First(&bet).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBetNotFound
		}
		return nil, fmt.Errorf("failed to get bet: %w", err)
	}
	return &bet, nil
}

// SettleBet writes the final outcome of bet. Only an open bet can be settled.
func (r *BetRepositoryImpl) SettleBet(ctx context.Context, tx *gorm.DB, bet *wallet.CasinoBet) error {
	result := tx.WithContext(ctx).Model(&wallet.CasinoBet{}).
		Where("bet_id = ? AND status = ?", bet.BetID, wallet.BetOpen).
		Updates(map[string]interface{}{
			"winnings":   bet.Winnings,
			"multiplier": bet.Multiplier,
			"status":     bet.Status,
			"settled_at": bet.SettledAt,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to settle bet: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrBetSettled
	}
	return nil
}

func (r *BetRepositoryImpl) ListBets(ctx context.Context, userID string) ([]wallet.CasinoBet, error) {
	var bets []wallet.CasinoBet
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Find(&bets).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list bets: %w", err)
	}
	return bets, nil
}

// ListOpenBets returns the unsettled bets of game placed before placedBefore.
func (r *BetRepositoryImpl) ListOpenBets(ctx context.Context, game string, placedBefore time.Time) ([]wallet.CasinoBet, error) {
	var bets []wallet.CasinoBet
	err := r.db.WithContext(ctx).
		Where("game_name = ? AND status = ? AND created_at < ?", game, wallet.BetOpen, placedBefore).
		Order("created_at").
		Find(&bets).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list open bets: %w", err)
	}
	return bets, nil
}
