// Package casino settles casino rounds against the wallet. Every game follows
// the same two steps: Place escrows the stake, Settle fixes the outcome.
package casino

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"wallet_ledger/internal/logger"
	"wallet_ledger/internal/wallet"
)

const DefaultRoundTTL = 30 * time.Minute

type Engine struct {
	wallet   *wallet.Service
	repo     BetRepository
	rng      RandomSource
	rounds   RoundStore
	roundTTL time.Duration
}

type Option func(*Engine)

func WithRandomSource(rng RandomSource) Option {
	return func(e *Engine) { e.rng = rng }
}

func WithRoundStore(store RoundStore) Option {
	return func(e *Engine) { e.rounds = store }
}

func WithRoundTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		if ttl > 0 {
			e.roundTTL = ttl
		}
	}
}

func NewEngine(w *wallet.Service, repo BetRepository, opts ...Option) *Engine {
	e := &Engine{
		wallet:   w,
		repo:     repo,
		rng:      CryptoSource{},
		roundTTL: DefaultRoundTTL,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.rounds == nil {
		e.rounds = NewMemoryRoundStore()
	}
	return e
}

// Place debits amount and opens a bet for game in one locked scope.
func (e *Engine) Place(ctx context.Context, userID, game string, amount decimal.Decimal) (*wallet.CasinoBet, error) {
	return e.place(ctx, userID, game, uuid.New().String(), amount)
}

func (e *Engine) place(ctx context.Context, userID, game, betID string, amount decimal.Decimal) (*wallet.CasinoBet, error) {
	if game == "" {
		return nil, fmt.Errorf("%w: game name is required", wallet.ErrInvalidInput)
	}
	if err := wallet.CheckAmount(amount, "bet amount"); err != nil {
		return nil, err
	}

	var bet *wallet.CasinoBet
	err := e.wallet.WithLockedAccount(ctx, userID, func(sc *wallet.Scope) error {
		if err := sc.Debit(amount); err != nil {
			return err
		}
		bet = &wallet.CasinoBet{
			BetID:      betID,
			AccountID:  sc.Account.AccountID,
			UserID:     userID,
			GameName:   game,
			BetAmount:  amount,
			Winnings:   decimal.Zero,
			Multiplier: decimal.Zero,
			Status:     wallet.BetOpen,
			CreatedAt:  time.Now(),
		}
		if err := e.repo.CreateBet(sc.Context(), sc.Tx, bet); err != nil {
			return err
		}
		_, err := sc.Derive(betOrigin(bet.BetID), wallet.KindBetPlaced, amount)
		return err
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx).Str("bet_id", bet.BetID).Str("game", game).Str("amount", amount.StringFixed(2)).Msg("bet placed")
	return bet, nil
}

// Settle closes an open bet. Positive winnings are credited once; zero
// winnings record a loss with no further balance change.
func (e *Engine) Settle(ctx context.Context, userID, betID string, winnings decimal.Decimal) (*wallet.CasinoBet, error) {
	if winnings.IsNegative() {
		return nil, fmt.Errorf("%w: winnings cannot be negative", wallet.ErrInvalidInput)
	}
	if !winnings.IsZero() {
		if err := wallet.CheckAmount(winnings, "winnings"); err != nil {
			return nil, err
		}
	}

	var bet *wallet.CasinoBet
	err := e.wallet.WithLockedAccount(ctx, userID, func(sc *wallet.Scope) error {
		b, err := e.repo.GetBetForUpdate(sc.Context(), sc.Tx, betID)
		if err != nil {
			return err
		}
		if b.UserID != userID {
			return ErrBetNotFound
		}
		if b.Status != wallet.BetOpen {
			return ErrBetSettled
		}

		settledAt := time.Now()
		b.SettledAt = &settledAt
		b.Status = wallet.BetLost
		if winnings.IsPositive() {
			if err := sc.Credit(winnings); err != nil {
				return err
			}
			b.Status = wallet.BetWon
			b.Winnings = winnings
			b.Multiplier = wallet.Multiplier(b.BetAmount, winnings)
			if _, err := sc.Derive(betOrigin(b.BetID), wallet.KindBetWon, winnings); err != nil {
				return err
			}
		}
		if err := e.repo.SettleBet(sc.Context(), sc.Tx, b); err != nil {
			return err
		}
		bet = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.wallet.Metrics().CasinoRound(bet.GameName, string(bet.Status))
	logger.Info(ctx).Str("bet_id", bet.BetID).Str("status", string(bet.Status)).Str("winnings", bet.Winnings.StringFixed(2)).Msg("bet settled")
	return bet, nil
}

// History lists the user's bets, newest first.
func (e *Engine) History(ctx context.Context, userID string) ([]wallet.CasinoBet, error) {
	return e.repo.ListBets(ctx, userID)
}

// playInstant runs a single-draw game: place, resolve, settle. resolve is
// called only after the stake is escrowed and returns the payout factor, zero
// for a loss.
func (e *Engine) playInstant(ctx context.Context, userID, game string, amount decimal.Decimal, resolve func() decimal.Decimal) (*wallet.CasinoBet, error) {
	bet, err := e.Place(ctx, userID, game, amount)
	if err != nil {
		return nil, err
	}
	settled, err := e.Settle(ctx, userID, bet.BetID, amount.Mul(resolve()))
	if err != nil {
		logger.Error(ctx).Err(err).Str("bet_id", bet.BetID).Msg("failed to settle instant bet")
		return nil, err
	}
	return settled, nil
}

func betOrigin(betID string) wallet.Origin {
	return wallet.Origin{Type: wallet.OriginCasinoBet, ID: betID}
}
