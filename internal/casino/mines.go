package casino

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"wallet_ledger/internal/logger"
	"wallet_ledger/internal/wallet"
)

const (
	GameMines     = "mines"
	MinesGridSize = 25
	MinMines      = 1
	MaxMines      = MinesGridSize - 1
)

// MinesRound is the server-held state of one open mines game. Mine positions
// never leave the server while the round is open; use View for responses.
type MinesRound struct {
	RoundID   string          `json:"round_id"`
	UserID    string          `json:"user_id"`
	BetID     string          `json:"bet_id"`
	BetAmount decimal.Decimal `json:"bet_amount"`
	MineCount int             `json:"mine_count"`
	Mines     []int           `json:"mines"`
	Revealed  []int           `json:"revealed"`
	ExpiresAt time.Time       `json:"expires_at"`
}

func (r MinesRound) clone() MinesRound {
	r.Mines = slices.Clone(r.Mines)
	r.Revealed = slices.Clone(r.Revealed)
	return r
}

func (r *MinesRound) isMine(cell int) bool {
	return slices.Contains(r.Mines, cell)
}

type MinesRoundView struct {
	RoundID   string          `json:"round_id"`
	BetID     string          `json:"bet_id"`
	BetAmount decimal.Decimal `json:"bet_amount"`
	MineCount int             `json:"mine_count"`
	Revealed  []int           `json:"revealed"`
	ExpiresAt time.Time       `json:"expires_at"`
}

func (r *MinesRound) View() MinesRoundView {
	return MinesRoundView{
		RoundID:   r.RoundID,
		BetID:     r.BetID,
		BetAmount: r.BetAmount,
		MineCount: r.MineCount,
		Revealed:  slices.Clone(r.Revealed),
		ExpiresAt: r.ExpiresAt,
	}
}

// RevealResult reports one reveal. On a hit the round is over and the mine
// layout is disclosed.
type RevealResult struct {
	Round MinesRoundView    `json:"round"`
	Cell  int               `json:"cell"`
	Hit   bool              `json:"hit"`
	Mines []int             `json:"mines,omitempty"`
	Bet   *wallet.CasinoBet `json:"bet,omitempty"`
}

// PlaceMines picks count distinct cells out of the grid, uniformly.
func PlaceMines(rng RandomSource, count int) []int {
	cells := make([]int, MinesGridSize)
	for i := range cells {
		cells[i] = i
	}
	for i := 0; i < count; i++ {
		j := i + rng.IntN(MinesGridSize-i)
		cells[i], cells[j] = cells[j], cells[i]
	}
	mines := slices.Clone(cells[:count])
	slices.Sort(mines)
	return mines
}

// StartMines escrows amount and opens a round with mineCount hidden mines.
// The round is stored before the stake moves, so a store failure leaves the
// balance untouched.
func (e *Engine) StartMines(ctx context.Context, userID string, mineCount int, amount decimal.Decimal) (*MinesRound, error) {
	if mineCount < MinMines || mineCount > MaxMines {
		return nil, fmt.Errorf("%w: mine count must be between %d and %d", wallet.ErrInvalidInput, MinMines, MaxMines)
	}
	if err := wallet.CheckAmount(amount, "bet amount"); err != nil {
		return nil, err
	}

	round := &MinesRound{
		RoundID:   uuid.New().String(),
		UserID:    userID,
		BetID:     uuid.New().String(),
		BetAmount: amount,
		MineCount: mineCount,
		Mines:     PlaceMines(e.rng, mineCount),
		Revealed:  []int{},
		ExpiresAt: time.Now().Add(e.roundTTL),
	}
	if err := e.rounds.Save(ctx, round); err != nil {
		logger.Error(ctx).Err(err).Str("user_id", userID).Msg("failed to store mines round")
		return nil, fmt.Errorf("failed to store mines round: %w", err)
	}

	if _, err := e.place(ctx, userID, GameMines, round.BetID, amount); err != nil {
		if delErr := e.rounds.Delete(context.WithoutCancel(ctx), round.RoundID); delErr != nil {
			logger.Warn(ctx).Err(delErr).Str("round_id", round.RoundID).Msg("failed to drop unfunded mines round")
		}
		return nil, err
	}

	logger.Info(ctx).Str("round_id", round.RoundID).Str("bet_id", round.BetID).Int("mines", mineCount).Msg("mines round started")
	return round, nil
}

func (e *Engine) GetMinesRound(ctx context.Context, userID, roundID string) (*MinesRound, error) {
	round, err := e.rounds.Get(ctx, roundID)
	if err != nil {
		return nil, err
	}
	if round.UserID != userID {
		return nil, ErrRoundNotFound
	}
	return round, nil
}

// RevealMine uncovers cell. Striking a mine settles the bet as lost and ends
// the round.
func (e *Engine) RevealMine(ctx context.Context, userID, roundID string, cell int) (*RevealResult, error) {
	if cell < 0 || cell >= MinesGridSize {
		return nil, fmt.Errorf("%w: cell must be between 0 and %d", wallet.ErrInvalidInput, MinesGridSize-1)
	}
	round, err := e.GetMinesRound(ctx, userID, roundID)
	if err != nil {
		return nil, err
	}

	res := &RevealResult{Cell: cell}
	if round.isMine(cell) {
		bet, err := e.finishMines(ctx, round, decimal.Zero)
		if err != nil {
			return nil, err
		}
		res.Hit = true
		res.Mines = round.Mines
		res.Bet = bet
		res.Round = round.View()
		return res, nil
	}

	if !slices.Contains(round.Revealed, cell) {
		round.Revealed = append(round.Revealed, cell)
		if err := e.rounds.Save(ctx, round); err != nil {
			return nil, err
		}
	}
	res.Round = round.View()
	return res, nil
}

// CashOutMines settles the round with the winnings the caller declares.
func (e *Engine) CashOutMines(ctx context.Context, userID, roundID string, winnings decimal.Decimal) (*wallet.CasinoBet, error) {
	if err := wallet.CheckAmount(winnings, "cash-out winnings"); err != nil {
		return nil, err
	}
	round, err := e.GetMinesRound(ctx, userID, roundID)
	if err != nil {
		return nil, err
	}
	return e.finishMines(ctx, round, winnings)
}

// ForfeitMines abandons the round; the stake is lost.
func (e *Engine) ForfeitMines(ctx context.Context, userID, roundID string) (*wallet.CasinoBet, error) {
	round, err := e.GetMinesRound(ctx, userID, roundID)
	if err != nil {
		return nil, err
	}
	return e.finishMines(ctx, round, decimal.Zero)
}

func (e *Engine) finishMines(ctx context.Context, round *MinesRound, winnings decimal.Decimal) (*wallet.CasinoBet, error) {
	bet, err := e.Settle(ctx, round.UserID, round.BetID, winnings)
	if err != nil {
		return nil, err
	}
	if err := e.rounds.Delete(ctx, round.RoundID); err != nil {
		logger.Warn(ctx).Err(err).Str("round_id", round.RoundID).Msg("failed to delete settled mines round")
	}
	return bet, nil
}

// SettleExpiredMines closes every open mines bet whose round has outlived the
// round TTL as a loss. It returns how many bets it settled.
func (e *Engine) SettleExpiredMines(ctx context.Context) (int, error) {
	bets, err := e.repo.ListOpenBets(ctx, GameMines, time.Now().Add(-e.roundTTL))
	if err != nil {
		return 0, err
	}
	settled := 0
	for _, b := range bets {
		_, err := e.Settle(ctx, b.UserID, b.BetID, decimal.Zero)
		if errors.Is(err, ErrBetSettled) {
			continue
		}
		if err != nil {
			logger.Error(ctx).Err(err).Str("bet_id", b.BetID).Msg("failed to settle expired mines bet")
			continue
		}
		settled++
		logger.Info(ctx).Str("bet_id", b.BetID).Msg("expired mines round settled as lost")
	}
	return settled, nil
}

// RunExpirer calls SettleExpiredMines every interval until ctx is done.
func (e *Engine) RunExpirer(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.SettleExpiredMines(ctx); err != nil {
				logger.Error(ctx).Err(err).Msg("sweep expired mines rounds")
			}
		}
	}
}
