package casino

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"wallet_ledger/internal/wallet"
)

const GameCoinFlip = "coinflip"

type CoinSide string

const (
	Heads CoinSide = "heads"
	Tails CoinSide = "tails"
)

var coinSides = [2]CoinSide{Heads, Tails}

type CoinFlipResult struct {
	Bet     *wallet.CasinoBet `json:"bet"`
	Call    CoinSide          `json:"call"`
	Outcome CoinSide          `json:"outcome"`
	Won     bool              `json:"won"`
}

func (e *Engine) PlayCoinFlip(ctx context.Context, userID string, call CoinSide, amount decimal.Decimal) (*CoinFlipResult, error) {
	if call != Heads && call != Tails {
		return nil, fmt.Errorf("%w: call must be heads or tails", wallet.ErrInvalidInput)
	}

	res := &CoinFlipResult{Call: call}
	bet, err := e.playInstant(ctx, userID, GameCoinFlip, amount, func() decimal.Decimal {
		res.Outcome = coinSides[e.rng.IntN(2)]
		if res.Outcome == call {
			return evenMoney
		}
		return decimal.Zero
	})
	if err != nil {
		return nil, err
	}
	res.Bet = bet
	res.Won = bet.Status == wallet.BetWon
	return res, nil
}
