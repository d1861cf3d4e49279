package casino

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"wallet_ledger/internal/wallet"
)

const GameDice = "dice"

type DiceChoice string

const (
	DiceUnder DiceChoice = "under"
	DiceOver  DiceChoice = "over"
	DiceSeven DiceChoice = "7"
)

var (
	evenMoney   = decimal.NewFromInt(2)
	sevenPayout = decimal.NewFromInt(5)
)

func (c DiceChoice) Valid() bool {
	switch c {
	case DiceUnder, DiceOver, DiceSeven:
		return true
	}
	return false
}

// ResolveDice returns the payout factor for choice given the sum of two dice,
// zero on a loss. Seven loses for both under and over.
func ResolveDice(choice DiceChoice, sum int) decimal.Decimal {
	switch {
	case choice == DiceUnder && sum < 7:
		return evenMoney
	case choice == DiceOver && sum > 7:
		return evenMoney
	case choice == DiceSeven && sum == 7:
		return sevenPayout
	}
	return decimal.Zero
}

type DiceResult struct {
	Bet    *wallet.CasinoBet `json:"bet"`
	Choice DiceChoice        `json:"choice"`
	Dice   [2]int            `json:"dice"`
	Sum    int               `json:"sum"`
	Won    bool              `json:"won"`
}

func (e *Engine) PlayDice(ctx context.Context, userID string, choice DiceChoice, amount decimal.Decimal) (*DiceResult, error) {
	if !choice.Valid() {
		return nil, fmt.Errorf("%w: dice choice must be under, over or 7", wallet.ErrInvalidInput)
	}

	res := &DiceResult{Choice: choice}
	bet, err := e.playInstant(ctx, userID, GameDice, amount, func() decimal.Decimal {
		res.Dice = [2]int{e.rng.IntN(6) + 1, e.rng.IntN(6) + 1}
		res.Sum = res.Dice[0] + res.Dice[1]
		return ResolveDice(choice, res.Sum)
	})
	if err != nil {
		return nil, err
	}
	res.Bet = bet
	res.Won = bet.Status == wallet.BetWon
	return res, nil
}
