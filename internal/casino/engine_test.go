package casino_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wallet_ledger/internal/casino"
	"wallet_ledger/internal/wallet"
	"wallet_ledger/internal/wallet/wallettest"
)

// fixedSource replays values; each draw is taken modulo n.
type fixedSource struct {
	mu     sync.Mutex
	values []int
	next   int
}

func (s *fixedSource) IntN(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.values[s.next%len(s.values)]
	s.next++
	return v % n
}

func setUp(t *testing.T, rng casino.RandomSource) (*wallet.Service, *casino.Engine) {
	db := wallettest.OpenDB(t)
	w := wallettest.NewService(db)
	opts := []casino.Option{}
	if rng != nil {
		opts = append(opts, casino.WithRandomSource(rng))
	}
	return w, casino.NewEngine(w, casino.NewBetRepository(db), opts...)
}

func amount(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestResolveDiceBoundaries(t *testing.T) {
	tests := []struct {
		choice casino.DiceChoice
		sum    int
		want   int64
	}{
		{casino.DiceUnder, 2, 2},
		{casino.DiceUnder, 6, 2},
		{casino.DiceUnder, 7, 0},
		{casino.DiceUnder, 8, 0},
		{casino.DiceOver, 6, 0},
		{casino.DiceOver, 7, 0},
		{casino.DiceOver, 8, 2},
		{casino.DiceOver, 12, 2},
		{casino.DiceSeven, 6, 0},
		{casino.DiceSeven, 7, 5},
		{casino.DiceSeven, 8, 0},
	}
	for _, tt := range tests {
		got := casino.ResolveDice(tt.choice, tt.sum)
		assert.Truef(t, got.Equal(amount(tt.want)), "%s with sum %d: want x%d, got x%s", tt.choice, tt.sum, tt.want, got)
	}
}

func TestPlayDiceSevenPaysFive(t *testing.T) {
	// draws 2 and 3 roll a 3 and a 4
	w, engine := setUp(t, &fixedSource{values: []int{2, 3}})
	userID := wallettest.NewFundedAccount(t, w, 100)

	res, err := engine.PlayDice(context.Background(), userID, casino.DiceSeven, amount(10))
	require.NoError(t, err)
	require.Equal(t, [2]int{3, 4}, res.Dice)
	require.Equal(t, 7, res.Sum)
	require.True(t, res.Won)
	require.True(t, res.Bet.Winnings.Equal(amount(50)))
	require.True(t, res.Bet.Multiplier.Equal(amount(5)))
	wallettest.RequireBalance(t, w, userID, 140)
}

func TestPlayDiceSevenLosesForUnder(t *testing.T) {
	w, engine := setUp(t, &fixedSource{values: []int{2, 3}})
	userID := wallettest.NewFundedAccount(t, w, 100)

	res, err := engine.PlayDice(context.Background(), userID, casino.DiceUnder, amount(10))
	require.NoError(t, err)
	require.False(t, res.Won)
	require.Equal(t, wallet.BetLost, res.Bet.Status)
	require.True(t, res.Bet.Winnings.IsZero())
	wallettest.RequireBalance(t, w, userID, 90)

	history, err := w.History(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, wallet.KindBetPlaced, history[0].Kind)
}

func TestPlayDiceRejectsBadChoiceBeforeDebit(t *testing.T) {
	w, engine := setUp(t, nil)
	userID := wallettest.NewFundedAccount(t, w, 100)

	_, err := engine.PlayDice(context.Background(), userID, "eleven", amount(10))
	require.ErrorIs(t, err, wallet.ErrInvalidInput)
	wallettest.RequireBalance(t, w, userID, 100)
}

func TestPlayCoinFlip(t *testing.T) {
	w, engine := setUp(t, &fixedSource{values: []int{0}})
	userID := wallettest.NewFundedAccount(t, w, 100)
	ctx := context.Background()

	res, err := engine.PlayCoinFlip(ctx, userID, casino.Heads, amount(10))
	require.NoError(t, err)
	require.Equal(t, casino.Heads, res.Outcome)
	require.True(t, res.Won)
	wallettest.RequireBalance(t, w, userID, 110)

	res, err = engine.PlayCoinFlip(ctx, userID, casino.Tails, amount(10))
	require.NoError(t, err)
	require.False(t, res.Won)
	wallettest.RequireBalance(t, w, userID, 100)

	_, err = engine.PlayCoinFlip(ctx, userID, "edge", amount(10))
	require.ErrorIs(t, err, wallet.ErrInvalidInput)
}

func TestPlaceInsufficientFundsWritesNothing(t *testing.T) {
	w, engine := setUp(t, nil)
	userID := wallettest.NewFundedAccount(t, w, 5)
	ctx := context.Background()

	_, err := engine.Place(ctx, userID, casino.GameDice, amount(10))
	require.ErrorIs(t, err, wallet.ErrInsufficientFunds)
	wallettest.RequireBalance(t, w, userID, 5)

	bets, err := engine.History(ctx, userID)
	require.NoError(t, err)
	require.Empty(t, bets)

	_, err = engine.Place(ctx, userID, casino.GameDice, amount(0))
	require.ErrorIs(t, err, wallet.ErrInvalidInput)
}

func TestSubCentStakesRejected(t *testing.T) {
	w, engine := setUp(t, &fixedSource{values: []int{0}})
	userID := wallettest.NewFundedAccount(t, w, 10)
	ctx := context.Background()
	fine := decimal.RequireFromString("0.005")

	_, err := engine.Place(ctx, userID, casino.GameDice, fine)
	require.ErrorIs(t, err, wallet.ErrInvalidInput)
	_, err = engine.PlayCoinFlip(ctx, userID, casino.Heads, fine)
	require.ErrorIs(t, err, wallet.ErrInvalidInput)
	_, err = engine.StartMines(ctx, userID, 3, decimal.RequireFromString("1.001"))
	require.ErrorIs(t, err, wallet.ErrInvalidInput)
	wallettest.RequireBalance(t, w, userID, 10)

	bet, err := engine.Place(ctx, userID, casino.GameDice, decimal.RequireFromString("1.25"))
	require.NoError(t, err)
	_, err = engine.Settle(ctx, userID, bet.BetID, decimal.RequireFromString("2.505"))
	require.ErrorIs(t, err, wallet.ErrInvalidInput)

	settled, err := engine.Settle(ctx, userID, bet.BetID, decimal.RequireFromString("2.50"))
	require.NoError(t, err)
	require.Equal(t, wallet.BetWon, settled.Status)
	require.True(t, wallettest.Balance(t, w, userID).Equal(decimal.RequireFromString("11.25")))
}

func TestSettleOnlyOnce(t *testing.T) {
	w, engine := setUp(t, nil)
	userID := wallettest.NewFundedAccount(t, w, 100)
	ctx := context.Background()

	bet, err := engine.Place(ctx, userID, "roulette", amount(10))
	require.NoError(t, err)
	wallettest.RequireBalance(t, w, userID, 90)

	_, err = engine.Settle(ctx, userID, bet.BetID, amount(30))
	require.NoError(t, err)
	wallettest.RequireBalance(t, w, userID, 120)

	_, err = engine.Settle(ctx, userID, bet.BetID, amount(30))
	require.ErrorIs(t, err, casino.ErrBetSettled)
	_, err = engine.Settle(ctx, userID, bet.BetID, decimal.Zero)
	require.ErrorIs(t, err, casino.ErrBetSettled)
	wallettest.RequireBalance(t, w, userID, 120)

	won, err := w.History(ctx, userID, wallet.KindBetWon)
	require.NoError(t, err)
	require.Len(t, won, 1)
}

func TestSettleOtherUsersBet(t *testing.T) {
	w, engine := setUp(t, nil)
	owner := wallettest.NewFundedAccount(t, w, 100)
	other := wallettest.NewFundedAccount(t, w, 100)
	ctx := context.Background()

	bet, err := engine.Place(ctx, owner, casino.GameDice, amount(10))
	require.NoError(t, err)

	_, err = engine.Settle(ctx, other, bet.BetID, amount(50))
	require.ErrorIs(t, err, wallet.ErrNotFound)
	wallettest.RequireBalance(t, w, other, 100)
}

func TestConcurrentSettleCreditsOnce(t *testing.T) {
	w, engine := setUp(t, nil)
	userID := wallettest.NewFundedAccount(t, w, 100)
	ctx := context.Background()

	bet, err := engine.Place(ctx, userID, "roulette", amount(10))
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	successCount := 0
	settledCount := 0
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.Settle(ctx, userID, bet.BetID, amount(20))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successCount++
			} else if errors.Is(err, casino.ErrBetSettled) {
				settledCount++
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, successCount)
	require.Equal(t, 4, settledCount)
	wallettest.RequireBalance(t, w, userID, 110)
}
