package casino_test

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"wallet_ledger/internal/casino"
	"wallet_ledger/internal/wallet"
	"wallet_ledger/internal/wallet/wallettest"
)

func TestMinesCashOutScenario(t *testing.T) {
	w, engine := setUp(t, nil)
	userID := wallettest.NewFundedAccount(t, w, 100)
	ctx := context.Background()

	round, err := engine.StartMines(ctx, userID, 5, amount(10))
	require.NoError(t, err)
	require.Len(t, round.Mines, 5)
	wallettest.RequireBalance(t, w, userID, 90)

	bets, err := engine.History(ctx, userID)
	require.NoError(t, err)
	require.Len(t, bets, 1)
	require.True(t, bets[0].Winnings.IsZero())
	require.Equal(t, wallet.BetOpen, bets[0].Status)

	bet, err := engine.CashOutMines(ctx, userID, round.RoundID, amount(25))
	require.NoError(t, err)
	require.Equal(t, wallet.BetWon, bet.Status)
	require.True(t, bet.Winnings.Equal(amount(25)))
	require.True(t, bet.Multiplier.Equal(decimal.RequireFromString("2.5")))
	wallettest.RequireBalance(t, w, userID, 115)

	history, err := w.History(ctx, userID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	byKind := map[wallet.TransactionKind]decimal.Decimal{}
	for _, tx := range history {
		byKind[tx.Kind] = tx.Amount
	}
	require.True(t, byKind[wallet.KindBetPlaced].Equal(amount(10)))
	require.True(t, byKind[wallet.KindBetWon].Equal(amount(25)))

	_, err = engine.GetMinesRound(ctx, userID, round.RoundID)
	require.ErrorIs(t, err, casino.ErrRoundNotFound)
}

func TestMinesStrikeSettlesLoss(t *testing.T) {
	// the first draw swaps cell 0 with itself, so cell 0 holds the only mine
	w, engine := setUp(t, &fixedSource{values: []int{0}})
	userID := wallettest.NewFundedAccount(t, w, 100)
	ctx := context.Background()

	round, err := engine.StartMines(ctx, userID, 1, amount(10))
	require.NoError(t, err)
	require.Equal(t, []int{0}, round.Mines)

	res, err := engine.RevealMine(ctx, userID, round.RoundID, 3)
	require.NoError(t, err)
	require.False(t, res.Hit)
	require.Equal(t, []int{3}, res.Round.Revealed)

	res, err = engine.RevealMine(ctx, userID, round.RoundID, 0)
	require.NoError(t, err)
	require.True(t, res.Hit)
	require.Equal(t, []int{0}, res.Mines)
	require.Equal(t, wallet.BetLost, res.Bet.Status)
	wallettest.RequireBalance(t, w, userID, 90)

	_, err = engine.CashOutMines(ctx, userID, round.RoundID, amount(25))
	require.ErrorIs(t, err, wallet.ErrNotFound)
	wallettest.RequireBalance(t, w, userID, 90)

	history, err := w.History(ctx, userID)
	require.NoError(t, err)
	require.Len(t, history, 1)
}

func TestMinesForfeit(t *testing.T) {
	w, engine := setUp(t, nil)
	userID := wallettest.NewFundedAccount(t, w, 50)
	ctx := context.Background()

	round, err := engine.StartMines(ctx, userID, 3, amount(20))
	require.NoError(t, err)

	bet, err := engine.ForfeitMines(ctx, userID, round.RoundID)
	require.NoError(t, err)
	require.Equal(t, wallet.BetLost, bet.Status)
	wallettest.RequireBalance(t, w, userID, 30)
}

func TestMinesValidation(t *testing.T) {
	w, engine := setUp(t, nil)
	userID := wallettest.NewFundedAccount(t, w, 100)
	ctx := context.Background()

	for _, k := range []int{0, 25, -1} {
		_, err := engine.StartMines(ctx, userID, k, amount(10))
		require.ErrorIs(t, err, wallet.ErrInvalidInput)
	}
	wallettest.RequireBalance(t, w, userID, 100)

	round, err := engine.StartMines(ctx, userID, 24, amount(10))
	require.NoError(t, err)

	_, err = engine.RevealMine(ctx, userID, round.RoundID, 25)
	require.ErrorIs(t, err, wallet.ErrInvalidInput)

	_, err = engine.CashOutMines(ctx, userID, round.RoundID, decimal.Zero)
	require.ErrorIs(t, err, wallet.ErrInvalidInput)
	_, err = engine.CashOutMines(ctx, userID, round.RoundID, decimal.RequireFromString("10.005"))
	require.ErrorIs(t, err, wallet.ErrInvalidInput)

	other := wallettest.NewFundedAccount(t, w, 0)
	_, err = engine.GetMinesRound(ctx, other, round.RoundID)
	require.ErrorIs(t, err, wallet.ErrNotFound)
	_, err = engine.CashOutMines(ctx, other, round.RoundID, amount(1000))
	require.ErrorIs(t, err, wallet.ErrNotFound)
	wallettest.RequireBalance(t, w, other, 0)
}

func TestPlaceMinesDistinctAndInRange(t *testing.T) {
	for k := casino.MinMines; k <= casino.MaxMines; k++ {
		mines := casino.PlaceMines(casino.CryptoSource{}, k)
		require.Len(t, mines, k)
		require.True(t, slices.IsSorted(mines))
		for i, c := range mines {
			require.True(t, c >= 0 && c < casino.MinesGridSize)
			if i > 0 {
				require.NotEqual(t, mines[i-1], c)
			}
		}
	}
}

// downStore fails every write, like an unreachable redis.
type downStore struct{}

func (downStore) Save(context.Context, *casino.MinesRound) error { return errors.New("redis down") }

func (downStore) Get(context.Context, string) (*casino.MinesRound, error) {
	return nil, casino.ErrRoundNotFound
}

func (downStore) Delete(context.Context, string) error { return nil }

func TestMinesStoreFailureKeepsStake(t *testing.T) {
	db := wallettest.OpenDB(t)
	w := wallettest.NewService(db)
	engine := casino.NewEngine(w, casino.NewBetRepository(db), casino.WithRoundStore(downStore{}))
	userID := wallettest.NewFundedAccount(t, w, 100)
	ctx := context.Background()

	_, err := engine.StartMines(ctx, userID, 3, amount(10))
	require.Error(t, err)
	wallettest.RequireBalance(t, w, userID, 100)

	bets, err := engine.History(ctx, userID)
	require.NoError(t, err)
	require.Empty(t, bets)

	history, err := w.History(ctx, userID)
	require.NoError(t, err)
	require.Empty(t, history)
}

func TestMinesUnfundedRoundIsDropped(t *testing.T) {
	db := wallettest.OpenDB(t)
	w := wallettest.NewService(db)
	store := casino.NewMemoryRoundStore()
	engine := casino.NewEngine(w, casino.NewBetRepository(db), casino.WithRoundStore(store))
	userID := wallettest.NewFundedAccount(t, w, 5)
	ctx := context.Background()

	_, err := engine.StartMines(ctx, userID, 3, amount(10))
	require.ErrorIs(t, err, wallet.ErrInsufficientFunds)
	require.Zero(t, store.Len())
	wallettest.RequireBalance(t, w, userID, 5)
}

func TestExpiredMinesRoundSettlesAsLoss(t *testing.T) {
	db := wallettest.OpenDB(t)
	w := wallettest.NewService(db)
	engine := casino.NewEngine(w, casino.NewBetRepository(db), casino.WithRoundTTL(50*time.Millisecond))
	userID := wallettest.NewFundedAccount(t, w, 100)
	ctx := context.Background()

	stale, err := engine.StartMines(ctx, userID, 3, amount(10))
	require.NoError(t, err)
	time.Sleep(150 * time.Millisecond)

	_, err = engine.CashOutMines(ctx, userID, stale.RoundID, amount(50))
	require.ErrorIs(t, err, casino.ErrRoundNotFound)

	fresh, err := engine.StartMines(ctx, userID, 3, amount(10))
	require.NoError(t, err)

	n, err := engine.SettleExpiredMines(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	n, err = engine.SettleExpiredMines(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	bets, err := engine.History(ctx, userID)
	require.NoError(t, err)
	status := map[string]wallet.BetStatus{}
	for _, b := range bets {
		status[b.BetID] = b.Status
	}
	require.Equal(t, wallet.BetLost, status[stale.BetID])
	require.Equal(t, wallet.BetOpen, status[fresh.BetID])
	wallettest.RequireBalance(t, w, userID, 80)

	won, err := w.History(ctx, userID, wallet.KindBetWon)
	require.NoError(t, err)
	require.Empty(t, won)
}
