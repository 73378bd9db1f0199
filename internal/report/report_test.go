package report

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bankcards/card-service/internal/crypto"
	"github.com/bankcards/card-service/internal/lock"
	"github.com/bankcards/card-service/internal/models"
	"github.com/bankcards/card-service/internal/service"
	"github.com/bankcards/card-service/internal/storage"
)

type fixture struct {
	store   *storage.Memory
	cards   *service.CardService
	txs     *service.TransactionService
	reports *Service
	user    *models.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := storage.NewMemory()
	codec, err := crypto.NewCodec("test-secret")
	require.NoError(t, err)

	log := logrus.New()
	log.SetOutput(io.Discard)
	locks := lock.NewRegistry(2 * time.Second)

	f := &fixture{
		store:   store,
		cards:   service.NewCardService(store, codec, locks, log),
		txs:     service.NewTransactionService(store, locks, log, "USD"),
		reports: NewService(store, log),
		user:    &models.User{Username: "alice", Email: "alice@example.com"},
	}
	require.NoError(t, store.CreateUser(context.Background(), f.user))
	return f
}

func (f *fixture) fundedCard(t *testing.T, balance string) *models.Card {
	t.Helper()
	ctx := context.Background()
	card, _, err := f.cards.CreateCard(ctx, f.user.ID, "ALICE SMITH", models.CardTypeDebit)
	require.NoError(t, err)
	amount := decimal.RequireFromString(balance)
	if amount.IsPositive() {
		card, err = f.cards.Credit(ctx, card.ID, amount)
		require.NoError(t, err)
	}
	return card
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// seed records one completed transfer, one completed payment and one failed
// withdrawal across two cards.
func (f *fixture) seed(t *testing.T) (a, b *models.Card) {
	t.Helper()
	ctx := context.Background()
	a = f.fundedCard(t, "100.00")
	b = f.fundedCard(t, "20.00")

	_, err := f.txs.CreateTransfer(ctx, a.ID, b.ID, dec("40.00"), "rent")
	require.NoError(t, err)
	_, err = f.txs.CreatePayment(ctx, b.ID, dec("15.00"), "groceries")
	require.NoError(t, err)

	w, err := f.txs.CreateWithdrawal(ctx, a.ID, dec("500.00"), "")
	require.NoError(t, err)
	_, err = f.txs.ConfirmTransaction(ctx, w.ID)
	require.Error(t, err)
	return a, b
}

func TestByCardAndIdempotence(t *testing.T) {
	f := newFixture(t)
	a, b := f.seed(t)

	first, err := f.reports.ByCard(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Len(t, first, 2) // transfer out + failed withdrawal

	second, err := f.reports.ByCard(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	forB, err := f.reports.ByCard(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Len(t, forB, 2) // transfer in + payment out
}

func TestByUser(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	txs, err := f.reports.ByUser(context.Background(), f.user.ID)
	require.NoError(t, err)
	assert.Len(t, txs, 3)

	none, err := f.reports.ByUser(context.Background(), 999)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestByStatusAndType(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	ctx := context.Background()

	completed, err := f.reports.ByStatus(ctx, models.TransactionStatusCompleted)
	require.NoError(t, err)
	assert.Len(t, completed, 2)

	failed, err := f.reports.ByStatus(ctx, models.TransactionStatusFailed)
	require.NoError(t, err)
	assert.Len(t, failed, 1)

	transfers, err := f.reports.ByType(ctx, models.TransactionTypeTransfer)
	require.NoError(t, err)
	assert.Len(t, transfers, 1)
	assert.Equal(t, models.TransactionTypeTransfer, transfers[0].Type)
}

func TestByDateRangeAndRecent(t *testing.T) {
	f := newFixture(t)
	a, _ := f.seed(t)
	ctx := context.Background()

	all, err := f.reports.ByDateRange(ctx, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, all, 3)

	past, err := f.reports.ByDateRange(ctx, time.Now().Add(-2*time.Hour), time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, past)

	recent, err := f.reports.RecentByCard(ctx, a.ID, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	// Newest first
	assert.Equal(t, models.TransactionTypeWithdrawal, recent[0].Type)
}

func TestTotalCompletedByType(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	ctx := context.Background()

	transfers, err := f.reports.TotalCompletedByType(ctx, models.TransactionTypeTransfer)
	require.NoError(t, err)
	assert.True(t, transfers.Total.Equal(dec("40.00")))

	// The failed withdrawal contributes nothing
	withdrawals, err := f.reports.TotalCompletedByType(ctx, models.TransactionTypeWithdrawal)
	require.NoError(t, err)
	assert.True(t, withdrawals.Total.IsZero())
}

func TestFailuresSince(t *testing.T) {
	f := newFixture(t)
	a, _ := f.seed(t)
	ctx := context.Background()

	// Add a cancelled deposit
	d, err := f.txs.CreateDeposit(ctx, a.ID, dec("5.00"), "")
	require.NoError(t, err)
	_, err = f.txs.CancelTransaction(ctx, d.ID)
	require.NoError(t, err)

	failures, err := f.reports.FailuresSince(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, failures, 2)
	for _, tx := range failures {
		assert.True(t, tx.Status == models.TransactionStatusFailed ||
			tx.Status == models.TransactionStatusCancelled)
	}

	none, err := f.reports.FailuresSince(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStatement(t *testing.T) {
	f := newFixture(t)
	a, _ := f.seed(t)
	ctx := context.Background()

	xml, err := f.reports.Statement(ctx, f.cards,
		a.ID, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)

	out := string(xml)
	assert.Contains(t, out, "<CardStatement")
	assert.Contains(t, out, "**** **** **** ")
	assert.Contains(t, out, "ALICE SMITH")
	assert.Contains(t, out, "<Type>TRANSFER</Type>")
	assert.Contains(t, out, "<Direction>OUT</Direction>")
	// Completed outgoing turnover counts only the transfer
	assert.Contains(t, out, "<Debits>40.00</Debits>")
	assert.Contains(t, out, "<Credits>0.00</Credits>")
}

func TestStatementUnknownCard(t *testing.T) {
	f := newFixture(t)
	_, err := f.reports.Statement(context.Background(), f.cards,
		999, time.Now().Add(-time.Hour), time.Now())
	require.Error(t, err)
}
