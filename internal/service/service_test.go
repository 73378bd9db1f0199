package service

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/bankcards/card-service/internal/crypto"
	"github.com/bankcards/card-service/internal/lock"
	"github.com/bankcards/card-service/internal/models"
	"github.com/bankcards/card-service/internal/storage"
)

// fixture wires the ledger against the in-memory store.
type fixture struct {
	store *storage.Memory
	codec *crypto.Codec
	cards *CardService
	txs   *TransactionService
	user  *models.User
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
		store: store,
		codec: codec,
		cards: NewCardService(store, codec, locks, log),
		txs:   NewTransactionService(store, locks, log, "USD"),
		user:  &models.User{Username: "alice", Email: "alice@example.com"},
	}
	require.NoError(t, store.CreateUser(context.Background(), f.user))
	return f
}

// activeCard issues a card and funds it to the given balance.
func (f *fixture) activeCard(t *testing.T, balance string) *models.Card {
	t.Helper()
	ctx := context.Background()
	card, _, err := f.cards.CreateCard(ctx, f.user.ID, "ALICE SMITH", models.CardTypeDebit)
	require.NoError(t, err)

	amount := dec(balance)
	if amount.IsPositive() {
		card, err = f.cards.Credit(ctx, card.ID, amount)
		require.NoError(t, err)
	}
	return card
}

// expireCard rewrites the card's expiry into the past.
func (f *fixture) expireCard(t *testing.T, cardID int64) {
	t.Helper()
	ctx := context.Background()
	card, err := f.store.CardByID(ctx, cardID)
	require.NoError(t, err)
	card.ExpiryDate = time.Now().AddDate(0, 0, -1)
	require.NoError(t, f.store.SaveCard(ctx, card))
}

func (f *fixture) balance(t *testing.T, cardID int64) decimal.Decimal {
	t.Helper()
	card, err := f.store.CardByID(context.Background(), cardID)
	require.NoError(t, err)
	return card.Balance
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
