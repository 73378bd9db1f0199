package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bankcards/card-service/internal/errs"
	"github.com/bankcards/card-service/internal/models"
	"github.com/bankcards/card-service/internal/utils"
)

func TestCreateCard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	card, cvv, err := f.cards.CreateCard(ctx, f.user.ID, "ALICE SMITH", models.CardTypeDebit)
	require.NoError(t, err)

	assert.True(t, card.Balance.IsZero())
	assert.True(t, card.Active)
	assert.Equal(t, models.CardStatusActive, card.Status())
	assert.Len(t, cvv, 3)
	assert.True(t, utils.ValidLuhn(card.Number))
	assert.NotEqual(t, card.Number, card.EncryptedNumber)

	// The stored record never carries the plaintext number
	stored, err := f.store.CardByID(ctx, card.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.Number)

	plain, err := f.codec.Decrypt(stored.EncryptedNumber)
	require.NoError(t, err)
	assert.Equal(t, card.Number, plain)
}

func TestCreateCardValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.cards.CreateCard(ctx, f.user.ID, "", models.CardTypeDebit)
	assert.Equal(t, errs.KindInvalidArgument, errs.KindOf(err))

	_, _, err = f.cards.CreateCard(ctx, f.user.ID, "ALICE SMITH", models.CardType("GOLD"))
	assert.Equal(t, errs.KindInvalidArgument, errs.KindOf(err))

	_, _, err = f.cards.CreateCard(ctx, 999, "ALICE SMITH", models.CardTypeDebit)
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))
}

func TestGetCardByNumber(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	card, _, err := f.cards.CreateCard(ctx, f.user.ID, "ALICE SMITH", models.CardTypeVirtual)
	require.NoError(t, err)

	found, err := f.cards.GetCardByNumber(ctx, card.Number)
	require.NoError(t, err)
	assert.Equal(t, card.ID, found.ID)

	_, err = f.cards.GetCardByNumber(ctx, "4000000000000000")
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))
}

func TestMaskedNumber(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	card, _, err := f.cards.CreateCard(ctx, f.user.ID, "ALICE SMITH", models.CardTypeDebit)
	require.NoError(t, err)

	stored, err := f.store.CardByID(ctx, card.ID)
	require.NoError(t, err)
	masked := f.cards.MaskedNumber(stored)
	assert.Equal(t, "**** **** **** "+card.Number[12:], masked)

	// A corrupt record degrades to the constant mask instead of failing
	stored.EncryptedNumber = "garbage"
	assert.Equal(t, "****", f.cards.MaskedNumber(stored))
}

func TestVerifyCVV(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	card, cvv, err := f.cards.CreateCard(ctx, f.user.ID, "ALICE SMITH", models.CardTypeDebit)
	require.NoError(t, err)

	assert.NoError(t, f.cards.VerifyCVV(ctx, card.ID, cvv))
	err = f.cards.VerifyCVV(ctx, card.ID, "000")
	if err == nil {
		// One in a thousand the generated CVV really is 000; try another value
		err = f.cards.VerifyCVV(ctx, card.ID, "001")
	}
	assert.Equal(t, errs.KindInvalidArgument, errs.KindOf(err))
}

func TestActivateBlockUnblock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	card := f.activeCard(t, "0")

	// Activating an active card is an error
	_, err := f.cards.Activate(ctx, card.ID)
	assert.Equal(t, errs.KindInvalidState, errs.KindOf(err))

	blocked, err := f.cards.Block(ctx, card.ID)
	require.NoError(t, err)
	assert.False(t, blocked.Active)
	assert.Equal(t, models.CardStatusBlocked, blocked.Status())

	_, err = f.cards.Block(ctx, card.ID)
	assert.Equal(t, errs.KindInvalidState, errs.KindOf(err))

	unblocked, err := f.cards.Unblock(ctx, card.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CardStatusActive, unblocked.Status())

	_, err = f.cards.Unblock(ctx, card.ID)
	assert.Equal(t, errs.KindInvalidState, errs.KindOf(err))
}

func TestUnblockExpiredCard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	card := f.activeCard(t, "0")

	_, err := f.cards.Block(ctx, card.ID)
	require.NoError(t, err)
	f.expireCard(t, card.ID)

	// Expired cards can never be unblocked
	_, err = f.cards.Unblock(ctx, card.ID)
	assert.Equal(t, errs.KindInvalidState, errs.KindOf(err))
}

func TestExpiredStatusOverridesActiveFlag(t *testing.T) {
	f := newFixture(t)
	card := f.activeCard(t, "0")
	f.expireCard(t, card.ID)

	stored, err := f.store.CardByID(context.Background(), card.ID)
	require.NoError(t, err)
	assert.True(t, stored.Active)
	assert.Equal(t, models.CardStatusExpired, stored.Status())
}

func TestCreditAndDebit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	card := f.activeCard(t, "100.00")

	updated, err := f.cards.Credit(ctx, card.ID, dec("25.50"))
	require.NoError(t, err)
	assert.True(t, updated.Balance.Equal(dec("125.50")))

	updated, err = f.cards.Debit(ctx, card.ID, dec("25.50"))
	require.NoError(t, err)
	assert.True(t, updated.Balance.Equal(dec("100.00")))
}

func TestCreditValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	card := f.activeCard(t, "0")

	_, err := f.cards.Credit(ctx, card.ID, decimal.Zero)
	assert.Equal(t, errs.KindInvalidArgument, errs.KindOf(err))
	_, err = f.cards.Credit(ctx, card.ID, dec("-5"))
	assert.Equal(t, errs.KindInvalidArgument, errs.KindOf(err))
	_, err = f.cards.Credit(ctx, 999, dec("5"))
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))
}

func TestDebitInsufficientFunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	card := f.activeCard(t, "10.00")

	_, err := f.cards.Debit(ctx, card.ID, dec("10.01"))
	assert.Equal(t, errs.KindInsufficientFunds, errs.KindOf(err))
	assert.True(t, f.balance(t, card.ID).Equal(dec("10.00")))

	// Debiting the exact balance leaves zero, never negative
	updated, err := f.cards.Debit(ctx, card.ID, dec("10.00"))
	require.NoError(t, err)
	assert.True(t, updated.Balance.IsZero())
}

func TestDebitBlockedCard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	card := f.activeCard(t, "50.00")

	_, err := f.cards.Block(ctx, card.ID)
	require.NoError(t, err)

	_, err = f.cards.Debit(ctx, card.ID, dec("10.00"))
	assert.Equal(t, errs.KindInvalidState, errs.KindOf(err))
	assert.True(t, f.balance(t, card.ID).Equal(dec("50.00")))

	_, err = f.cards.Credit(ctx, card.ID, dec("10.00"))
	assert.Equal(t, errs.KindInvalidState, errs.KindOf(err))
}

func TestDebitExpiredCard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	card := f.activeCard(t, "50.00")
	f.expireCard(t, card.ID)

	_, err := f.cards.Debit(ctx, card.ID, dec("10.00"))
	assert.Equal(t, errs.KindInvalidState, errs.KindOf(err))
	assert.True(t, f.balance(t, card.ID).Equal(dec("50.00")))
}

func TestDeleteCard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	card := f.activeCard(t, "0")
	require.NoError(t, f.cards.DeleteCard(ctx, card.ID))
	_, err := f.cards.GetCard(ctx, card.ID)
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))

	err = f.cards.DeleteCard(ctx, card.ID)
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))
}

func TestDeleteCardWithTransactionsRefused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	from := f.activeCard(t, "100.00")
	to := f.activeCard(t, "0")

	_, err := f.txs.CreateTransfer(ctx, from.ID, to.ID, dec("5.00"), "")
	require.NoError(t, err)

	// Cards must outlive the transactions referencing them
	err = f.cards.DeleteCard(ctx, from.ID)
	assert.Equal(t, errs.KindInvalidState, errs.KindOf(err))
	err = f.cards.DeleteCard(ctx, to.ID)
	assert.Equal(t, errs.KindInvalidState, errs.KindOf(err))
}
