package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/bankcards/card-service/internal/errs"
	"github.com/bankcards/card-service/internal/lock"
	"github.com/bankcards/card-service/internal/models"
	"github.com/bankcards/card-service/internal/storage"
)

// TransactionService orchestrates multi-card money movement and owns the
// transaction state machine: PENDING is the only non-terminal status, and a
// terminal transaction never transitions again.
//
// Transfers, payments and refunds execute synchronously: the PENDING record
// exists only inside the operation. Deposits and withdrawals model external
// settlement and stay PENDING until confirmed or cancelled.
type TransactionService struct {
	store    storage.Store
	locks    *lock.Registry
	log      *logrus.Logger
	currency string
}

// NewTransactionService initializes the transaction engine. All transactions
// carry the deployment currency; conversion is not supported.
func NewTransactionService(store storage.Store, locks *lock.Registry, log *logrus.Logger, currency string) *TransactionService {
	return &TransactionService{store: store, locks: locks, log: log, currency: currency}
}

// CreateTransfer moves amount from one card to another. The debit and credit
// commit together or not at all; a failure after the PENDING record exists
// marks the transaction FAILED and surfaces the error.
func (s *TransactionService) CreateTransfer(ctx context.Context, fromCardID, toCardID int64, amount decimal.Decimal, description string) (*models.Transaction, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, errs.InvalidArgument("transfer amount must be positive, got %s", amount)
	}
	if fromCardID == toCardID {
		return nil, errs.InvalidArgument("cannot transfer to the same card")
	}

	release, err := s.locks.Acquire(ctx, fromCardID, toCardID)
	if err != nil {
		return nil, err
	}
	defer release()

	fromCard, err := s.store.CardByID(ctx, fromCardID)
	if err != nil {
		return nil, err
	}
	toCard, err := s.store.CardByID(ctx, toCardID)
	if err != nil {
		return nil, err
	}
	if st := fromCard.Status(); st != models.CardStatusActive {
		return nil, errs.InvalidState("source card %d is %s", fromCardID, st)
	}
	if st := toCard.Status(); st != models.CardStatusActive {
		return nil, errs.InvalidState("destination card %d is %s", toCardID, st)
	}
	if fromCard.Balance.LessThan(amount) {
		return nil, errs.InsufficientFunds("card %d balance %s is less than %s", fromCardID, fromCard.Balance, amount)
	}

	if description == "" {
		description = "Card-to-card transfer"
	}
	tx := s.newTransaction(models.TransactionTypeTransfer, &fromCardID, &toCardID, amount, description)
	if err := s.store.CreateTransaction(ctx, tx); err != nil {
		return nil, err
	}
	return tx, s.executeLocked(ctx, tx)
}

// CreatePayment debits the card in favour of an external payee.
func (s *TransactionService) CreatePayment(ctx context.Context, fromCardID int64, amount decimal.Decimal, description string) (*models.Transaction, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, errs.InvalidArgument("payment amount must be positive, got %s", amount)
	}

	release, err := s.locks.Acquire(ctx, fromCardID)
	if err != nil {
		return nil, err
	}
	defer release()

	fromCard, err := s.store.CardByID(ctx, fromCardID)
	if err != nil {
		return nil, err
	}
	if st := fromCard.Status(); st != models.CardStatusActive {
		return nil, errs.InvalidState("card %d is %s", fromCardID, st)
	}
	if fromCard.Balance.LessThan(amount) {
		return nil, errs.InsufficientFunds("card %d balance %s is less than %s", fromCardID, fromCard.Balance, amount)
	}

	if description == "" {
		description = "Payment"
	}
	tx := s.newTransaction(models.TransactionTypePayment, &fromCardID, nil, amount, description)
	if err := s.store.CreateTransaction(ctx, tx); err != nil {
		return nil, err
	}
	return tx, s.executeLocked(ctx, tx)
}

// CreateDeposit records an incoming settlement for the card. The transaction
// stays PENDING until ConfirmTransaction applies the credit.
func (s *TransactionService) CreateDeposit(ctx context.Context, toCardID int64, amount decimal.Decimal, description string) (*models.Transaction, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, errs.InvalidArgument("deposit amount must be positive, got %s", amount)
	}
	toCard, err := s.store.CardByID(ctx, toCardID)
	if err != nil {
		return nil, err
	}
	if st := toCard.Status(); st != models.CardStatusActive {
		return nil, errs.InvalidState("card %d is %s", toCardID, st)
	}

	if description == "" {
		description = "Deposit"
	}
	tx := s.newTransaction(models.TransactionTypeDeposit, nil, &toCardID, amount, description)
	if err := s.store.CreateTransaction(ctx, tx); err != nil {
		return nil, err
	}
	return tx, nil
}

// CreateWithdrawal records an outgoing settlement from the card. The balance
// check happens at confirmation time, when the funds actually move.
func (s *TransactionService) CreateWithdrawal(ctx context.Context, fromCardID int64, amount decimal.Decimal, description string) (*models.Transaction, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, errs.InvalidArgument("withdrawal amount must be positive, got %s", amount)
	}
	fromCard, err := s.store.CardByID(ctx, fromCardID)
	if err != nil {
		return nil, err
	}
	if st := fromCard.Status(); st != models.CardStatusActive {
		return nil, errs.InvalidState("card %d is %s", fromCardID, st)
	}

	if description == "" {
		description = "Withdrawal"
	}
	tx := s.newTransaction(models.TransactionTypeWithdrawal, &fromCardID, nil, amount, description)
	if err := s.store.CreateTransaction(ctx, tx); err != nil {
		return nil, err
	}
	return tx, nil
}

// ConfirmTransaction executes a PENDING transaction and leaves it COMPLETED
// or FAILED. Confirming a terminal transaction fails with InvalidState.
func (s *TransactionService) ConfirmTransaction(ctx context.Context, id int64) (*models.Transaction, error) {
	tx, err := s.store.TransactionByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if tx.Status != models.TransactionStatusPending {
		return nil, errs.InvalidState("transaction %d is %s and cannot be confirmed", id, tx.Status)
	}

	release, err := s.locks.Acquire(ctx, involvedCards(tx)...)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := s.executeLocked(ctx, tx); err != nil {
		return tx, err
	}
	return tx, nil
}

// CancelTransaction cancels a PENDING transaction. Balances are untouched:
// a PENDING transaction has not yet moved money.
func (s *TransactionService) CancelTransaction(ctx context.Context, id int64) (*models.Transaction, error) {
	var tx *models.Transaction
	err := s.store.WithinTx(ctx, func(t storage.Tx) error {
		var err error
		tx, err = t.TransactionByID(ctx, id)
		if err != nil {
			return err
		}
		if tx.Status != models.TransactionStatusPending {
			return errs.InvalidState("transaction %d is %s and cannot be cancelled", id, tx.Status)
		}
		tx.Status = models.TransactionStatusCancelled
		return t.SaveTransaction(ctx, tx)
	})
	if err != nil {
		return nil, err
	}
	s.log.WithField("transaction_id", id).Info("Transaction cancelled")
	return tx, nil
}

// Refund reverses a COMPLETED transfer or payment with a new first-class
// REFUND transaction whose source and destination are swapped relative to
// the original. A transaction can be refunded at most once.
func (s *TransactionService) Refund(ctx context.Context, originalID int64, reason string) (*models.Transaction, error) {
	original, err := s.store.TransactionByID(ctx, originalID)
	if err != nil {
		return nil, err
	}
	if original.Type != models.TransactionTypeTransfer && original.Type != models.TransactionTypePayment {
		return nil, errs.InvalidArgument("only transfers and payments can be refunded, got %s", original.Type)
	}
	if original.Status != models.TransactionStatusCompleted {
		return nil, errs.InvalidState("transaction %d is %s and cannot be refunded", originalID, original.Status)
	}
	description := "Refund"
	if reason != "" {
		description = "Refund: " + reason
	}
	// Reversed direction: the original destination pays the original source
	refund := s.newTransaction(models.TransactionTypeRefund, original.ToCardID, original.FromCardID, original.Amount, description)
	refund.OriginalID = &originalID

	release, err := s.locks.Acquire(ctx, involvedCards(refund)...)
	if err != nil {
		return nil, err
	}
	defer release()

	// Checked under the card locks: a concurrent refund of the same original
	// holds the same locks, so its record is committed before this check runs.
	refunded, err := s.store.RefundExists(ctx, originalID)
	if err != nil {
		return nil, err
	}
	if refunded {
		return nil, errs.InvalidState("transaction %d has already been refunded", originalID)
	}

	if err := s.store.CreateTransaction(ctx, refund); err != nil {
		return nil, err
	}
	return refund, s.executeLocked(ctx, refund)
}

// GetTransaction retrieves a transaction by ID.
func (s *TransactionService) GetTransaction(ctx context.Context, id int64) (*models.Transaction, error) {
	return s.store.TransactionByID(ctx, id)
}

func (s *TransactionService) newTransaction(t models.TransactionType, from, to *int64, amount decimal.Decimal, description string) *models.Transaction {
	return &models.Transaction{
		Reference:   uuid.NewString(),
		FromCardID:  from,
		ToCardID:    to,
		Amount:      amount,
		Currency:    s.currency,
		Type:        t,
		Description: description,
		Status:      models.TransactionStatusPending,
	}
}

// executeLocked runs the type-specific execution inside one unit of work.
// The caller holds the locks of every involved card. If execution fails, the
// ledger mutations roll back with the unit of work and the FAILED status is
// recorded separately so the audit trail survives.
func (s *TransactionService) executeLocked(ctx context.Context, tx *models.Transaction) error {
	err := s.store.WithinTx(ctx, func(t storage.Tx) error {
		fresh, err := t.TransactionByID(ctx, tx.ID)
		if err != nil {
			return err
		}
		if fresh.Status != models.TransactionStatusPending {
			return errs.InvalidState("transaction %d is %s and cannot be executed", tx.ID, fresh.Status)
		}
		if err := s.moveFunds(ctx, t, fresh); err != nil {
			return err
		}
		fresh.Status = models.TransactionStatusCompleted
		if err := t.SaveTransaction(ctx, fresh); err != nil {
			return err
		}
		*tx = *fresh
		return nil
	})
	if err != nil {
		// Record FAILED only if the transaction is still PENDING; a terminal
		// status never transitions again.
		markErr := s.store.WithinTx(ctx, func(t storage.Tx) error {
			fresh, err := t.TransactionByID(ctx, tx.ID)
			if err != nil {
				return err
			}
			if fresh.Status != models.TransactionStatusPending {
				return nil
			}
			fresh.Status = models.TransactionStatusFailed
			if err := t.SaveTransaction(ctx, fresh); err != nil {
				return err
			}
			*tx = *fresh
			return nil
		})
		if markErr != nil {
			s.log.WithField("transaction_id", tx.ID).WithError(markErr).
				Error("Failed to record FAILED status")
		}
		s.log.WithFields(logrus.Fields{"transaction_id": tx.ID, "type": tx.Type}).
			WithError(err).Warn("Transaction failed")
		return err
	}

	s.log.WithFields(logrus.Fields{
		"transaction_id": tx.ID,
		"reference":      tx.Reference,
		"type":           tx.Type,
		"amount":         tx.Amount,
	}).Info("Transaction completed")
	return nil
}

// moveFunds applies the ledger side of one transaction.
func (s *TransactionService) moveFunds(ctx context.Context, t storage.Tx, tx *models.Transaction) error {
	switch tx.Type {
	case models.TransactionTypeTransfer:
		if tx.FromCardID == nil || tx.ToCardID == nil {
			return errs.InvalidState("transfer %d is missing a card reference", tx.ID)
		}
		if _, err := debitCard(ctx, t, *tx.FromCardID, tx.Amount); err != nil {
			return err
		}
		_, err := creditCard(ctx, t, *tx.ToCardID, tx.Amount)
		return err
	case models.TransactionTypePayment, models.TransactionTypeWithdrawal:
		if tx.FromCardID == nil {
			return errs.InvalidState("%s %d is missing the source card", tx.Type, tx.ID)
		}
		_, err := debitCard(ctx, t, *tx.FromCardID, tx.Amount)
		return err
	case models.TransactionTypeDeposit:
		if tx.ToCardID == nil {
			return errs.InvalidState("deposit %d is missing the destination card", tx.ID)
		}
		_, err := creditCard(ctx, t, *tx.ToCardID, tx.Amount)
		return err
	case models.TransactionTypeRefund:
		// A payment refund has no source card: the money re-enters from outside
		if tx.FromCardID != nil {
			if _, err := debitCard(ctx, t, *tx.FromCardID, tx.Amount); err != nil {
				return err
			}
		}
		if tx.ToCardID != nil {
			if _, err := creditCard(ctx, t, *tx.ToCardID, tx.Amount); err != nil {
				return err
			}
		}
		return nil
	default:
		return errs.InvalidState("unsupported transaction type %q", tx.Type)
	}
}

func involvedCards(tx *models.Transaction) []int64 {
	var ids []int64
	if tx.FromCardID != nil {
		ids = append(ids, *tx.FromCardID)
	}
	if tx.ToCardID != nil {
		ids = append(ids, *tx.ToCardID)
	}
	return ids
}
