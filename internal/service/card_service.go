package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/bankcards/card-service/internal/crypto"
	"github.com/bankcards/card-service/internal/errs"
	"github.com/bankcards/card-service/internal/lock"
	"github.com/bankcards/card-service/internal/models"
	"github.com/bankcards/card-service/internal/storage"
	"github.com/bankcards/card-service/internal/utils"
)

// CardService owns the card ledger: balances, activity state and the
// encrypted account number. Every balance mutation runs under the per-card
// lock and inside a storage unit of work.
type CardService struct {
	store storage.Store
	codec *crypto.Codec
	locks *lock.Registry
	log   *logrus.Logger
}

// NewCardService initializes the card ledger.
func NewCardService(store storage.Store, codec *crypto.Codec, locks *lock.Registry, log *logrus.Logger) *CardService {
	return &CardService{store: store, codec: codec, locks: locks, log: log}
}

// CreateCard issues a new card for the user: generated number, 3-year expiry,
// hashed CVV. The plaintext number and CVV are returned exactly once in the
// result and never stored.
func (s *CardService) CreateCard(ctx context.Context, userID int64, holderName string, cardType models.CardType) (*models.Card, string, error) {
	if holderName == "" {
		return nil, "", errs.InvalidArgument("holder name is required")
	}
	switch cardType {
	case models.CardTypeCredit, models.CardTypeDebit, models.CardTypeVirtual:
	default:
		return nil, "", errs.InvalidArgument("unknown card type %q", cardType)
	}
	if _, err := s.store.UserByID(ctx, userID); err != nil {
		return nil, "", err
	}

	number, err := utils.GenerateCardNumber("400000", 16)
	if err != nil {
		return nil, "", errs.Internal("failed to generate card number", err)
	}
	cvv, err := utils.GenerateCVV()
	if err != nil {
		return nil, "", errs.Internal("failed to generate CVV", err)
	}

	encrypted, err := s.codec.Encrypt(number)
	if err != nil {
		return nil, "", err
	}
	cvvHash, err := bcrypt.GenerateFromPassword([]byte(cvv), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", errs.Internal("failed to hash CVV", err)
	}

	card := &models.Card{
		UserID:          userID,
		EncryptedNumber: encrypted,
		NumberHMAC:      s.codec.Fingerprint(number),
		HolderName:      holderName,
		ExpiryDate:      utils.GenerateExpiryDate(),
		CVVHash:         string(cvvHash),
		Type:            cardType,
		Balance:         decimal.Zero,
		Active:          true,
	}
	if err := s.store.CreateCard(ctx, card); err != nil {
		return nil, "", err
	}

	card.Number = number
	s.log.WithFields(logrus.Fields{"card_id": card.ID, "user_id": userID}).
		Info("Card created")
	return card, cvv, nil
}

// GetCard retrieves a card by ID.
func (s *CardService) GetCard(ctx context.Context, cardID int64) (*models.Card, error) {
	return s.store.CardByID(ctx, cardID)
}

// GetCardByNumber retrieves a card by its plaintext account number.
func (s *CardService) GetCardByNumber(ctx context.Context, number string) (*models.Card, error) {
	return s.store.CardByFingerprint(ctx, s.codec.Fingerprint(number))
}

// ListCards lists all cards owned by the user.
func (s *CardService) ListCards(ctx context.Context, userID int64) ([]*models.Card, error) {
	return s.store.CardsByUser(ctx, userID)
}

// MaskedNumber returns the display form of the card number. A codec failure
// on one record is logged and degraded to the constant mask, so one corrupt
// row never breaks an unrelated listing.
func (s *CardService) MaskedNumber(card *models.Card) string {
	plain, err := s.codec.Decrypt(card.EncryptedNumber)
	if err != nil {
		s.log.WithField("card_id", card.ID).WithError(err).
			Error("Failed to decrypt card number for masking")
		return crypto.MaskNumber("")
	}
	return crypto.MaskNumber(plain)
}

// VerifyCVV checks the supplied CVV against the stored hash.
func (s *CardService) VerifyCVV(ctx context.Context, cardID int64, cvv string) error {
	card, err := s.store.CardByID(ctx, cardID)
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(card.CVVHash), []byte(cvv)) != nil {
		return errs.InvalidArgument("CVV does not match")
	}
	return nil
}

// Activate sets an inactive card active again. Expired cards stay expired.
func (s *CardService) Activate(ctx context.Context, cardID int64) (*models.Card, error) {
	return s.updateCard(ctx, cardID, func(card *models.Card) error {
		if card.Active {
			return errs.InvalidState("card %d is already active", cardID)
		}
		card.Active = true
		return nil
	})
}

// Block deactivates a card. Blocked cards accept no debits or credits.
func (s *CardService) Block(ctx context.Context, cardID int64) (*models.Card, error) {
	return s.updateCard(ctx, cardID, func(card *models.Card) error {
		if !card.Active {
			return errs.InvalidState("card %d is already blocked", cardID)
		}
		card.Active = false
		return nil
	})
}

// Unblock reactivates a blocked card. An expired card can never be unblocked.
func (s *CardService) Unblock(ctx context.Context, cardID int64) (*models.Card, error) {
	return s.updateCard(ctx, cardID, func(card *models.Card) error {
		if card.Active {
			return errs.InvalidState("card %d is already active", cardID)
		}
		if card.Expired() {
			return errs.InvalidState("card %d has expired and cannot be unblocked", cardID)
		}
		card.Active = true
		return nil
	})
}

// Credit adds funds to an active card.
func (s *CardService) Credit(ctx context.Context, cardID int64, amount decimal.Decimal) (*models.Card, error) {
	release, err := s.locks.Acquire(ctx, cardID)
	if err != nil {
		return nil, err
	}
	defer release()

	var card *models.Card
	err = s.store.WithinTx(ctx, func(tx storage.Tx) error {
		card, err = creditCard(ctx, tx, cardID, amount)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"card_id": cardID, "amount": amount}).
		Info("Card credited")
	return card, nil
}

// Debit removes funds from an active card, refusing to go below zero.
func (s *CardService) Debit(ctx context.Context, cardID int64, amount decimal.Decimal) (*models.Card, error) {
	release, err := s.locks.Acquire(ctx, cardID)
	if err != nil {
		return nil, err
	}
	defer release()

	var card *models.Card
	err = s.store.WithinTx(ctx, func(tx storage.Tx) error {
		card, err = debitCard(ctx, tx, cardID, amount)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"card_id": cardID, "amount": amount}).
		Info("Card debited")
	return card, nil
}

// DeleteCard removes a card that no transaction references. Cards must
// outlive their audit trail, so any recorded transaction blocks deletion.
func (s *CardService) DeleteCard(ctx context.Context, cardID int64) error {
	release, err := s.locks.Acquire(ctx, cardID)
	if err != nil {
		return err
	}
	defer release()

	return s.store.WithinTx(ctx, func(tx storage.Tx) error {
		if _, err := tx.CardByID(ctx, cardID); err != nil {
			return err
		}
		n, err := tx.CountByCard(ctx, cardID)
		if err != nil {
			return err
		}
		if n > 0 {
			return errs.InvalidState("card %d has recorded transactions and cannot be deleted", cardID)
		}
		return tx.DeleteCard(ctx, cardID)
	})
}

func (s *CardService) updateCard(ctx context.Context, cardID int64, mutate func(*models.Card) error) (*models.Card, error) {
	release, err := s.locks.Acquire(ctx, cardID)
	if err != nil {
		return nil, err
	}
	defer release()

	var card *models.Card
	err = s.store.WithinTx(ctx, func(tx storage.Tx) error {
		card, err = tx.CardByID(ctx, cardID)
		if err != nil {
			return err
		}
		if err := mutate(card); err != nil {
			return err
		}
		return tx.SaveCard(ctx, card)
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"card_id": cardID, "status": card.Status()}).
		Info("Card state changed")
	return card, nil
}

// creditCard applies balance += amount inside an open unit of work.
// The caller must hold the card lock.
func creditCard(ctx context.Context, tx storage.Tx, cardID int64, amount decimal.Decimal) (*models.Card, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, errs.InvalidArgument("amount must be positive, got %s", amount)
	}
	card, err := tx.CardByID(ctx, cardID)
	if err != nil {
		return nil, err
	}
	if st := card.Status(); st != models.CardStatusActive {
		return nil, errs.InvalidState("card %d is %s", cardID, st)
	}
	card.Balance = card.Balance.Add(amount)
	if err := tx.SaveCard(ctx, card); err != nil {
		return nil, err
	}
	return card, nil
}

// debitCard applies balance -= amount inside an open unit of work, enforcing
// the solvency invariant. The caller must hold the card lock.
func debitCard(ctx context.Context, tx storage.Tx, cardID int64, amount decimal.Decimal) (*models.Card, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, errs.InvalidArgument("amount must be positive, got %s", amount)
	}
	card, err := tx.CardByID(ctx, cardID)
	if err != nil {
		return nil, err
	}
	if st := card.Status(); st != models.CardStatusActive {
		return nil, errs.InvalidState("card %d is %s", cardID, st)
	}
	if card.Balance.LessThan(amount) {
		return nil, errs.InsufficientFunds("card %d balance %s is less than %s", cardID, card.Balance, amount)
	}
	card.Balance = card.Balance.Sub(amount)
	if err := tx.SaveCard(ctx, card); err != nil {
		return nil, err
	}
	return card, nil
}

// ExpiringBefore lists cards expiring before the cutoff date.
func (s *CardService) ExpiringBefore(ctx context.Context, cutoff time.Time) ([]*models.Card, error) {
	return s.store.CardsExpiringBefore(ctx, cutoff)
}
