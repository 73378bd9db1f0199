package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CardType classifies an issued payment instrument
type CardType string

const (
	CardTypeCredit  CardType = "CREDIT"
	CardTypeDebit   CardType = "DEBIT"
	CardTypeVirtual CardType = "VIRTUAL"
)

// CardStatus is derived from the activity flag and expiry date, never stored
type CardStatus string

const (
	CardStatusActive  CardStatus = "ACTIVE"
	CardStatusBlocked CardStatus = "BLOCKED"
	CardStatusExpired CardStatus = "EXPIRED"
)

// Card represents a bank card
type Card struct {
	ID              int64           `json:"id"`
	UserID          int64           `json:"user_id"`
	EncryptedNumber string          `json:"-"`                     // AES-GCM ciphertext as persisted
	NumberHMAC      string          `json:"-"`                     // Deterministic fingerprint for lookups
	Number          string          `json:"card_number,omitempty"` // Plaintext, populated only on create
	HolderName      string          `json:"holder_name"`
	ExpiryDate      time.Time       `json:"expiry_date"`
	CVVHash         string          `json:"-"` // Not serialized
	Type            CardType        `json:"card_type"`
	Balance         decimal.Decimal `json:"balance"`
	Active          bool            `json:"active"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Status computes the derived card status: an inactive card is BLOCKED, an
// active card past its expiry date is EXPIRED, otherwise ACTIVE.
func (c *Card) Status() CardStatus {
	return c.StatusAt(time.Now())
}

// StatusAt computes the derived status against the given reference time.
func (c *Card) StatusAt(now time.Time) CardStatus {
	if !c.Active {
		return CardStatusBlocked
	}
	if c.ExpiryDate.Before(truncateToDay(now)) {
		return CardStatusExpired
	}
	return CardStatusActive
}

// Expired reports whether the card's expiry date has passed
func (c *Card) Expired() bool {
	return c.ExpiryDate.Before(truncateToDay(time.Now()))
}

func truncateToDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
