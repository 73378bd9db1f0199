package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType identifies the kind of money movement
type TransactionType string

const (
	TransactionTypeTransfer   TransactionType = "TRANSFER"
	TransactionTypePayment    TransactionType = "PAYMENT"
	TransactionTypeDeposit    TransactionType = "DEPOSIT"
	TransactionTypeWithdrawal TransactionType = "WITHDRAWAL"
	TransactionTypeRefund     TransactionType = "REFUND"
)

// TransactionStatus is the lifecycle state of a transaction. PENDING is the
// only non-terminal status.
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "PENDING"
	TransactionStatusCompleted TransactionStatus = "COMPLETED"
	TransactionStatusFailed    TransactionStatus = "FAILED"
	TransactionStatusCancelled TransactionStatus = "CANCELLED"
)

// Terminal reports whether no further status transition is permitted.
func (s TransactionStatus) Terminal() bool {
	return s == TransactionStatusCompleted || s == TransactionStatusFailed || s == TransactionStatusCancelled
}

// Transaction represents one attempted money movement between cards
type Transaction struct {
	ID          int64             `json:"id"`
	Reference   string            `json:"reference"` // Opaque external identifier
	FromCardID  *int64            `json:"from_card_id,omitempty"`
	ToCardID    *int64            `json:"to_card_id,omitempty"`
	Amount      decimal.Decimal   `json:"amount"`
	Currency    string            `json:"currency"`
	Type        TransactionType   `json:"type"`
	Description string            `json:"description"`
	Status      TransactionStatus `json:"status"`
	OriginalID  *int64            `json:"original_id,omitempty"` // Set on REFUND only
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// TouchesCard reports whether the transaction references the card on either side.
func (t *Transaction) TouchesCard(cardID int64) bool {
	if t.FromCardID != nil && *t.FromCardID == cardID {
		return true
	}
	return t.ToCardID != nil && *t.ToCardID == cardID
}
