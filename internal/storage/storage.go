package storage

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bankcards/card-service/internal/models"
)

// CardStore persists cards. Implementations return errs.NotFound for
// unresolved IDs and never hand out aliased pointers to live records.
type CardStore interface {
	CreateCard(ctx context.Context, card *models.Card) error
	CardByID(ctx context.Context, id int64) (*models.Card, error)
	CardByFingerprint(ctx context.Context, hmac string) (*models.Card, error)
	CardsByUser(ctx context.Context, userID int64) ([]*models.Card, error)
	CardsExpiringBefore(ctx context.Context, cutoff time.Time) ([]*models.Card, error)
	SaveCard(ctx context.Context, card *models.Card) error
	DeleteCard(ctx context.Context, id int64) error
}

// TransactionFilter narrows transaction listings. Zero values mean "any".
type TransactionFilter struct {
	CardID *int64
	UserID *int64
	Status models.TransactionStatus
	Type   models.TransactionType
	From   *time.Time
	To     *time.Time
	Limit  int
}

// TransactionStore persists the money-movement audit trail.
type TransactionStore interface {
	CreateTransaction(ctx context.Context, tx *models.Transaction) error
	TransactionByID(ctx context.Context, id int64) (*models.Transaction, error)
	SaveTransaction(ctx context.Context, tx *models.Transaction) error
	ListTransactions(ctx context.Context, f TransactionFilter) ([]*models.Transaction, error)
	CountByCard(ctx context.Context, cardID int64) (int64, error)
	SumCompletedByType(ctx context.Context, t models.TransactionType) (decimal.Decimal, error)
	RefundExists(ctx context.Context, originalID int64) (bool, error)
}

// UserStore persists card owners.
type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	UserByID(ctx context.Context, id int64) (*models.User, error)
}

// Tx is the view of the store inside one unit of work.
type Tx interface {
	CardStore
	TransactionStore
	UserStore
}

// Store is the persistence collaborator. Reads outside WithinTx observe only
// committed state; WithinTx commits every write of fn together or none of them.
type Store interface {
	Tx
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}
