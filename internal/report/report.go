package report

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/bankcards/card-service/internal/models"
	"github.com/bankcards/card-service/internal/storage"
)

// Service is the read-only reporting surface over recorded transactions.
// Every query is side-effect free and reflects only committed state.
type Service struct {
	store storage.Store
	log   *logrus.Logger
}

// NewService initializes the reporting surface.
func NewService(store storage.Store, log *logrus.Logger) *Service {
	return &Service{store: store, log: log}
}

// TypeTotal is the completed money volume for one transaction type
type TypeTotal struct {
	Type  models.TransactionType `json:"type"`
	Total decimal.Decimal        `json:"total"`
}

// ByCard lists transactions touching the card on either side, newest first.
func (s *Service) ByCard(ctx context.Context, cardID int64) ([]*models.Transaction, error) {
	return s.store.ListTransactions(ctx, storage.TransactionFilter{CardID: &cardID})
}

// ByUser lists transactions touching any card owned by the user.
func (s *Service) ByUser(ctx context.Context, userID int64) ([]*models.Transaction, error) {
	return s.store.ListTransactions(ctx, storage.TransactionFilter{UserID: &userID})
}

// ByStatus lists transactions in the given status.
func (s *Service) ByStatus(ctx context.Context, status models.TransactionStatus) ([]*models.Transaction, error) {
	return s.store.ListTransactions(ctx, storage.TransactionFilter{Status: status})
}

// ByType lists transactions of the given type.
func (s *Service) ByType(ctx context.Context, t models.TransactionType) ([]*models.Transaction, error) {
	return s.store.ListTransactions(ctx, storage.TransactionFilter{Type: t})
}

// ByDateRange lists transactions created within [from, to].
func (s *Service) ByDateRange(ctx context.Context, from, to time.Time) ([]*models.Transaction, error) {
	return s.store.ListTransactions(ctx, storage.TransactionFilter{From: &from, To: &to})
}

// RecentByCard lists the most recent limit transactions for the card.
func (s *Service) RecentByCard(ctx context.Context, cardID int64, limit int) ([]*models.Transaction, error) {
	return s.store.ListTransactions(ctx, storage.TransactionFilter{CardID: &cardID, Limit: limit})
}

// TotalCompletedByType sums the COMPLETED amount for one transaction type.
func (s *Service) TotalCompletedByType(ctx context.Context, t models.TransactionType) (TypeTotal, error) {
	sum, err := s.store.SumCompletedByType(ctx, t)
	if err != nil {
		return TypeTotal{}, err
	}
	return TypeTotal{Type: t, Total: sum}, nil
}

// FailuresSince lists FAILED and CANCELLED transactions created at or after
// the given timestamp, newest first.
func (s *Service) FailuresSince(ctx context.Context, since time.Time) ([]*models.Transaction, error) {
	failed, err := s.store.ListTransactions(ctx, storage.TransactionFilter{
		Status: models.TransactionStatusFailed, From: &since,
	})
	if err != nil {
		return nil, err
	}
	cancelled, err := s.store.ListTransactions(ctx, storage.TransactionFilter{
		Status: models.TransactionStatusCancelled, From: &since,
	})
	if err != nil {
		return nil, err
	}

	out := append(failed, cancelled...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}
