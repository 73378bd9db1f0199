package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bankcards/card-service/internal/errs"
	"github.com/bankcards/card-service/internal/models"
)

// Memory is an in-memory Store. It backs the test suites and works as a
// standalone deployment for demos; the postgres store is the production path.
type Memory struct {
	mu      sync.RWMutex
	cards   map[int64]*models.Card
	txs     map[int64]*models.Transaction
	users   map[int64]*models.User
	cardSeq int64
	txSeq   int64
	userSeq int64
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		cards: make(map[int64]*models.Card),
		txs:   make(map[int64]*models.Transaction),
		users: make(map[int64]*models.User),
	}
}

// memTx is the unit-of-work view. The store lock is held for the whole tx;
// writes go to the live maps and the snapshot restores them on rollback.
type memTx struct {
	s *Memory
}

// WithinTx runs fn under the store lock. On error every map is restored from
// a snapshot taken at entry, so partial mutations never commit.
func (m *Memory) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	snapCards := snapshotMap(m.cards, copyCard)
	snapTxs := snapshotMap(m.txs, copyTransaction)
	snapUsers := snapshotMap(m.users, copyUser)
	seqC, seqT, seqU := m.cardSeq, m.txSeq, m.userSeq

	if err := fn(&memTx{s: m}); err != nil {
		m.cards, m.txs, m.users = snapCards, snapTxs, snapUsers
		m.cardSeq, m.txSeq, m.userSeq = seqC, seqT, seqU
		return err
	}
	return nil
}

func snapshotMap[V any](src map[int64]*V, cp func(*V) *V) map[int64]*V {
	out := make(map[int64]*V, len(src))
	for k, v := range src {
		out[k] = cp(v)
	}
	return out
}

func copyCard(c *models.Card) *models.Card {
	cp := *c
	return &cp
}

func copyTransaction(t *models.Transaction) *models.Transaction {
	cp := *t
	if t.FromCardID != nil {
		v := *t.FromCardID
		cp.FromCardID = &v
	}
	if t.ToCardID != nil {
		v := *t.ToCardID
		cp.ToCardID = &v
	}
	if t.OriginalID != nil {
		v := *t.OriginalID
		cp.OriginalID = &v
	}
	return &cp
}

func copyUser(u *models.User) *models.User {
	cp := *u
	return &cp
}

// ---- locked implementations shared by Memory (autocommit) and memTx ----

func (m *Memory) createCard(card *models.Card) error {
	if card.NumberHMAC != "" {
		for _, c := range m.cards {
			if c.NumberHMAC == card.NumberHMAC {
				return errs.InvalidArgument("card number already exists")
			}
		}
	}
	m.cardSeq++
	card.ID = m.cardSeq
	now := time.Now()
	card.CreatedAt = now
	card.UpdatedAt = now
	m.cards[card.ID] = copyCard(card)
	return nil
}

func (m *Memory) cardByID(id int64) (*models.Card, error) {
	c, ok := m.cards[id]
	if !ok {
		return nil, errs.NotFound("card %d not found", id)
	}
	return copyCard(c), nil
}

func (m *Memory) cardByFingerprint(hmac string) (*models.Card, error) {
	for _, c := range m.cards {
		if c.NumberHMAC == hmac {
			return copyCard(c), nil
		}
	}
	return nil, errs.NotFound("card not found by number")
}

func (m *Memory) cardsByUser(userID int64) []*models.Card {
	var out []*models.Card
	for _, c := range m.cards {
		if c.UserID == userID {
			out = append(out, copyCard(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Memory) cardsExpiringBefore(cutoff time.Time) []*models.Card {
	var out []*models.Card
	for _, c := range m.cards {
		if c.ExpiryDate.Before(cutoff) {
			out = append(out, copyCard(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Memory) saveCard(card *models.Card) error {
	if _, ok := m.cards[card.ID]; !ok {
		return errs.NotFound("card %d not found", card.ID)
	}
	card.UpdatedAt = time.Now()
	m.cards[card.ID] = copyCard(card)
	return nil
}

func (m *Memory) deleteCard(id int64) error {
	if _, ok := m.cards[id]; !ok {
		return errs.NotFound("card %d not found", id)
	}
	delete(m.cards, id)
	return nil
}

func (m *Memory) createTransaction(tx *models.Transaction) error {
	m.txSeq++
	tx.ID = m.txSeq
	now := time.Now()
	tx.CreatedAt = now
	tx.UpdatedAt = now
	m.txs[tx.ID] = copyTransaction(tx)
	return nil
}

func (m *Memory) transactionByID(id int64) (*models.Transaction, error) {
	t, ok := m.txs[id]
	if !ok {
		return nil, errs.NotFound("transaction %d not found", id)
	}
	return copyTransaction(t), nil
}

func (m *Memory) saveTransaction(tx *models.Transaction) error {
	if _, ok := m.txs[tx.ID]; !ok {
		return errs.NotFound("transaction %d not found", tx.ID)
	}
	tx.UpdatedAt = time.Now()
	m.txs[tx.ID] = copyTransaction(tx)
	return nil
}

func (m *Memory) listTransactions(f TransactionFilter) []*models.Transaction {
	var userCards map[int64]bool
	if f.UserID != nil {
		userCards = make(map[int64]bool)
		for _, c := range m.cards {
			if c.UserID == *f.UserID {
				userCards[c.ID] = true
			}
		}
	}

	var out []*models.Transaction
	for _, t := range m.txs {
		if f.CardID != nil && !t.TouchesCard(*f.CardID) {
			continue
		}
		if userCards != nil && !touchesAny(t, userCards) {
			continue
		}
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		if f.Type != "" && t.Type != f.Type {
			continue
		}
		if f.From != nil && t.CreatedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && t.CreatedAt.After(*f.To) {
			continue
		}
		out = append(out, copyTransaction(t))
	}
	// Newest first, ID as the tiebreaker
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

func touchesAny(t *models.Transaction, cards map[int64]bool) bool {
	if t.FromCardID != nil && cards[*t.FromCardID] {
		return true
	}
	return t.ToCardID != nil && cards[*t.ToCardID]
}

func (m *Memory) countByCard(cardID int64) int64 {
	var n int64
	for _, t := range m.txs {
		if t.TouchesCard(cardID) {
			n++
		}
	}
	return n
}

func (m *Memory) sumCompletedByType(tt models.TransactionType) decimal.Decimal {
	sum := decimal.Zero
	for _, t := range m.txs {
		if t.Type == tt && t.Status == models.TransactionStatusCompleted {
			sum = sum.Add(t.Amount)
		}
	}
	return sum
}

func (m *Memory) refundExists(originalID int64) bool {
	for _, t := range m.txs {
		if t.Type == models.TransactionTypeRefund && t.OriginalID != nil &&
			*t.OriginalID == originalID && t.Status != models.TransactionStatusFailed {
			return true
		}
	}
	return false
}

func (m *Memory) createUser(user *models.User) error {
	m.userSeq++
	user.ID = m.userSeq
	user.CreatedAt = time.Now()
	m.users[user.ID] = copyUser(user)
	return nil
}

func (m *Memory) userByID(id int64) (*models.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, errs.NotFound("user %d not found", id)
	}
	return copyUser(u), nil
}

// ---- autocommit surface ----

func (m *Memory) CreateCard(ctx context.Context, card *models.Card) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createCard(card)
}

func (m *Memory) CardByID(ctx context.Context, id int64) (*models.Card, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cardByID(id)
}

func (m *Memory) CardByFingerprint(ctx context.Context, hmac string) (*models.Card, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cardByFingerprint(hmac)
}

func (m *Memory) CardsByUser(ctx context.Context, userID int64) ([]*models.Card, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cardsByUser(userID), nil
}

func (m *Memory) CardsExpiringBefore(ctx context.Context, cutoff time.Time) ([]*models.Card, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cardsExpiringBefore(cutoff), nil
}

func (m *Memory) SaveCard(ctx context.Context, card *models.Card) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveCard(card)
}

func (m *Memory) DeleteCard(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteCard(id)
}

func (m *Memory) CreateTransaction(ctx context.Context, tx *models.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createTransaction(tx)
}

func (m *Memory) TransactionByID(ctx context.Context, id int64) (*models.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.transactionByID(id)
}

func (m *Memory) SaveTransaction(ctx context.Context, tx *models.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveTransaction(tx)
}

func (m *Memory) ListTransactions(ctx context.Context, f TransactionFilter) ([]*models.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listTransactions(f), nil
}

func (m *Memory) CountByCard(ctx context.Context, cardID int64) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.countByCard(cardID), nil
}

func (m *Memory) SumCompletedByType(ctx context.Context, t models.TransactionType) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sumCompletedByType(t), nil
}

func (m *Memory) RefundExists(ctx context.Context, originalID int64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.refundExists(originalID), nil
}

func (m *Memory) CreateUser(ctx context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createUser(user)
}

func (m *Memory) UserByID(ctx context.Context, id int64) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.userByID(id)
}

// ---- unit-of-work surface (store lock already held) ----

func (t *memTx) CreateCard(ctx context.Context, card *models.Card) error {
	return t.s.createCard(card)
}

func (t *memTx) CardByID(ctx context.Context, id int64) (*models.Card, error) {
	return t.s.cardByID(id)
}

func (t *memTx) CardByFingerprint(ctx context.Context, hmac string) (*models.Card, error) {
	return t.s.cardByFingerprint(hmac)
}

func (t *memTx) CardsByUser(ctx context.Context, userID int64) ([]*models.Card, error) {
	return t.s.cardsByUser(userID), nil
}

func (t *memTx) CardsExpiringBefore(ctx context.Context, cutoff time.Time) ([]*models.Card, error) {
	return t.s.cardsExpiringBefore(cutoff), nil
}

func (t *memTx) SaveCard(ctx context.Context, card *models.Card) error {
	return t.s.saveCard(card)
}

func (t *memTx) DeleteCard(ctx context.Context, id int64) error {
	return t.s.deleteCard(id)
}

func (t *memTx) CreateTransaction(ctx context.Context, tx *models.Transaction) error {
	return t.s.createTransaction(tx)
}

func (t *memTx) TransactionByID(ctx context.Context, id int64) (*models.Transaction, error) {
	return t.s.transactionByID(id)
}

func (t *memTx) SaveTransaction(ctx context.Context, tx *models.Transaction) error {
	return t.s.saveTransaction(tx)
}

func (t *memTx) ListTransactions(ctx context.Context, f TransactionFilter) ([]*models.Transaction, error) {
	return t.s.listTransactions(f), nil
}

func (t *memTx) CountByCard(ctx context.Context, cardID int64) (int64, error) {
	return t.s.countByCard(cardID), nil
}

func (t *memTx) SumCompletedByType(ctx context.Context, tt models.TransactionType) (decimal.Decimal, error) {
	return t.s.sumCompletedByType(tt), nil
}

func (t *memTx) RefundExists(ctx context.Context, originalID int64) (bool, error) {
	return t.s.refundExists(originalID), nil
}

func (t *memTx) CreateUser(ctx context.Context, user *models.User) error {
	return t.s.createUser(user)
}

func (t *memTx) UserByID(ctx context.Context, id int64) (*models.User, error) {
	return t.s.userByID(id)
}
