package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/bankcards/card-service/internal/errs"
	"github.com/bankcards/card-service/internal/models"
)

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// pgStore implements the store surface against either *sql.DB (autocommit)
// or *sql.Tx (unit of work).
type pgStore struct {
	q queryer
}

// Postgres is the production Store backed by lib/pq.
type Postgres struct {
	pgStore
	db *sql.DB
}

// NewPostgres wraps an open database handle.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{pgStore: pgStore{q: db}, db: db}
}

// WithinTx runs fn inside a single database transaction. Every write commits
// together or rolls back together.
func (p *Postgres) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	sqlTx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(&pgStore{q: sqlTx}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (after: %w)", rbErr, err)
		}
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Migrate creates the schema if it does not exist yet.
func (p *Postgres) Migrate(ctx context.Context) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS users (
			id BIGSERIAL PRIMARY KEY,
			username TEXT NOT NULL,
			email TEXT NOT NULL UNIQUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS cards (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL REFERENCES users(id),
			encrypted_number TEXT NOT NULL,
			number_hmac TEXT NOT NULL UNIQUE,
			holder_name TEXT NOT NULL,
			expiry_date DATE NOT NULL,
			cvv_hash TEXT NOT NULL,
			card_type TEXT NOT NULL,
			balance NUMERIC(15,2) NOT NULL DEFAULT 0,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS transactions (
			id BIGSERIAL PRIMARY KEY,
			reference TEXT NOT NULL UNIQUE,
			from_card_id BIGINT REFERENCES cards(id),
			to_card_id BIGINT REFERENCES cards(id),
			amount NUMERIC(15,2) NOT NULL,
			currency CHAR(3) NOT NULL,
			type TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			original_id BIGINT REFERENCES transactions(id),
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_cards_user ON cards(user_id);
		CREATE INDEX IF NOT EXISTS idx_tx_from_card ON transactions(from_card_id);
		CREATE INDEX IF NOT EXISTS idx_tx_to_card ON transactions(to_card_id);
		CREATE INDEX IF NOT EXISTS idx_tx_created ON transactions(created_at);`
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

const cardColumns = `id, user_id, encrypted_number, number_hmac, holder_name,
	expiry_date, cvv_hash, card_type, balance, active, created_at, updated_at`

func scanCard(row interface{ Scan(...interface{}) error }) (*models.Card, error) {
	card := &models.Card{}
	err := row.Scan(&card.ID, &card.UserID, &card.EncryptedNumber, &card.NumberHMAC,
		&card.HolderName, &card.ExpiryDate, &card.CVVHash, &card.Type,
		&card.Balance, &card.Active, &card.CreatedAt, &card.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return card, nil
}

// CreateCard inserts a new card record
func (s *pgStore) CreateCard(ctx context.Context, card *models.Card) error {
	query := `
		INSERT INTO cards (user_id, encrypted_number, number_hmac, holder_name,
			expiry_date, cvv_hash, card_type, balance, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		RETURNING id, created_at, updated_at`
	err := s.q.QueryRowContext(ctx, query, card.UserID, card.EncryptedNumber,
		card.NumberHMAC, card.HolderName, card.ExpiryDate, card.CVVHash,
		card.Type, card.Balance, card.Active).
		Scan(&card.ID, &card.CreatedAt, &card.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return errs.InvalidArgument("card number already exists")
		}
		return fmt.Errorf("failed to create card: %w", err)
	}
	return nil
}

// CardByID retrieves a card, taking a row lock when called inside a unit of
// work so concurrent balance mutations serialize at the database as well.
func (s *pgStore) CardByID(ctx context.Context, id int64) (*models.Card, error) {
	query := `SELECT ` + cardColumns + ` FROM cards WHERE id = $1`
	if _, inTx := s.q.(*sql.Tx); inTx {
		query += ` FOR UPDATE`
	}
	card, err := scanCard(s.q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("card %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find card: %w", err)
	}
	return card, nil
}

// CardByFingerprint retrieves a card by the deterministic number fingerprint
func (s *pgStore) CardByFingerprint(ctx context.Context, hmac string) (*models.Card, error) {
	query := `SELECT ` + cardColumns + ` FROM cards WHERE number_hmac = $1`
	card, err := scanCard(s.q.QueryRowContext(ctx, query, hmac))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("card not found by number")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find card: %w", err)
	}
	return card, nil
}

// CardsByUser lists all cards owned by the user
func (s *pgStore) CardsByUser(ctx context.Context, userID int64) ([]*models.Card, error) {
	query := `SELECT ` + cardColumns + ` FROM cards WHERE user_id = $1 ORDER BY id`
	return s.queryCards(ctx, query, userID)
}

// CardsExpiringBefore lists cards whose expiry date falls before the cutoff
func (s *pgStore) CardsExpiringBefore(ctx context.Context, cutoff time.Time) ([]*models.Card, error) {
	query := `SELECT ` + cardColumns + ` FROM cards WHERE expiry_date < $1 ORDER BY id`
	return s.queryCards(ctx, query, cutoff)
}

func (s *pgStore) queryCards(ctx context.Context, query string, args ...interface{}) ([]*models.Card, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list cards: %w", err)
	}
	defer rows.Close()

	var cards []*models.Card
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan card: %w", err)
		}
		cards = append(cards, card)
	}
	return cards, rows.Err()
}

// SaveCard updates the mutable card fields
func (s *pgStore) SaveCard(ctx context.Context, card *models.Card) error {
	query := `
		UPDATE cards
		SET balance = $2, active = $3, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
		RETURNING updated_at`
	err := s.q.QueryRowContext(ctx, query, card.ID, card.Balance, card.Active).
		Scan(&card.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return errs.NotFound("card %d not found", card.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to save card: %w", err)
	}
	return nil
}

// DeleteCard removes a card record
func (s *pgStore) DeleteCard(ctx context.Context, id int64) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM cards WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete card: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete card: %w", err)
	}
	if n == 0 {
		return errs.NotFound("card %d not found", id)
	}
	return nil
}

const txColumns = `id, reference, from_card_id, to_card_id, amount, currency,
	type, description, status, original_id, created_at, updated_at`

func scanTransaction(row interface{ Scan(...interface{}) error }) (*models.Transaction, error) {
	tx := &models.Transaction{}
	var fromID, toID, origID sql.NullInt64
	err := row.Scan(&tx.ID, &tx.Reference, &fromID, &toID, &tx.Amount, &tx.Currency,
		&tx.Type, &tx.Description, &tx.Status, &origID, &tx.CreatedAt, &tx.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if fromID.Valid {
		tx.FromCardID = &fromID.Int64
	}
	if toID.Valid {
		tx.ToCardID = &toID.Int64
	}
	if origID.Valid {
		tx.OriginalID = &origID.Int64
	}
	return tx, nil
}

// CreateTransaction inserts a new transaction record
func (s *pgStore) CreateTransaction(ctx context.Context, tx *models.Transaction) error {
	query := `
		INSERT INTO transactions (reference, from_card_id, to_card_id, amount,
			currency, type, description, status, original_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		RETURNING id, created_at, updated_at`
	err := s.q.QueryRowContext(ctx, query, tx.Reference, tx.FromCardID, tx.ToCardID,
		tx.Amount, tx.Currency, tx.Type, tx.Description, tx.Status, tx.OriginalID).
		Scan(&tx.ID, &tx.CreatedAt, &tx.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

// TransactionByID retrieves a transaction
func (s *pgStore) TransactionByID(ctx context.Context, id int64) (*models.Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM transactions WHERE id = $1`
	if _, inTx := s.q.(*sql.Tx); inTx {
		query += ` FOR UPDATE`
	}
	tx, err := scanTransaction(s.q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("transaction %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find transaction: %w", err)
	}
	return tx, nil
}

// SaveTransaction updates the transaction status and description
func (s *pgStore) SaveTransaction(ctx context.Context, tx *models.Transaction) error {
	query := `
		UPDATE transactions
		SET status = $2, description = $3, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
		RETURNING updated_at`
	err := s.q.QueryRowContext(ctx, query, tx.ID, tx.Status, tx.Description).
		Scan(&tx.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return errs.NotFound("transaction %d not found", tx.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to save transaction: %w", err)
	}
	return nil
}

// ListTransactions lists transactions matching the filter, newest first
func (s *pgStore) ListTransactions(ctx context.Context, f TransactionFilter) ([]*models.Transaction, error) {
	var conds []string
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.CardID != nil {
		p := arg(*f.CardID)
		conds = append(conds, fmt.Sprintf("(from_card_id = %s OR to_card_id = %s)", p, p))
	}
	if f.UserID != nil {
		p := arg(*f.UserID)
		conds = append(conds, fmt.Sprintf(
			`(from_card_id IN (SELECT id FROM cards WHERE user_id = %s)
			  OR to_card_id IN (SELECT id FROM cards WHERE user_id = %s))`, p, p))
	}
	if f.Status != "" {
		conds = append(conds, "status = "+arg(string(f.Status)))
	}
	if f.Type != "" {
		conds = append(conds, "type = "+arg(string(f.Type)))
	}
	if f.From != nil {
		conds = append(conds, "created_at >= "+arg(*f.From))
	}
	if f.To != nil {
		conds = append(conds, "created_at <= "+arg(*f.To))
	}

	query := `SELECT ` + txColumns + ` FROM transactions`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var txs []*models.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// CountByCard counts transactions touching the card on either side
func (s *pgStore) CountByCard(ctx context.Context, cardID int64) (int64, error) {
	var n int64
	query := `SELECT COUNT(*) FROM transactions WHERE from_card_id = $1 OR to_card_id = $1`
	if err := s.q.QueryRowContext(ctx, query, cardID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return n, nil
}

// SumCompletedByType sums the COMPLETED amount for one transaction type
func (s *pgStore) SumCompletedByType(ctx context.Context, t models.TransactionType) (decimal.Decimal, error) {
	var sum decimal.Decimal
	query := `
		SELECT COALESCE(SUM(amount), 0) FROM transactions
		WHERE type = $1 AND status = $2`
	err := s.q.QueryRowContext(ctx, query, t, models.TransactionStatusCompleted).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum transactions: %w", err)
	}
	return sum, nil
}

// RefundExists reports whether a non-failed refund already references the original
func (s *pgStore) RefundExists(ctx context.Context, originalID int64) (bool, error) {
	var exists bool
	query := `
		SELECT EXISTS (
			SELECT 1 FROM transactions
			WHERE type = $1 AND original_id = $2 AND status <> $3
		)`
	err := s.q.QueryRowContext(ctx, query, models.TransactionTypeRefund, originalID,
		models.TransactionStatusFailed).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check refund: %w", err)
	}
	return exists, nil
}

// CreateUser creates a new user record
func (s *pgStore) CreateUser(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (username, email, created_at)
		VALUES ($1, $2, CURRENT_TIMESTAMP)
		RETURNING id, created_at`
	err := s.q.QueryRowContext(ctx, query, user.Username, user.Email).
		Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// UserByID retrieves a user
func (s *pgStore) UserByID(ctx context.Context, id int64) (*models.User, error) {
	user := &models.User{}
	query := `SELECT id, username, email, created_at FROM users WHERE id = $1`
	err := s.q.QueryRowContext(ctx, query, id).
		Scan(&user.ID, &user.Username, &user.Email, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("user %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return user, nil
}
