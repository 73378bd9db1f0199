package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/bankcards/card-service/internal/errs"
	"github.com/bankcards/card-service/internal/models"
	"github.com/bankcards/card-service/internal/report"
	"github.com/bankcards/card-service/internal/service"
)

// Handler exposes the ledger core over HTTP. Requests arrive already
// authorized; ownership and role checks belong to the caller.
type Handler struct {
	users   *service.UserService
	cards   *service.CardService
	txs     *service.TransactionService
	reports *report.Service
	log     *logrus.Logger
}

// NewHandler initializes the HTTP layer.
func NewHandler(users *service.UserService, cards *service.CardService, txs *service.TransactionService, reports *report.Service, log *logrus.Logger) *Handler {
	return &Handler{users: users, cards: cards, txs: txs, reports: reports, log: log}
}

// Register attaches all routes to the router.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/users", h.RegisterUser).Methods("POST")
	r.HandleFunc("/users/{id}", h.GetUser).Methods("GET")
	r.HandleFunc("/cards", h.CreateCard).Methods("POST")
	r.HandleFunc("/cards/{id}", h.GetCard).Methods("GET")
	r.HandleFunc("/cards/{id}", h.DeleteCard).Methods("DELETE")
	r.HandleFunc("/cards/{id}/activate", h.cardAction(h.cards.Activate)).Methods("POST")
	r.HandleFunc("/cards/{id}/block", h.cardAction(h.cards.Block)).Methods("POST")
	r.HandleFunc("/cards/{id}/unblock", h.cardAction(h.cards.Unblock)).Methods("POST")
	r.HandleFunc("/cards/{id}/credit", h.CreditCard).Methods("POST")
	r.HandleFunc("/cards/{id}/debit", h.DebitCard).Methods("POST")
	r.HandleFunc("/cards/{id}/transactions", h.CardTransactions).Methods("GET")
	r.HandleFunc("/cards/{id}/statement", h.Statement).Methods("GET")
	r.HandleFunc("/users/{id}/cards", h.UserCards).Methods("GET")
	r.HandleFunc("/users/{id}/transactions", h.UserTransactions).Methods("GET")
	r.HandleFunc("/transfers", h.CreateTransfer).Methods("POST")
	r.HandleFunc("/payments", h.CreatePayment).Methods("POST")
	r.HandleFunc("/deposits", h.CreateDeposit).Methods("POST")
	r.HandleFunc("/withdrawals", h.CreateWithdrawal).Methods("POST")
	r.HandleFunc("/transactions", h.ListTransactions).Methods("GET")
	r.HandleFunc("/transactions/{id}", h.GetTransaction).Methods("GET")
	r.HandleFunc("/transactions/{id}/confirm", h.ConfirmTransaction).Methods("POST")
	r.HandleFunc("/transactions/{id}/cancel", h.CancelTransaction).Methods("POST")
	r.HandleFunc("/transactions/{id}/refund", h.Refund).Methods("POST")
	r.HandleFunc("/reports/totals", h.TypeTotal).Methods("GET")
}

type cardResponse struct {
	*models.Card
	MaskedNumber string `json:"masked_number"`
}

func (h *Handler) cardJSON(card *models.Card) cardResponse {
	return cardResponse{Card: card, MaskedNumber: h.cards.MaskedNumber(card)}
}

// RegisterUser creates a new card owner
func (h *Handler) RegisterUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	user, err := h.users.RegisterUser(r.Context(), req.Username, req.Email)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, user)
}

// GetUser returns one user
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	user, err := h.users.GetUser(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, user)
}

// CreateCard issues a new card
func (h *Handler) CreateCard(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID     int64           `json:"user_id"`
		HolderName string          `json:"holder_name"`
		CardType   models.CardType `json:"card_type"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	card, cvv, err := h.cards.CreateCard(r.Context(), req.UserID, req.HolderName, req.CardType)
	if err != nil {
		h.writeError(w, err)
		return
	}
	// The plaintext number and CVV appear in this response only
	h.writeJSON(w, http.StatusCreated, struct {
		cardResponse
		CVV string `json:"cvv"`
	}{h.cardJSON(card), cvv})
}

// GetCard returns one card with the masked number
func (h *Handler) GetCard(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	card, err := h.cards.GetCard(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.cardJSON(card))
}

// DeleteCard removes a card without transaction history
func (h *Handler) DeleteCard(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.cards.DeleteCard(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) cardAction(fn func(ctx context.Context, id int64) (*models.Card, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := h.pathID(w, r)
		if !ok {
			return
		}
		card, err := fn(r.Context(), id)
		if err != nil {
			h.writeError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, h.cardJSON(card))
	}
}

// CreditCard adds funds to a card
func (h *Handler) CreditCard(w http.ResponseWriter, r *http.Request) {
	h.balanceOp(w, r, h.cards.Credit)
}

// DebitCard removes funds from a card
func (h *Handler) DebitCard(w http.ResponseWriter, r *http.Request) {
	h.balanceOp(w, r, h.cards.Debit)
}

func (h *Handler) balanceOp(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id int64, amount decimal.Decimal) (*models.Card, error)) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		Amount decimal.Decimal `json:"amount"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	card, err := fn(r.Context(), id, req.Amount)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.cardJSON(card))
}

// UserCards lists the cards owned by a user
func (h *Handler) UserCards(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	cards, err := h.cards.ListCards(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	out := make([]cardResponse, 0, len(cards))
	for _, c := range cards {
		out = append(out, h.cardJSON(c))
	}
	h.writeJSON(w, http.StatusOK, out)
}

// CreateTransfer moves money between two cards
func (h *Handler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FromCardID  int64           `json:"from_card_id"`
		ToCardID    int64           `json:"to_card_id"`
		Amount      decimal.Decimal `json:"amount"`
		Description string          `json:"description"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	tx, err := h.txs.CreateTransfer(r.Context(), req.FromCardID, req.ToCardID, req.Amount, req.Description)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, tx)
}

// CreatePayment debits a card in favour of an external payee
func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FromCardID  int64           `json:"from_card_id"`
		Amount      decimal.Decimal `json:"amount"`
		Description string          `json:"description"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	tx, err := h.txs.CreatePayment(r.Context(), req.FromCardID, req.Amount, req.Description)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, tx)
}

// CreateDeposit records a pending incoming settlement
func (h *Handler) CreateDeposit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ToCardID    int64           `json:"to_card_id"`
		Amount      decimal.Decimal `json:"amount"`
		Description string          `json:"description"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	tx, err := h.txs.CreateDeposit(r.Context(), req.ToCardID, req.Amount, req.Description)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, tx)
}

// CreateWithdrawal records a pending outgoing settlement
func (h *Handler) CreateWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FromCardID  int64           `json:"from_card_id"`
		Amount      decimal.Decimal `json:"amount"`
		Description string          `json:"description"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	tx, err := h.txs.CreateWithdrawal(r.Context(), req.FromCardID, req.Amount, req.Description)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, tx)
}

// GetTransaction returns one transaction
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	tx, err := h.txs.GetTransaction(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, tx)
}

// ConfirmTransaction executes a pending transaction
func (h *Handler) ConfirmTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	tx, err := h.txs.ConfirmTransaction(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, tx)
}

// CancelTransaction cancels a pending transaction
func (h *Handler) CancelTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	tx, err := h.txs.CancelTransaction(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, tx)
}

// Refund reverses a completed transfer or payment
func (h *Handler) Refund(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength > 0 && !h.decode(w, r, &req) {
		return
	}
	tx, err := h.txs.Refund(r.Context(), id, req.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, tx)
}

// CardTransactions lists transactions for a card, optionally limited
func (h *Handler) CardTransactions(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.writeError(w, errs.InvalidArgument("invalid limit %q", v))
			return
		}
		limit = n
	}
	var (
		txs []*models.Transaction
		err error
	)
	if limit > 0 {
		txs, err = h.reports.RecentByCard(r.Context(), id, limit)
	} else {
		txs, err = h.reports.ByCard(r.Context(), id)
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, txs)
}

// UserTransactions lists transactions across all cards of a user
func (h *Handler) UserTransactions(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	txs, err := h.reports.ByUser(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, txs)
}

// ListTransactions filters transactions by status, type and date range
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if status := q.Get("status"); status != "" {
		txs, err := h.reports.ByStatus(r.Context(), models.TransactionStatus(status))
		if err != nil {
			h.writeError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, txs)
		return
	}
	if t := q.Get("type"); t != "" {
		txs, err := h.reports.ByType(r.Context(), models.TransactionType(t))
		if err != nil {
			h.writeError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, txs)
		return
	}
	from, to, ok := h.dateRange(w, q.Get("from"), q.Get("to"))
	if !ok {
		return
	}
	txs, err := h.reports.ByDateRange(r.Context(), from, to)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, txs)
}

// TypeTotal returns the completed volume for one transaction type
func (h *Handler) TypeTotal(w http.ResponseWriter, r *http.Request) {
	t := r.URL.Query().Get("type")
	if t == "" {
		h.writeError(w, errs.InvalidArgument("type query parameter is required"))
		return
	}
	total, err := h.reports.TotalCompletedByType(r.Context(), models.TransactionType(t))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, total)
}

// Statement returns the XML statement for a card over a date range
func (h *Handler) Statement(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	from, to, ok := h.dateRange(w, q.Get("from"), q.Get("to"))
	if !ok {
		return
	}
	xml, err := h.reports.Statement(r.Context(), h.cards, id, from, to)
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	w.Write(xml)
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		h.writeError(w, errs.InvalidArgument("invalid id %q", raw))
		return 0, false
	}
	return id, true
}

func (h *Handler) dateRange(w http.ResponseWriter, fromStr, toStr string) (time.Time, time.Time, bool) {
	from := time.Time{}
	to := time.Now()
	var err error
	if fromStr != "" {
		from, err = time.Parse("2006-01-02", fromStr)
		if err != nil {
			h.writeError(w, errs.InvalidArgument("invalid from date %q", fromStr))
			return from, to, false
		}
	}
	if toStr != "" {
		to, err = time.Parse("2006-01-02", toStr)
		if err != nil {
			h.writeError(w, errs.InvalidArgument("invalid to date %q", toStr))
			return from, to, false
		}
		to = to.Add(24*time.Hour - time.Nanosecond)
	}
	return from, to, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeError(w, errs.InvalidArgument("invalid request body"))
		return false
	}
	return true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.WithError(err).Error("Failed to encode response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	kind := errs.KindOf(err)
	msg := err.Error()
	status := http.StatusInternalServerError
	switch kind {
	case errs.KindNotFound:
		status = http.StatusNotFound
	case errs.KindInvalidArgument:
		status = http.StatusBadRequest
	case errs.KindInvalidState:
		status = http.StatusConflict
	case errs.KindInsufficientFunds:
		status = http.StatusUnprocessableEntity
	case errs.KindBusy:
		status = http.StatusServiceUnavailable
	default:
		// Never expose internal diagnostic detail to the caller
		h.log.WithError(err).Error("Internal error")
		msg = "internal error"
	}
	h.writeJSON(w, status, map[string]string{"code": string(kind), "error": msg})
}
