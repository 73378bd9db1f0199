package report

import (
	"context"
	"time"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"

	"github.com/bankcards/card-service/internal/models"
	"github.com/bankcards/card-service/internal/storage"
)

// CardMasker supplies the display form of a card's account number.
type CardMasker interface {
	MaskedNumber(card *models.Card) string
}

// Statement builds an XML account statement for one card over a date range.
// Entries are listed oldest first with a completed-turnover total per
// direction. The account number appears only in masked form.
func (s *Service) Statement(ctx context.Context, masker CardMasker, cardID int64, from, to time.Time) ([]byte, error) {
	card, err := s.store.CardByID(ctx, cardID)
	if err != nil {
		return nil, err
	}
	txs, err := s.store.ListTransactions(ctx, storage.TransactionFilter{
		CardID: &cardID, From: &from, To: &to,
	})
	if err != nil {
		return nil, err
	}

	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	root := doc.CreateElement("CardStatement")
	root.CreateAttr("generatedAt", time.Now().Format(time.RFC3339))

	cardEl := root.CreateElement("Card")
	cardEl.CreateElement("MaskedNumber").SetText(masker.MaskedNumber(card))
	cardEl.CreateElement("Holder").SetText(card.HolderName)
	cardEl.CreateElement("Status").SetText(string(card.Status()))
	cardEl.CreateElement("Balance").SetText(card.Balance.StringFixed(2))

	period := root.CreateElement("Period")
	period.CreateAttr("from", from.Format("2006-01-02"))
	period.CreateAttr("to", to.Format("2006-01-02"))

	entries := root.CreateElement("Entries")
	debits, credits := decimal.Zero, decimal.Zero
	// ListTransactions returns newest first; the statement reads oldest first
	for i := len(txs) - 1; i >= 0; i-- {
		tx := txs[i]
		entry := entries.CreateElement("Entry")
		entry.CreateAttr("reference", tx.Reference)
		entry.CreateElement("Type").SetText(string(tx.Type))
		entry.CreateElement("Status").SetText(string(tx.Status))
		entry.CreateElement("Amount").SetText(tx.Amount.StringFixed(2))
		entry.CreateElement("Currency").SetText(tx.Currency)
		entry.CreateElement("Description").SetText(tx.Description)
		entry.CreateElement("CreatedAt").SetText(tx.CreatedAt.Format(time.RFC3339))

		direction := "IN"
		if tx.FromCardID != nil && *tx.FromCardID == cardID {
			direction = "OUT"
			if tx.Status == models.TransactionStatusCompleted {
				debits = debits.Add(tx.Amount)
			}
		} else if tx.Status == models.TransactionStatusCompleted {
			credits = credits.Add(tx.Amount)
		}
		entry.CreateElement("Direction").SetText(direction)
	}

	totals := root.CreateElement("CompletedTotals")
	totals.CreateElement("Debits").SetText(debits.StringFixed(2))
	totals.CreateElement("Credits").SetText(credits.StringFixed(2))

	doc.Indent(2)
	return doc.WriteToBytes()
}
