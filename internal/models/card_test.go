package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatusAt(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 30, 0, 0, time.UTC)

	tests := []struct {
		name   string
		active bool
		expiry time.Time
		want   CardStatus
	}{
		{"active and current", true, now.AddDate(1, 0, 0), CardStatusActive},
		{"expires today is still active", true, now.Add(-time.Hour), CardStatusActive},
		{"expired yesterday", true, now.AddDate(0, 0, -1), CardStatusExpired},
		{"blocked", false, now.AddDate(1, 0, 0), CardStatusBlocked},
		{"blocked wins over expired", false, now.AddDate(0, 0, -1), CardStatusBlocked},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := &Card{Active: tc.active, ExpiryDate: tc.expiry}
			assert.Equal(t, tc.want, c.StatusAt(now))
		})
	}
}

func TestTransactionTerminal(t *testing.T) {
	assert.False(t, TransactionStatusPending.Terminal())
	assert.True(t, TransactionStatusCompleted.Terminal())
	assert.True(t, TransactionStatusFailed.Terminal())
	assert.True(t, TransactionStatusCancelled.Terminal())
}

func TestTouchesCard(t *testing.T) {
	from, to := int64(1), int64(2)
	tx := &Transaction{FromCardID: &from, ToCardID: &to}
	assert.True(t, tx.TouchesCard(1))
	assert.True(t, tx.TouchesCard(2))
	assert.False(t, tx.TouchesCard(3))

	credit := &Transaction{ToCardID: &to}
	assert.False(t, credit.TouchesCard(1))
	assert.True(t, credit.TouchesCard(2))
}
