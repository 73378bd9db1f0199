package job

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/bankcards/card-service/internal/notify"
	"github.com/bankcards/card-service/internal/report"
	"github.com/bankcards/card-service/internal/service"
	"github.com/bankcards/card-service/internal/storage"
)

// expiryHorizon is how far ahead the sweep warns about expiring cards.
const expiryHorizon = 30 * 24 * time.Hour

// Sweeper runs the periodic housekeeping pass: expiring-card reminders and a
// digest of failed transactions. Notification failures are logged and never
// reach the money paths.
type Sweeper struct {
	cards   *service.CardService
	reports *report.Service
	store   storage.Store
	sender  *notify.Sender
	log     *logrus.Logger
	cron    *cron.Cron
}

// NewSweeper initializes the sweep job.
func NewSweeper(cards *service.CardService, reports *report.Service, store storage.Store, sender *notify.Sender, log *logrus.Logger) *Sweeper {
	return &Sweeper{
		cards:   cards,
		reports: reports,
		store:   store,
		sender:  sender,
		log:     log,
		cron:    cron.New(),
	}
}

// Start schedules the sweep with the given cron expression, e.g. "@daily".
func (s *Sweeper) Start(schedule string) error {
	if _, err := s.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		s.Run(ctx)
	}); err != nil {
		return err
	}
	s.cron.Start()
	s.log.Infof("Sweep job scheduled: %s", schedule)
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

// Run executes one sweep pass.
func (s *Sweeper) Run(ctx context.Context) {
	s.remindExpiring(ctx)
	s.reportFailures(ctx)
}

func (s *Sweeper) remindExpiring(ctx context.Context) {
	cutoff := time.Now().Add(expiryHorizon)
	cards, err := s.cards.ExpiringBefore(ctx, cutoff)
	if err != nil {
		s.log.WithError(err).Error("Sweep: failed to list expiring cards")
		return
	}

	for _, card := range cards {
		if card.Expired() {
			continue // already expired, nothing to remind about
		}
		masked := s.cards.MaskedNumber(card)
		s.log.WithFields(logrus.Fields{
			"card_id": card.ID,
			"card":    masked,
			"expiry":  card.ExpiryDate.Format("2006-01-02"),
		}).Info("Card expiring soon")

		if !s.sender.Enabled() {
			continue
		}
		user, err := s.store.UserByID(ctx, card.UserID)
		if err != nil {
			s.log.WithField("card_id", card.ID).WithError(err).
				Error("Sweep: failed to resolve card owner")
			continue
		}
		if err := s.sender.SendExpiryReminder(user.Email, user.Username, masked, card.ExpiryDate); err != nil {
			s.log.WithField("card_id", card.ID).WithError(err).
				Error("Sweep: failed to send expiry reminder")
		}
	}
}

func (s *Sweeper) reportFailures(ctx context.Context) {
	since := time.Now().Add(-24 * time.Hour)
	txs, err := s.reports.FailuresSince(ctx, since)
	if err != nil {
		s.log.WithError(err).Error("Sweep: failed to list failed transactions")
		return
	}
	if len(txs) == 0 {
		return
	}

	s.log.Infof("Sweep: %d failed/cancelled transactions in the last 24h", len(txs))
	if !s.sender.Enabled() {
		return
	}
	if err := s.sender.SendFailureDigest(since, txs); err != nil {
		s.log.WithError(err).Error("Sweep: failed to send failure digest")
	}
}
