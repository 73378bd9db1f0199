package notify

import (
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/jordan-wright/email"
	"github.com/sirupsen/logrus"

	"github.com/bankcards/card-service/internal/config"
	"github.com/bankcards/card-service/internal/models"
)

// Sender delivers operational notifications via SMTP
type Sender struct {
	cfg    *config.Config
	logger *logrus.Logger
}

// NewSender creates a new email sender
func NewSender(cfg *config.Config, logger *logrus.Logger) *Sender {
	return &Sender{cfg: cfg, logger: logger}
}

// Enabled reports whether SMTP delivery is configured.
func (s *Sender) Enabled() bool {
	return s.cfg.SMTPHost != "" && s.cfg.OpsEmail != ""
}

// SendExpiryReminder notifies the card holder that a card expires soon.
func (s *Sender) SendExpiryReminder(to, username string, masked string, expiry time.Time) error {
	e := email.NewEmail()
	e.From = s.cfg.SenderEmail
	e.To = []string{to}
	e.Subject = "Card Expiry Reminder"

	body := fmt.Sprintf(
		"Dear %s,\n\n"+
			"Your card %s expires on %s.\n"+
			"Please request a replacement before the expiry date to avoid interruption.\n"+
			"\nBest regards,\nCard Service",
		username, masked, expiry.Format("2006-01-02"),
	)
	e.Text = []byte(body)

	return s.send(e)
}

// SendFailureDigest sends the operations mailbox a digest of failed and
// cancelled transactions.
func (s *Sender) SendFailureDigest(since time.Time, txs []*models.Transaction) error {
	e := email.NewEmail()
	e.From = s.cfg.SenderEmail
	e.To = []string{s.cfg.OpsEmail}
	e.Subject = fmt.Sprintf("Transaction Failure Digest (%d since %s)", len(txs), since.Format("2006-01-02 15:04"))

	var b strings.Builder
	fmt.Fprintf(&b, "Failed and cancelled transactions since %s:\n\n", since.Format(time.RFC3339))
	for _, tx := range txs {
		fmt.Fprintf(&b, "- %s %s %s %s (%s) at %s\n",
			tx.Reference, tx.Type, tx.Amount.StringFixed(2), tx.Currency,
			tx.Status, tx.CreatedAt.Format(time.RFC3339))
	}
	b.WriteString("\nCard Service")
	e.Text = []byte(b.String())

	return s.send(e)
}

func (s *Sender) send(e *email.Email) error {
	addr := fmt.Sprintf("%s:%s", s.cfg.SMTPHost, s.cfg.SMTPPort)
	auth := smtp.PlainAuth("", s.cfg.SMTPUsername, s.cfg.SMTPPassword, s.cfg.SMTPHost)
	if err := e.Send(addr, auth); err != nil {
		s.logger.Errorf("Failed to send email to %v: %v", e.To, err)
		return fmt.Errorf("failed to send email: %w", err)
	}
	s.logger.Infof("Email sent to %v: %s", e.To, e.Subject)
	return nil
}
