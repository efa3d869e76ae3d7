package notification

import (
	"fmt"
	"log/slog"

	gomail "gopkg.in/gomail.v2"

	"github.com/credmart/credmart/internal"
	ordermodel "github.com/credmart/credmart/internal/core/datamodel/order"
)

// Mailer delivers the credential email. Implementations must be safe for
// concurrent use; the dispatcher sends from event goroutines and the sweep
// worker.
type Mailer interface {
	SendCredentials(o *ordermodel.Order) error
}

// SMTPMailer sends credential emails over SMTP.
type SMTPMailer struct {
	dialer *gomail.Dialer
	from   string
}

func NewSMTPMailer(cfg internal.SMTPConfig) *SMTPMailer {
	return &SMTPMailer{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
	}
}

func (m *SMTPMailer) SendCredentials(o *ordermodel.Order) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", o.CustomerEmail)
	msg.SetHeader("Subject", fmt.Sprintf("Your %s subscription is ready", o.ProductName))
	msg.SetBody("text/plain", credentialBody(o))

	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("send credential email for %s: %w", o.OrderNo, err)
	}
	return nil
}

// LogMailer is a development stand-in used when no SMTP host is configured.
// It records the delivery instead of sending it, without logging the
// credentials themselves.
type LogMailer struct {
	Logger *slog.Logger
}

func (m *LogMailer) SendCredentials(o *ordermodel.Order) error {
	m.Logger.Info("credential email suppressed, no SMTP configured",
		"order_no", o.OrderNo,
		"customer_email", o.CustomerEmail)
	return nil
}

func credentialBody(o *ordermodel.Order) string {
	return fmt.Sprintf(
		"Thank you for your purchase.\n\n"+
			"Order:    %s\n"+
			"Product:  %s\n\n"+
			"Account:  %s\n"+
			"Password: %s\n\n"+
			"Keep these credentials private. Reply to this email if anything does not work.\n",
		o.OrderNo, o.ProductName, o.CredentialEmail, o.CredentialPassword)
}
