package sink

import (
	"fmt"
	"net/smtp"
	"strings"

	"github.com/navispectra/canids/internal/config"
	"github.com/navispectra/canids/internal/model"
)

// Email is an optional notification sink for critical alerts, adapted
// from the teacher's EmailNotifier
// (internal/notification/notifier.go): same net/smtp plumbing, now
// implementing model.Sink instead of a subject/body Notifier so it can
// sit in the same severity→sink routing table as every other sink.
type Email struct {
	cfg  config.EmailSinkConfig
	auth smtp.Auth
}

// NewEmail constructs an Email sink. PlainAuth withholds credentials
// until the server identifies itself over a trusted connection.
func NewEmail(cfg config.EmailSinkConfig) *Email {
	auth := smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	return &Email{cfg: cfg, auth: auth}
}

func (e *Email) Write(a model.Alert) error {
	addr := fmt.Sprintf("%s:%d", e.cfg.Host, e.cfg.Port)
	recipients := strings.Split(e.cfg.To, ",")

	subject := fmt.Sprintf("[canids] %s severity %s on can_id 0x%X", a.Severity, a.Type, a.CANID)
	msg := []byte("To: " + e.cfg.To + "\r\n" +
		"From: " + e.cfg.From + "\r\n" +
		"Subject: " + subject + "\r\n" +
		"Content-Type: text/plain; charset=UTF-8\r\n" +
		"\r\n" +
		a.Details)

	if err := smtp.SendMail(addr, e.auth, e.cfg.From, recipients, msg); err != nil {
		return fmt.Errorf("%w: sending alert email: %v", model.ErrSinkError, err)
	}
	return nil
}

func (e *Email) Name() string { return "email" }
