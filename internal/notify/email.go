package notify

import (
	"context"
	"fmt"

	"github.com/wneessen/go-mail"
	"golang.org/x/time/rate"

	"acero-store/internal/config"
	"acero-store/internal/observability"
)

type Email struct {
	To      string
	Subject string
	HTML    string
}

type EmailSender interface {
	Send(ctx context.Context, email Email) error
}

type SMTPSender struct {
	client *mail.Client
	from   string
}

func NewSMTPSender(cfg config.SMTPConfig) (*SMTPSender, error) {
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPolicy(mail.TLSMandatory),
	}
	if cfg.Port == 465 {
		opts = append(opts, mail.WithSSL())
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("create mail client: %w", err)
	}

	return &SMTPSender{client: client, from: cfg.From}, nil
}

func (s *SMTPSender) Send(ctx context.Context, email Email) error {
	msg := mail.NewMsg()
	if err := msg.From(s.from); err != nil {
		return fmt.Errorf("set from address: %w", err)
	}
	if err := msg.To(email.To); err != nil {
		return fmt.Errorf("set to address: %w", err)
	}
	msg.Subject(email.Subject)
	msg.SetBodyString(mail.TypeTextHTML, email.HTML)

	if err := s.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}

// LogEmailSender is used when SMTP is not configured.
type LogEmailSender struct {
	logger *observability.Logger
}

func NewLogEmailSender(logger *observability.Logger) *LogEmailSender {
	return &LogEmailSender{logger: logger}
}

func (s *LogEmailSender) Send(_ context.Context, email Email) error {
	s.logger.Info("email_not_sent_smtp_disabled", map[string]any{
		"to":      email.To,
		"subject": email.Subject,
	})
	return nil
}

// ThrottledEmailSender caps the outbound mail rate.
type ThrottledEmailSender struct {
	next    EmailSender
	limiter *rate.Limiter
}

func NewThrottledEmailSender(next EmailSender, perSecond float64, burst int) *ThrottledEmailSender {
	if perSecond <= 0 {
		perSecond = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &ThrottledEmailSender{next: next, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (s *ThrottledEmailSender) Send(ctx context.Context, email Email) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait for mail slot: %w", err)
	}
	return s.next.Send(ctx, email)
}

// NewEmailSender picks SMTP when configured and the logging sender otherwise.
func NewEmailSender(cfg config.SMTPConfig, logger *observability.Logger) (EmailSender, error) {
	if !cfg.Enabled() {
		return NewLogEmailSender(logger), nil
	}
	smtp, err := NewSMTPSender(cfg)
	if err != nil {
		return nil, err
	}
	return NewThrottledEmailSender(smtp, cfg.PerSec, 5), nil
}
