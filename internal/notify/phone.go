package notify

import (
	"context"

	"acero-store/internal/observability"
)

type PhoneLinkSender interface {
	SendLink(ctx context.Context, phone, url string) error
}

// LogPhoneLinkSender stands in for an SMS gateway. It logs the masked phone
// and, outside production, the link itself so it can be opened by hand.
type LogPhoneLinkSender struct {
	logger  *observability.Logger
	showURL bool
}

func NewLogPhoneLinkSender(logger *observability.Logger, showURL bool) *LogPhoneLinkSender {
	return &LogPhoneLinkSender{logger: logger, showURL: showURL}
}

func (s *LogPhoneLinkSender) SendLink(_ context.Context, phone, url string) error {
	fields := map[string]any{"phone": MaskPhone(phone)}
	if s.showURL {
		fields["url"] = url
	}
	s.logger.Info("phone_login_link_issued", fields)
	return nil
}

// MaskPhone keeps the last four digits.
func MaskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	masked := make([]byte, len(phone))
	for i := range phone {
		if i < len(phone)-4 && phone[i] != '+' {
			masked[i] = '*'
			continue
		}
		masked[i] = phone[i]
	}
	return string(masked)
}
