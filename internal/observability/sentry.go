package observability

import (
	"time"

	"github.com/getsentry/sentry-go"
)

func InitSentry(dsn, environment string) error {
	if dsn == "" {
		return nil
	}

	return sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		AttachStacktrace: true,
		BeforeSend: func(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
			if event.Request != nil {
				delete(event.Request.Headers, "Authorization")
				event.Request.Data = ""
			}
			return event
		},
	})
}

func FlushSentry() {
	sentry.Flush(2 * time.Second)
}
