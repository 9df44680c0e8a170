package notification

import (
	"context"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
)

// Sender defines the interface for sending a web push notification.
type Sender interface {
	Send(ctx context.Context, payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is the real Sender, backed by the webpush library.
type WebPushSender struct{}

// Send encrypts payload for sub and posts it to the push service.
func (s *WebPushSender) Send(ctx context.Context, payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotificationWithContext(ctx, payload, sub, options)
}
