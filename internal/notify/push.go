package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/npezzotti/go-supportchat/internal/config"
	"github.com/npezzotti/go-supportchat/internal/types"
)

// Pusher delivers one encrypted payload to one browser endpoint. It returns
// the push service status code when a response was received.
type Pusher interface {
	Push(ctx context.Context, sub types.PushSubscription, payload []byte) (int, error)
}

// DeliveryError describes a push the service did not accept.
type DeliveryError struct {
	Endpoint   string
	StatusCode int
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("push to %s failed: %v", e.Endpoint, e.Err)
	}
	return fmt.Sprintf("push to %s rejected with status %d", e.Endpoint, e.StatusCode)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Gone reports whether the endpoint no longer exists and the subscription
// should be discarded.
func (e *DeliveryError) Gone() bool {
	return isGone(e.StatusCode)
}

func isGone(status int) bool {
	return status == http.StatusNotFound || status == http.StatusGone
}

type WebPusher struct {
	opts webpush.Options
}

func NewWebPusher(cfg config.PushConfig) *WebPusher {
	return &WebPusher{
		opts: webpush.Options{
			Subscriber:      cfg.Subscriber,
			VAPIDPublicKey:  cfg.VAPIDPublicKey,
			VAPIDPrivateKey: cfg.VAPIDPrivateKey,
			TTL:             cfg.TTL,
		},
	}
}

func (p *WebPusher) Push(ctx context.Context, sub types.PushSubscription, payload []byte) (int, error) {
	opts := p.opts
	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			Auth:   sub.Keys.Auth,
			P256dh: sub.Keys.P256dh,
		},
	}, &opts)
	if err != nil {
		return 0, &DeliveryError{Endpoint: sub.Endpoint, Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusMultipleChoices {
		return resp.StatusCode, &DeliveryError{Endpoint: sub.Endpoint, StatusCode: resp.StatusCode}
	}

	return resp.StatusCode, nil
}
