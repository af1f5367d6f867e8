package events

import (
	"context"
	"fmt"
	"time"

	"github.com/go-go-golems/chatctl/pkg/auth"
	"github.com/go-go-golems/chatctl/pkg/helpers"
	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const defaultHTTPTimeout = 5 * time.Second

// HTTPNotifier posts events to the web UI's event endpoint, authenticated as the chat
// owner with a freshly minted bearer token.
type HTTPNotifier struct {
	client    *resty.Client
	url       string
	secretKey string
	tokenTTL  time.Duration
	now       func() time.Time
}

var _ Notifier = (*HTTPNotifier)(nil)

type HTTPNotifierOption func(*HTTPNotifier)

func WithHTTPTimeout(d time.Duration) HTTPNotifierOption {
	return func(n *HTTPNotifier) {
		if d > 0 {
			n.client.SetTimeout(d)
		}
	}
}

func WithTokenTTL(d time.Duration) HTTPNotifierOption {
	return func(n *HTTPNotifier) {
		n.tokenTTL = d
	}
}

func WithRestyClient(c *resty.Client) HTTPNotifierOption {
	return func(n *HTTPNotifier) {
		n.client = c
	}
}

func NewHTTPNotifier(url, secretKey string, options ...HTTPNotifierOption) (*HTTPNotifier, error) {
	if url == "" {
		return nil, fmt.Errorf("http notifier: empty url")
	}
	if secretKey == "" {
		return nil, auth.ErrEmptySecret
	}
	n := &HTTPNotifier{
		client:    resty.New().SetTimeout(defaultHTTPTimeout),
		url:       url,
		secretKey: secretKey,
		tokenTTL:  time.Minute,
		now:       time.Now,
	}
	for _, o := range options {
		o(n)
	}
	return n, nil
}

type httpEventBody struct {
	UserID string                 `json:"user_id"`
	ChatID string                 `json:"chat_id"`
	Event  map[string]interface{} `json:"event"`
}

func (n *HTTPNotifier) Notify(ctx context.Context, e Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	token, err := auth.MintToken(n.secretKey, e.UserID, n.tokenTTL, n.now())
	if err != nil {
		return errors.Wrap(err, "mint notification token")
	}

	resp, err := n.client.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+token).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-Correlation-ID", helpers.CorrelationIDFromContext(ctx)).
		SetBody(httpEventBody{
			UserID: e.UserID,
			ChatID: e.ChatID,
			Event:  e.Payload(),
		}).
		Post(n.url)
	if err != nil {
		return errors.Wrapf(err, "post %s", n.url)
	}
	if !resp.IsSuccess() {
		return errors.Errorf("post %s: unexpected status %d: %s", n.url, resp.StatusCode(), truncate(resp.String(), 200))
	}
	log.Trace().Str("url", n.url).Int("status", resp.StatusCode()).Object("event", e).Msg("posted chat event")
	return nil
}

func (n *HTTPNotifier) Close() error {
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
