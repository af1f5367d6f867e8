package events

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-go-golems/chatctl/pkg/conversation"
	"github.com/go-go-golems/chatctl/pkg/security"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Notifier pushes chat events to the chat owner's live sessions.
type Notifier interface {
	Notify(ctx context.Context, e Event) error
	Close() error
}

// NotifyBestEffort delivers e and logs a failure. The error is returned for bookkeeping
// only; the change being announced is already persisted and must not be rolled back.
func NotifyBestEffort(ctx context.Context, n Notifier, e Event) error {
	if n == nil {
		return nil
	}
	err := n.Notify(ctx, e)
	if err != nil {
		log.Warn().Err(err).Object("event", e).Msg("failed to notify chat event")
	}
	return err
}

type NullNotifier struct{}

var _ Notifier = NullNotifier{}

func (NullNotifier) Notify(context.Context, Event) error { return nil }
func (NullNotifier) Close() error                        { return nil }

// FanoutNotifier sends every event to all of its notifiers. Delivery continues past
// failures; the first error is returned.
type FanoutNotifier struct {
	Notifiers []Notifier
}

var _ Notifier = (*FanoutNotifier)(nil)

func NewFanoutNotifier(notifiers ...Notifier) *FanoutNotifier {
	return &FanoutNotifier{Notifiers: notifiers}
}

func (f *FanoutNotifier) Notify(ctx context.Context, e Event) error {
	var first error
	for _, n := range f.Notifiers {
		if err := n.Notify(ctx, e); err != nil {
			log.Debug().Err(err).Str("event_type", string(e.Type)).Msg("fanout notifier failed")
			if first == nil {
				first = err
			}
		}
	}
	return first
}

func (f *FanoutNotifier) Close() error {
	var first error
	for _, n := range f.Notifiers {
		if err := n.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

const (
	TransportBus  = "bus"
	TransportHTTP = "http"
	TransportNone = "none"

	DefaultTopic = "chat-events"
)

// NotifierConfig selects and configures the notification transport.
type NotifierConfig struct {
	Transport string        `mapstructure:"transport" yaml:"transport"`
	URL       string        `mapstructure:"url" yaml:"url"`
	Topic     string        `mapstructure:"topic" yaml:"topic"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
	TokenTTL  time.Duration `mapstructure:"token-ttl" yaml:"token-ttl"`
	// AllowLocal permits plain http and local network endpoints, e.g. a web UI on
	// localhost.
	AllowLocal bool `mapstructure:"allow-local" yaml:"allow-local"`
}

// NewNotifier builds the notifier named by cfg.Transport. The bus transport publishes
// on publisher, which must be non-nil; the http transport needs a URL and a secret.
func NewNotifier(cfg NotifierConfig, secretKey string, publisher message.Publisher) (Notifier, error) {
	transport := strings.ToLower(strings.TrimSpace(cfg.Transport))
	switch transport {
	case "", TransportNone:
		return NullNotifier{}, nil
	case TransportBus:
		if publisher == nil {
			return nil, &conversation.ValidationError{Field: "notify.transport", Reason: "bus transport needs a publisher"}
		}
		topic := cfg.Topic
		if topic == "" {
			topic = DefaultTopic
		}
		return NewWatermillNotifier(publisher, topic), nil
	case TransportHTTP:
		err := security.ValidateOutboundURL(cfg.URL, security.OutboundURLOptions{
			AllowHTTP:          cfg.AllowLocal,
			AllowLocalNetworks: cfg.AllowLocal,
		})
		if err != nil {
			return nil, &conversation.ValidationError{Field: "notify.url", Reason: err.Error()}
		}
		n, err := NewHTTPNotifier(cfg.URL, secretKey, WithHTTPTimeout(cfg.Timeout), WithTokenTTL(cfg.TokenTTL))
		if err != nil {
			return nil, errors.Wrap(err, "create http notifier")
		}
		return n, nil
	default:
		return nil, &conversation.ValidationError{
			Field:  "notify.transport",
			Reason: fmt.Sprintf("unknown transport %q (expected %s, %s or %s)", cfg.Transport, TransportBus, TransportHTTP, TransportNone),
		}
	}
}
