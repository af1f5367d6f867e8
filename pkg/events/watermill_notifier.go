package events

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-go-golems/chatctl/pkg/helpers"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// WatermillNotifier publishes events as JSON messages on a watermill topic. Each message
// carries user_id, chat_id, event_type, correlation_id and a per-notifier sequence number
// in its metadata so subscribers can route without decoding the payload.
type WatermillNotifier struct {
	publisher message.Publisher
	topic     string

	mu             sync.Mutex
	sequenceNumber uint64
}

var _ Notifier = (*WatermillNotifier)(nil)

func NewWatermillNotifier(publisher message.Publisher, topic string) *WatermillNotifier {
	return &WatermillNotifier{
		publisher: helpers.CorrelationPublisherDecorator{Publisher: publisher},
		topic:     topic,
	}
}

func (w *WatermillNotifier) Notify(ctx context.Context, e Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if e.Meta.CorrelationID == "" {
		e.Meta.CorrelationID = helpers.CorrelationIDFromContext(ctx)
	}
	b, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "encode event")
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	msg := message.NewMessage(watermill.NewUUID(), b)
	msg.SetContext(ctx)
	msg.Metadata.Set("user_id", e.UserID)
	msg.Metadata.Set("chat_id", e.ChatID)
	msg.Metadata.Set("event_type", string(e.Type))
	msg.Metadata.Set(helpers.CorrelationIDMetadataKey, e.Meta.CorrelationID)
	msg.Metadata.Set("sequence_number", strconv.FormatUint(w.sequenceNumber, 10))
	w.sequenceNumber++

	if err := w.publisher.Publish(w.topic, msg); err != nil {
		return errors.Wrapf(err, "publish %s to %s", e.Type, w.topic)
	}
	log.Trace().Str("topic", w.topic).Object("event", e).Msg("published chat event")
	return nil
}

// Close is a no-op: the publisher belongs to whoever created it.
func (w *WatermillNotifier) Close() error {
	return nil
}
