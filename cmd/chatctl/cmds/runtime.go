package cmds

import (
	"context"
	"os"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-go-golems/chatctl/pkg/chats"
	"github.com/go-go-golems/chatctl/pkg/config"
	"github.com/go-go-golems/chatctl/pkg/conversation"
	"github.com/go-go-golems/chatctl/pkg/events"
	"github.com/go-go-golems/chatctl/pkg/helpers"
	"github.com/go-go-golems/chatctl/pkg/metrics"
	"github.com/go-go-golems/chatctl/pkg/store"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

// Runtime is what a command needs to talk to the chat store.
type Runtime struct {
	Settings *config.Settings
	Store    store.ChatStore
	Service  *chats.Service
	Metrics  *metrics.Metrics
	// Router is set for --print-events. It also carries the bus transport.
	Router *events.EventRouter

	notifier    events.Notifier
	printEvents bool
}

type runtimeOptions struct {
	printEvents bool
}

type RuntimeOption func(*runtimeOptions)

// WithPrintEvents hosts an event router that prints every emitted chat event.
func WithPrintEvents(printEvents bool) RuntimeOption {
	return func(o *runtimeOptions) {
		o.printEvents = printEvents
	}
}

func NewRuntime(ctx context.Context, options ...RuntimeOption) (*Runtime, error) {
	opts := &runtimeOptions{}
	for _, o := range options {
		o(opts)
	}

	settings, err := config.LoadSettings(viper.GetViper(), os.Environ())
	if err != nil {
		return nil, errors.Wrap(err, "load settings")
	}
	log.Debug().
		Str("store", settings.Store).
		Str("transport", settings.Notify.Transport).
		Str("secret_key_source", settings.SecretKeySource).
		Msg("resolved settings")

	// the bus is an in-process gochannel: with no subscriber a publish is dropped
	if settings.Notify.Transport == events.TransportBus && !opts.printEvents {
		return nil, &conversation.ValidationError{
			Field:  "notify-transport",
			Reason: "the bus transport has no subscriber without --print-events; use the http transport to reach web sessions",
		}
	}

	chatStore, err := store.Open(ctx, settings.Store)
	if err != nil {
		return nil, errors.Wrapf(err, "open store %s", settings.Store)
	}

	rt := &Runtime{
		Settings: settings,
		Store:    chatStore,
		Metrics:  metrics.New(),

		printEvents: opts.printEvents,
	}

	if opts.printEvents {
		rt.Router, err = events.NewEventRouter(
			events.WithLogger(helpers.NewWatermill(log.Logger)),
			events.WithVerbose(viper.GetBool("verbose")),
		)
		if err != nil {
			_ = rt.Close()
			return nil, errors.Wrap(err, "create event router")
		}
	}

	topic := settings.Notify.Topic
	if topic == "" {
		topic = events.DefaultTopic
	}
	publisher := rt.publisher()
	notifier, err := events.NewNotifier(settings.Notify, settings.SecretKey, publisher)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	if opts.printEvents {
		rt.Router.AddHandler("print-events", topic, rt.Router.PrintEvents)
		if settings.Notify.Transport != events.TransportBus {
			notifier = events.NewFanoutNotifier(notifier, events.NewWatermillNotifier(publisher, topic))
		}
	}
	rt.notifier = notifier

	rt.Service, err = chats.NewService(chatStore,
		chats.WithMutator(conversation.NewMutator(
			conversation.WithRolePolicy(settings.RolePolicy()),
			conversation.WithLogger(log.Logger),
		)),
		chats.WithNotifier(notifier),
		chats.WithMetrics(rt.Metrics),
		chats.WithMaxRetries(settings.MaxRetries),
		chats.WithDefaultModel(settings.Model),
	)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	return rt, nil
}

func (r *Runtime) publisher() message.Publisher {
	if r.Router == nil {
		return nil
	}
	return r.Router.Publisher
}

// Close flushes metrics and releases the store, the notifier and the router.
func (r *Runtime) Close() error {
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}
	if r.Metrics != nil {
		keep(r.Metrics.WriteTextfile(viper.GetString("metrics-textfile")))
	}
	if r.notifier != nil {
		keep(r.notifier.Close())
	}
	if r.Router != nil {
		keep(r.Router.Close())
	}
	if r.Store != nil {
		keep(r.Store.Close())
	}
	return first
}

// Run calls fn, with the event router running alongside when events are printed. The
// router is stopped once fn returns; publishing blocks until subscribers ack, so every
// event fn emitted has been handled by then.
func (r *Runtime) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	if !r.printEvents {
		return fn(ctx)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return r.Router.Run(ctx)
	})
	eg.Go(func() error {
		defer cancel()
		select {
		case <-r.Router.Running():
		case <-ctx.Done():
			return ctx.Err()
		}
		return fn(ctx)
	})
	return eg.Wait()
}
