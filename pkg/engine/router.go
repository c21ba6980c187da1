package engine

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog/log"

	"github.com/cirkelline-ai/loom/pkg/helpers"
)

// TranscriptTopic carries raw wire events from the stream reader to the
// engine.
const TranscriptTopic = "transcript"

// EventRouter moves raw events from the stream reader to the engine over an
// in-process pub/sub. Publishing blocks until the subscriber has acked, so a
// publisher that publishes then renders always renders the post-apply state:
// every event is flushed through the transcript before the next one is read.
type EventRouter struct {
	logger     watermill.LoggerAdapter
	Publisher  message.Publisher
	Subscriber message.Subscriber
	router     *message.Router
}

type EventRouterOption func(*EventRouter)

func WithLogger(logger watermill.LoggerAdapter) EventRouterOption {
	return func(r *EventRouter) {
		r.logger = logger
	}
}

func WithVerboseLogger() EventRouterOption {
	return func(r *EventRouter) {
		r.logger = helpers.NewWatermill(log.Logger)
	}
}

func NewEventRouter(options ...EventRouterOption) (*EventRouter, error) {
	ret := &EventRouter{
		logger: watermill.NopLogger{},
	}
	for _, o := range options {
		o(ret)
	}

	goPubSub := gochannel.NewGoChannel(gochannel.Config{
		BlockPublishUntilSubscriberAck: true,
	}, ret.logger)
	ret.Publisher = goPubSub
	ret.Subscriber = goPubSub

	router, err := message.NewRouter(message.RouterConfig{}, ret.logger)
	if err != nil {
		return nil, err
	}
	ret.router = router

	return ret, nil
}

// AttachEngine registers the engine as the transcript-topic consumer. The
// message is acked only after the event has been fully applied.
func (r *EventRouter) AttachEngine(e *Engine) {
	r.AddHandler("transcript-apply", TranscriptTopic, func(msg *message.Message) error {
		if err := e.Apply(msg.Payload); err != nil {
			log.Error().Err(err).Str("message_id", msg.UUID).Msg("event not applied")
			// one bad event must not kill the stream
		}
		return nil
	})
}

func (r *EventRouter) AddHandler(name string, topic string, f func(msg *message.Message) error) {
	r.router.AddNoPublisherHandler(name, topic, r.Subscriber, f)
}

// PublishRaw feeds one raw wire event into the pipeline and blocks until it
// has been applied.
func (r *EventRouter) PublishRaw(payload []byte) error {
	msg := message.NewMessage(watermill.NewUUID(), payload)
	return r.Publisher.Publish(TranscriptTopic, msg)
}

func (r *EventRouter) Running() chan struct{} {
	return r.router.Running()
}

func (r *EventRouter) Run(ctx context.Context) error {
	return r.router.Run(ctx)
}

func (r *EventRouter) Close() error {
	log.Debug().Msg("closing publisher")
	if err := r.Publisher.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close pubsub")
	}
	log.Debug().Msg("closing router")
	if err := r.router.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close router")
	}
	return nil
}
