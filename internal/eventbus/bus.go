package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	logx "broadcastbot/pkg/logx"
)

// Topics published by the bot.
const (
	TopicDeliveryCompleted  = "delivery.completed"
	TopicBroadcastScheduled = "broadcast.scheduled"
	TopicRoleChanged        = "role.changed"
)

// Event is an in-process signal used to decouple components.
//
// Contract:
//   - Publish never waits for subscribers.
//   - Events published while nobody subscribes are dropped.
//
// Data must be JSON-serializable.
type Event struct {
	Type string          `json:"type"`
	Time time.Time       `json:"time"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Decode unmarshals the event data into v.
func (e Event) Decode(v any) error { return json.Unmarshal(e.Data, v) }

// Bus is an in-memory pub/sub on top of watermill's go channel.
type Bus struct {
	pubsub *gochannel.GoChannel
	log    logx.Logger
}

func New(log logx.Logger, buffer int) *Bus {
	if log.IsZero() {
		log = logx.Nop()
	}
	if buffer <= 0 {
		buffer = 64
	}
	log = log.With(logx.String("comp", "eventbus"))
	ps := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            int64(buffer),
		BlockPublishUntilSubscriberAck: false,
	}, loggerAdapter{log: log})
	return &Bus{pubsub: ps, log: log}
}

// Publish sends data under topic. Encoding errors are returned; delivery is
// best-effort.
func (b *Bus) Publish(topic string, data any) error {
	if b == nil {
		return nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", topic, err)
	}
	payload, err := json.Marshal(Event{Type: topic, Time: time.Now().UTC(), Data: raw})
	if err != nil {
		return fmt.Errorf("encode %s event: %w", topic, err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("type", topic)
	return b.pubsub.Publish(topic, msg)
}

// Subscribe delivers events of topic to fn until ctx is done. Each message is
// acked after fn returns; a failing fn is logged and the event dropped.
func (b *Bus) Subscribe(ctx context.Context, topic string, fn func(context.Context, Event) error) error {
	msgs, err := b.pubsub.Subscribe(ctx, topic)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	go func() {
		for msg := range msgs {
			var ev Event
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				b.log.Warn("bad event payload", logx.String("topic", topic), logx.Err(err))
				msg.Ack()
				continue
			}
			if err := fn(msg.Context(), ev); err != nil {
				b.log.Warn("event handler failed", logx.String("topic", topic), logx.String("uuid", msg.UUID), logx.Err(err))
			}
			msg.Ack()
		}
	}()
	return nil
}

func (b *Bus) Close() error {
	if b == nil {
		return nil
	}
	return b.pubsub.Close()
}

// loggerAdapter routes watermill's internal logs through logx.
type loggerAdapter struct {
	log logx.Logger
}

func (a loggerAdapter) fields(f watermill.LogFields) []logx.Field {
	out := make([]logx.Field, 0, len(f))
	for k, v := range f {
		out = append(out, logx.Any(k, v))
	}
	return out
}

func (a loggerAdapter) Error(msg string, err error, f watermill.LogFields) {
	a.log.Error(msg, append(a.fields(f), logx.Err(err))...)
}
func (a loggerAdapter) Info(msg string, f watermill.LogFields)  { a.log.Debug(msg, a.fields(f)...) }
func (a loggerAdapter) Debug(msg string, f watermill.LogFields) { a.log.Debug(msg, a.fields(f)...) }
func (a loggerAdapter) Trace(msg string, f watermill.LogFields) {}
func (a loggerAdapter) With(f watermill.LogFields) watermill.LoggerAdapter {
	return loggerAdapter{log: a.log.With(a.fields(f)...)}
}
