package fanout

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const DefaultBuffer = 64

// Bus carries committed events to the subscribers of a room. Each room is one
// topic. Publish returns only after every current subscriber has taken the
// event, so events of a room reach each subscriber in publish order.
type Bus struct {
	pubSub *gochannel.GoChannel
	buffer int
	logger zerolog.Logger
	active atomic.Int64
}

func NewBus(buffer int, logger zerolog.Logger) *Bus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}

	pubSub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            int64(buffer),
		BlockPublishUntilSubscriberAck: true,
	}, NewLoggerAdapter(logger))

	return &Bus{
		pubSub: pubSub,
		buffer: buffer,
		logger: logger,
	}
}

func topic(roomID uuid.UUID) string {
	return "room." + roomID.String()
}

// Publish delivers events in order. Events for rooms with no subscribers are
// dropped; late subscribers start from a snapshot.
func (b *Bus) Publish(events ...Event) error {
	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			return err
		}

		msg := message.NewMessage(uuid.NewString(), payload)
		msg.Metadata.Set("kind", string(ev.Kind))
		if err := b.pubSub.Publish(topic(ev.RoomID), msg); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe calls onEvent, from a single goroutine, for every event of roomID
// published after Subscribe returns. A subscriber that cannot keep up gets one
// KindResync event and is dropped. The returned func stops delivery; it never
// affects events already committed.
func (b *Bus) Subscribe(roomID uuid.UUID, onEvent func(Event)) (func(), error) {
	ctx, cancel := context.WithCancel(context.Background())

	messages, err := b.pubSub.Subscribe(ctx, topic(roomID))
	if err != nil {
		cancel()
		return nil, err
	}
	b.active.Add(1)

	logger := b.logger.With().Str("room_id", roomID.String()).Logger()
	queue := make(chan Event, b.buffer)
	var overflowed atomic.Bool

	go func() {
		defer close(queue)
		for msg := range messages {
			var ev Event
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				logger.Error().Err(err).Str("message_uuid", msg.UUID).Msg("undecodable event")
				msg.Ack()
				continue
			}

			if !overflowed.Load() {
				select {
				case queue <- ev:
				default:
					overflowed.Store(true)
					logger.Warn().Msg("subscriber fell behind, requesting resync")
					cancel()
				}
			}
			msg.Ack()
		}
	}()

	go func() {
		defer b.active.Add(-1)
		for ev := range queue {
			if ctx.Err() != nil {
				continue
			}
			onEvent(ev)
		}
		if overflowed.Load() {
			onEvent(Event{RoomID: roomID, Kind: KindResync})
		}
	}()

	var once sync.Once
	return func() { once.Do(cancel) }, nil
}

// Subscribers reports how many subscriptions are still being served.
func (b *Bus) Subscribers() int {
	return int(b.active.Load())
}

func (b *Bus) Close() error {
	return b.pubSub.Close()
}
