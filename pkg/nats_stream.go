package pkg

import (
	"context"
	"fmt"
	"time"

	"github.com/appetiteclub/apt/events"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const replayBatch = 256

// NATSStream publishes to a JetStream stream and replays it on demand.
type NATSStream struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	stream jetstream.Stream
	topic  string
}

// NATSStreamConfig configures a NATSStream instance.
type NATSStreamConfig struct {
	URL        string        // NATS server URL
	StreamName string        // JetStream stream name (e.g., "QUEUE_EVENTS")
	Topic      string        // Subject/topic pattern (e.g., "queue.>")
	ClientName string        // Connection name shown in NATS monitoring
	MaxAge     time.Duration // How long to retain events (e.g., 24 hours)
	MaxMsgs    int64         // Maximum number of messages to retain (0 = unlimited)
}

// NewNATSStream connects and makes sure the stream exists.
func NewNATSStream(cfg NATSStreamConfig) (*NATSStream, error) {
	conn, err := nats.Connect(cfg.URL, nats.Name(cfg.ClientName))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	maxMsgs := cfg.MaxMsgs
	if maxMsgs == 0 {
		maxMsgs = -1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      cfg.StreamName,
		Subjects:  []string{cfg.Topic},
		Retention: jetstream.LimitsPolicy,
		MaxAge:    cfg.MaxAge,
		MaxMsgs:   maxMsgs,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create/update stream %s: %w", cfg.StreamName, err)
	}

	return &NATSStream{
		conn:   conn,
		js:     js,
		stream: stream,
		topic:  cfg.Topic,
	}, nil
}

// Publish publishes a message to the stream.
func (s *NATSStream) Publish(ctx context.Context, topic string, msg []byte) error {
	_, err := s.js.Publish(ctx, topic, msg)
	if err != nil {
		return fmt.Errorf("failed to publish to stream: %w", err)
	}
	return nil
}

// Fetch replays retained messages from the start of the stream. Every call
// reads through a fresh ordered consumer, so a restart sees the full
// history. A non-positive limit reads until the stream is drained.
func (s *NATSStream) Fetch(ctx context.Context, limit int) ([]events.StreamMessage, error) {
	replay, err := s.stream.OrderedConsumer(ctx, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{s.topic},
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create replay consumer: %w", err)
	}

	var messages []events.StreamMessage
	for limit <= 0 || len(messages) < limit {
		size := replayBatch
		if limit > 0 && limit-len(messages) < size {
			size = limit - len(messages)
		}

		batch, err := replay.Fetch(size, jetstream.FetchMaxWait(time.Second))
		if err != nil {
			return nil, fmt.Errorf("failed to fetch messages: %w", err)
		}

		read := 0
		var pending uint64
		for msg := range batch.Messages() {
			metadata, err := msg.Metadata()
			if err != nil {
				continue
			}
			read++
			pending = metadata.NumPending
			messages = append(messages, events.StreamMessage{
				Data:      msg.Data(),
				Sequence:  metadata.Sequence.Stream,
				Timestamp: metadata.Timestamp.UnixNano(),
			})
		}

		if err := batch.Error(); err != nil && len(messages) == 0 {
			return nil, fmt.Errorf("failed to read message batch: %w", err)
		}
		if read == 0 || pending == 0 {
			break
		}
	}

	return messages, nil
}

// SubscribeStream delivers messages published after the call.
func (s *NATSStream) SubscribeStream(ctx context.Context, handler events.HandlerFunc) error {
	live, err := s.stream.OrderedConsumer(ctx, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{s.topic},
		DeliverPolicy:  jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("failed to create live consumer: %w", err)
	}

	_, err = live.Consume(func(msg jetstream.Msg) {
		_ = handler(ctx, msg.Data())
	})
	return err
}

// Close closes the NATS connection.
func (s *NATSStream) Close() error {
	s.conn.Close()
	return nil
}
