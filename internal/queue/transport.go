package queue

import (
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"
)

const consumerGroup = "runbot"

// Transport is the pub/sub pair the queue service runs on. The in-process
// channel transport is the default; the Redis stream transport lets multiple
// processes share one queue.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber

	client *redis.Client
}

func (t Transport) Close() error {
	var firstErr error
	if t.Publisher != nil {
		if err := t.Publisher.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if t.Subscriber != nil {
		if err := t.Subscriber.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if t.client != nil {
		if err := t.client.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// NewChannelTransport builds an in-process transport. Persistent delivery
// keeps enqueued jobs around until a worker subscribes, so runs submitted
// with the worker disabled stay queued instead of vanishing.
func NewChannelTransport(logger watermill.LoggerAdapter) Transport {
	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 64,
		Persistent:          true,
	}, logger)
	return Transport{Publisher: pubsub, Subscriber: pubsub}
}

// NewRedisTransport builds a Redis stream transport from a redis:// URL.
// Workers join one consumer group so each job is delivered to a single worker.
func NewRedisTransport(redisURL string, logger watermill.LoggerAdapter) (Transport, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return Transport{}, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	publisher, err := redisstream.NewPublisher(redisstream.PublisherConfig{
		Client:     client,
		Marshaller: redisstream.DefaultMarshallerUnmarshaller{},
	}, logger)
	if err != nil {
		_ = client.Close()
		return Transport{}, fmt.Errorf("build redis publisher: %w", err)
	}
	subscriber, err := redisstream.NewSubscriber(redisstream.SubscriberConfig{
		Client:        client,
		Unmarshaller:  redisstream.DefaultMarshallerUnmarshaller{},
		ConsumerGroup: consumerGroup,
	}, logger)
	if err != nil {
		_ = publisher.Close()
		_ = client.Close()
		return Transport{}, fmt.Errorf("build redis subscriber: %w", err)
	}

	return Transport{Publisher: publisher, Subscriber: subscriber, client: client}, nil
}
