package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const DefaultRedisChannel = "plantdash:broadcast"

// RedisTransport relays messages over a Redis pub/sub channel, for contexts that
// do not share a database file.
type RedisTransport struct {
	Client  redis.UniversalClient
	Channel string
	Logger  *zap.Logger

	mu     sync.Mutex
	pubsub *redis.PubSub
	done   chan struct{}
}

func NewRedisTransport(addr string, logger *zap.Logger) *RedisTransport {
	return &RedisTransport{
		Client:  redis.NewClient(&redis.Options{Addr: addr}),
		Channel: DefaultRedisChannel,
		Logger:  logger,
	}
}

func (t *RedisTransport) Name() string { return "redis" }

func (t *RedisTransport) channel() string {
	if t.Channel == "" {
		return DefaultRedisChannel
	}
	return t.Channel
}

func (t *RedisTransport) Send(ctx context.Context, msg Message) error {
	data, err := encodeMessage(msg)
	if err != nil {
		return err
	}
	return t.Client.Publish(ctx, t.channel(), data).Err()
}

func (t *RedisTransport) Listen(ctx context.Context, origin string, deliver func(Message)) error {
	if t.Client == nil {
		return errors.New("redis transport without client")
	}
	ps := t.Client.Subscribe(ctx, t.channel())
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return fmt.Errorf("subscribe %s: %w", t.channel(), err)
	}
	log := t.Logger
	if log == nil {
		log = zap.NewNop()
	}
	t.mu.Lock()
	t.pubsub = ps
	t.done = make(chan struct{})
	done := t.done
	t.mu.Unlock()

	go func() {
		defer close(done)
		ch := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				msg, err := decodeMessage([]byte(m.Payload))
				if err != nil {
					log.Warn("skip malformed broadcast", zap.Error(err))
					continue
				}
				if msg.Origin == origin {
					continue
				}
				deliver(msg)
			}
		}
	}()
	return nil
}

func (t *RedisTransport) Close() error {
	t.mu.Lock()
	ps, done := t.pubsub, t.done
	t.pubsub = nil
	t.mu.Unlock()
	var err error
	if ps != nil {
		err = ps.Close()
	}
	if done != nil {
		<-done
	}
	if t.Client != nil {
		if cerr := t.Client.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
