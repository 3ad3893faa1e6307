package events

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const relayChannel = "duet:chat-events"

// RedisRelay пересылает события хаба через Redis pub/sub.
type RedisRelay struct {
	client redis.UniversalClient
	origin string
	logger *zap.SugaredLogger
}

// NewRedisRelay подключается к Redis. useTLS нужен для управляемых кластеров.
func NewRedisRelay(ctx context.Context, addr string, useTLS bool, logger *zap.SugaredLogger) (*RedisRelay, error) {
	opts := &redis.Options{Addr: addr}
	if useTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return newRedisRelay(client, logger), nil
}

func newRedisRelay(client redis.UniversalClient, logger *zap.SugaredLogger) *RedisRelay {
	return &RedisRelay{client: client, origin: uuid.NewString(), logger: logger}
}

func (r *RedisRelay) Publish(ctx context.Context, ev Event) error {
	ev.Origin = r.origin
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, relayChannel, data).Err()
}

// Run подписывается на канал и возвращается сразу после установки подписки.
func (r *RedisRelay) Run(ctx context.Context, deliver func(Event)) error {
	pubsub := r.client.Subscribe(ctx, relayChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				r.handle([]byte(msg.Payload), deliver)
			}
		}
	}()
	return nil
}

func (r *RedisRelay) Close() error {
	return r.client.Close()
}

// handle разбирает сообщение канала и пропускает собственные события.
func (r *RedisRelay) handle(payload []byte, deliver func(Event)) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		r.logger.Warnw("bad relay payload", "error", err)
		return
	}
	if ev.Origin == r.origin {
		return
	}
	ev.Origin = ""
	deliver(ev)
}
