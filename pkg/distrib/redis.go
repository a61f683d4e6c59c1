package distrib

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/gatehouse-io/gatehouse/pkg/observability"
)

const (
	redisKeyPrefix = "gatehouse:config:"
	redisChannel   = "gatehouse:config:changed"
)

// changeNote is the pub/sub payload announcing a changed document.
type changeNote struct {
	Revision string `json:"revision"`
	Tenant   string `json:"tenant"`
	Path     string `json:"path"`
}

// RedisClient keeps configuration documents in Redis and announces
// changes on a pub/sub channel so every node refreshes its caches.
type RedisClient struct {
	rdb *redis.Client
	log *observability.Logger
}

func NewRedisClient(rdb *redis.Client, log *observability.Logger) *RedisClient {
	return &RedisClient{rdb: rdb, log: log}
}

func docKey(path string) string { return redisKeyPrefix + path }

func (c *RedisClient) GetConfig(ctx context.Context, tenant, path string) ([]byte, error) {
	content, err := c.rdb.Get(ctx, docKey(path)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return content, nil
}

func (c *RedisClient) UpdateConfig(ctx context.Context, tenant, path string, content []byte) error {
	key := docKey(path)
	if len(content) == 0 {
		if err := c.rdb.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("failed to delete config %s: %w", path, err)
		}
	} else {
		if err := c.rdb.Set(ctx, key, content, 0).Err(); err != nil {
			return fmt.Errorf("failed to write config %s: %w", path, err)
		}
	}

	note, err := json.Marshal(changeNote{
		Revision: uuid.New().String(),
		Tenant:   tenant,
		Path:     path,
	})
	if err != nil {
		return fmt.Errorf("failed to encode change note: %w", err)
	}
	if err := c.rdb.Publish(ctx, redisChannel, note).Err(); err != nil {
		return fmt.Errorf("failed to publish change for %s: %w", path, err)
	}
	return nil
}

// Bootstrap delivers every stored document through Hub.Init.
func (c *RedisClient) Bootstrap(ctx context.Context, hub *Hub) error {
	return c.scan(ctx, func(path string, content []byte) {
		hub.Init(path, content)
	})
}

// Resync re-delivers every stored document as a refresh, recovering from
// missed pub/sub messages.
func (c *RedisClient) Resync(ctx context.Context, hub *Hub) error {
	return c.scan(ctx, func(path string, content []byte) {
		hub.Refresh(path, content)
	})
}

func (c *RedisClient) scan(ctx context.Context, deliver func(path string, content []byte)) error {
	iter := c.rdb.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		content, err := c.rdb.Get(ctx, key).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to read %s during scan: %w", key, err)
		}
		deliver(key[len(redisKeyPrefix):], content)
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("config key scan failed: %w", err)
	}
	return nil
}

// Listen blocks, turning pub/sub change notes into hub refreshes until
// the context is cancelled.
func (c *RedisClient) Listen(ctx context.Context, hub *Hub) error {
	pubsub := c.rdb.Subscribe(ctx, redisChannel)
	defer pubsub.Close()

	// Force the subscription before reporting started.
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", redisChannel, err)
	}

	c.log.WithField("channel", redisChannel).Info("redis distribution listener started")
	ch := pubsub.Channel()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var note changeNote
			if err := json.Unmarshal([]byte(msg.Payload), &note); err != nil {
				c.log.WithError(err).Error("malformed change note ignored")
				continue
			}
			content, err := c.GetConfig(ctx, note.Tenant, note.Path)
			if err != nil {
				c.log.WithError(err).WithField("path", note.Path).Error("failed to fetch changed document")
				continue
			}
			hub.Refresh(note.Path, content)

		case <-ctx.Done():
			c.log.Info("redis distribution listener stopping")
			return nil
		}
	}
}
