package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nerves76/promptreviews-backend/pkg/logger"
	"github.com/nerves76/promptreviews-backend/pkg/utils"
)

type Client struct {
	client *redis.Client
}

func NewClient(host string, port int, password string, db int) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Client{client: client}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

// ViewKey derives the cache key for one account's composed view under a
// specific filter/sort/page combination.
func ViewKey(accountID, requestFingerprint string) string {
	return fmt.Sprintf("view:%s:%s", accountID, utils.Fingerprint(requestFingerprint))
}

func (c *Client) SetView(ctx context.Context, key string, view interface{}, ttl time.Duration) error {
	data, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("failed to marshal view: %w", err)
	}

	err = c.client.Set(ctx, key, data, ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to set view cache: %w", err)
	}

	logger.Debug("View cached", zap.String("key", key), zap.Duration("ttl", ttl))
	return nil
}

func (c *Client) GetView(ctx context.Context, key string, view interface{}) (bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get view cache: %w", err)
	}

	err = json.Unmarshal(data, view)
	if err != nil {
		return false, fmt.Errorf("failed to unmarshal view: %w", err)
	}

	logger.Debug("View cache hit", zap.String("key", key))
	return true, nil
}

// InvalidateAccount drops every cached view for the account. Called when a
// batch run reaches a terminal state and new results exist.
func (c *Client) InvalidateAccount(ctx context.Context, accountID string) error {
	pattern := fmt.Sprintf("view:%s:*", accountID)

	iter := c.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		err := c.client.Del(ctx, iter.Val()).Err()
		if err != nil {
			logger.Warn("Failed to delete cache key", zap.Error(err))
		}
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to iterate cache keys: %w", err)
	}

	logger.Info("View cache invalidated", zap.String("account_id", accountID))
	return nil
}
