package redis

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

type Client struct {
	*redis.Client
}

func NewClient(ctx context.Context, redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Client{client}, nil
}

func (c *Client) Close() error {
	return c.Client.Close()
}

// IPKey namespaces a per-IP rate limit bucket by route group.
func IPKey(group, ip string) string {
	return fmt.Sprintf("ip:%s:%s", group, ip)
}

// TelegramUserKey namespaces a per-Telegram-user rate limit bucket.
func TelegramUserKey(group string, telegramID int64) string {
	return fmt.Sprintf("tg:%s:%s", group, strconv.FormatInt(telegramID, 10))
}
