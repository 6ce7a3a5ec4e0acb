// Package redis keeps the dev server's ephemeral state: presence records,
// typing markers and rate-limit counters.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/victorivanov/commsync/internal/models"
)

// Client wraps a Redis connection.
type Client struct {
	rdb *goredis.Client
}

// NewClient creates a Redis client from a URL and verifies the connection.
func NewClient(redisURL string) (*Client, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}
	rdb := goredis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return &Client{rdb: rdb}, nil
}

// Ping checks the Redis connection.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

const (
	presencePrefix = "presence:"
	presenceSet    = "presence:users"
	typingPrefix   = "typing:"
	presenceTTL    = 5 * time.Minute
	typingTTL      = 10 * time.Second
)

// rateLimitScript atomically increments a counter and sets its TTL on first use.
var rateLimitScript = goredis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
    redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// CheckRateLimit returns true if the request is allowed, false if rate limited.
// Uses an atomic INCR + PEXPIRE Lua script for a fixed-window counter.
func (c *Client) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	count, err := rateLimitScript.Run(ctx, c.rdb, []string{key}, window.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("checking rate limit: %w", err)
	}
	return count <= int64(limit), nil
}

// SetPresence stores a user's presence record with a TTL and indexes it.
func (c *Client) SetPresence(ctx context.Context, p models.Presence) error {
	if p.UserID == "" {
		return errors.New("presence without user id")
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshalling presence: %w", err)
	}
	_, err = c.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, presencePrefix+p.UserID, raw, presenceTTL)
		pipe.SAdd(ctx, presenceSet, p.UserID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("setting presence: %w", err)
	}
	return nil
}

// GetPresence returns a user's presence record, or nil if not set.
func (c *Client) GetPresence(ctx context.Context, userID string) (*models.Presence, error) {
	val, err := c.rdb.Get(ctx, presencePrefix+userID).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting presence: %w", err)
	}
	var p models.Presence
	if err := json.Unmarshal(val, &p); err != nil {
		return nil, fmt.Errorf("decoding presence: %w", err)
	}
	return &p, nil
}

// ListPresence returns every live presence record ordered by user name.
// Index entries whose record has expired are pruned.
func (c *Client) ListPresence(ctx context.Context) ([]models.Presence, error) {
	ids, err := c.rdb.SMembers(ctx, presenceSet).Result()
	if err != nil {
		return nil, fmt.Errorf("listing presence: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = presencePrefix + id
	}
	vals, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("reading presence: %w", err)
	}

	out := make([]models.Presence, 0, len(vals))
	var expired []any
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			expired = append(expired, ids[i])
			continue
		}
		var p models.Presence
		if err := json.Unmarshal([]byte(s), &p); err != nil {
			continue
		}
		out = append(out, p)
	}
	if len(expired) > 0 {
		if err := c.rdb.SRem(ctx, presenceSet, expired...).Err(); err != nil {
			return nil, fmt.Errorf("pruning presence: %w", err)
		}
	}

	slices.SortFunc(out, func(a, b models.Presence) int {
		if n := strings.Compare(a.UserName, b.UserName); n != 0 {
			return n
		}
		return strings.Compare(a.UserID, b.UserID)
	})
	return out, nil
}

// DeletePresence removes a user's presence record.
func (c *Client) DeletePresence(ctx context.Context, userID string) error {
	_, err := c.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, presencePrefix+userID)
		pipe.SRem(ctx, presenceSet, userID)
		return nil
	})
	return err
}

// SetTyping marks a user as typing in a channel with a short TTL.
func (c *Client) SetTyping(ctx context.Context, channelID, userID string) error {
	return c.rdb.Set(ctx, typingKey(channelID, userID), 1, typingTTL).Err()
}

// ClearTyping removes a user's typing marker.
func (c *Client) ClearTyping(ctx context.Context, channelID, userID string) error {
	return c.rdb.Del(ctx, typingKey(channelID, userID)).Err()
}

// GetTyping returns the user IDs currently typing in a channel.
func (c *Client) GetTyping(ctx context.Context, channelID string) ([]string, error) {
	prefix := typingPrefix + channelID + ":"

	var userIDs []string
	var cursor uint64
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, prefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scanning typing keys: %w", err)
		}
		for _, key := range keys {
			userIDs = append(userIDs, strings.TrimPrefix(key, prefix))
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	slices.Sort(userIDs)
	return userIDs, nil
}

func typingKey(channelID, userID string) string {
	return typingPrefix + channelID + ":" + userID
}
