package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/doorbot/internal/db"
)

const sessionTTL = 7 * 24 * time.Hour

type Client struct {
	rdb *goredis.Client
}

func NewClient(dsn string) (*Client, error) {
	opts, err := goredis.ParseURL(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse redis dsn: %w", err)
	}
	return &Client{rdb: goredis.NewClient(opts)}, nil
}

// NewClientFromRedis wraps an existing go-redis client, used by tests.
func NewClientFromRedis(rdb *goredis.Client) *Client {
	return &Client{rdb: rdb}
}

func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

func sessionKey(chatID, memberID int64) string {
	return fmt.Sprintf("captcha:%d:%d", chatID, memberID)
}

func settingsKey(chatID int64) string {
	return fmt.Sprintf("settings:%d", chatID)
}

func (c *Client) SetSession(ctx context.Context, session *db.Session) error {
	if session == nil {
		return fmt.Errorf("session is nil")
	}
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	key := sessionKey(session.ChatID, session.MemberID)
	pipe := c.rdb.TxPipeline()
	pipe.Set(ctx, key, payload, 0)
	pipe.Expire(ctx, key, sessionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("set session %s: %w", key, err)
	}
	return nil
}

func (c *Client) GetSession(ctx context.Context, chatID, memberID int64) (*db.Session, error) {
	raw, err := c.rdb.Get(ctx, sessionKey(chatID, memberID)).Result()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	session := &db.Session{}
	if err := json.Unmarshal([]byte(raw), session); err != nil {
		log.WithFields(log.Fields{"chat_id": chatID, "member_id": memberID, "error": err.Error()}).
			Warn("malformed session payload, treating as absent")
		return nil, nil
	}
	return session, nil
}

func (c *Client) GetSettings(ctx context.Context, chatID int64) (db.GroupSettings, error) {
	values, err := c.rdb.HGetAll(ctx, settingsKey(chatID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get settings hash: %w", err)
	}
	return db.GroupSettings(values), nil
}

func (c *Client) SetSetting(ctx context.Context, chatID int64, key, value string) error {
	if err := c.rdb.HSet(ctx, settingsKey(chatID), key, value).Err(); err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}
