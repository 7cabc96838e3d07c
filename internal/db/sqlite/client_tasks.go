package sqlite

import (
	"context"
	"time"

	"github.com/iamwavecut/doorbot/internal/db"
)

func (c *sqliteClient) AddDeferredMessage(ctx context.Context, chatID int64, messageID int, deleteAt time.Time) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO lazy_delete_messages (chat, msg, deleted_at) VALUES (?, ?, ?)
	`, chatID, messageID, deleteAt.UTC())
	return err
}

func (c *sqliteClient) AddDeferredSession(ctx context.Context, session *db.DeferredSession) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO lazy_sessions (chat, msg, member, type, checkout_at) VALUES (?, ?, ?, ?, ?)
	`, session.ChatID, session.MessageID, session.MemberID, session.Type, session.CheckoutAt.UTC())
	return err
}

func (c *sqliteClient) GetDueMessages(ctx context.Context, now time.Time, limit int) ([]*db.DeferredMessage, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var rows []*db.DeferredMessage
	err := c.db.SelectContext(ctx, &rows, `
		SELECT id, chat, msg, deleted_at
		FROM lazy_delete_messages
		WHERE deleted_at <= ?
		ORDER BY deleted_at
		LIMIT ?
	`, now.UTC(), limit)
	return rows, err
}

func (c *sqliteClient) GetDueSessions(ctx context.Context, now time.Time, limit int) ([]*db.DeferredSession, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var rows []*db.DeferredSession
	err := c.db.SelectContext(ctx, &rows, `
		SELECT id, chat, msg, member, type, checkout_at
		FROM lazy_sessions
		WHERE checkout_at <= ?
		ORDER BY checkout_at
		LIMIT ?
	`, now.UTC(), limit)
	return rows, err
}

func (c *sqliteClient) DeleteDeferredMessage(ctx context.Context, id int64) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	_, err := c.db.ExecContext(ctx, `DELETE FROM lazy_delete_messages WHERE id = ?`, id)
	return err
}

func (c *sqliteClient) DeleteDeferredSession(ctx context.Context, id int64) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	_, err := c.db.ExecContext(ctx, `DELETE FROM lazy_sessions WHERE id = ?`, id)
	return err
}

func (c *sqliteClient) DeleteMemberSessions(ctx context.Context, chatID, memberID int64, taskType db.TaskType) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	_, err := c.db.ExecContext(ctx, `
		DELETE FROM lazy_sessions WHERE chat = ? AND member = ? AND type = ?
	`, chatID, memberID, taskType)
	return err
}
