package db

import (
	"context"
	"time"
)

type SessionStore interface {
	SetSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, chatID, memberID int64) (*Session, error)
}

type SettingsStore interface {
	GetSettings(ctx context.Context, chatID int64) (GroupSettings, error)
	SetSetting(ctx context.Context, chatID int64, key, value string) error
}

// TaskStore is the on-disk timer wheel backing the deferred-task worker.
type TaskStore interface {
	AddDeferredMessage(ctx context.Context, chatID int64, messageID int, deleteAt time.Time) error
	AddDeferredSession(ctx context.Context, session *DeferredSession) error
	GetDueMessages(ctx context.Context, now time.Time, limit int) ([]*DeferredMessage, error)
	GetDueSessions(ctx context.Context, now time.Time, limit int) ([]*DeferredSession, error)
	DeleteDeferredMessage(ctx context.Context, id int64) error
	DeleteDeferredSession(ctx context.Context, id int64) error
	DeleteMemberSessions(ctx context.Context, chatID, memberID int64, taskType TaskType) error
	Close() error
}
