package bot

import (
	"context"

	api "github.com/OvyFlash/telegram-bot-api"

	"github.com/iamwavecut/doorbot/internal/db"
	"github.com/iamwavecut/doorbot/internal/infra/reg"
)

// ServiceBot exposes the shared bot client.
type ServiceBot interface {
	GetBot() *api.BotAPI
}

// ServiceDB exposes the state stores shared by handlers and the worker.
type ServiceDB interface {
	GetSessionStore() db.SessionStore
	GetTaskStore() db.TaskStore
	GetSettings(ctx context.Context, chatID int64) (db.GroupSettings, error)
	SetSetting(ctx context.Context, chatID int64, key, value string) error
}

// Service bundles the bot client and the stores, replacing the global
// manager object with an explicit dependency threaded into constructors.
type Service interface {
	ServiceBot
	ServiceDB
}

// Handler is implemented by every update handler in the system.
type Handler interface {
	Handle(ctx context.Context, u *api.Update, chat *api.Chat, user *api.User) (proceed bool, err error)
}

type service struct {
	bot      *api.BotAPI
	sessions db.SessionStore
	settings db.SettingsStore
	tasks    db.TaskStore
}

func NewService(bot *api.BotAPI, sessions db.SessionStore, settings db.SettingsStore, tasks db.TaskStore) Service {
	return &service{
		bot:      bot,
		sessions: sessions,
		settings: settings,
		tasks:    tasks,
	}
}

func (s *service) GetBot() *api.BotAPI {
	return s.bot
}

func (s *service) GetSessionStore() db.SessionStore {
	return s.sessions
}

func (s *service) GetTaskStore() db.TaskStore {
	return s.tasks
}

func (s *service) GetSettings(ctx context.Context, chatID int64) (db.GroupSettings, error) {
	if cached, ok := reg.Get().GetSettings(chatID); ok {
		return cached, nil
	}
	settings, err := s.settings.GetSettings(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if settings == nil {
		settings = db.GroupSettings{}
	}
	reg.Get().SetSettings(chatID, settings)
	return settings, nil
}

func (s *service) SetSetting(ctx context.Context, chatID int64, key, value string) error {
	if err := s.settings.SetSetting(ctx, chatID, key, value); err != nil {
		return err
	}
	reg.Get().RemoveSettings(chatID)
	return nil
}
