package worker

import (
	"context"

	api "github.com/OvyFlash/telegram-bot-api"

	"github.com/iamwavecut/doorbot/internal/bot"
)

// BotDeleter adapts the bot client to the MessageDeleter seam. Messages
// already gone count as deleted.
type BotDeleter struct {
	bot *api.BotAPI
}

func NewBotDeleter(b *api.BotAPI) *BotDeleter {
	return &BotDeleter{bot: b}
}

func (d *BotDeleter) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	return bot.DeleteChatMessage(ctx, d.bot, chatID, messageID)
}
