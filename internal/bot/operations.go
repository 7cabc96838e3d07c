package bot

import (
	"context"
	"strings"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pkg/errors"
)

func noPermissions() *api.ChatPermissions {
	return &api.ChatPermissions{}
}

func fullPermissions() *api.ChatPermissions {
	return &api.ChatPermissions{
		CanSendMessages:       true,
		CanSendAudios:         true,
		CanSendDocuments:      true,
		CanSendPhotos:         true,
		CanSendVideos:         true,
		CanSendVideoNotes:     true,
		CanSendVoiceNotes:     true,
		CanSendPolls:          true,
		CanSendOtherMessages:  true,
		CanAddWebPagePreviews: true,
		CanChangeInfo:         true,
		CanInviteUsers:        true,
		CanPinMessages:        true,
		CanManageTopics:       true,
	}
}

// RestrictChatting removes every chat permission from the user. A non-zero
// untilUnix makes Telegram lift the restriction by itself (sleep modes),
// zero keeps it until explicitly undone.
func RestrictChatting(ctx context.Context, bot *api.BotAPI, userID, chatID int64, untilUnix int64) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if _, err := bot.Request(api.RestrictChatMemberConfig{
		ChatMemberConfig: api.ChatMemberConfig{
			ChatConfig: api.ChatConfig{ChatID: chatID},
			UserID:     userID,
		},
		UntilDate:   untilUnix,
		Permissions: noPermissions(),
	}); err != nil {
		return errors.WithMessage(err, "cant restrict")
	}
	return nil
}

// UnrestrictChatting restores the full permission set. Restricting takes a
// whole permission set while unbanning is a different call, the two must
// not be folded together.
func UnrestrictChatting(ctx context.Context, bot *api.BotAPI, userID, chatID int64) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if _, err := bot.Request(api.RestrictChatMemberConfig{
		ChatMemberConfig: api.ChatMemberConfig{
			ChatConfig: api.ChatConfig{ChatID: chatID},
			UserID:     userID,
		},
		Permissions: fullPermissions(),
	}); err != nil {
		return errors.WithMessage(err, "cant unrestrict")
	}
	return nil
}

func BanUserFromChat(ctx context.Context, bot *api.BotAPI, userID, chatID int64, untilUnix int64, revokeMessages bool) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if _, err := bot.Request(api.BanChatMemberConfig{
		ChatMemberConfig: api.ChatMemberConfig{
			ChatConfig: api.ChatConfig{ChatID: chatID},
			UserID:     userID,
		},
		UntilDate:      untilUnix,
		RevokeMessages: revokeMessages,
	}); err != nil {
		return errors.WithMessage(err, "cant ban")
	}
	return nil
}

// UnbanIfBanned returns the user to the free pool without re-adding them.
func UnbanIfBanned(ctx context.Context, bot *api.BotAPI, userID, chatID int64) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if _, err := bot.Request(api.UnbanChatMemberConfig{
		ChatMemberConfig: api.ChatMemberConfig{
			ChatConfig: api.ChatConfig{ChatID: chatID},
			UserID:     userID,
		},
		OnlyIfBanned: true,
	}); err != nil {
		return errors.WithMessage(err, "cant unban")
	}
	return nil
}

// DeleteChatMessage removes a message, treating an already-gone message as
// success so lazy deletions stay idempotent.
func DeleteChatMessage(ctx context.Context, bot *api.BotAPI, chatID int64, messageID int) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if _, err := bot.Request(api.NewDeleteMessage(chatID, messageID)); err != nil {
		if IsMessageNotFound(err) {
			return nil
		}
		return err
	}
	return nil
}

func IsMessageNotFound(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "message to delete not found") ||
		strings.Contains(msg, "message can't be deleted") ||
		strings.Contains(msg, "message_id_invalid")
}

func GetChatMember(ctx context.Context, bot *api.BotAPI, chatID, userID int64) (api.ChatMember, error) {
	select {
	case <-ctx.Done():
		return api.ChatMember{}, ctx.Err()
	default:
	}
	return bot.GetChatMember(api.GetChatMemberConfig{
		ChatConfigWithUser: api.ChatConfigWithUser{
			ChatConfig: api.ChatConfig{ChatID: chatID},
			UserID:     userID,
		},
	})
}

func IsChatAdministrator(ctx context.Context, bot *api.BotAPI, chatID, userID int64) (bool, error) {
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	default:
	}
	admins, err := bot.GetChatAdministrators(api.ChatAdministratorsConfig{
		ChatConfig: api.ChatConfig{ChatID: chatID},
	})
	if err != nil {
		return false, errors.WithMessage(err, "cant get chat administrators")
	}
	for _, admin := range admins {
		if admin.User != nil && admin.User.ID == userID {
			return true, nil
		}
	}
	return false, nil
}

// HasProfilePhoto reports whether the user set at least one profile photo.
func HasProfilePhoto(ctx context.Context, bot *api.BotAPI, userID int64) (bool, error) {
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	default:
	}
	photos, err := bot.GetUserProfilePhotos(api.NewUserProfilePhotos(userID))
	if err != nil {
		return false, err
	}
	return photos.TotalCount > 0, nil
}
