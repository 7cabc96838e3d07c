package tasks

import (
	"context"
	"time"

	"github.com/iamwavecut/tool"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/doorbot/internal/bot"
	"github.com/iamwavecut/doorbot/internal/db"
	"github.com/iamwavecut/doorbot/internal/observability"
	"github.com/iamwavecut/doorbot/internal/worker"
)

const (
	// A timed-out member gets a short ban so the join gate resets, then
	// a scheduled unban so they can try again from scratch.
	timeoutBanPeriod  = 60 * time.Second
	timeoutUnbanDelay = 45 * time.Second
)

// NewHandlerMap wires deferred session types to their executors.
func NewHandlerMap(s bot.Service) map[db.TaskType]worker.HandlerFunc {
	return map[db.TaskType]worker.HandlerFunc{
		db.TaskNewMemberCheck: newMemberCheck(s),
		db.TaskUnbanMember:    unbanMember(s),
	}
}

// newMemberCheck fires when the captcha deadline passes. If the member
// is still sitting in the restricted state we put them in, the captcha
// went unanswered.
func newMemberCheck(s bot.Service) worker.HandlerFunc {
	logger := log.WithField("object", "NewMemberCheck")
	return func(ctx context.Context, chatID int64, messageID int, memberID int64) error {
		entry := logger.WithFields(log.Fields{"chat_id": chatID, "member_id": memberID})
		b := s.GetBot()

		cm, err := bot.GetChatMember(ctx, b, chatID, memberID)
		if err != nil {
			return errors.WithMessage(err, "cant fetch member for deadline check")
		}
		if tool.In(cm.Status, "creator", "administrator", "member", "left", "kicked") {
			entry.WithField("status", cm.Status).Debug("member no longer pending, nothing to do")
			return nil
		}
		if cm.Status == "restricted" && cm.CanSendMessages {
			entry.Debug("member was unmuted by someone else, nothing to do")
			return nil
		}

		now := time.Now()
		if err := bot.BanUserFromChat(ctx, b, memberID, chatID, now.Add(timeoutBanPeriod).Unix(), true); err != nil {
			return errors.WithMessage(err, "cant ban timed-out member")
		}
		if err := s.GetTaskStore().AddDeferredSession(ctx, &db.DeferredSession{
			ChatID:     chatID,
			MessageID:  messageID,
			MemberID:   memberID,
			Type:       db.TaskUnbanMember,
			CheckoutAt: now.Add(timeoutUnbanDelay),
		}); err != nil {
			return errors.WithMessage(err, "cant schedule unban")
		}

		if session, err := s.GetSessionStore().GetSession(ctx, chatID, memberID); err == nil && session != nil && !session.Terminal() {
			session.Timeout = true
			session.Touch(now)
			if err := s.GetSessionStore().SetSession(ctx, session); err != nil {
				entry.WithField("error", err.Error()).Error("cant persist timed-out session")
			}
		}

		observability.AuditAdmission("timeout", chatID, memberID)
		entry.Info("member timed out on captcha")
		return nil
	}
}

// unbanMember lifts the short timeout ban so the member can rejoin.
func unbanMember(s bot.Service) worker.HandlerFunc {
	return func(ctx context.Context, chatID int64, messageID int, memberID int64) error {
		return bot.UnbanIfBanned(ctx, s.GetBot(), memberID, chatID)
	}
}
