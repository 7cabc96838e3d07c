package handlers

import (
	"context"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/doorbot/internal/bot"
	"github.com/iamwavecut/doorbot/internal/db"
	"github.com/iamwavecut/doorbot/internal/observability"
)

// handleCallback arbitrates taps on a captcha keyboard. The joining
// member may answer their own challenge, group administrators may
// short-circuit it either way, everyone else gets a polite ack.
func (a *Admission) handleCallback(ctx context.Context, cq *api.CallbackQuery) (bool, error) {
	entry := a.logger.WithFields(log.Fields{"method": "handleCallback", "data": cq.Data})
	b := a.s.GetBot()

	msg := cq.Message
	if msg == nil || msg.From == nil || msg.From.ID != b.Self.ID {
		a.ack(cq.ID, "")
		return false, nil
	}
	chat := msg.Chat
	if !chat.IsGroup() && !chat.IsSuperGroup() {
		a.ack(cq.ID, "")
		return false, nil
	}
	if !isCaptchaKeyboard(msg.ReplyMarkup) {
		entry.Warn("callback on a message without a captcha keyboard")
		a.ack(cq.ID, "")
		return false, nil
	}

	memberID, eventTime, verdict, err := DecodeCallbackToken(cq.Data)
	if err != nil {
		entry.WithField("error", err.Error()).Warn("malformed callback token")
		a.ack(cq.ID, "")
		return false, nil
	}

	actor := cq.From
	if actor == nil {
		a.ack(cq.ID, "")
		return false, nil
	}
	isTarget := actor.ID == memberID

	entry = entry.WithFields(log.Fields{
		"chat_id":   chat.ID,
		"member_id": memberID,
		"actor_id":  actor.ID,
		"verdict":   verdict,
	})

	switch verdict {
	case VerdictCorrect:
		if !isTarget {
			a.ack(cq.ID, "")
			return false, nil
		}
		a.ack(cq.ID, "")
		return false, a.acceptMember(ctx, chat.ID, msg.MessageID, memberID, bot.GetFullName(actor), "accepted")

	case VerdictWrong:
		if !isTarget {
			a.ack(cq.ID, "")
			return false, nil
		}
		entry.Info("wrong icon picked, regenerating challenge")
		challenge := a.captcha.Build(actor, bot.GetFullName(actor), eventTime)
		edit := api.NewEditMessageTextAndMarkup(chat.ID, msg.MessageID, challenge.Text, challenge.Markup)
		edit.ParseMode = api.ModeMarkdownV2
		if _, err := b.Request(edit); err != nil {
			entry.WithField("error", err.Error()).Error("cant regenerate captcha")
		}
		a.ack(cq.ID, "再试一次。 Try again.")
		return false, nil

	case VerdictApprove, VerdictReject:
		// An admin's press counts even when the admin is the joining
		// member, being the target does not forfeit the admin buttons.
		isAdmin, err := bot.IsChatAdministrator(ctx, b, chat.ID, actor.ID)
		if err != nil {
			entry.WithField("error", err.Error()).Error("cant check admin status")
			a.ack(cq.ID, "")
			return false, nil
		}
		if !isAdmin {
			a.ack(cq.ID, "")
			return false, nil
		}
		a.ack(cq.ID, "")
		if verdict == VerdictApprove {
			return false, a.acceptMember(ctx, chat.ID, msg.MessageID, memberID, "", "approved")
		}
		return false, a.rejectMember(ctx, chat.ID, msg.MessageID, memberID)
	}

	entry.Warn("unreachable verdict branch")
	a.ack(cq.ID, "")
	return false, nil
}

// acceptMember is shared by a correct pick and an admin approval. It
// lifts the restriction, swaps the captcha for a welcome message and
// closes out the admission session.
func (a *Admission) acceptMember(ctx context.Context, chatID int64, captchaMessageID int, memberID int64, fullName, outcome string) error {
	b := a.s.GetBot()
	now := time.Now()

	session, err := a.s.GetSessionStore().GetSession(ctx, chatID, memberID)
	if err != nil {
		a.logger.WithField("error", err.Error()).Error("cant load admission session")
	}
	if fullName == "" {
		if session != nil {
			fullName = session.MemberFullname
		} else if cm, err := bot.GetChatMember(ctx, b, chatID, memberID); err == nil && cm.User != nil {
			fullName = bot.GetFullName(cm.User)
		}
	}

	if err := bot.DeleteChatMessage(ctx, b, chatID, captchaMessageID); err != nil {
		a.logger.WithField("error", err.Error()).Error("cant delete captcha message")
	}
	if err := bot.UnrestrictChatting(ctx, b, memberID, chatID); err != nil {
		return errors.WithMessage(err, "cant lift restriction for accepted member")
	}

	askForPhoto := false
	if has, err := bot.HasProfilePhoto(ctx, b, memberID); err == nil && !has {
		askForPhoto = true
	}
	a.sendSelfDestruct(ctx, chatID, welcomeText(memberID, fullName, askForPhoto), now.Add(noticeSelfDestruct))

	if err := a.s.GetTaskStore().DeleteMemberSessions(ctx, chatID, memberID, db.TaskNewMemberCheck); err != nil {
		a.logger.WithField("error", err.Error()).Error("cant drop pending member check")
	}

	if session != nil && !session.Terminal() {
		session.Accepted = true
		session.Touch(now)
		if err := a.s.GetSessionStore().SetSession(ctx, session); err != nil {
			a.logger.WithField("error", err.Error()).Error("cant persist accepted session")
		}
	}

	observability.AuditAdmission(outcome, chatID, memberID)
	return nil
}

// rejectMember handles the admin ❌ press: captcha goes away, the member
// gets the long ban with message revocation.
func (a *Admission) rejectMember(ctx context.Context, chatID int64, captchaMessageID int, memberID int64) error {
	b := a.s.GetBot()
	now := time.Now()

	if err := bot.DeleteChatMessage(ctx, b, chatID, captchaMessageID); err != nil {
		a.logger.WithField("error", err.Error()).Error("cant delete captcha message")
	}
	if err := bot.BanUserFromChat(ctx, b, memberID, chatID, now.Add(violationBanPeriod).Unix(), true); err != nil {
		return errors.WithMessage(err, "cant ban rejected member")
	}
	if err := a.s.GetTaskStore().DeleteMemberSessions(ctx, chatID, memberID, db.TaskNewMemberCheck); err != nil {
		a.logger.WithField("error", err.Error()).Error("cant drop pending member check")
	}

	session, err := a.s.GetSessionStore().GetSession(ctx, chatID, memberID)
	if err == nil && session != nil && !session.Terminal() {
		session.Banned = true
		session.Touch(now)
		if err := a.s.GetSessionStore().SetSession(ctx, session); err != nil {
			a.logger.WithField("error", err.Error()).Error("cant persist rejected session")
		}
	}

	observability.AuditAdmission("rejected", chatID, memberID)
	return nil
}

func (a *Admission) ack(callbackID, text string) {
	if _, err := a.s.GetBot().Request(api.NewCallback(callbackID, text)); err != nil {
		a.logger.WithField("error", err.Error()).Error("cant answer callback query")
	}
}

// isCaptchaKeyboard checks the five-icon row plus two-button admin row
// shape before trusting any token attached to the message.
func isCaptchaKeyboard(markup *api.InlineKeyboardMarkup) bool {
	if markup == nil || len(markup.InlineKeyboard) != 2 {
		return false
	}
	return len(markup.InlineKeyboard[0]) == captchaOptions && len(markup.InlineKeyboard[1]) == 2
}
