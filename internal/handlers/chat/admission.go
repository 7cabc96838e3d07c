package handlers

import (
	"context"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pborman/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/doorbot/internal/bot"
	"github.com/iamwavecut/doorbot/internal/config"
	"github.com/iamwavecut/doorbot/internal/db"
	"github.com/iamwavecut/doorbot/internal/infra"
	"github.com/iamwavecut/doorbot/internal/observability"
	"github.com/iamwavecut/doorbot/internal/screening"
)

const (
	// Join events older than this are replays from a catch-up poll and
	// must not trigger a captcha nobody can answer anymore.
	admissionEventMaxAge = 60 * time.Second

	// How long to wait for a cooperative admission bot to claim the
	// member before we do.
	cooperativeBotGrace = 3 * time.Second

	captchaDeadline    = 30 * time.Second
	noticeSelfDestruct = 30 * time.Second

	violationBanPeriod = 30 * 24 * time.Hour
)

// Admission gates every join on group chats. Depending on the group's
// configured method it bans-until-verified behind an emoji captcha,
// mutes, mutes for a fixed sleep period, or waves the member through.
type Admission struct {
	s       bot.Service
	cfg     *config.Config
	screen  *screening.Pipeline
	captcha *CaptchaBuilder
	grace   time.Duration
	logger  *log.Entry
}

func NewAdmission(s bot.Service, cfg *config.Config, screen *screening.Pipeline, captcha *CaptchaBuilder) *Admission {
	return &Admission{
		s:       s,
		cfg:     cfg,
		screen:  screen,
		captcha: captcha,
		grace:   cooperativeBotGrace,
		logger:  log.WithField("object", "Admission"),
	}
}

func (a *Admission) Handle(ctx context.Context, u *api.Update, chat *api.Chat, user *api.User) (bool, error) {
	if u.ChatMember != nil {
		return a.handleChatMember(ctx, u.ChatMember)
	}
	if u.CallbackQuery != nil {
		return a.handleCallback(ctx, u.CallbackQuery)
	}
	return true, nil
}

// handleChatMember validates the join and applies the group's admission
// mode. The ban-mode tail (grace wait, screening, captcha) runs on its
// own goroutine so a slow admission never holds up update dispatch.
func (a *Admission) handleChatMember(ctx context.Context, upd *api.ChatMemberUpdated) (bool, error) {
	chat := upd.Chat
	if !chat.IsGroup() && !chat.IsSuperGroup() {
		return true, nil
	}
	if !isJoinTransition(upd) {
		return true, nil
	}

	member := upd.NewChatMember.User
	if member == nil || member.IsBot {
		return true, nil
	}

	fullName := bot.GetFullName(member)
	entry := a.logger.WithFields(log.Fields{
		"chat_id":   chat.ID,
		"member_id": member.ID,
		"username":  bot.GetUN(member),
	})

	eventTime := time.Unix(int64(upd.Date), 0)
	if time.Since(eventTime) > admissionEventMaxAge {
		entry.WithField("event_age", time.Since(eventTime).String()).Info("stale join event, skipping")
		return false, nil
	}

	settings, err := a.s.GetSettings(ctx, chat.ID)
	if err != nil {
		return false, errors.WithMessage(err, "cant get group settings")
	}

	method := settings.CheckMethod()
	if method == db.MethodNone {
		entry.Debug("admission disabled for group")
		return false, nil
	}

	b := a.s.GetBot()
	if err := bot.RestrictChatting(ctx, b, member.ID, chat.ID, 0); err != nil {
		entry.WithField("error", err.Error()).Warn("cant restrict joining member, probably not an admin here")
		return false, nil
	}

	switch method {
	case db.MethodSilence:
		a.sendSelfDestruct(ctx, chat.ID, silenceText(member.ID, fullName), eventTime.Add(noticeSelfDestruct))
		observability.AuditAdmission("silenced", chat.ID, member.ID)
		return false, nil

	case db.MethodSleep1Week, db.MethodSleep2Weeks:
		days := 7
		if method == db.MethodSleep2Weeks {
			days = 14
		}
		until := eventTime.Add(time.Duration(days) * 24 * time.Hour)
		if err := bot.RestrictChatting(ctx, b, member.ID, chat.ID, until.Unix()); err != nil {
			return false, errors.WithMessage(err, "cant set sleep restriction")
		}
		a.sendSelfDestruct(ctx, chat.ID, sleepText(member.ID, fullName, days), eventTime.Add(noticeSelfDestruct))
		observability.AuditAdmission("slept", chat.ID, member.ID)
		return false, nil
	}

	session := &db.Session{
		ID:             uuid.New(),
		ChatID:         chat.ID,
		ChatTitle:      chat.Title,
		MemberID:       member.ID,
		MemberFullname: fullName,
		MemberUsername: member.UserName,
		CreatedAt:      eventTime,
		UpdatedAt:      eventTime,
	}
	if err := a.s.GetSessionStore().SetSession(ctx, session); err != nil {
		entry.WithField("error", err.Error()).Error("cant persist admission session")
	}

	go infra.GoRecoverable(1, "admission completion", func() {
		if err := a.completeAdmission(ctx, chat, member, fullName, session, eventTime); err != nil {
			entry.WithField("error", err.Error()).Error("cant complete admission")
		}
	})
	return false, nil
}

// completeAdmission is the slow half of a ban-mode join: waiting out the
// cooperative-bot grace, screening, and posting the captcha with its two
// deferred rows. It runs off the dispatch goroutine.
func (a *Admission) completeAdmission(ctx context.Context, chat api.Chat, member *api.User, fullName string, session *db.Session, eventTime time.Time) error {
	entry := a.logger.WithFields(log.Fields{"chat_id": chat.ID, "member_id": member.ID})
	b := a.s.GetBot()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(a.grace):
	}

	if cm, err := bot.GetChatMember(ctx, b, chat.ID, member.ID); err == nil {
		if cm.Status != "restricted" || cm.CanSendMessages {
			entry.Info("member already handled by another bot, standing down")
			return nil
		}
	}

	screenMember := &screening.Member{
		ID:        member.ID,
		Username:  member.UserName,
		FirstName: member.FirstName,
		LastName:  member.LastName,
		Fullname:  fullName,
	}
	result := a.screen.Screen(ctx, screenMember)
	session.MemberBio = screenMember.Bio

	if result.Violation {
		return a.banForViolation(ctx, chat.ID, member.ID, fullName, session, result)
	}

	challenge := a.captcha.Build(member, fullName, eventTime)
	msg := api.NewMessage(chat.ID, challenge.Text)
	msg.ParseMode = api.ModeMarkdownV2
	msg.DisableNotification = true
	msg.ReplyMarkup = challenge.Markup
	sent, err := b.Send(msg)
	if err != nil {
		return errors.WithMessage(err, "cant send captcha challenge")
	}

	// The deletion row goes in first and a failure to write it removes
	// the captcha right away, so no captcha outlives its deadline even
	// when the store misbehaves.
	tasks := a.s.GetTaskStore()
	deadline := eventTime.Add(captchaDeadline)
	if err := tasks.AddDeferredMessage(ctx, chat.ID, sent.MessageID, deadline); err != nil {
		entry.WithField("error", err.Error()).Error("cant schedule captcha deletion, removing captcha now")
		if err := bot.DeleteChatMessage(ctx, b, chat.ID, sent.MessageID); err != nil {
			entry.WithField("error", err.Error()).Error("cant delete unscheduled captcha")
		}
	}
	if err := tasks.AddDeferredSession(ctx, &db.DeferredSession{
		ChatID:     chat.ID,
		MessageID:  sent.MessageID,
		MemberID:   member.ID,
		Type:       db.TaskNewMemberCheck,
		CheckoutAt: deadline,
	}); err != nil {
		entry.WithField("error", err.Error()).Error("cant schedule member check")
	}
	entry.WithField("target", challenge.Target.Label).Info("captcha challenge posted")
	return nil
}

// banForViolation handles a hard screening hit: notify the group, ban for
// the long period with message revocation, and close out the session.
func (a *Admission) banForViolation(ctx context.Context, chatID, memberID int64, fullName string, session *db.Session, result screening.Result) error {
	b := a.s.GetBot()
	now := time.Now()

	a.sendSelfDestruct(ctx, chatID, violationText(memberID, fullName), now.Add(noticeSelfDestruct))

	if err := bot.BanUserFromChat(ctx, b, memberID, chatID, now.Add(violationBanPeriod).Unix(), true); err != nil {
		return errors.WithMessage(err, "cant ban member for screening violation")
	}

	session.Banned = true
	session.Touch(now)
	if err := a.s.GetSessionStore().SetSession(ctx, session); err != nil {
		a.logger.WithField("error", err.Error()).Error("cant persist banned session")
	}

	observability.AuditAdmission("banned", chatID, memberID)

	if adminID := a.cfg.Telegram.AdminID; adminID != 0 {
		report := api.NewMessage(adminID, esc("Banned "+fullName+" for advertising, matched: "+result.MatchedToken))
		report.ParseMode = api.ModeMarkdownV2
		if _, err := b.Send(report); err != nil {
			a.logger.WithField("error", err.Error()).Warn("cant notify admin about ban")
		}
	}
	return nil
}

// sendSelfDestruct posts a notice and schedules its deletion. Both
// failures are logged, the admission flow never depends on notices.
func (a *Admission) sendSelfDestruct(ctx context.Context, chatID int64, text string, deleteAt time.Time) {
	msg := api.NewMessage(chatID, text)
	msg.ParseMode = api.ModeMarkdownV2
	msg.DisableNotification = true
	sent, err := a.s.GetBot().Send(msg)
	if err != nil {
		a.logger.WithField("error", err.Error()).Warn("cant send notice")
		return
	}
	if err := a.s.GetTaskStore().AddDeferredMessage(ctx, chatID, sent.MessageID, deleteAt); err != nil {
		a.logger.WithField("error", err.Error()).Error("cant schedule notice deletion")
	}
}

// isJoinTransition reports whether the status change describes a genuine
// join, as opposed to promotions, unmutes or other membership churn.
func isJoinTransition(upd *api.ChatMemberUpdated) bool {
	oldStatus := upd.OldChatMember.Status
	newStatus := upd.NewChatMember.Status

	wasOut := oldStatus == "left" || oldStatus == "kicked" ||
		(oldStatus == "restricted" && !upd.OldChatMember.IsMember)
	isIn := newStatus == "member" ||
		(newStatus == "restricted" && upd.NewChatMember.IsMember)
	return wasOut && isIn
}
