package handlers

import (
	"fmt"

	api "github.com/OvyFlash/telegram-bot-api"
)

// All user-facing texts are bilingual, Chinese first, mirroring the groups
// the bot was built for. Messages are assembled from escaped fragments so
// MarkdownV2 stays valid whatever the user is called.

func esc(s string) string {
	return api.EscapeText(api.ModeMarkdownV2, s)
}

func captchaText(memberID int64, fullName, targetLabel string) string {
	return memberLink(memberID, fullName) + esc(fmt.Sprintf(
		" 你好，请在 30 秒内点击【%s】图标，证明你不是机器人。\nHello! Tap the \"%s\" icon within 30 seconds to prove you are human.",
		targetLabel, targetLabel,
	))
}

func welcomeText(memberID int64, fullName string, askForPhoto bool) string {
	text := memberLink(memberID, fullName) + esc(" 验证通过，欢迎加入！\nVerified, welcome aboard!")
	if askForPhoto {
		text += esc("\n\n小提示：设置一张头像会让大家更容易认识你。\nTip: setting a profile photo helps others recognize you.")
	}
	return text
}

func silenceText(memberID int64, fullName string) string {
	return memberLink(memberID, fullName) + esc(
		" 你好，本群开启了人工审核，请等待管理员解除禁言。\nHello! This group uses manual review, please wait for an administrator to unmute you.")
}

func sleepText(memberID int64, fullName string, days int) string {
	return memberLink(memberID, fullName) + esc(fmt.Sprintf(
		" 你好，按本群规则，新成员需静默 %d 天后才能发言。\nHello! Per group rules, new members stay muted for %d days before they can speak.",
		days, days,
	))
}

func violationText(memberID int64, fullName string) string {
	return memberLink(memberID, fullName) + esc(
		" 的资料命中了广告拦截规则，已被移出群组。\nThis profile matched the advertising filter and was removed from the group.")
}
