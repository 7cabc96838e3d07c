package handlers

import (
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/iamwavecut/tool"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/iamwavecut/doorbot/resources"
)

const (
	captchaOptions = 5

	VerdictCorrect = "!"
	VerdictWrong   = "?"
	VerdictApprove = "O"
	VerdictReject  = "X"

	tokenSeparator = "__"

	iconsResource = "captcha/icons.yml"
)

type (
	Icon struct {
		Label string
		Emoji string
	}

	Challenge struct {
		Target Icon
		Text   string
		Markup api.InlineKeyboardMarkup
	}

	CaptchaBuilder struct {
		icons []Icon
	}
)

func NewCaptchaBuilder() (*CaptchaBuilder, error) {
	data, err := resources.FS.ReadFile(iconsResource)
	if err != nil {
		return nil, errors.WithMessage(err, "cant read captcha icons resource")
	}
	byLabel := map[string]string{}
	if err := yaml.Unmarshal(data, &byLabel); err != nil {
		return nil, errors.WithMessage(err, "cant unmarshal captcha icons")
	}
	if len(byLabel) < captchaOptions {
		return nil, errors.Errorf("need at least %d captcha icons, have %d", captchaOptions, len(byLabel))
	}

	labels := make([]string, 0, len(byLabel))
	for label := range byLabel {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	icons := make([]Icon, 0, len(labels))
	for _, label := range labels {
		icons = append(icons, Icon{Label: label, Emoji: byLabel[label]})
	}
	return &CaptchaBuilder{icons: icons}, nil
}

// Build samples a fresh challenge. eventTime is a nonce carried in every
// callback token, not a seed: two builds for the same join may differ.
func (b *CaptchaBuilder) Build(member *api.User, fullName string, eventTime time.Time) Challenge {
	sampled := make([]Icon, 0, captchaOptions)
	used := make(map[int]struct{}, captchaOptions)
	for len(sampled) < captchaOptions {
		i := tool.RandInt(0, len(b.icons)-1)
		if _, ok := used[i]; ok {
			continue
		}
		used[i] = struct{}{}
		sampled = append(sampled, b.icons[i])
	}
	target := sampled[tool.RandInt(0, len(sampled)-1)]
	rand.Shuffle(len(sampled), func(i, j int) {
		sampled[i], sampled[j] = sampled[j], sampled[i]
	})

	optionRow := make([]api.InlineKeyboardButton, 0, captchaOptions)
	for _, icon := range sampled {
		verdict := VerdictWrong
		if icon.Label == target.Label {
			verdict = VerdictCorrect
		}
		optionRow = append(optionRow, api.NewInlineKeyboardButtonData(
			icon.Emoji,
			EncodeCallbackToken(member.ID, eventTime, verdict),
		))
	}
	adminRow := []api.InlineKeyboardButton{
		api.NewInlineKeyboardButtonData("✔", EncodeCallbackToken(member.ID, eventTime, VerdictApprove)),
		api.NewInlineKeyboardButtonData("❌", EncodeCallbackToken(member.ID, eventTime, VerdictReject)),
	}

	return Challenge{
		Target: target,
		Text:   captchaText(member.ID, fullName, target.Label),
		Markup: api.NewInlineKeyboardMarkup(
			api.NewInlineKeyboardRow(optionRow...),
			api.NewInlineKeyboardRow(adminRow...),
		),
	}
}

// EncodeCallbackToken renders the byte-stable on-wire token
// {member_id}__{event_time RFC3339}__{verdict}.
func EncodeCallbackToken(memberID int64, eventTime time.Time, verdict string) string {
	return strconv.FormatInt(memberID, 10) + tokenSeparator +
		eventTime.UTC().Format(time.RFC3339) + tokenSeparator +
		verdict
}

func DecodeCallbackToken(data string) (memberID int64, eventTime time.Time, verdict string, err error) {
	parts := strings.Split(data, tokenSeparator)
	if len(parts) != 3 {
		return 0, time.Time{}, "", errors.Errorf("token has %d parts", len(parts))
	}
	memberID, err = strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, time.Time{}, "", errors.WithMessage(err, "cant parse member id")
	}
	eventTime, err = time.Parse(time.RFC3339, parts[1])
	if err != nil {
		return 0, time.Time{}, "", errors.WithMessage(err, "cant parse event time")
	}
	switch parts[2] {
	case VerdictCorrect, VerdictWrong, VerdictApprove, VerdictReject:
	default:
		return 0, time.Time{}, "", errors.Errorf("unknown verdict %q", parts[2])
	}
	return memberID, eventTime, parts[2], nil
}

func isAdmissionCallbackData(data string) bool {
	_, _, _, err := DecodeCallbackToken(data)
	return err == nil
}

func memberLink(memberID int64, fullName string) string {
	return fmt.Sprintf("[%s](tg://user?id=%d)", api.EscapeText(api.ModeMarkdownV2, fullName), memberID)
}
