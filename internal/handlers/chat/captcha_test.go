package handlers

import (
	"strings"
	"testing"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
)

func TestCallbackTokenRoundTrip(t *testing.T) {
	t.Parallel()

	eventTime := time.Date(2025, 3, 14, 15, 9, 26, 0, time.UTC)
	token := EncodeCallbackToken(42, eventTime, VerdictCorrect)
	if token != "42__2025-03-14T15:09:26Z__!" {
		t.Fatalf("token rendering changed: %q", token)
	}

	memberID, parsedTime, verdict, err := DecodeCallbackToken(token)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if memberID != 42 || !parsedTime.Equal(eventTime) || verdict != VerdictCorrect {
		t.Fatalf("round trip mismatch: %d %v %q", memberID, parsedTime, verdict)
	}
}

func TestDecodeCallbackTokenRejectsGarbage(t *testing.T) {
	t.Parallel()

	for _, data := range []string{
		"",
		"42",
		"42__2025-03-14T15:09:26Z",
		"forty__2025-03-14T15:09:26Z__!",
		"42__yesterday__!",
		"42__2025-03-14T15:09:26Z__Z",
		"42__2025-03-14T15:09:26Z__!__extra",
	} {
		if _, _, _, err := DecodeCallbackToken(data); err == nil {
			t.Fatalf("expected error for %q", data)
		}
		if isAdmissionCallbackData(data) {
			t.Fatalf("garbage %q recognized as admission data", data)
		}
	}
}

func TestBuildChallengeShape(t *testing.T) {
	t.Parallel()

	builder, err := NewCaptchaBuilder()
	if err != nil {
		t.Fatalf("cant load icon set: %v", err)
	}
	member := &api.User{ID: 1001, FirstName: "Eve"}
	eventTime := time.Now().UTC().Truncate(time.Second)

	challenge := builder.Build(member, "Eve", eventTime)
	if !isCaptchaKeyboard(&challenge.Markup) {
		t.Fatalf("keyboard shape broken: %+v", challenge.Markup)
	}

	correct := 0
	for _, button := range challenge.Markup.InlineKeyboard[0] {
		_, parsedTime, verdict, err := DecodeCallbackToken(*button.CallbackData)
		if err != nil {
			t.Fatalf("option button carries bad token: %v", err)
		}
		if !parsedTime.Equal(eventTime) {
			t.Fatalf("option button anchored to wrong time: %v", parsedTime)
		}
		if verdict == VerdictCorrect {
			correct++
		} else if verdict != VerdictWrong {
			t.Fatalf("option row carries admin verdict %q", verdict)
		}
	}
	if correct != 1 {
		t.Fatalf("expected exactly one correct option, got %d", correct)
	}

	adminRow := challenge.Markup.InlineKeyboard[1]
	if _, _, verdict, _ := DecodeCallbackToken(*adminRow[0].CallbackData); verdict != VerdictApprove {
		t.Fatalf("first admin button is %q", verdict)
	}
	if _, _, verdict, _ := DecodeCallbackToken(*adminRow[1].CallbackData); verdict != VerdictReject {
		t.Fatalf("second admin button is %q", verdict)
	}

	if !strings.Contains(challenge.Text, challenge.Target.Label) {
		t.Fatalf("challenge text does not name the target %q: %q", challenge.Target.Label, challenge.Text)
	}
	if !strings.Contains(challenge.Text, "tg://user?id=1001") {
		t.Fatalf("challenge text does not mention the member: %q", challenge.Text)
	}
}

func TestMemberLinkEscapesMarkdown(t *testing.T) {
	t.Parallel()

	link := memberLink(7, "Ad_Bot [promo]")
	if strings.Contains(link, "[promo]") {
		t.Fatalf("markdown special characters leaked: %q", link)
	}
	if !strings.HasSuffix(link, "(tg://user?id=7)") {
		t.Fatalf("link target malformed: %q", link)
	}
}

func TestIsCaptchaKeyboardRejectsOtherShapes(t *testing.T) {
	t.Parallel()

	if isCaptchaKeyboard(nil) {
		t.Fatal("nil markup accepted")
	}
	one := api.NewInlineKeyboardMarkup(
		api.NewInlineKeyboardRow(api.NewInlineKeyboardButtonData("a", "b")),
	)
	if isCaptchaKeyboard(&one) {
		t.Fatal("single-row markup accepted")
	}
}
