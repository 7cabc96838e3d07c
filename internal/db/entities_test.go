package db

import (
	"testing"
	"time"
)

func TestCheckMethodDefaultsToBan(t *testing.T) {
	t.Parallel()

	cases := map[string]AdmissionMethod{
		"":             MethodBan,
		"ban":          MethodBan,
		"silence":      MethodSilence,
		"sleep_1week":  MethodSleep1Week,
		"sleep_2weeks": MethodSleep2Weeks,
		"none":         MethodNone,
		"bogus":        MethodBan,
	}
	for raw, want := range cases {
		settings := GroupSettings{}
		if raw != "" {
			settings[SettingNewMemberCheckMethod] = raw
		}
		if got := settings.CheckMethod(); got != want {
			t.Fatalf("CheckMethod(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestCheckMethodOnNilMap(t *testing.T) {
	t.Parallel()

	var settings GroupSettings
	if got := settings.CheckMethod(); got != MethodBan {
		t.Fatalf("nil settings should default to ban, got %q", got)
	}
}

func TestSessionTouchComputesCaptchaCost(t *testing.T) {
	t.Parallel()

	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s := &Session{CreatedAt: created, UpdatedAt: created}
	s.Touch(created.Add(4 * time.Second))
	if s.CostCaptchaSeconds != 4 {
		t.Fatalf("expected cost 4s, got %v", s.CostCaptchaSeconds)
	}
	if !s.UpdatedAt.After(s.CreatedAt) {
		t.Fatalf("expected ts_update to advance past ts_create")
	}
}

func TestSessionTerminal(t *testing.T) {
	t.Parallel()

	if (&Session{}).Terminal() {
		t.Fatalf("fresh session must not be terminal")
	}
	for _, s := range []*Session{{Accepted: true}, {Timeout: true}, {Banned: true}} {
		if !s.Terminal() {
			t.Fatalf("session with a set flag must be terminal: %+v", s)
		}
	}
}
