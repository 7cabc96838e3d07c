package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"

	"github.com/iamwavecut/doorbot/internal/bot"
	"github.com/iamwavecut/doorbot/internal/config"
	"github.com/iamwavecut/doorbot/internal/db"
	"github.com/iamwavecut/doorbot/internal/screening"
)

const testBotID int64 = 4242

type telegramCall struct {
	method string
	params url.Values
}

// fakeTelegram is an in-process Bot API endpoint that records every call
// and answers with canned responses, configurable per test.
type fakeTelegram struct {
	srv *httptest.Server

	mu            sync.Mutex
	calls         []telegramCall
	nextMessageID int

	memberCanSend bool
	adminIDs      []int64
	photoCount    int
}

func newFakeTelegram(t *testing.T) *fakeTelegram {
	t.Helper()
	ft := &fakeTelegram{nextMessageID: 100}
	ft.srv = httptest.NewServer(http.HandlerFunc(ft.handle))
	t.Cleanup(ft.srv.Close)
	return ft
}

func (ft *fakeTelegram) endpoint() string {
	return ft.srv.URL + "/bot%s/%s"
}

func (ft *fakeTelegram) handle(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]

	ft.mu.Lock()
	ft.calls = append(ft.calls, telegramCall{method: method, params: r.PostForm})
	messageID := ft.nextMessageID
	if method == "sendMessage" {
		ft.nextMessageID++
	}
	canSend := ft.memberCanSend
	adminIDs := ft.adminIDs
	photoCount := ft.photoCount
	ft.mu.Unlock()

	switch method {
	case "getMe":
		writeResult(w, fmt.Sprintf(`{"id":%d,"is_bot":true,"first_name":"doorbot"}`, testBotID))
	case "sendMessage":
		chatID, _ := strconv.ParseInt(r.PostForm.Get("chat_id"), 10, 64)
		writeResult(w, fmt.Sprintf(
			`{"message_id":%d,"date":%d,"chat":{"id":%d,"type":"supergroup"}}`,
			messageID, time.Now().Unix(), chatID))
	case "getChatMember":
		userID, _ := strconv.ParseInt(r.PostForm.Get("user_id"), 10, 64)
		writeResult(w, fmt.Sprintf(
			`{"user":{"id":%d},"status":"restricted","is_member":true,"can_send_messages":%t}`,
			userID, canSend))
	case "getChatAdministrators":
		members := make([]string, 0, len(adminIDs))
		for _, id := range adminIDs {
			members = append(members, fmt.Sprintf(`{"user":{"id":%d},"status":"administrator"}`, id))
		}
		writeResult(w, "["+strings.Join(members, ",")+"]")
	case "getUserProfilePhotos":
		writeResult(w, fmt.Sprintf(`{"total_count":%d,"photos":[]}`, photoCount))
	default:
		writeResult(w, "true")
	}
}

func writeResult(w http.ResponseWriter, result string) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"ok":true,"result":%s}`, result)
}

func (ft *fakeTelegram) callsFor(method string) []url.Values {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	var out []url.Values
	for _, call := range ft.calls {
		if call.method == method {
			out = append(out, call.params)
		}
	}
	return out
}

func (ft *fakeTelegram) methodOrder() []string {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	order := make([]string, 0, len(ft.calls))
	for _, call := range ft.calls {
		order = append(order, call.method)
	}
	return order
}

// waitFor polls until at least one call to method landed and returns the
// last one. Backgrounded admission work makes this necessary.
func (ft *fakeTelegram) waitFor(t *testing.T, method string) url.Values {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if calls := ft.callsFor(method); len(calls) > 0 {
			return calls[len(calls)-1]
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("no %s call within deadline", method)
	return nil
}

type memSessionStore struct {
	mu       sync.Mutex
	sessions map[string]db.Session
}

func newMemSessionStore() *memSessionStore {
	return &memSessionStore{sessions: map[string]db.Session{}}
}

func sessionKey(chatID, memberID int64) string {
	return fmt.Sprintf("%d:%d", chatID, memberID)
}

func (s *memSessionStore) SetSession(_ context.Context, session *db.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionKey(session.ChatID, session.MemberID)] = *session
	return nil
}

func (s *memSessionStore) GetSession(_ context.Context, chatID, memberID int64) (*db.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionKey(chatID, memberID)]
	if !ok {
		return nil, nil
	}
	return &session, nil
}

type memSettingsStore struct {
	settings db.GroupSettings
}

func (s *memSettingsStore) GetSettings(_ context.Context, _ int64) (db.GroupSettings, error) {
	return s.settings, nil
}

func (s *memSettingsStore) SetSetting(_ context.Context, _ int64, _, _ string) error {
	return nil
}

type memTaskStore struct {
	mu           sync.Mutex
	failMessages bool
	failSessions bool
	messages     []db.DeferredMessage
	sessions     []db.DeferredSession
	dropped      []string
}

func (s *memTaskStore) AddDeferredMessage(_ context.Context, chatID int64, messageID int, deleteAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failMessages {
		return fmt.Errorf("task store rejected message row")
	}
	s.messages = append(s.messages, db.DeferredMessage{ChatID: chatID, MessageID: messageID, DeleteAt: deleteAt})
	return nil
}

func (s *memTaskStore) AddDeferredSession(_ context.Context, session *db.DeferredSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSessions {
		return fmt.Errorf("task store rejected session row")
	}
	s.sessions = append(s.sessions, *session)
	return nil
}

func (s *memTaskStore) GetDueMessages(_ context.Context, _ time.Time, _ int) ([]*db.DeferredMessage, error) {
	return nil, nil
}

func (s *memTaskStore) GetDueSessions(_ context.Context, _ time.Time, _ int) ([]*db.DeferredSession, error) {
	return nil, nil
}

func (s *memTaskStore) DeleteDeferredMessage(_ context.Context, _ int64) error { return nil }

func (s *memTaskStore) DeleteDeferredSession(_ context.Context, _ int64) error { return nil }

func (s *memTaskStore) DeleteMemberSessions(_ context.Context, chatID, memberID int64, taskType db.TaskType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropped = append(s.dropped, fmt.Sprintf("%d:%d:%s", chatID, memberID, taskType))
	return nil
}

func (s *memTaskStore) Close() error { return nil }

func (s *memTaskStore) snapshot() ([]db.DeferredMessage, []db.DeferredSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	messages := append([]db.DeferredMessage(nil), s.messages...)
	sessions := append([]db.DeferredSession(nil), s.sessions...)
	return messages, sessions
}

func (s *memTaskStore) droppedKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.dropped...)
}

type fixture struct {
	admission *Admission
	telegram  *fakeTelegram
	sessions  *memSessionStore
	tasks     *memTaskStore
}

// newFixture wires an Admission against the fake endpoint and in-memory
// stores. Settings stay empty, so the group runs in the default ban mode.
// Every test must use its own chat ID, group settings are cached process
// wide.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ft := newFakeTelegram(t)
	botAPI, err := api.NewBotAPIWithAPIEndpoint("test-token", ft.endpoint())
	if err != nil {
		t.Fatalf("cant connect fake endpoint: %v", err)
	}
	sessions := newMemSessionStore()
	tasks := &memTaskStore{}
	service := bot.NewService(botAPI, sessions, &memSettingsStore{}, tasks)

	captcha, err := NewCaptchaBuilder()
	if err != nil {
		t.Fatalf("cant load icon set: %v", err)
	}
	screen := screening.NewPipeline(config.Advertising{Enabled: true, Words: []string{"casino"}}, nil)

	admission := NewAdmission(service, &config.Config{}, screen, captcha)
	admission.grace = 50 * time.Millisecond
	return &fixture{admission: admission, telegram: ft, sessions: sessions, tasks: tasks}
}

func joinUpdate(chatID int64, member *api.User, eventTime time.Time) *api.Update {
	return &api.Update{ChatMember: &api.ChatMemberUpdated{
		Chat:          api.Chat{ID: chatID, Type: "supergroup", Title: "test group"},
		Date:          int(eventTime.Unix()),
		OldChatMember: api.ChatMember{User: member, Status: "left"},
		NewChatMember: api.ChatMember{User: member, Status: "member"},
	}}
}

func (f *fixture) handle(t *testing.T, u *api.Update) bool {
	t.Helper()
	proceed, err := f.admission.Handle(context.Background(), u, nil, nil)
	if err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	return proceed
}

func (f *fixture) waitForRows(t *testing.T, wantMessages, wantSessions int) ([]db.DeferredMessage, []db.DeferredSession) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		messages, sessions := f.tasks.snapshot()
		if len(messages) >= wantMessages && len(sessions) >= wantSessions {
			return messages, sessions
		}
		time.Sleep(20 * time.Millisecond)
	}
	messages, sessions := f.tasks.snapshot()
	t.Fatalf("deferred rows never arrived: %d messages, %d sessions", len(messages), len(sessions))
	return messages, sessions
}

func TestJoinPostsCaptchaWithoutHoldingDispatch(t *testing.T) {
	f := newFixture(t)
	f.admission.grace = 300 * time.Millisecond
	member := &api.User{ID: 501, FirstName: "Mallory"}
	eventTime := time.Now().Truncate(time.Second)

	start := time.Now()
	proceed := f.handle(t, joinUpdate(9101, member, eventTime))
	elapsed := time.Since(start)

	if proceed {
		t.Fatal("join must stop the handler chain")
	}
	if elapsed >= f.admission.grace {
		t.Fatalf("join handling held the caller for %s", elapsed)
	}

	sent := f.telegram.waitFor(t, "sendMessage")
	if sent.Get("reply_markup") == "" {
		t.Fatal("captcha message carries no keyboard")
	}

	restrictAt, sendAt := -1, -1
	for i, method := range f.telegram.methodOrder() {
		switch method {
		case "restrictChatMember":
			if restrictAt < 0 {
				restrictAt = i
			}
		case "sendMessage":
			if sendAt < 0 {
				sendAt = i
			}
		}
	}
	if restrictAt < 0 || sendAt < 0 || restrictAt > sendAt {
		t.Fatalf("member must be restricted before the captcha is posted, got order %v", f.telegram.methodOrder())
	}

	messages, deferred := f.waitForRows(t, 1, 1)
	wantDeadline := eventTime.Add(captchaDeadline)
	if !messages[0].DeleteAt.Equal(wantDeadline) {
		t.Fatalf("captcha deletion scheduled at %v, want %v", messages[0].DeleteAt, wantDeadline)
	}
	if deferred[0].Type != db.TaskNewMemberCheck || !deferred[0].CheckoutAt.Equal(wantDeadline) {
		t.Fatalf("member check scheduled wrong: %+v", deferred[0])
	}

	session, err := f.sessions.GetSession(context.Background(), 9101, 501)
	if err != nil || session == nil {
		t.Fatalf("no admission session stored: %v", err)
	}
	if !session.CreatedAt.Equal(eventTime) || session.Terminal() {
		t.Fatalf("fresh session in unexpected state: %+v", session)
	}
}

func TestJoinStandsDownWhenMemberAlreadyVerified(t *testing.T) {
	f := newFixture(t)
	f.telegram.memberCanSend = true
	member := &api.User{ID: 502, FirstName: "Trent"}

	f.handle(t, joinUpdate(9102, member, time.Now()))

	time.Sleep(f.admission.grace + 300*time.Millisecond)
	if calls := f.telegram.callsFor("sendMessage"); len(calls) != 0 {
		t.Fatalf("captcha posted although another bot already verified the member: %d sends", len(calls))
	}
}

func TestJoinBansOnScreeningViolation(t *testing.T) {
	f := newFixture(t)
	member := &api.User{ID: 503, FirstName: "Best Casino Bonus"}
	eventTime := time.Now().Truncate(time.Second)

	f.handle(t, joinUpdate(9103, member, eventTime))

	ban := f.telegram.waitFor(t, "banChatMember")
	if ban.Get("revoke_messages") != "true" {
		t.Fatalf("violation ban must revoke messages, params: %v", ban)
	}
	until, _ := strconv.ParseInt(ban.Get("until_date"), 10, 64)
	wantUntil := time.Now().Add(violationBanPeriod).Unix()
	if until < wantUntil-60 || until > wantUntil+60 {
		t.Fatalf("violation ban until %d, want about %d", until, wantUntil)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if session, _ := f.sessions.GetSession(context.Background(), 9103, 503); session != nil && session.Banned {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("session never marked banned")
}

func TestCaptchaRemovedWhenDeletionCannotBeScheduled(t *testing.T) {
	f := newFixture(t)
	f.tasks.failMessages = true
	member := &api.User{ID: 504, FirstName: "Oscar"}

	f.handle(t, joinUpdate(9104, member, time.Now()))

	f.telegram.waitFor(t, "sendMessage")
	deleted := f.telegram.waitFor(t, "deleteMessage")
	// The fake endpoint numbers messages from 100 and this is the only send.
	if deleted.Get("message_id") != "100" {
		t.Fatalf("captcha not removed after scheduling failure: %v", deleted)
	}

	_, deferred := f.waitForRows(t, 0, 1)
	if deferred[0].Type != db.TaskNewMemberCheck {
		t.Fatalf("member check not scheduled despite message row failure: %+v", deferred[0])
	}
}

func TestCaptchaSurvivesSessionSchedulingFailure(t *testing.T) {
	f := newFixture(t)
	f.tasks.failSessions = true
	member := &api.User{ID: 505, FirstName: "Peggy"}

	f.handle(t, joinUpdate(9105, member, time.Now()))

	f.telegram.waitFor(t, "sendMessage")
	messages, _ := f.waitForRows(t, 1, 0)
	if len(messages) != 1 {
		t.Fatalf("captcha deletion row missing: %v", messages)
	}

	time.Sleep(200 * time.Millisecond)
	if calls := f.telegram.callsFor("deleteMessage"); len(calls) != 0 {
		t.Fatal("captcha deleted although only the session row failed")
	}
}

func TestStaleJoinEventIgnored(t *testing.T) {
	f := newFixture(t)
	member := &api.User{ID: 506, FirstName: "Walter"}
	eventTime := time.Now().Add(-2 * admissionEventMaxAge)

	f.handle(t, joinUpdate(9106, member, eventTime))

	time.Sleep(100 * time.Millisecond)
	if calls := f.telegram.callsFor("restrictChatMember"); len(calls) != 0 {
		t.Fatal("stale join still restricted the member")
	}
}
