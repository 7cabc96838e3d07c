package worker

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/iamwavecut/doorbot/internal/db"
)

type fakeStore struct {
	messages []*db.DeferredMessage
	sessions []*db.DeferredSession

	deletedMessageRows []int64
	deletedSessionRows []int64
}

func (f *fakeStore) AddDeferredMessage(ctx context.Context, chatID int64, messageID int, deleteAt time.Time) error {
	return nil
}

func (f *fakeStore) AddDeferredSession(ctx context.Context, session *db.DeferredSession) error {
	return nil
}

func (f *fakeStore) GetDueMessages(ctx context.Context, now time.Time, limit int) ([]*db.DeferredMessage, error) {
	return f.messages, nil
}

func (f *fakeStore) GetDueSessions(ctx context.Context, now time.Time, limit int) ([]*db.DeferredSession, error) {
	return f.sessions, nil
}

func (f *fakeStore) DeleteDeferredMessage(ctx context.Context, id int64) error {
	f.deletedMessageRows = append(f.deletedMessageRows, id)
	return nil
}

func (f *fakeStore) DeleteDeferredSession(ctx context.Context, id int64) error {
	f.deletedSessionRows = append(f.deletedSessionRows, id)
	return nil
}

func (f *fakeStore) DeleteMemberSessions(ctx context.Context, chatID, memberID int64, taskType db.TaskType) error {
	return nil
}

func (f *fakeStore) Close() error { return nil }

type recordingDeleter struct {
	calls []int
	err   error
}

func (d *recordingDeleter) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	d.calls = append(d.calls, messageID)
	return d.err
}

func TestTickProcessesMessagesBeforeSessions(t *testing.T) {
	t.Parallel()

	var order []string
	store := &fakeStore{
		messages: []*db.DeferredMessage{{ID: 1, ChatID: -100, MessageID: 7}},
		sessions: []*db.DeferredSession{{ID: 2, ChatID: -100, MessageID: 7, MemberID: 42, Type: db.TaskUnbanMember}},
	}
	deleter := &orderedDeleter{order: &order}
	handlers := map[db.TaskType]HandlerFunc{
		db.TaskUnbanMember: func(ctx context.Context, chatID int64, messageID int, memberID int64) error {
			order = append(order, "session")
			return nil
		},
	}

	w := New(deleter, store, handlers)
	w.tick(context.Background(), time.Now())

	if len(order) != 2 || order[0] != "message" || order[1] != "session" {
		t.Fatalf("unexpected processing order: %v", order)
	}
	if len(store.deletedMessageRows) != 1 || store.deletedMessageRows[0] != 1 {
		t.Fatalf("message row not removed: %v", store.deletedMessageRows)
	}
	if len(store.deletedSessionRows) != 1 || store.deletedSessionRows[0] != 2 {
		t.Fatalf("session row not removed: %v", store.deletedSessionRows)
	}
}

type orderedDeleter struct {
	order *[]string
}

func (d *orderedDeleter) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	*d.order = append(*d.order, "message")
	return nil
}

func TestTickRemovesRowsEvenWhenHandlersFail(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		messages: []*db.DeferredMessage{{ID: 10, ChatID: -100, MessageID: 1}},
		sessions: []*db.DeferredSession{
			{ID: 11, ChatID: -100, MemberID: 1, Type: db.TaskNewMemberCheck},
			{ID: 12, ChatID: -100, MemberID: 2, Type: db.TaskType("unknown")},
		},
	}
	deleter := &recordingDeleter{err: errors.New("message to delete not found")}
	handlers := map[db.TaskType]HandlerFunc{
		db.TaskNewMemberCheck: func(ctx context.Context, chatID int64, messageID int, memberID int64) error {
			return errors.New("telegram is down")
		},
	}

	w := New(deleter, store, handlers)
	w.tick(context.Background(), time.Now())

	if len(store.deletedMessageRows) != 1 {
		t.Fatalf("failed deletion must still drop the row, got %v", store.deletedMessageRows)
	}
	if len(store.deletedSessionRows) != 2 {
		t.Fatalf("failed and unknown sessions must still drop their rows, got %v", store.deletedSessionRows)
	}
}

func TestStartStopIsIdempotent(t *testing.T) {
	t.Parallel()

	w := New(&recordingDeleter{}, &fakeStore{}, nil)
	ctx := context.Background()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if err := w.Start(ctx); err != nil {
		t.Fatalf("second start: %v", err)
	}
	if err := w.Stop(ctx); err != nil {
		t.Fatalf("first stop: %v", err)
	}
	if err := w.Stop(ctx); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}
