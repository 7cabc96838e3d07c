package worker

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/doorbot/internal/db"
	"github.com/iamwavecut/doorbot/internal/observability"
)

const (
	tickInterval = 250 * time.Millisecond
	batchLimit   = 500
)

type (
	// HandlerFunc executes one due deferred session. The row is removed
	// after the attempt whether or not the handler succeeds, a poison
	// row must never wedge the queue.
	HandlerFunc func(ctx context.Context, chatID int64, messageID int, memberID int64) error

	// MessageDeleter is the single bot capability the worker needs.
	MessageDeleter interface {
		DeleteMessage(ctx context.Context, chatID int64, messageID int) error
	}

	// Worker drains the deferred stores on a fixed tick, messages
	// before sessions.
	Worker struct {
		deleter  MessageDeleter
		tasks    db.TaskStore
		handlers map[db.TaskType]HandlerFunc
		logger   *log.Entry

		mu      sync.Mutex
		started bool
		cancel  context.CancelFunc
		wg      sync.WaitGroup
	}
)

func New(deleter MessageDeleter, tasks db.TaskStore, handlers map[db.TaskType]HandlerFunc) *Worker {
	return &Worker{
		deleter:  deleter,
		tasks:    tasks,
		handlers: handlers,
		logger:   log.WithField("object", "Worker"),
	}
}

// Start launches the tick loop. It satisfies the lifecycle Component
// contract and is safe to call more than once.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}
	w.started = true
	ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.tick(ctx, time.Now())
			}
		}
	}()
	return nil
}

func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return nil
	}
	w.started = false
	cancel := w.cancel
	w.mu.Unlock()

	cancel()
	w.wg.Wait()
	return nil
}

func (w *Worker) tick(ctx context.Context, now time.Time) {
	w.processMessages(ctx, now)
	w.processSessions(ctx, now)
}

func (w *Worker) processMessages(ctx context.Context, now time.Time) {
	due, err := w.tasks.GetDueMessages(ctx, now, batchLimit)
	if err != nil {
		w.logger.WithField("error", err.Error()).Error("cant fetch due messages")
		return
	}
	observability.RecordWorkerBatch("messages", len(due))
	for _, m := range due {
		if err := w.deleter.DeleteMessage(ctx, m.ChatID, m.MessageID); err != nil {
			w.logger.WithFields(log.Fields{
				"error":   err.Error(),
				"chat_id": m.ChatID,
				"msg_id":  m.MessageID,
			}).Error("cant delete deferred message")
		}
		if err := w.tasks.DeleteDeferredMessage(ctx, m.ID); err != nil {
			w.logger.WithField("error", err.Error()).Error("cant drop deferred message row")
		}
	}
}

func (w *Worker) processSessions(ctx context.Context, now time.Time) {
	due, err := w.tasks.GetDueSessions(ctx, now, batchLimit)
	if err != nil {
		w.logger.WithField("error", err.Error()).Error("cant fetch due sessions")
		return
	}
	observability.RecordWorkerBatch("sessions", len(due))
	for _, s := range due {
		if handler, ok := w.handlers[s.Type]; !ok {
			w.logger.WithField("type", string(s.Type)).Warn("no handler for deferred session type")
		} else if err := handler(ctx, s.ChatID, s.MessageID, s.MemberID); err != nil {
			w.logger.WithFields(log.Fields{
				"error":     err.Error(),
				"type":      string(s.Type),
				"chat_id":   s.ChatID,
				"member_id": s.MemberID,
			}).Error("deferred session handler failed")
		}
		if err := w.tasks.DeleteDeferredSession(ctx, s.ID); err != nil {
			w.logger.WithField("error", err.Error()).Error("cant drop deferred session row")
		}
	}
}
