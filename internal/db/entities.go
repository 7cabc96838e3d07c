package db

import (
	"time"
)

type (
	// Session is the per-admission record cached in the key-value store
	// under captcha:{chat_id}:{member_id}. It survives the admission for a
	// week so that admins can inspect the outcome.
	Session struct {
		ID                 string    `json:"id"`
		ChatID             int64     `json:"chat_id"`
		ChatTitle          string    `json:"chat_title"`
		MemberID           int64     `json:"member_id"`
		MemberFullname     string    `json:"member_fullname"`
		MemberUsername     string    `json:"member_username,omitempty"`
		MemberBio          string    `json:"member_bio,omitempty"`
		CreatedAt          time.Time `json:"ts_create"`
		UpdatedAt          time.Time `json:"ts_update"`
		CostCaptchaSeconds float64   `json:"cost_captcha_seconds"`
		Accepted           bool      `json:"accepted"`
		Timeout            bool      `json:"timeout"`
		Banned             bool      `json:"banned"`
	}

	// DeferredMessage is a pending lazy deletion of a chat message.
	DeferredMessage struct {
		ID        int64     `db:"id"`
		ChatID    int64     `db:"chat"`
		MessageID int       `db:"msg"`
		DeleteAt  time.Time `db:"deleted_at"`
	}

	// DeferredSession is a pending per-member callback, fired by the
	// deferred-task worker once its checkout time elapses.
	DeferredSession struct {
		ID         int64     `db:"id"`
		ChatID     int64     `db:"chat"`
		MessageID  int       `db:"msg"`
		MemberID   int64     `db:"member"`
		Type       TaskType  `db:"type"`
		CheckoutAt time.Time `db:"checkout_at"`
	}

	TaskType string
)

const (
	TaskNewMemberCheck TaskType = "new_member_check"
	TaskUnbanMember    TaskType = "unban_member"
)

// Terminal reports whether the session already reached one of the three
// mutually exclusive end states.
func (s *Session) Terminal() bool {
	return s != nil && (s.Accepted || s.Timeout || s.Banned)
}

// Touch bumps the update timestamp and recomputes the captcha cost.
func (s *Session) Touch(now time.Time) {
	s.UpdatedAt = now
	s.CostCaptchaSeconds = now.Sub(s.CreatedAt).Seconds()
}
