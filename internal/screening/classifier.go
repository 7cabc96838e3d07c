package screening

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/doorbot/internal/adapters/llm"
)

const classifierTimeout = 20 * time.Second

const classifierSystemPrompt = `You are a spam screening assistant for Telegram groups.
You receive a JSON array of new group members. Decide for each whether the
profile looks like a spam or advertising account (crypto shilling, escort
ads, gambling, mass-invite services). Respond with JSON only, in the shape
{"spams":[{"id":<member id>,"reason":"<short reason>"}]}. An empty "spams"
array means everybody looks fine.`

type (
	classifierMember struct {
		ID        int64  `json:"id"`
		Username  string `json:"username,omitempty"`
		FirstName string `json:"first_name,omitempty"`
		LastName  string `json:"last_name,omitempty"`
		Fullname  string `json:"fullname"`
		Bio       string `json:"bio,omitempty"`
	}

	classifierVerdict struct {
		Spams []struct {
			ID     int64  `json:"id"`
			Reason string `json:"reason"`
		} `json:"spams"`
	}
)

// classify asks the LLM proxy for an advisory opinion about the member.
// The result never bans on its own, a hit is only logged upstream.
func (p *Pipeline) classify(ctx context.Context, member *Member) (reason string, flagged bool) {
	if p.llm == nil {
		return "", false
	}

	ctx, cancel := context.WithTimeout(ctx, classifierTimeout)
	defer cancel()

	payload, err := json.Marshal([]classifierMember{{
		ID:        member.ID,
		Username:  member.Username,
		FirstName: member.FirstName,
		LastName:  member.LastName,
		Fullname:  member.Fullname,
		Bio:       member.Bio,
	}})
	if err != nil {
		p.logger.WithField("error", err.Error()).Warn("cant marshal classifier payload")
		return "", false
	}

	resp, err := p.llm.ChatCompletion(ctx, []llm.ChatCompletionMessage{
		{Role: llm.RoleSystem, Content: classifierSystemPrompt},
		{Role: llm.RoleUser, Content: string(payload)},
	})
	if err != nil {
		p.logger.WithField("error", err.Error()).Warn("spam classifier unavailable")
		return "", false
	}
	if len(resp.Choices) == 0 {
		return "", false
	}

	return parseClassifierVerdict(resp.Choices[0].Message.Content, member.ID, p.logger)
}

func parseClassifierVerdict(content string, memberID int64, logger *log.Entry) (string, bool) {
	content = strings.TrimSpace(content)
	verdict := classifierVerdict{}
	if err := json.Unmarshal([]byte(content), &verdict); err != nil {
		logger.WithField("error", err.Error()).Warn("classifier returned non-JSON, ignoring")
		return "", false
	}
	for _, spam := range verdict.Spams {
		if spam.ID == memberID {
			return spam.Reason, true
		}
	}
	return "", false
}
