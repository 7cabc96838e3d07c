package openai

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/doorbot/internal/adapters/llm"
)

const perAttemptTimeout = 7 * time.Second

// API talks to an OpenAI-compatible chat-completions proxy. It walks the
// configured model list in order until one of them answers.
type API struct {
	client *openai.Client
	models []string
	logger *log.Entry
}

func NewAPI(host, token string, models []string, logger *log.Entry) *API {
	config := openai.DefaultConfig(token)
	config.BaseURL = host + "/v1"
	return &API{
		client: openai.NewClientWithConfig(config),
		models: models,
		logger: logger,
	}
}

func (a *API) ChatCompletion(ctx context.Context, messages []llm.ChatCompletionMessage) (llm.ChatCompletionResponse, error) {
	openaiMessages := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		openaiMessages = append(openaiMessages, openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}

	var lastErr error
	for _, model := range a.models {
		attemptCtx, cancel := context.WithTimeout(ctx, perAttemptTimeout)
		resp, err := a.client.CreateChatCompletion(attemptCtx, openai.ChatCompletionRequest{
			Model:     model,
			Messages:  openaiMessages,
			MaxTokens: 1024,
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			},
		})
		cancel()
		if err != nil {
			lastErr = err
			a.logger.WithFields(log.Fields{"model": model, "error": err.Error()}).Warn("chat completion attempt failed")
			if ctx.Err() != nil {
				return llm.ChatCompletionResponse{}, ctx.Err()
			}
			continue
		}
		if len(resp.Choices) == 0 {
			lastErr = errors.New("empty choices")
			continue
		}
		return llm.ChatCompletionResponse{
			Choices: []llm.ChatCompletionChoice{
				{
					Message: llm.ChatCompletionMessage{
						Role:    resp.Choices[0].Message.Role,
						Content: resp.Choices[0].Message.Content,
					},
				},
			},
		}, nil
	}
	return llm.ChatCompletionResponse{}, errors.WithMessage(lastErr, "all models exhausted")
}
