package adapters

import (
	"context"

	"github.com/iamwavecut/doorbot/internal/adapters/llm"
)

// LLM is the chat-completions surface the screening pipeline depends on.
type LLM interface {
	ChatCompletion(ctx context.Context, messages []llm.ChatCompletionMessage) (llm.ChatCompletionResponse, error)
}
