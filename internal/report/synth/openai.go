package synth

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/openai"

	"civicproof/internal/platform/config"
)

// NewOpenAIModel builds the OpenAI-compatible chat model used for report text.
func NewOpenAIModel(ctx context.Context, cfg config.LLMConfig) (*openai.ChatModel, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("LLM_API_KEY is required for report generation")
	}
	var temperature float32
	chatModel, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		BaseURL:     cfg.BaseURL,
		APIKey:      cfg.APIKey,
		Model:       cfg.Model,
		Temperature: &temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("init chat model: %w", err)
	}
	return chatModel, nil
}
