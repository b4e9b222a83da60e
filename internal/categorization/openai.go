package categorization

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// OpenAIRecognizer runs product recognition through the OpenAI chat API
type OpenAIRecognizer struct {
	client      *openai.Client
	model       string
	maxTokens   int
	inputPer1K  decimal.Decimal
	outputPer1K decimal.Decimal
	logger      *zap.Logger
}

// NewOpenAIRecognizer creates an OpenAI-backed recognizer
func NewOpenAIRecognizer(apiKey, model string, maxTokens int, inputPer1K, outputPer1K decimal.Decimal, logger *zap.Logger) *OpenAIRecognizer {
	return &OpenAIRecognizer{
		client:      openai.NewClient(apiKey),
		model:       model,
		maxTokens:   maxTokens,
		inputPer1K:  inputPer1K,
		outputPer1K: outputPer1K,
		logger:      logger,
	}
}

// Recognize sends one line item to the model and parses the JSON reply.
// Temperature zero keeps repeat calls deterministic, which matters
// because results get cached by SKU.
func (r *OpenAIRecognizer) Recognize(ctx context.Context, vendor, sku, rawDescription string) (*Recognition, error) {
	prompt := buildRecognitionPrompt(vendor, sku, rawDescription)

	req := openai.ChatCompletionRequest{
		Model:       r.model,
		Temperature: 0,
		MaxTokens:   r.maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
	}

	resp, err := r.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("OpenAI API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from OpenAI")
	}

	cost := tokenCost(resp.Usage.PromptTokens, resp.Usage.CompletionTokens, r.inputPer1K, r.outputPer1K)

	r.logger.Info("AI recognition complete",
		zap.String("vendor", vendor),
		zap.String("sku", sku),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		zap.String("cost_usd", cost.String()))

	result := parseRecognition(resp.Choices[0].Message.Content, rawDescription)
	result.Cost = cost
	return result, nil
}
