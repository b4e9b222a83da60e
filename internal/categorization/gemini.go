package categorization

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// GeminiRecognizer runs product recognition through the Gemini API.
// Same prompt and parsing as the OpenAI provider, so switching providers
// never shifts the taxonomy.
type GeminiRecognizer struct {
	client      *genai.Client
	model       string
	maxTokens   int
	inputPer1K  decimal.Decimal
	outputPer1K decimal.Decimal
	logger      *zap.Logger
}

// NewGeminiRecognizer creates a Gemini-backed recognizer
func NewGeminiRecognizer(ctx context.Context, apiKey, model string, maxTokens int, inputPer1K, outputPer1K decimal.Decimal, logger *zap.Logger) (*GeminiRecognizer, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiRecognizer{
		client:      client,
		model:       model,
		maxTokens:   maxTokens,
		inputPer1K:  inputPer1K,
		outputPer1K: outputPer1K,
		logger:      logger,
	}, nil
}

// Recognize sends one line item to Gemini and parses the JSON reply
func (r *GeminiRecognizer) Recognize(ctx context.Context, vendor, sku, rawDescription string) (*Recognition, error) {
	model := r.client.GenerativeModel(r.model)
	model.SetTemperature(0)
	model.SetMaxOutputTokens(int32(r.maxTokens))

	prompt := buildRecognitionPrompt(vendor, sku, rawDescription)

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return nil, fmt.Errorf("Gemini API call failed: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("no response from Gemini")
	}

	var text string
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text += string(t)
		}
	}

	cost := decimal.Zero
	if resp.UsageMetadata != nil {
		cost = tokenCost(
			int(resp.UsageMetadata.PromptTokenCount),
			int(resp.UsageMetadata.CandidatesTokenCount),
			r.inputPer1K, r.outputPer1K,
		)
	}

	r.logger.Info("AI recognition complete",
		zap.String("vendor", vendor),
		zap.String("sku", sku),
		zap.String("cost_usd", cost.String()))

	result := parseRecognition(text, rawDescription)
	result.Cost = cost
	return result, nil
}

// Close releases the underlying API client
func (r *GeminiRecognizer) Close() error {
	return r.client.Close()
}
