package termextract

import (
	"context"
	"errors"
	"fmt"
	"strings"

	anthropicclient "github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	openaiclient "github.com/openai/openai-go/v2"
	openaioption "github.com/openai/openai-go/v2/option"
	jetai "go.jetify.com/ai"
	jetapi "go.jetify.com/ai/api"
	jetanthropic "go.jetify.com/ai/provider/anthropic"
	jetopenai "go.jetify.com/ai/provider/openai"
	"go.uber.org/zap"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"

	defaultOpenAIModel    = "gpt-4o-mini"
	defaultAnthropicModel = "claude-haiku-4-5-20251001"
	maxOutputTokens       = 1024
)

type ChatConfig struct {
	Provider string
	APIKey   string
	Model    string
	BaseURL  string
}

// Chat extracts terms through an OpenAI or Anthropic chat model.
type Chat struct {
	model  jetapi.LanguageModel
	logger *zap.Logger
}

func NewChat(cfg ChatConfig, logger *zap.Logger) (*Chat, error) {
	model, err := buildLanguageModel(cfg)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chat{model: model, logger: logger}, nil
}

func (c *Chat) ExtractTerms(ctx context.Context, text string, explained []string) (string, error) {
	system, prompt := buildPrompt(text, explained)
	messages := []jetapi.Message{
		&jetapi.SystemMessage{Content: system},
		&jetapi.UserMessage{Content: jetapi.ContentFromText(prompt)},
	}

	resp, err := jetai.GenerateText(ctx, messages,
		jetai.WithModel(c.model),
		jetai.WithMaxOutputTokens(maxOutputTokens),
	)
	if err != nil {
		return "", fmt.Errorf("term extraction request: %w", err)
	}
	return responseText(resp)
}

func responseText(resp *jetapi.Response) (string, error) {
	if resp == nil {
		return "", errors.New("empty response from AI")
	}
	var b strings.Builder
	for _, block := range resp.Content {
		textBlock, ok := block.(*jetapi.TextBlock)
		if !ok || textBlock.Text == "" {
			continue
		}
		b.WriteString(textBlock.Text)
	}
	if strings.TrimSpace(b.String()) == "" {
		return "", errors.New("empty response from AI")
	}
	return b.String(), nil
}

func buildLanguageModel(cfg ChatConfig) (jetapi.LanguageModel, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("term extractor api key is empty")
	}
	modelID := strings.TrimSpace(cfg.Model)
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")

	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case ProviderAnthropic:
		if modelID == "" {
			modelID = defaultAnthropicModel
		}
		opts := []anthropicoption.RequestOption{
			anthropicoption.WithAPIKey(apiKey),
			anthropicoption.WithMaxRetries(1),
		}
		if baseURL != "" {
			opts = append(opts, anthropicoption.WithBaseURL(baseURL))
		}
		client := anthropicclient.NewClient(opts...)
		return jetanthropic.NewLanguageModel(modelID, jetanthropic.WithClient(client)), nil
	case ProviderOpenAI, "":
		if modelID == "" {
			modelID = defaultOpenAIModel
		}
		opts := []openaioption.RequestOption{
			openaioption.WithAPIKey(apiKey),
			openaioption.WithMaxRetries(1),
		}
		if baseURL != "" {
			opts = append(opts, openaioption.WithBaseURL(baseURL))
		}
		client := openaiclient.NewClient(opts...)
		return jetopenai.NewLanguageModel(modelID, jetopenai.WithClient(client)), nil
	default:
		return nil, fmt.Errorf("unknown term extractor provider %q", cfg.Provider)
	}
}
