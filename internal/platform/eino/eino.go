package eino

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	// LLM Provider integrations - easily switchable
	gemini "github.com/cloudwego/eino-ext/components/model/gemini"
	// openai "github.com/cloudwego/eino-ext/components/model/openai" // Uncomment to use OpenAI
	// claude "github.com/cloudwego/eino-ext/components/model/claude" // Uncomment to use Claude
	"google.golang.org/genai"
)

// Config represents the configuration for Eino LLM integration
type Config struct {
	Provider      string `json:"provider"` // "gemini", "openai", "claude", etc.
	APIKey        string `json:"api_key"`
	BaseURL       string `json:"base_url,omitempty"`
	Model         string `json:"model"`
	FallbackModel string `json:"fallback_model,omitempty"`
}

// Service wraps the Eino LLM functionality with proper Eino integration
type Service struct {
	config       Config
	chatModel    model.BaseChatModel
	geminiClient *genai.Client
}

// TokenUsage represents token usage information
type TokenUsage struct {
	InputTokens  int32 `json:"input_tokens"`
	OutputTokens int32 `json:"output_tokens"`
	TotalTokens  int32 `json:"total_tokens"`
}

// NewService creates a new Eino service instance with proper provider initialization
func NewService(config Config) (*Service, error) {
	service := &Service{config: config}
	if err := service.initializeChatModel(); err != nil {
		return nil, fmt.Errorf("failed to initialize chat model: %w", err)
	}
	return service, nil
}

// NewServiceWithModel creates a new Eino service instance with a pre-configured chat model
func NewServiceWithModel(config Config, chatModel model.BaseChatModel) (*Service, error) {
	return &Service{config: config, chatModel: chatModel}, nil
}

func (s *Service) initializeChatModel() error {
	switch strings.ToLower(s.config.Provider) {
	case "gemini":
		return s.initializeGeminiModel()

	// case "openai":
	// 	return s.initializeOpenAIModel()
	//
	// case "claude":
	// 	return s.initializeClaudeModel()

	default:
		return fmt.Errorf("unsupported provider: %s. Supported: gemini", s.config.Provider)
	}
}

// initializeGeminiModel sets up Google Gemini as the LLM provider
func (s *Service) initializeGeminiModel() error {
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: s.config.APIKey,
	})
	if err != nil {
		return fmt.Errorf("failed to create Gemini client: %w", err)
	}

	// Keep the raw client around for token counting
	s.geminiClient = client

	geminiModel, err := gemini.NewChatModel(context.Background(), &gemini.Config{
		Client: client,
		Model:  s.config.Model, // e.g., "gemini-1.5-flash", "gemini-1.5-pro"
	})
	if err != nil {
		return fmt.Errorf("failed to create Gemini chat model: %w", err)
	}

	s.chatModel = geminiModel
	return nil
}

// GetChatModel returns the underlying chat model for advanced usage
func (s *Service) GetChatModel() model.BaseChatModel {
	return s.chatModel
}

// Generate runs the chat model through Eino with the given options.
func (s *Service) Generate(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.Message, error) {
	if s.chatModel == nil {
		return nil, fmt.Errorf("chat model not initialized")
	}
	return s.chatModel.Generate(ctx, messages, options...)
}

// CountPromptTokens counts input tokens for a prompt using Gemini's official CountTokens API
func (s *Service) CountPromptTokens(ctx context.Context, messages []*schema.Message) (int32, error) {
	if s.geminiClient == nil {
		return 0, fmt.Errorf("gemini client not initialized")
	}

	var contents []*genai.Content
	for _, msg := range messages {
		content := genai.NewContentFromText(msg.Content, genai.RoleUser)
		contents = append(contents, content)
	}

	countResp, err := s.geminiClient.Models.CountTokens(ctx, s.config.Model, contents, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count tokens with Gemini API: %w", err)
	}

	return countResp.TotalTokens, nil
}

// CountResponseTokens estimates output tokens from a text response
func (s *Service) CountResponseTokens(responseText string) int32 {
	// ~4 characters per token (as documented by Gemini)
	return int32(len(responseText) / 4)
}

// CountTokensInText counts tokens in any text string using character estimation
func (s *Service) CountTokensInText(text string) int32 {
	return int32(len(text) / 4)
}

// GenerateWithTokenUsage generates a response using Gemini API directly to get accurate token usage
func (s *Service) GenerateWithTokenUsage(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.Message, *TokenUsage, error) {
	if s.geminiClient == nil {
		return nil, nil, fmt.Errorf("gemini client not initialized")
	}

	var contents []*genai.Content
	for _, msg := range messages {
		content := genai.NewContentFromText(msg.Content, genai.RoleUser)
		contents = append(contents, content)
	}

	response, err := s.geminiClient.Models.GenerateContent(ctx, s.config.Model, contents, nil)
	if err != nil && s.config.FallbackModel != "" && s.config.FallbackModel != s.config.Model {
		response, err = s.geminiClient.Models.GenerateContent(ctx, s.config.FallbackModel, contents, nil)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("gemini api generation failed: %w", err)
	}

	usage := &TokenUsage{}
	if response.UsageMetadata != nil {
		usage.InputTokens = response.UsageMetadata.PromptTokenCount
		usage.OutputTokens = response.UsageMetadata.CandidatesTokenCount
		usage.TotalTokens = response.UsageMetadata.TotalTokenCount
	}

	responseContent := ""
	if len(response.Candidates) > 0 && response.Candidates[0].Content != nil && len(response.Candidates[0].Content.Parts) > 0 {
		if textPart := response.Candidates[0].Content.Parts[0].Text; textPart != "" {
			responseContent = textPart
		}
	}

	// Fallback token counting if metadata is not available
	if usage.TotalTokens == 0 {
		usage.InputTokens = s.CountTokensInText(s.messagesToText(messages))
		usage.OutputTokens = s.CountResponseTokens(responseContent)
		usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	}

	einoResponse := &schema.Message{
		Content: responseContent,
	}

	return einoResponse, usage, nil
}

func (s *Service) messagesToText(messages []*schema.Message) string {
	var text strings.Builder
	for _, msg := range messages {
		text.WriteString(msg.Content)
		text.WriteString("\n")
	}
	return text.String()
}

// CleanJSONResponse strips markdown code fences the model sometimes wraps
// around a JSON payload.
func CleanJSONResponse(content string) string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```typescript")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	return strings.TrimSpace(content)
}
