package analysis

import (
	"context"
	"fmt"
	"strings"

	"github.com/mailsentry/mailsentry/internal/core"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// OpenAIClient scores items directly against an OpenAI model. It is an
// alternative provider for deployments without a scoring service; the
// completion is asked for the same JSON shape the service emits, so the
// response funnels through the same normalization.
type OpenAIClient struct {
	client      *openai.Client
	modelName   string
	maxTokens   int
	temperature float32
	topP        float32
	maxBodySize int
	logger      *zap.Logger
}

const openAIPromptFormat = `You are a phishing detection system. Analyze the following email and respond with a JSON object containing:
- final_risk: number between 0 and 100 (higher means more likely phishing)
- verdict: short string verdict
- confidence_level: "low", "medium" or "high"
- reasoning_summary: brief explanation
- breakdown: object with numeric sub-scores, including url_score when a URL is present

Email:
From: %s
URLs: %s
Content:
%s

Respond only with the JSON object and nothing else.`

// NewOpenAIClient creates a new OpenAI-backed analysis client.
func NewOpenAIClient(
	apiKey string,
	modelName string,
	maxTokens int,
	temperature float32,
	topP float32,
	maxBodySize int,
	logger *zap.Logger,
) *OpenAIClient {
	return &OpenAIClient{
		client:      openai.NewClient(apiKey),
		modelName:   modelName,
		maxTokens:   maxTokens,
		temperature: temperature,
		topP:        topP,
		maxBodySize: maxBodySize,
		logger:      logger,
	}
}

// truncateContent truncates the analyzed content if it exceeds the maximum size.
func (c *OpenAIClient) truncateContent(content string) string {
	if c.maxBodySize <= 0 || len(content) <= c.maxBodySize {
		return content
	}

	truncated := content[:c.maxBodySize]
	c.logger.Debug("content truncated",
		zap.Int("original_size", len(content)),
		zap.Int("max_size", c.maxBodySize))

	return truncated + "\n[... Content truncated due to size limits ...]"
}

// Analyze scores one item with the configured model.
func (c *OpenAIClient) Analyze(ctx context.Context, req core.AnalysisRequest) (*core.Verdict, error) {
	prompt := fmt.Sprintf(openAIPromptFormat,
		req.Sender,
		strings.Join(req.URLs, ", "),
		c.truncateContent(req.Content))

	chatReq := openai.ChatCompletionRequest{
		Model: c.modelName,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: "You are a phishing detection system. Respond only with JSON.",
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		TopP:        c.topP,
	}
	chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: "json"}

	resp, err := c.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat completion with OpenAI: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("empty response from OpenAI")
	}

	responseText := resp.Choices[0].Message.Content

	// Models occasionally wrap the JSON in prose; take the outermost object.
	jsonStart := strings.IndexByte(responseText, '{')
	jsonEnd := strings.LastIndexByte(responseText, '}')
	if jsonStart < 0 || jsonEnd <= jsonStart {
		return nil, fmt.Errorf("failed to extract JSON from OpenAI response")
	}

	verdict := NormalizeVerdict([]byte(responseText[jsonStart : jsonEnd+1]))
	verdict.Provider = c.modelName
	return verdict, nil
}
