package generation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"forgebench/engine/internal/egress"
	"forgebench/engine/internal/llm"
	"forgebench/engine/internal/logging"
)

const (
	DefaultBaseURL = "https://openrouter.ai/api/v1"
	DefaultModel   = "mistralai/devstral-2512:free"
)

type Config struct {
	APIKey            string        `yaml:"-" json:"-"`
	BaseURL           string        `yaml:"base_url" json:"base_url"`
	Model             string        `yaml:"model" json:"model"`
	TemplateMaxTokens int           `yaml:"template_max_tokens" json:"template_max_tokens"`
	ChatMaxTokens     int           `yaml:"chat_max_tokens" json:"chat_max_tokens"`
	EnhanceMaxTokens  int           `yaml:"enhance_max_tokens" json:"enhance_max_tokens"`
	Timeout           time.Duration `yaml:"timeout" json:"timeout"`
	// AllowLoopback permits plain HTTP to a gateway on this machine.
	AllowLoopback bool `yaml:"allow_loopback" json:"allow_loopback"`
}

func DefaultConfig() Config {
	return Config{
		BaseURL:           DefaultBaseURL,
		Model:             DefaultModel,
		TemplateMaxTokens: 200,
		ChatMaxTokens:     8000,
		EnhanceMaxTokens:  1000,
		Timeout:           5 * time.Minute,
	}
}

// OpenAIClient is a Service backed by an OpenAI-compatible chat API.
type OpenAIClient struct {
	client *openai.Client
	cfg    Config
	logger *slog.Logger
}

func NewOpenAIClient(cfg Config, logger *slog.Logger) (*OpenAIClient, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	def := DefaultConfig()
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = def.BaseURL
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = def.Model
	}
	if cfg.TemplateMaxTokens <= 0 {
		cfg.TemplateMaxTokens = def.TemplateMaxTokens
	}
	if cfg.ChatMaxTokens <= 0 {
		cfg.ChatMaxTokens = def.ChatMaxTokens
	}
	if cfg.EnhanceMaxTokens <= 0 {
		cfg.EnhanceMaxTokens = def.EnhanceMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("%w: no API key configured", llm.ErrUnauthorized)
	}
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil || parsed.Hostname() == "" {
		return nil, fmt.Errorf("invalid base URL %q", cfg.BaseURL)
	}

	transport := egress.NewAllowlistRoundTripper(http.DefaultTransport, []string{parsed.Hostname()})
	transport.AllowLoopback = cfg.AllowLoopback
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	clientConfig.HTTPClient = &http.Client{Transport: transport}

	return &OpenAIClient{
		client: openai.NewClientWithConfig(clientConfig),
		cfg:    cfg,
		logger: logger.With("component", "generation"),
	}, nil
}

func (c *OpenAIClient) Model() string {
	return c.cfg.Model
}

// Template asks the model to classify the project and returns the matching
// starting point.
func (c *OpenAIClient) Template(ctx context.Context, prompt string) (Template, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: classifyPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens: c.cfg.TemplateMaxTokens,
	})
	if err != nil {
		return Template{}, mapError(err)
	}
	answer := firstContent(resp)
	c.logger.Info("generation.template", "answer", strings.TrimSpace(answer))
	return TemplateFor(answer)
}

func (c *OpenAIClient) Chat(ctx context.Context, messages []llm.Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model:     c.cfg.Model,
		Messages:  toOpenAIMessages(SystemPrompt(), messages),
		MaxTokens: c.cfg.ChatMaxTokens,
	}
	started := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", mapError(err)
	}
	content := firstContent(resp)
	if strings.TrimSpace(content) == "" {
		return "", llm.ErrEmptyReply
	}
	c.logger.Info("generation.chat",
		"messages", len(messages),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return content, nil
}

func (c *OpenAIClient) Enhance(ctx context.Context, prompt string, onDelta func(string)) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	stream, err := c.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: enhancePrompt(prompt)},
		},
		MaxTokens: c.cfg.EnhanceMaxTokens,
		Stream:    true,
	})
	if err != nil {
		return "", mapError(err)
	}
	defer stream.Close()

	var b strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return b.String(), mapError(err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		b.WriteString(delta)
		if onDelta != nil {
			onDelta(delta)
		}
	}
	return b.String(), nil
}

func toOpenAIMessages(system string, messages []llm.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, msg := range messages {
		out = append(out, openai.ChatCompletionMessage{Role: msg.Role, Content: msg.Content})
	}
	return out
}

func firstContent(resp openai.ChatCompletionResponse) string {
	if len(resp.Choices) == 0 {
		return ""
	}
	return resp.Choices[0].Message.Content
}

// mapError folds transport and API failures onto the llm sentinel errors.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, llm.ErrEgressBlocked) || errors.Is(err, context.Canceled) {
		return err
	}
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: %v", llm.ErrUnauthorized, err)
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %v", llm.ErrRateLimited, err)
	case status >= 500 || status == 0:
		return fmt.Errorf("%w: %v", llm.ErrUnavailable, err)
	default:
		return err
	}
}
