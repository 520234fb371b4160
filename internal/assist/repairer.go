package assist

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/nerrad567/keymap-core/internal/keymap"
)

const systemPrompt = `You repair configuration files for the kanata keyboard remapper.
Reply with the complete corrected configuration only, no explanation and no markdown.
Keep the defcfg block. defsrc and every deflayer must have the same number of keys.`

// Config holds the assist client settings.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Logger defines the logging interface for this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Repairer implements keymap.Repairer over a chat completion API.
type Repairer struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	logger  Logger
}

var _ keymap.Repairer = (*Repairer)(nil)

// New creates a Repairer.
func New(cfg Config) (*Repairer, error) {
	if cfg.APIKey == "" {
		return nil, ErrNotConfigured
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Repairer{
		client:  openai.NewClientWithConfig(oc),
		model:   model,
		timeout: timeout,
		logger:  noopLogger{},
	}, nil
}

// SetLogger sets the logger for the repairer.
func (r *Repairer) SetLogger(l Logger) {
	if l != nil {
		r.logger = l
	}
}

// Repair implements keymap.Repairer.
func (r *Repairer) Repair(ctx context.Context, req keymap.RepairRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	r.logger.Debug("requesting configuration repair", "model", r.model, "errors", len(req.Errors))
	resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       r.model,
		Temperature: 0,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildPrompt(req)},
		},
	})
	if err != nil {
		return "", fmt.Errorf("assist request: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}

	text := stripFences(resp.Choices[0].Message.Content)
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyResponse
	}
	r.logger.Debug("assist proposed repair", "finish_reason", resp.Choices[0].FinishReason)
	return text, nil
}

func buildPrompt(req keymap.RepairRequest) string {
	var b strings.Builder
	b.WriteString("Intended mappings:\n")
	if len(req.Mappings) == 0 {
		b.WriteString("(none)\n")
	}
	for _, m := range req.Mappings {
		fmt.Fprintf(&b, "- %s\n", m)
	}
	b.WriteString("\nValidation errors:\n")
	for _, e := range req.Errors {
		fmt.Fprintf(&b, "- %s\n", e)
	}
	b.WriteString("\nConfiguration:\n")
	b.WriteString(req.Text)
	return b.String()
}

// stripFences removes a surrounding markdown code fence if the model added
// one anyway.
func stripFences(s string) string {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "```") {
		return s
	}
	t = strings.TrimPrefix(t, "```")
	if nl := strings.IndexByte(t, '\n'); nl >= 0 {
		t = t[nl+1:]
	} else {
		t = ""
	}
	t = strings.TrimSuffix(strings.TrimSpace(t), "```")
	return strings.TrimSpace(t) + "\n"
}
