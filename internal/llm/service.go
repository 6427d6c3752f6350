package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"github.com/RichardoC/voz/internal/models"
	"github.com/RichardoC/voz/internal/title"
)

const (
	defaultTimeout     = 10 * time.Second
	defaultMaxMessages = 12
	quoteLimit         = 80
)

// Config selects how resume recaps are produced.
type Config struct {
	Enabled     bool
	BaseURL     string
	Token       string
	Model       string
	Timeout     time.Duration
	MaxMessages int
}

// Service builds the short recap spoken when a conversation is resumed. With
// no model configured, or when the model fails, it falls back to a
// deterministic recap built from the stored messages.
type Service struct {
	llm         llms.LLM
	logger      *zap.Logger
	timeout     time.Duration
	maxMessages int
}

func New(cfg Config, logger *zap.Logger) (*Service, error) {
	var model llms.LLM
	if cfg.Enabled {
		llm, err := openai.New(
			openai.WithToken(cfg.Token),
			openai.WithBaseURL(cfg.BaseURL),
			openai.WithModel(cfg.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("llm: init recap model: %w", err)
		}
		model = llm
	}
	return NewWithModel(model, cfg, logger), nil
}

// NewWithModel wraps an existing model; a nil model always uses the
// deterministic recap.
func NewWithModel(model llms.LLM, cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = defaultMaxMessages
	}
	return &Service{llm: model, logger: logger, timeout: cfg.Timeout, maxMessages: cfg.MaxMessages}
}

func (s *Service) Recap(ctx context.Context, chat models.Summary, msgs []models.Message) (string, error) {
	if len(msgs) == 0 {
		return "", fmt.Errorf("llm: nothing to recap for %s", chat.ID)
	}
	if s.llm == nil {
		return Deterministic(chat, msgs), nil
	}

	if len(msgs) > s.maxMessages {
		msgs = msgs[len(msgs)-s.maxMessages:]
	}
	prompt := `You are a voice assistant resuming an earlier conversation.
	Summarize the conversation below in one or two short sentences that will be spoken aloud
	to the user. Start with "Last time". Reply with the sentences only, no quotes or markup.

	Conversation:
	`
	for _, m := range msgs {
		prompt += fmt.Sprintf("%s: %s\n", m.Role, m.Text)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	completion, err := llms.GenerateFromSinglePrompt(ctx, s.llm, prompt)
	if err != nil {
		s.logger.Warn("recap generation failed, using fallback", zap.String("chatID", chat.ID), zap.Error(err))
		return Deterministic(chat, msgs), nil
	}

	recap := strings.TrimSpace(completion)
	if strings.HasPrefix(recap, "\"") && strings.HasSuffix(recap, "\"") && len(recap) > 1 {
		recap = recap[1 : len(recap)-1]
	}
	if recap == "" {
		return Deterministic(chat, msgs), nil
	}
	return recap, nil
}

// Deterministic builds a recap from the title and the last thing the user said.
func Deterministic(chat models.Summary, msgs []models.Message) string {
	var b strings.Builder
	b.WriteString("Welcome back.")
	if !title.IsPlaceholder(chat.Title) && chat.Title != title.Fallback {
		fmt.Fprintf(&b, " Last time we talked about %s.", strings.ToLower(chat.Title))
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == models.RoleUser && strings.TrimSpace(msgs[i].Text) != "" {
			fmt.Fprintf(&b, " You said: %q.", quote(msgs[i].Text))
			break
		}
	}
	return b.String()
}

func quote(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= quoteLimit {
		return text
	}
	return string([]rune(text)[:quoteLimit]) + "…"
}
