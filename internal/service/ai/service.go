package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"gamiai/internal/config"
	"gamiai/internal/models"
)

var (
	// ErrMissingCredential means no API key is configured for generation.
	ErrMissingCredential = errors.New("generation credential is not configured")
	// ErrGeneration wraps any failure reported by the provider.
	ErrGeneration = errors.New("generation failed")
)

// Message is one role-tagged entry of a generation request.
type Message struct {
	Role    models.Role
	Content string
}

// chatModelFactory is swapped out in tests.
var chatModelFactory = newChatModel

// Service sends a full conversation to the configured provider and returns
// the reply text. Chat models are built lazily per model name so a missing
// credential only surfaces when a turn is attempted.
type Service struct {
	cfg     config.LLMConfig
	timeout time.Duration
	logger  *zap.Logger

	mu     sync.Mutex
	models map[string]model.BaseChatModel
}

func NewService(cfg config.LLMConfig, timeout time.Duration, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Service{
		cfg:     cfg,
		timeout: timeout,
		logger:  logger,
		models:  make(map[string]model.BaseChatModel),
	}
}

// Generate performs one blocking completion. When the primary model is
// reported as unknown and a fallback model is configured, the request is
// repeated once against the fallback.
func (s *Service) Generate(ctx context.Context, messages []Message) (string, error) {
	if strings.TrimSpace(s.cfg.APIKey) == "" {
		return "", ErrMissingCredential
	}
	input := convertMessages(messages)

	reply, err := s.generateWith(ctx, s.cfg.Model, input)
	if err != nil && s.cfg.FallbackModel != "" && s.cfg.FallbackModel != s.cfg.Model && isModelNotFound(err) {
		s.logger.Warn("primary model unavailable, retrying with fallback",
			zap.String("model", s.cfg.Model),
			zap.String("fallback", s.cfg.FallbackModel),
			zap.Error(err),
		)
		reply, err = s.generateWith(ctx, s.cfg.FallbackModel, input)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	return reply, nil
}

func (s *Service) generateWith(ctx context.Context, modelName string, input []*schema.Message) (string, error) {
	cm, err := s.chatModel(ctx, modelName)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := cm.Generate(ctx, input)
	if err != nil {
		return "", err
	}
	if resp == nil {
		return "", errors.New("empty response")
	}
	return resp.Content, nil
}

func (s *Service) chatModel(ctx context.Context, modelName string) (model.BaseChatModel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cm, ok := s.models[modelName]; ok {
		return cm, nil
	}
	cm, err := chatModelFactory(ctx, s.cfg, modelName, s.timeout)
	if err != nil {
		return nil, fmt.Errorf("init %s model %s: %w", s.cfg.Provider, modelName, err)
	}
	s.models[modelName] = cm
	return cm, nil
}

func newChatModel(ctx context.Context, cfg config.LLMConfig, modelName string, timeout time.Duration) (model.BaseChatModel, error) {
	maxTokens := cfg.MaxTokens
	temperature := cfg.Temperature

	switch strings.ToLower(cfg.Provider) {
	case "", "openai":
		return openai.NewChatModel(ctx, &openai.ChatModelConfig{
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Model:       modelName,
			Timeout:     timeout,
			MaxTokens:   &maxTokens,
			Temperature: &temperature,
		})
	case "claude":
		var baseURLPtr *string
		if cfg.BaseURL != "" {
			baseURL := cfg.BaseURL
			baseURLPtr = &baseURL
		}
		return claude.NewChatModel(ctx, &claude.Config{
			APIKey:      cfg.APIKey,
			Model:       modelName,
			BaseURL:     baseURLPtr,
			MaxTokens:   maxTokens,
			Temperature: &temperature,
		})
	case "gemini":
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  cfg.APIKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, fmt.Errorf("new gemini client: %w", err)
		}
		return gemini.NewChatModel(ctx, &gemini.Config{
			Client:      client,
			Model:       modelName,
			MaxTokens:   &maxTokens,
			Temperature: &temperature,
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", cfg.Provider)
	}
}

func convertMessages(messages []Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(messages))
	for _, msg := range messages {
		var role schema.RoleType
		switch msg.Role {
		case models.RoleAssistant:
			role = schema.Assistant
		case models.RoleSystem:
			role = schema.System
		default:
			role = schema.User
		}
		out = append(out, &schema.Message{Role: role, Content: msg.Content})
	}
	return out
}

func isModelNotFound(err error) bool {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "model_not_found"),
		strings.Contains(msg, "model not found"),
		strings.Contains(msg, "no such model"),
		strings.Contains(msg, "model") && strings.Contains(msg, "does not exist"),
		strings.Contains(msg, "404") && strings.Contains(msg, "model"):
		return true
	}
	return false
}
