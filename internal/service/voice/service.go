// Package voice talks to an OpenAI-compatible audio API for speech-to-text
// and text-to-speech.
package voice

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/meguminnnnnnnnn/go-openai"

	"gamiai/internal/config"
)

var ErrMissingCredential = errors.New("voice credential is not configured")

const defaultBaseURL = "https://api.openai.com/v1"

type Service struct {
	cfg    config.VoiceConfig
	client *openai.Client
}

func NewService(cfg config.VoiceConfig, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if cfg.TranscribeModel == "" {
		cfg.TranscribeModel = openai.Whisper1
	}
	if cfg.SpeechModel == "" {
		cfg.SpeechModel = string(openai.TTSModel1)
	}
	if cfg.Voice == "" {
		cfg.Voice = string(openai.VoiceOnyx)
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if clientCfg.BaseURL == "" {
		clientCfg.BaseURL = defaultBaseURL
	}
	clientCfg.HTTPClient = &http.Client{Timeout: timeout}
	return &Service{cfg: cfg, client: openai.NewClientWithConfig(clientCfg)}
}

// Transcribe converts recorded audio to text. An empty language uses the
// configured default hint.
func (s *Service) Transcribe(ctx context.Context, audio []byte, filename, language string) (string, error) {
	if s.cfg.APIKey == "" {
		return "", ErrMissingCredential
	}
	if len(audio) == 0 {
		return "", errors.New("audio payload is empty")
	}
	if filename == "" {
		filename = "audio.webm"
	}
	if language == "" {
		language = s.cfg.Language
	}

	resp, err := s.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    s.cfg.TranscribeModel,
		FilePath: filename,
		Reader:   bytes.NewReader(audio),
		Language: language,
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

// Synthesize renders text as mp3 audio. An empty voice uses the default.
func (s *Service) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	if s.cfg.APIKey == "" {
		return nil, ErrMissingCredential
	}
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("text is empty")
	}
	if voice == "" {
		voice = s.cfg.Voice
	}

	resp, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(s.cfg.SpeechModel),
		Input:          text,
		Voice:          openai.SpeechVoice(voice),
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return nil, fmt.Errorf("synthesize: %w", err)
	}
	defer resp.Close()

	data, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("read speech audio: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("synthesize: empty audio")
	}
	return data, nil
}
