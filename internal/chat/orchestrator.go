// Package chat runs one conversational turn: validate, generate, update the
// session, hand the exchange to persistence, reply, and optionally speak.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"gamiai/internal/audio"
	"gamiai/internal/models"
	"gamiai/internal/profiles"
	"gamiai/internal/service/ai"
	"gamiai/internal/session"
	"gamiai/internal/worker"
)

var (
	ErrEmptyUtterance = errors.New("utterance is empty")
	ErrEmptyReply     = errors.New("generated reply is empty")
)

const defaultSynthesisMaxLength = 800

type Generator interface {
	Generate(ctx context.Context, messages []ai.Message) (string, error)
}

type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) ([]byte, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename, language string) (string, error)
}

type Options struct {
	// AutoSpeak synthesizes every short enough reply, not only voice turns.
	AutoSpeak bool
	// SynthesisMaxLength is the rune count at and above which replies are
	// never spoken.
	SynthesisMaxLength int
}

type Orchestrator struct {
	generator   Generator
	sessions    session.Store
	persister   worker.Persister
	synthesizer Synthesizer
	transcriber Transcriber
	artifacts   audio.Store
	opts        Options
	logger      *zap.Logger
}

type Deps struct {
	Generator   Generator
	Sessions    session.Store
	Persister   worker.Persister
	Synthesizer Synthesizer
	Transcriber Transcriber
	Artifacts   audio.Store
	Logger      *zap.Logger
}

func NewOrchestrator(deps Deps, opts Options) *Orchestrator {
	if opts.SynthesisMaxLength <= 0 {
		opts.SynthesisMaxLength = defaultSynthesisMaxLength
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		generator:   deps.Generator,
		sessions:    deps.Sessions,
		persister:   deps.Persister,
		synthesizer: deps.Synthesizer,
		transcriber: deps.Transcriber,
		artifacts:   deps.Artifacts,
		opts:        opts,
		logger:      logger,
	}
}

// Start resolves the selection and creates a fresh session state.
func (o *Orchestrator) Start(ctx context.Context, sel profiles.Selection) (*session.State, error) {
	state := session.New(profiles.Resolve(sel))
	if err := o.sessions.Save(ctx, state); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	o.logger.Info("session started",
		zap.String("session_id", state.ID),
		zap.String("thread_id", state.ThreadID),
		zap.String("profile", state.Profile),
	)
	return state, nil
}

// HandleTurn processes one text utterance. Every outcome the user should see
// is sent through out; the returned error is for the caller's logs.
func (o *Orchestrator) HandleTurn(ctx context.Context, sessionID, utterance string, speak bool, out Sender) error {
	if strings.TrimSpace(utterance) == "" {
		out.Send(Event{Type: EventWarning, Content: textEmptyUtterance})
		return ErrEmptyUtterance
	}

	state, err := o.sessions.Load(ctx, sessionID)
	if err != nil {
		out.Send(Event{Type: EventError, Content: textSessionMissing})
		return fmt.Errorf("load session: %w", err)
	}

	out.Send(Event{Type: EventInfo, Content: textThinking})

	reply, err := o.generator.Generate(ctx, buildMessages(state, utterance))
	if err == nil && strings.TrimSpace(reply) == "" {
		err = ErrEmptyReply
	}
	if err != nil {
		if errors.Is(err, ai.ErrMissingCredential) {
			o.logger.Error("generation not configured", zap.Error(err))
			out.Send(Event{Type: EventError, Content: textConfigError})
		} else {
			o.logger.Error("generation failed",
				zap.String("session_id", sessionID),
				zap.Error(err),
			)
			out.Send(Event{Type: EventError, Content: textGenerationError})
		}
		return err
	}

	turnAt := time.Now().UTC()
	state.AppendExchange(utterance, reply)
	if err := o.sessions.Update(ctx, state); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			o.logger.Info("session deleted during turn", zap.String("session_id", sessionID))
		} else {
			o.logger.Error("save session failed", zap.String("session_id", sessionID), zap.Error(err))
		}
	}

	if o.persister != nil {
		o.persister.Enqueue(worker.PersistJob{
			ThreadID:      state.ThreadID,
			Profile:       state.Profile,
			UserText:      utterance,
			AssistantText: reply,
			CreatedAt:     turnAt,
		})
	}

	out.Send(Event{Type: EventMessage, Content: reply})

	if (speak || o.opts.AutoSpeak) && o.shouldSynthesize(reply) {
		o.speak(ctx, sessionID, reply, out)
	}
	return nil
}

// HandleVoice transcribes recorded audio and runs a turn that asks for a
// spoken reply.
func (o *Orchestrator) HandleVoice(ctx context.Context, sessionID string, data []byte, filename string, out Sender) error {
	out.Send(Event{Type: EventInfo, Content: textListening})
	if o.transcriber == nil {
		out.Send(Event{Type: EventError, Content: textTranscribeError})
		return errors.New("transcription not configured")
	}

	text, err := o.transcriber.Transcribe(ctx, data, filename, "")
	if err != nil {
		o.logger.Error("transcription failed", zap.String("session_id", sessionID), zap.Error(err))
		out.Send(Event{Type: EventError, Content: textTranscribeError})
		return err
	}
	if strings.TrimSpace(text) == "" {
		out.Send(Event{Type: EventWarning, Content: textEmptyAudio})
		return ErrEmptyUtterance
	}

	out.Send(Event{Type: EventMessage, Content: EchoText(text)})
	return o.HandleTurn(ctx, sessionID, text, true, out)
}

func (o *Orchestrator) shouldSynthesize(reply string) bool {
	return o.synthesizer != nil && o.artifacts != nil &&
		utf8.RuneCountInString(reply) < o.opts.SynthesisMaxLength
}

// speak never fails the turn; errors are logged only.
func (o *Orchestrator) speak(ctx context.Context, sessionID, reply string, out Sender) {
	data, err := o.synthesizer.Synthesize(ctx, reply, "")
	if err != nil {
		o.logger.Warn("speech synthesis failed", zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	art, err := o.artifacts.Save(ctx, audio.NewSpeechName(), data, audio.ContentTypeMP3)
	if err != nil {
		o.logger.Warn("store speech artifact failed", zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	out.Send(Event{Type: EventAudio, Audio: &art})
}

func buildMessages(state *session.State, utterance string) []ai.Message {
	msgs := make([]ai.Message, 0, len(state.Transcript)+2)
	msgs = append(msgs, ai.Message{Role: models.RoleSystem, Content: profiles.PromptFor(state.Profile)})
	for _, entry := range state.Transcript {
		msgs = append(msgs, ai.Message{Role: entry.Role, Content: entry.Content})
	}
	msgs = append(msgs, ai.Message{Role: models.RoleUser, Content: utterance})
	return msgs
}
