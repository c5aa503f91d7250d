package chat

import "gamiai/internal/audio"

type EventType string

const (
	EventInfo    EventType = "info"
	EventWarning EventType = "warning"
	EventMessage EventType = "message"
	EventAudio   EventType = "audio"
	EventError   EventType = "error"
	EventDone    EventType = "done"
)

// Event is what the host UI receives for a turn.
type Event struct {
	Type    EventType       `json:"type"`
	Content string          `json:"content,omitempty"`
	Audio   *audio.Artifact `json:"audio,omitempty"`
}

// Sender delivers events to whoever started the turn.
type Sender interface {
	Send(Event)
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(Event)

func (f SenderFunc) Send(ev Event) { f(ev) }

const (
	textThinking        = "🧠 Pensando..."
	textListening       = "👂 Ouvindo..."
	textEmptyUtterance  = "⚠️ Por favor, envie uma mensagem válida."
	textEmptyAudio      = "⚠️ Não entendi o áudio."
	textTranscribeError = "⚠️ Erro ao transcrever áudio. Tente novamente."
	textConfigError     = "❌ **Erro de configuração:** credencial do modelo de linguagem não configurada (OPENAI_API_KEY)."
	textGenerationError = "❌ **Erro ao processar a mensagem.**\n\nPor favor, tente novamente ou verifique os logs."
	textSessionMissing  = "❌ Sessão não encontrada. Inicie uma nova conversa."
)

// EchoText is how a transcribed utterance is shown back to the user.
func EchoText(transcript string) string {
	return "🗣️ **Você:** " + transcript
}
