// Package audio keeps synthesized speech so clients can fetch it by URL.
package audio

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

const ContentTypeMP3 = "audio/mpeg"

// Artifact is a stored audio file reachable at URL.
type Artifact struct {
	Name        string `json:"name"`
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// Store persists audio bytes under a name.
type Store interface {
	Save(ctx context.Context, name string, data []byte, contentType string) (Artifact, error)
}

// NewSpeechName returns a fresh artifact name such as tts_1a2b3c4d.mp3.
func NewSpeechName() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "tts_" + id[:8] + ".mp3"
}
