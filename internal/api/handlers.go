package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"gamiai/internal/chat"
	"gamiai/internal/models"
	"gamiai/internal/profiles"
	"gamiai/internal/session"
	"gamiai/internal/storage"
	"gamiai/internal/worker"
)

const maxAudioBytes = 25 << 20 // 25 MB, the transcription upload limit

// Conversation runs turns for the HTTP layer.
type Conversation interface {
	Start(ctx context.Context, sel profiles.Selection) (*session.State, error)
	HandleTurn(ctx context.Context, sessionID, utterance string, speak bool, out chat.Sender) error
	HandleVoice(ctx context.Context, sessionID string, data []byte, filename string, out chat.Sender) error
}

type WorkerManager interface {
	Do(ctx context.Context, sessionID string, job worker.Job) error
	Stop(sessionID string)
}

type ThreadReader interface {
	ListThreadMessages(ctx context.Context, threadID string) ([]models.Message, error)
}

type Deps struct {
	Conversation Conversation
	Sessions     session.Store
	Workers      WorkerManager
	Threads      ThreadReader
	Backend      storage.Backend
	// Ping reports database health; nil means not checked.
	Ping     func(ctx context.Context) error
	AudioDir string
	Logger   *zap.Logger
}

// Handler wires HTTP routes to the turn orchestrator and runs every turn on
// its session's worker.
type Handler struct {
	conversation Conversation
	sessions     session.Store
	workers      WorkerManager
	threads      ThreadReader
	backend      storage.Backend
	ping         func(ctx context.Context) error
	audioDir     string
	logger       *zap.Logger
	startedAt    time.Time
}

// NewHandler constructs a Handler instance.
func NewHandler(deps Deps) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		conversation: deps.Conversation,
		sessions:     deps.Sessions,
		workers:      deps.Workers,
		threads:      deps.Threads,
		backend:      deps.Backend,
		ping:         deps.Ping,
		audioDir:     deps.AudioDir,
		logger:       logger,
		startedAt:    time.Now(),
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/healthz", h.health)
	if h.audioDir != "" {
		router.Static("/audio", h.audioDir)
	}
	api := router.Group("/api")
	api.GET("/profiles", h.listProfiles)
	api.POST("/sessions", h.startSession)
	api.GET("/sessions/:id", h.getSession)
	api.DELETE("/sessions/:id", h.deleteSession)
	api.POST("/sessions/:id/messages", h.postMessage)
	api.POST("/sessions/:id/audio", h.postAudio)
	api.GET("/threads/:thread_id/messages", h.threadMessages)
}

func (h *Handler) health(c *gin.Context) {
	status := http.StatusOK
	dbStatus := "ok"
	if h.ping != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.ping(ctx); err != nil {
			h.logger.Warn("health ping failed", zap.Error(err))
			status = http.StatusServiceUnavailable
			dbStatus = err.Error()
		}
	}
	c.JSON(status, gin.H{
		"backend": gin.H{
			"kind":    h.backend.Kind,
			"dialect": h.backend.Dialect,
			"dsn":     h.backend.Redacted(),
			"reason":  h.backend.Reason,
		},
		"database":       dbStatus,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	})
}

func (h *Handler) listProfiles(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"profiles": profiles.List()})
}

func (h *Handler) startSession(c *gin.Context) {
	var req struct {
		ChatProfile json.RawMessage `json:"chat_profile"`
	}
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}

	state, err := h.conversation.Start(c.Request.Context(), selectionFromJSON(req.ChatProfile))
	if err != nil {
		h.logger.Error("start session failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "start session failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"session_id": state.ID,
		"thread_id":  state.ThreadID,
		"profile":    state.Profile,
		"created_at": state.CreatedAt,
		"welcome":    profiles.WelcomeText(state.Profile),
	})
}

// selectionFromJSON maps the chat_profile field onto a selection. A string is
// a profile name, an object is a mapping; anything else resolves to the
// default profile.
func selectionFromJSON(raw json.RawMessage) profiles.Selection {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return profiles.ByName("")
	}
	switch raw[0] {
	case '"':
		var name string
		if err := json.Unmarshal(raw, &name); err == nil {
			return profiles.ByName(name)
		}
	case '{':
		var mapping map[string]any
		if err := json.Unmarshal(raw, &mapping); err == nil {
			return profiles.ByMapping(mapping)
		}
	}
	return profiles.ByName("")
}

func (h *Handler) getSession(c *gin.Context) {
	state, ok := h.loadSession(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, state)
}

func (h *Handler) deleteSession(c *gin.Context) {
	id := c.Param("id")
	if _, ok := h.loadSession(c); !ok {
		return
	}
	h.workers.Stop(id)
	if err := h.sessions.Delete(c.Request.Context(), id); err != nil {
		h.logger.Error("delete session failed", zap.String("session_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete session failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) loadSession(c *gin.Context) (*session.State, bool) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return nil, false
	}
	state, err := h.sessions.Load(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		} else {
			h.logger.Error("load session failed", zap.String("session_id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "load session failed"})
		}
		return nil, false
	}
	return state, true
}

type messageRequest struct {
	Content string `json:"content"`
	Speak   bool   `json:"speak"`
}

func (h *Handler) postMessage(c *gin.Context) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	state, ok := h.loadSession(c)
	if !ok {
		return
	}
	h.streamTurn(c, state.ID, func(ctx context.Context, out chat.Sender) error {
		return h.conversation.HandleTurn(ctx, state.ID, req.Content, req.Speak, out)
	})
}

func (h *Handler) postAudio(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxAudioBytes)
	file, err := c.FormFile("audio")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "audio file is required"})
		return
	}
	if file.Size > maxAudioBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "audio too large"})
		return
	}
	f, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "open audio failed"})
		return
	}
	data, err := io.ReadAll(f)
	_ = f.Close()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read audio failed"})
		return
	}
	state, ok := h.loadSession(c)
	if !ok {
		return
	}
	filename := file.Filename
	h.streamTurn(c, state.ID, func(ctx context.Context, out chat.Sender) error {
		return h.conversation.HandleVoice(ctx, state.ID, data, filename, out)
	})
}

func (h *Handler) threadMessages(c *gin.Context) {
	threadID := strings.TrimSpace(c.Param("thread_id"))
	if threadID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid thread id"})
		return
	}
	messages, err := h.threads.ListThreadMessages(c.Request.Context(), threadID)
	if err != nil {
		h.logger.Error("list thread messages failed", zap.String("thread_id", threadID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list messages failed"})
		return
	}
	if messages == nil {
		messages = make([]models.Message, 0)
	}
	c.JSON(http.StatusOK, gin.H{
		"thread_id": threadID,
		"messages":  messages,
	})
}

// streamTurn runs one turn on the session worker and relays its events as
// SSE. Headers are written with the first event, so a rejected submission can
// still answer with a plain status code.
func (h *Handler) streamTurn(c *gin.Context, sessionID string, run func(ctx context.Context, out chat.Sender) error) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}
	stream := &eventStream{w: c.Writer, flusher: flusher}

	err := h.workers.Do(c.Request.Context(), sessionID, func(ctx context.Context) {
		if err := run(ctx, stream); err != nil {
			h.logger.Debug("turn ended with error", zap.String("session_id", sessionID), zap.Error(err))
		}
	})
	if err != nil {
		started := stream.close()
		switch {
		case started:
			// client went away mid-turn; the job finishes on its own
		case errors.Is(err, worker.ErrSessionBusy):
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "session is busy, please retry"})
		case errors.Is(err, worker.ErrManagerClosed):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "server is shutting down"})
		case errors.Is(err, worker.ErrSessionStopped):
			c.JSON(http.StatusGone, gin.H{"error": "session ended"})
		default:
			h.logger.Info("turn abandoned by client", zap.String("session_id", sessionID), zap.Error(err))
		}
		return
	}
	stream.Send(chat.Event{Type: chat.EventDone})
	stream.close()
}

// eventStream is a chat.Sender writing SSE frames. Once closed it drops
// events, so a job outliving its request never touches the response.
type eventStream struct {
	mu      sync.Mutex
	w       gin.ResponseWriter
	flusher http.Flusher
	started bool
	closed  bool
}

func (s *eventStream) Send(ev chat.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if !s.started {
		header := s.w.Header()
		header.Set("Content-Type", "text/event-stream")
		header.Set("Cache-Control", "no-cache")
		header.Set("Connection", "keep-alive")
		header.Set("X-Accel-Buffering", "no")
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
		s.closed = true
		return
	}
	s.flusher.Flush()
}

// close reports whether any event was written.
func (s *eventStream) close() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return s.started
}
