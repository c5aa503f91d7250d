package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"gamiai/internal/audio"
	"gamiai/internal/models"
	"gamiai/internal/profiles"
	"gamiai/internal/service/ai"
	"gamiai/internal/session"
	"gamiai/internal/worker"
)

type fakeGenerator struct {
	reply  string
	err    error
	calls  [][]ai.Message
	during func()
}

func (f *fakeGenerator) Generate(_ context.Context, msgs []ai.Message) (string, error) {
	f.calls = append(f.calls, msgs)
	if f.during != nil {
		f.during()
	}
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

type fakePersister struct {
	mu   sync.Mutex
	jobs []worker.PersistJob
}

func (p *fakePersister) Enqueue(job worker.PersistJob) {
	p.mu.Lock()
	p.jobs = append(p.jobs, job)
	p.mu.Unlock()
}

func (p *fakePersister) Close() {}

// failingWriter makes a real LocalPersister fail every write.
type failingWriter struct{ calls int }

func (w *failingWriter) AppendTurn(context.Context, string, string, string, string, time.Time) error {
	w.calls++
	return errors.New("database unavailable")
}

type fakeSynth struct {
	calls int
	err   error
}

func (s *fakeSynth) Synthesize(context.Context, string, string) ([]byte, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return []byte("ID3"), nil
}

type fakeTranscriber struct {
	text string
	err  error
}

func (t fakeTranscriber) Transcribe(context.Context, []byte, string, string) (string, error) {
	return t.text, t.err
}

type memArtifacts struct{ saved []string }

func (m *memArtifacts) Save(_ context.Context, name string, data []byte, contentType string) (audio.Artifact, error) {
	m.saved = append(m.saved, name)
	return audio.Artifact{Name: name, URL: "/audio/" + name, ContentType: contentType, Size: int64(len(data))}, nil
}

type recorder struct{ events []Event }

func (r *recorder) Send(ev Event) { r.events = append(r.events, ev) }

func (r *recorder) types() []EventType {
	out := make([]EventType, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

type fixture struct {
	orch      *Orchestrator
	gen       *fakeGenerator
	sessions  *session.MemoryStore
	persister *fakePersister
	synth     *fakeSynth
	artifacts *memArtifacts
	state     *session.State
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		gen:       &fakeGenerator{reply: "hi there"},
		sessions:  session.NewMemoryStore(),
		persister: &fakePersister{},
		synth:     &fakeSynth{},
		artifacts: &memArtifacts{},
	}
	f.orch = NewOrchestrator(Deps{
		Generator:   f.gen,
		Sessions:    f.sessions,
		Persister:   f.persister,
		Synthesizer: f.synth,
		Transcriber: fakeTranscriber{text: "olá"},
		Artifacts:   f.artifacts,
	}, opts)
	state, err := f.orch.Start(context.Background(), profiles.ByName(profiles.General))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	f.state = state
	return f
}

func (f *fixture) load(t *testing.T) *session.State {
	t.Helper()
	st, err := f.sessions.Load(context.Background(), f.state.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return st
}

func TestStartResolvesSelection(t *testing.T) {
	f := newFixture(t, Options{})
	st, err := f.orch.Start(context.Background(), profiles.ByMapping{"name": "modo_programador"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if st.Profile != profiles.Programmer || len(st.Transcript) != 0 || st.ThreadID == "" {
		t.Fatalf("unexpected state: %+v", st)
	}
	bad, err := f.orch.Start(context.Background(), profiles.ByName("nope"))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if bad.Profile != profiles.General {
		t.Fatalf("unknown profile should fall back, got %s", bad.Profile)
	}
}

func TestHandleTurnEmptyUtteranceChangesNothing(t *testing.T) {
	f := newFixture(t, Options{AutoSpeak: true})
	for _, input := range []string{"", "   ", "\n\t"} {
		rec := &recorder{}
		err := f.orch.HandleTurn(context.Background(), f.state.ID, input, true, rec)
		if !errors.Is(err, ErrEmptyUtterance) {
			t.Fatalf("expected ErrEmptyUtterance, got %v", err)
		}
		if len(rec.events) != 1 || rec.events[0].Type != EventWarning {
			t.Fatalf("expected a single warning, got %+v", rec.events)
		}
	}
	if len(f.gen.calls) != 0 || len(f.persister.jobs) != 0 || f.synth.calls != 0 {
		t.Fatalf("empty input must not reach generation, persistence or speech")
	}
	if len(f.load(t).Transcript) != 0 {
		t.Fatalf("transcript must stay empty")
	}
}

func TestHandleTurnHappyPath(t *testing.T) {
	f := newFixture(t, Options{AutoSpeak: false})
	rec := &recorder{}
	if err := f.orch.HandleTurn(context.Background(), f.state.ID, "hello", false, rec); err != nil {
		t.Fatalf("turn: %v", err)
	}

	got := rec.types()
	if len(got) != 2 || got[0] != EventInfo || got[1] != EventMessage {
		t.Fatalf("unexpected events: %v", got)
	}
	if rec.events[1].Content != "hi there" {
		t.Fatalf("reply = %q", rec.events[1].Content)
	}

	call := f.gen.calls[0]
	if len(call) != 2 || call[0].Role != models.RoleSystem || call[0].Content != profiles.PromptFor(profiles.General) {
		t.Fatalf("system prompt not first: %+v", call)
	}
	if call[1].Role != models.RoleUser || call[1].Content != "hello" {
		t.Fatalf("utterance not last: %+v", call[1])
	}

	st := f.load(t)
	if len(st.Transcript) != 2 || st.Transcript[0].Content != "hello" || st.Transcript[1].Content != "hi there" {
		t.Fatalf("transcript not updated: %+v", st.Transcript)
	}
	if len(f.persister.jobs) != 1 {
		t.Fatalf("expected one persist job, got %d", len(f.persister.jobs))
	}
	job := f.persister.jobs[0]
	if job.ThreadID != f.state.ThreadID || job.Profile != profiles.General || job.UserText != "hello" || job.AssistantText != "hi there" {
		t.Fatalf("unexpected persist job: %+v", job)
	}
	if f.synth.calls != 0 {
		t.Fatalf("speech must not run when neither requested nor automatic")
	}
}

func TestHandleTurnIncludesTranscriptOldestFirst(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	_ = f.orch.HandleTurn(ctx, f.state.ID, "first", false, &recorder{})
	f.gen.reply = "second reply"
	_ = f.orch.HandleTurn(ctx, f.state.ID, "second", false, &recorder{})

	call := f.gen.calls[1]
	want := []string{profiles.PromptFor(profiles.General), "first", "hi there", "second"}
	if len(call) != len(want) {
		t.Fatalf("expected %d messages, got %d", len(want), len(call))
	}
	for i, content := range want {
		if call[i].Content != content {
			t.Fatalf("message %d = %q, want %q", i, call[i].Content, content)
		}
	}
}

func TestHandleTurnPersistFailureDoesNotAffectReply(t *testing.T) {
	writer := &failingWriter{}
	persister := worker.NewLocalPersister(writer, 4, nil)
	sessions := session.NewMemoryStore()
	orch := NewOrchestrator(Deps{
		Generator: &fakeGenerator{reply: "still answered"},
		Sessions:  sessions,
		Persister: persister,
	}, Options{})
	state, err := orch.Start(context.Background(), profiles.ByName(profiles.Consultant))
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	rec := &recorder{}
	if err := orch.HandleTurn(context.Background(), state.ID, "hello", false, rec); err != nil {
		t.Fatalf("turn: %v", err)
	}
	persister.Close()

	if writer.calls != 1 {
		t.Fatalf("expected one write attempt, got %d", writer.calls)
	}
	last := rec.events[len(rec.events)-1]
	if last.Type != EventMessage || last.Content != "still answered" {
		t.Fatalf("reply altered by persistence failure: %+v", rec.events)
	}
	for _, ev := range rec.events {
		if ev.Type == EventError {
			t.Fatalf("persistence failure must not surface to the user")
		}
	}
}

func TestHandleTurnSynthesisThreshold(t *testing.T) {
	cases := []struct {
		name      string
		reply     string
		speak     bool
		autoSpeak bool
		wantSpeak bool
	}{
		{"short reply requested", strings.Repeat("a", 799), true, false, true},
		{"short reply automatic", strings.Repeat("a", 10), false, true, true},
		{"exactly the limit", strings.Repeat("a", 800), true, true, false},
		{"long reply", strings.Repeat("a", 2000), true, true, false},
		{"multibyte under limit", strings.Repeat("é", 799), true, false, true},
		{"not requested", "short", false, false, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, Options{AutoSpeak: tc.autoSpeak, SynthesisMaxLength: 800})
			f.gen.reply = tc.reply
			rec := &recorder{}
			if err := f.orch.HandleTurn(context.Background(), f.state.ID, "q", tc.speak, rec); err != nil {
				t.Fatalf("turn: %v", err)
			}
			spoke := f.synth.calls > 0
			if spoke != tc.wantSpeak {
				t.Fatalf("synthesis attempted = %v, want %v", spoke, tc.wantSpeak)
			}
			if tc.wantSpeak {
				last := rec.events[len(rec.events)-1]
				if last.Type != EventAudio || last.Audio == nil || len(f.artifacts.saved) != 1 {
					t.Fatalf("expected audio event, got %+v", rec.events)
				}
			}
		})
	}
}

func TestHandleTurnSynthesisFailureIsSwallowed(t *testing.T) {
	f := newFixture(t, Options{AutoSpeak: true})
	f.synth.err = errors.New("tts down")
	rec := &recorder{}
	if err := f.orch.HandleTurn(context.Background(), f.state.ID, "hello", true, rec); err != nil {
		t.Fatalf("turn: %v", err)
	}
	for _, ev := range rec.events {
		if ev.Type == EventError || ev.Type == EventAudio {
			t.Fatalf("unexpected %s event", ev.Type)
		}
	}
}

func TestHandleTurnGenerationErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"missing credential", ai.ErrMissingCredential, textConfigError},
		{"provider failure", errors.Join(ai.ErrGeneration, errors.New("503")), textGenerationError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, Options{AutoSpeak: true})
			f.gen.err = tc.err
			rec := &recorder{}
			if err := f.orch.HandleTurn(context.Background(), f.state.ID, "hello", true, rec); !errors.Is(err, tc.err) {
				t.Fatalf("expected %v, got %v", tc.err, err)
			}
			last := rec.events[len(rec.events)-1]
			if last.Type != EventError || last.Content != tc.want {
				t.Fatalf("unexpected error event: %+v", last)
			}
			if len(f.load(t).Transcript) != 0 || len(f.persister.jobs) != 0 {
				t.Fatalf("failed generation must not change state")
			}

			// the session stays usable
			f.gen.err = nil
			if err := f.orch.HandleTurn(context.Background(), f.state.ID, "again", false, &recorder{}); err != nil {
				t.Fatalf("follow-up turn: %v", err)
			}
		})
	}
}

func TestHandleTurnEmptyReplyIsAnError(t *testing.T) {
	f := newFixture(t, Options{AutoSpeak: true})
	f.gen.reply = "  \n"
	rec := &recorder{}
	if err := f.orch.HandleTurn(context.Background(), f.state.ID, "hello", true, rec); !errors.Is(err, ErrEmptyReply) {
		t.Fatalf("expected ErrEmptyReply, got %v", err)
	}
	last := rec.events[len(rec.events)-1]
	if last.Type != EventError || last.Content != textGenerationError {
		t.Fatalf("unexpected event: %+v", last)
	}
	if len(f.load(t).Transcript) != 0 || len(f.persister.jobs) != 0 || f.synth.calls != 0 {
		t.Fatalf("empty reply must not change state")
	}
}

func TestHandleTurnDoesNotReviveDeletedSession(t *testing.T) {
	f := newFixture(t, Options{})
	f.gen.during = func() {
		if err := f.sessions.Delete(context.Background(), f.state.ID); err != nil {
			t.Errorf("delete: %v", err)
		}
	}
	rec := &recorder{}
	if err := f.orch.HandleTurn(context.Background(), f.state.ID, "hello", false, rec); err != nil {
		t.Fatalf("handle turn: %v", err)
	}
	if _, err := f.sessions.Load(context.Background(), f.state.ID); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("deleted session came back: %v", err)
	}
	if len(f.persister.jobs) != 1 {
		t.Fatalf("finished turn should still be persisted, got %d jobs", len(f.persister.jobs))
	}
	if got := rec.events[len(rec.events)-1]; got.Type != EventMessage || got.Content != "hi there" {
		t.Fatalf("unexpected last event: %+v", got)
	}
}

func TestHandleTurnStampsPersistJob(t *testing.T) {
	f := newFixture(t, Options{})
	before := time.Now().UTC()
	if err := f.orch.HandleTurn(context.Background(), f.state.ID, "hello", false, &recorder{}); err != nil {
		t.Fatalf("handle turn: %v", err)
	}
	job := f.persister.jobs[0]
	if job.CreatedAt.Before(before) || job.CreatedAt.After(time.Now().UTC()) {
		t.Fatalf("unexpected job time %v", job.CreatedAt)
	}
}

func TestHandleTurnUnknownSession(t *testing.T) {
	f := newFixture(t, Options{})
	rec := &recorder{}
	if err := f.orch.HandleTurn(context.Background(), "missing", "hello", false, rec); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if len(f.gen.calls) != 0 {
		t.Fatalf("generation must not run without a session")
	}
}

func TestHandleVoice(t *testing.T) {
	f := newFixture(t, Options{AutoSpeak: false})
	rec := &recorder{}
	if err := f.orch.HandleVoice(context.Background(), f.state.ID, []byte("RIFF"), "a.wav", rec); err != nil {
		t.Fatalf("voice: %v", err)
	}
	got := rec.types()
	want := []EventType{EventInfo, EventMessage, EventInfo, EventMessage, EventAudio}
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
	if rec.events[1].Content != EchoText("olá") {
		t.Fatalf("echo = %q", rec.events[1].Content)
	}
}

func TestHandleVoiceEmptyAndFailedTranscription(t *testing.T) {
	f := newFixture(t, Options{})
	f.orch.transcriber = fakeTranscriber{text: "  "}
	rec := &recorder{}
	if err := f.orch.HandleVoice(context.Background(), f.state.ID, []byte("x"), "a.wav", rec); !errors.Is(err, ErrEmptyUtterance) {
		t.Fatalf("expected ErrEmptyUtterance, got %v", err)
	}
	if rec.events[len(rec.events)-1].Type != EventWarning {
		t.Fatalf("expected warning, got %+v", rec.events)
	}

	f.orch.transcriber = fakeTranscriber{err: errors.New("whisper down")}
	rec = &recorder{}
	if err := f.orch.HandleVoice(context.Background(), f.state.ID, []byte("x"), "a.wav", rec); err == nil {
		t.Fatalf("expected transcription error")
	}
	if rec.events[len(rec.events)-1].Type != EventError {
		t.Fatalf("expected error event, got %+v", rec.events)
	}
	if len(f.gen.calls) != 0 {
		t.Fatalf("generation must not run on failed transcription")
	}
}
