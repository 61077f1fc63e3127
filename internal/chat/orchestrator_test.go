package chat

import (
	"context"
	"errors"
	"iter"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/neyroplan/neyroplan/internal/log"
	"github.com/neyroplan/neyroplan/internal/session"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// nopPersister satisfies session.Persister for tests that don't care
// about durability.
type nopPersister struct{}

func (nopPersister) Load(context.Context) ([]session.ChatSession, error) { return nil, nil }
func (nopPersister) Save(context.Context, []session.ChatSession) error   { return nil }

// fakeGenerator scripts the generation service.
type fakeGenerator struct {
	chunks      []string
	streamErr   error // yielded after all chunks
	beforeChunk func(i int)
	gate        chan struct{} // when non-nil, StreamChat blocks on it first

	imageURL string
	imageErr error

	videoURL      string
	videoErr      error
	videoProgress []string

	title      string
	titleCalls atomic.Int32

	lastHistory    []session.Message
	lastPrompt     string
	lastRestricted bool
}

func (g *fakeGenerator) StreamChat(ctx context.Context, history []session.Message, prompt string, restricted bool) iter.Seq2[string, error] {
	g.lastHistory = history
	g.lastPrompt = prompt
	g.lastRestricted = restricted
	return func(yield func(string, error) bool) {
		if g.gate != nil {
			<-g.gate
		}
		for i, chunk := range g.chunks {
			if g.beforeChunk != nil {
				g.beforeChunk(i)
			}
			if !yield(chunk, nil) {
				return
			}
		}
		if g.streamErr != nil {
			yield("", g.streamErr)
		}
	}
}

func (g *fakeGenerator) GenerateImage(ctx context.Context, prompt string) (string, error) {
	return g.imageURL, g.imageErr
}

func (g *fakeGenerator) GenerateVideo(ctx context.Context, prompt string, onProgress func(string)) (string, error) {
	for _, msg := range g.videoProgress {
		onProgress(msg)
	}
	return g.videoURL, g.videoErr
}

func (g *fakeGenerator) SummarizeTitle(ctx context.Context, prompt string) string {
	g.titleCalls.Add(1)
	if g.title == "" {
		return session.DefaultTitle
	}
	return g.title
}

// recorder collects callback events.
type recorder struct {
	mu     sync.Mutex
	events []Event
	err    error // returned after the first event when set
}

func (r *recorder) callback(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	if r.err != nil && len(r.events) == 1 {
		return r.err
	}
	return nil
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func newOrchestrator(t *testing.T, gen Generator) (*Orchestrator, *session.Store) {
	t.Helper()
	store := session.NewStore(nopPersister{}, log.NewNop())
	orch, err := New(Config{
		Store:     store,
		Generator: gen,
		Logger:    log.NewNop(),
	})
	require.NoError(t, err)
	return orch, store
}

func TestNew_Validation(t *testing.T) {
	store := session.NewStore(nopPersister{}, log.NewNop())
	gen := &fakeGenerator{}

	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing store", Config{Generator: gen, Logger: log.NewNop()}},
		{"missing generator", Config{Store: store, Logger: log.NewNop()}},
		{"missing logger", Config{Store: store, Generator: gen}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			assert.Error(t, err)
		})
	}
}

// Scenario: empty store, text generation. One session appears with the
// user message and a placeholder that accumulates streamed fragments.
func TestGenerate_TextOnEmptyStore(t *testing.T) {
	ctx := context.Background()
	gen := &fakeGenerator{chunks: []string{"Hi", " there"}}
	orch, store := newOrchestrator(t, gen)
	rec := &recorder{}

	result := orch.Generate(ctx, "Hello", session.TypeText, false, rec.callback)
	orch.Wait()

	assert.Equal(t, Accepted, result)

	sessions := store.Sessions()
	require.Len(t, sessions, 1)
	require.Len(t, sessions[0].Messages, 2)

	userMsg, modelMsg := sessions[0].Messages[0], sessions[0].Messages[1]
	assert.Equal(t, session.RoleUser, userMsg.Role)
	assert.Equal(t, "Hello", userMsg.Content)
	assert.Equal(t, session.RoleModel, modelMsg.Role)
	assert.Equal(t, "Hi there", modelMsg.Content, "fragments concatenated in order")
	assert.Empty(t, modelMsg.MediaURL)

	// Fragments reach the callback in receipt order.
	events := rec.all()
	require.Len(t, events, 2)
	assert.Equal(t, Event{Type: EventChunk, Text: "Hi"}, events[0])
	assert.Equal(t, Event{Type: EventChunk, Text: " there"}, events[1])

	// The stream saw no prior history and the untouched prompt.
	assert.Empty(t, gen.lastHistory)
	assert.Equal(t, "Hello", gen.lastPrompt)

	assert.Equal(t, StateIdle, orch.State())
	assert.False(t, orch.Busy())
}

// Scenario: image generation appends a pair to the existing current
// session and finishes with media reference plus fixed notice.
func TestGenerate_ImageOnExistingSession(t *testing.T) {
	ctx := context.Background()
	gen := &fakeGenerator{chunks: []string{"ok"}, imageURL: "data:image/png;base64,eA=="}
	orch, store := newOrchestrator(t, gen)

	// Seed a session with one exchange.
	require.Equal(t, Accepted, orch.Generate(ctx, "Hello", session.TypeText, false, nil))
	orch.Wait()
	id := store.CurrentID()
	require.NotEmpty(t, id)

	rec := &recorder{}
	result := orch.Generate(ctx, "draw a cat", session.TypeImage, false, rec.callback)
	orch.Wait()

	assert.Equal(t, Accepted, result)

	sess, ok := store.Session(id)
	require.True(t, ok)
	require.Len(t, sess.Messages, 4, "pair appended to the same session")

	reply := sess.Messages[3]
	assert.Equal(t, session.TypeImage, reply.Type)
	assert.Equal(t, "Rasm tayyor.", reply.Content)
	assert.Equal(t, "data:image/png;base64,eA==", reply.MediaURL)

	events := rec.all()
	require.Len(t, events, 1)
	assert.Equal(t, EventMedia, events[0].Type)
	assert.Equal(t, reply.MediaURL, events[0].MediaURL)
}

// Scenario: empty prompt is rejected without touching the store.
func TestGenerate_EmptyPrompt(t *testing.T) {
	ctx := context.Background()
	orch, store := newOrchestrator(t, &fakeGenerator{})

	assert.Equal(t, IgnoredEmpty, orch.Generate(ctx, "", session.TypeText, false, nil))
	assert.Equal(t, IgnoredEmpty, orch.Generate(ctx, "   \n\t", session.TypeText, false, nil))
	assert.Empty(t, store.Sessions())
	assert.Empty(t, store.CurrentID())
}

// Scenario: the video call rejects. The placeholder carries the fixed
// failure notice, no media reference, and the pair persists.
func TestGenerate_VideoFailure(t *testing.T) {
	ctx := context.Background()
	gen := &fakeGenerator{
		videoErr:      errors.New("quota exceeded"),
		videoProgress: []string{"Video ishlanmoqda..."},
	}
	orch, store := newOrchestrator(t, gen)
	rec := &recorder{}

	result := orch.Generate(ctx, "a flying cat", session.TypeVideo, false, rec.callback)

	assert.Equal(t, Accepted, result, "failures never escape Generate")

	sessions := store.Sessions()
	require.Len(t, sessions, 1)
	require.Len(t, sessions[0].Messages, 2)

	reply := sessions[0].Messages[1]
	assert.Equal(t, "Xatolik yuz berdi. Qayta urinib ko'ring.", reply.Content)
	assert.Empty(t, reply.MediaURL)

	// Progress reached the callback before the failure; status cleared after.
	events := rec.all()
	require.NotEmpty(t, events)
	assert.Equal(t, Event{Type: EventStatus, Text: "Video ishlanmoqda..."}, events[0])
	assert.Empty(t, orch.Status())
	assert.Equal(t, StateIdle, orch.State())
}

// Scenario: deleting the target session mid-stream. Every later
// mutation is a silent no-op and nothing panics.
func TestGenerate_SessionDeletedMidStream(t *testing.T) {
	ctx := context.Background()
	gen := &fakeGenerator{chunks: []string{"Hi", " there"}}
	orch, store := newOrchestrator(t, gen)

	id := store.CreateSession(ctx, false)
	gen.beforeChunk = func(i int) {
		if i == 1 {
			store.DeleteSession(ctx, id)
		}
	}

	result := orch.Generate(ctx, "Hello", session.TypeText, false, nil)
	orch.Wait()

	assert.Equal(t, Accepted, result)
	assert.Empty(t, store.Sessions())
	assert.Empty(t, store.CurrentID())
}

func TestGenerate_SingleFlight(t *testing.T) {
	ctx := context.Background()
	gen := &fakeGenerator{chunks: []string{"slow"}, gate: make(chan struct{})}
	orch, store := newOrchestrator(t, gen)

	done := make(chan Submission, 1)
	go func() {
		done <- orch.Generate(ctx, "first", session.TypeText, false, nil)
	}()

	// Wait for the first request to take the lock.
	require.Eventually(t, orch.Busy, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return len(store.Sessions()) == 1 }, time.Second, time.Millisecond)
	before := store.Sessions()

	assert.Equal(t, IgnoredBusy, orch.Generate(ctx, "second", session.TypeText, false, nil))
	assert.Equal(t, before, store.Sessions(), "rejected call leaves the store unchanged")

	close(gen.gate)
	assert.Equal(t, Accepted, <-done)
	orch.Wait()

	// The slot is free again.
	assert.Equal(t, Accepted, orch.Generate(ctx, "third", session.TypeText, false, nil))
	orch.Wait()
}

func TestGenerate_StateDuringStream(t *testing.T) {
	ctx := context.Background()
	gen := &fakeGenerator{chunks: []string{"x"}, gate: make(chan struct{})}
	orch, _ := newOrchestrator(t, gen)

	done := make(chan struct{})
	go func() {
		defer close(done)
		orch.Generate(ctx, "Hello", session.TypeText, false, nil)
	}()

	require.Eventually(t, func() bool { return orch.State() == StateStreaming }, time.Second, time.Millisecond)

	close(gen.gate)
	<-done
	orch.Wait()
	assert.Equal(t, StateIdle, orch.State())
}

func TestGenerate_TitleSummarization(t *testing.T) {
	ctx := context.Background()

	t.Run("first exchange renames the session", func(t *testing.T) {
		gen := &fakeGenerator{chunks: []string{"Hi"}, title: "Salomlashish"}
		orch, store := newOrchestrator(t, gen)

		orch.Generate(ctx, "Hello", session.TypeText, false, nil)
		orch.Wait()

		sess, _ := store.Current()
		assert.Equal(t, "Salomlashish", sess.Title)
		assert.Equal(t, int32(1), gen.titleCalls.Load())
	})

	t.Run("later exchanges keep the title", func(t *testing.T) {
		gen := &fakeGenerator{chunks: []string{"Hi"}, title: "Salomlashish"}
		orch, store := newOrchestrator(t, gen)

		orch.Generate(ctx, "Hello", session.TypeText, false, nil)
		orch.Wait()
		orch.Generate(ctx, "again", session.TypeText, false, nil)
		orch.Wait()

		assert.Equal(t, int32(1), gen.titleCalls.Load())
		require.Len(t, store.Sessions(), 1)
	})

	t.Run("restricted mode never summarizes", func(t *testing.T) {
		gen := &fakeGenerator{chunks: []string{"Hi"}}
		orch, store := newOrchestrator(t, gen)

		orch.Generate(ctx, "Hello", session.TypeText, true, nil)
		orch.Wait()

		assert.Equal(t, int32(0), gen.titleCalls.Load())
		sess, _ := store.Current()
		assert.Equal(t, session.RestrictedTitle, sess.Title)
	})

	t.Run("stream failure skips summarization", func(t *testing.T) {
		gen := &fakeGenerator{streamErr: errors.New("boom")}
		orch, store := newOrchestrator(t, gen)

		orch.Generate(ctx, "Hello", session.TypeText, false, nil)
		orch.Wait()

		assert.Equal(t, int32(0), gen.titleCalls.Load())
		sess, _ := store.Current()
		assert.Equal(t, "Xatolik yuz berdi. Qayta urinib ko'ring.", sess.Messages[1].Content)
	})
}

func TestGenerate_CallbackErrorStopsDeliveryOnly(t *testing.T) {
	ctx := context.Background()
	gen := &fakeGenerator{chunks: []string{"a", "b", "c"}}
	orch, store := newOrchestrator(t, gen)
	rec := &recorder{err: errors.New("client gone")}

	result := orch.Generate(ctx, "Hello", session.TypeText, false, rec.callback)
	orch.Wait()

	assert.Equal(t, Accepted, result)
	assert.Len(t, rec.all(), 1, "delivery stops after the callback error")

	sess, _ := store.Current()
	assert.Equal(t, "abc", sess.Messages[1].Content, "reducer keeps applying fragments")
}

func TestGenerate_StreamHistoryExcludesNewPair(t *testing.T) {
	ctx := context.Background()
	gen := &fakeGenerator{chunks: []string{"second answer"}}
	orch, store := newOrchestrator(t, gen)

	orch.Generate(ctx, "first", session.TypeText, false, nil)
	orch.Wait()
	orch.Generate(ctx, "second", session.TypeText, false, nil)
	orch.Wait()

	require.Len(t, gen.lastHistory, 2, "only the prior exchange")
	assert.Equal(t, "first", gen.lastHistory[0].Content)
	assert.Equal(t, "second", gen.lastPrompt)

	sess, _ := store.Current()
	require.Len(t, sess.Messages, 4)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "pending_submit", StatePendingSubmit.String())
	assert.Equal(t, "streaming", StateStreaming.String())
	assert.Equal(t, "awaiting_media", StateAwaitingMedia.String())
	assert.Equal(t, "unknown", State(99).String())
}
