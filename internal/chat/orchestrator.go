package chat

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/neyroplan/neyroplan/internal/session"
)

// Fixed user-visible notices written into the response placeholder.
const (
	imageDoneNotice = "Rasm tayyor."
	videoDoneNotice = "Video tayyor."
	failureNotice   = "Xatolik yuz berdi. Qayta urinib ko'ring."
)

// State is the orchestrator's generation state.
type State int

// State machine values. Idle is initial and terminal; all other states
// hold the single-flight lock.
const (
	StateIdle State = iota
	StatePendingSubmit
	StateStreaming
	StateAwaitingMedia
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePendingSubmit:
		return "pending_submit"
	case StateStreaming:
		return "streaming"
	case StateAwaitingMedia:
		return "awaiting_media"
	default:
		return "unknown"
	}
}

// Submission is the result of a Generate call. Rejections are silent
// no-ops by contract: nothing was added to the store.
type Submission int

const (
	// Accepted means the request ran to completion or failure; either
	// way the message pair exists in the store.
	Accepted Submission = iota

	// IgnoredEmpty means the prompt was empty after trimming.
	IgnoredEmpty

	// IgnoredBusy means another request held the single-flight lock.
	IgnoredBusy
)

// EventType classifies callback events.
type EventType string

// Callback event types.
const (
	// EventChunk carries one streamed text fragment, in receipt order.
	EventChunk EventType = "chunk"

	// EventStatus carries a transient human-readable phase description
	// for long-running media generation.
	EventStatus EventType = "status"

	// EventMedia carries the final media reference.
	EventMedia EventType = "media"
)

// Event is delivered to the per-request callback as generation
// progresses.
type Event struct {
	Type     EventType
	Text     string
	MediaURL string
}

// StreamCallback receives events for one Generate call. Returning an
// error stops further delivery to the callback; the reducer itself
// continues, since the session store stays authoritative either way.
type StreamCallback func(ctx context.Context, ev Event) error

// Generator is the generation service contract consumed by the
// orchestrator.
type Generator interface {
	// StreamChat yields response text fragments for the prompt given
	// the prior exchanges. The sequence is finite and one-shot.
	StreamChat(ctx context.Context, history []session.Message, prompt string, restricted bool) iter.Seq2[string, error]

	// GenerateImage returns a single media reference for the prompt.
	GenerateImage(ctx context.Context, prompt string) (string, error)

	// GenerateVideo returns a media reference once the long-running
	// remote operation resolves, reporting progress along the way.
	GenerateVideo(ctx context.Context, prompt string, onProgress func(string)) (string, error)

	// SummarizeTitle returns a short session title. Never fails; a
	// fixed default is returned instead.
	SummarizeTitle(ctx context.Context, prompt string) string
}

// Config contains all required parameters for the Orchestrator.
type Config struct {
	Store     *session.Store
	Generator Generator
	Logger    *slog.Logger

	// RateLimiter optionally gates outbound generation calls.
	// Nil disables proactive rate limiting.
	RateLimiter *rate.Limiter

	// BackgroundCtx outlives individual requests; it bounds the
	// fire-and-forget title summarization. Nil uses context.Background.
	BackgroundCtx context.Context //nolint:containedctx // App lifecycle context, not a request context
}

// validate checks if all required parameters are present.
func (cfg Config) validate() error {
	if cfg.Store == nil {
		return errors.New("session store is required")
	}
	if cfg.Generator == nil {
		return errors.New("generator is required")
	}
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	return nil
}

// Orchestrator coordinates the session store and the generation
// service. At most one Generate call runs at a time; concurrent calls
// are rejected rather than queued. Safe for concurrent use.
type Orchestrator struct {
	store   *session.Store
	gen     Generator
	logger  *slog.Logger
	limiter *rate.Limiter

	mu     sync.Mutex
	state  State
	status string

	bgCtx context.Context //nolint:containedctx // App lifecycle context, not a request context
	wg    sync.WaitGroup  // tracks title summarization tasks
}

// New creates an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	bgCtx := cfg.BackgroundCtx
	if bgCtx == nil {
		bgCtx = context.Background()
	}
	return &Orchestrator{
		store:   cfg.Store,
		gen:     cfg.Generator,
		logger:  cfg.Logger,
		limiter: cfg.RateLimiter,
		state:   StateIdle,
		bgCtx:   bgCtx,
	}, nil
}

// Generate turns a prompt plus requested output type into session
// store mutations and blocks until the request completes or fails.
//
// The message pair (user message + response placeholder) is created
// synchronously before any network call. All generation failures are
// reduced to a failure notice on the placeholder; no error crosses
// this boundary. callback may be nil.
func (o *Orchestrator) Generate(ctx context.Context, prompt string, output session.MediaType, restricted bool, callback StreamCallback) Submission {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return IgnoredEmpty
	}
	if !o.acquire() {
		o.logger.Debug("generation ignored, request already in flight")
		return IgnoredBusy
	}
	defer o.finish()

	// Target session: current one, or a fresh one tagged by the mode
	// flag. Created synchronously so the pair lands before any await.
	targetID := o.store.CurrentID()
	if targetID == "" {
		targetID = o.store.CreateSession(ctx, restricted)
	}

	// Prior exchanges, captured before the new pair is appended. An
	// empty history marks the session's first exchange.
	var history []session.Message
	if sess, ok := o.store.Session(targetID); ok {
		history = sess.Messages
	}

	user := o.store.NewMessage(session.RoleUser, prompt, output)
	placeholder := o.store.NewMessage(session.RoleModel, "", output)
	o.store.AppendMessagePair(ctx, targetID, user, placeholder)

	o.logger.Info("generation started",
		"session_id", targetID,
		"type", output,
		"restricted", restricted)

	var err error
	if err = o.wait(ctx); err == nil {
		switch output {
		case session.TypeImage:
			o.setState(StateAwaitingMedia)
			err = o.generateImage(ctx, targetID, placeholder.ID, prompt, &callback)
		case session.TypeVideo:
			o.setState(StateAwaitingMedia)
			err = o.generateVideo(ctx, targetID, placeholder.ID, prompt, &callback)
		default:
			o.setState(StateStreaming)
			err = o.streamText(ctx, targetID, placeholder.ID, history, prompt, restricted, &callback)
		}
	}

	if err != nil {
		o.logger.Error("generation failed",
			"session_id", targetID,
			"type", output,
			"error", err)
		notice := failureNotice
		o.store.UpdateMessage(ctx, targetID, placeholder.ID, session.MessageUpdate{Content: &notice})
	}
	return Accepted
}

// streamText consumes the fragment stream, applying each accumulator
// state as a full content replacement so a dropped update can never
// duplicate text. After a clean finish on a first exchange of a
// non-restricted session, a best-effort title task is dispatched.
func (o *Orchestrator) streamText(ctx context.Context, sessionID, messageID string, history []session.Message, prompt string, restricted bool, callback *StreamCallback) error {
	var acc strings.Builder
	for fragment, err := range o.gen.StreamChat(ctx, history, prompt, restricted) {
		if err != nil {
			return err
		}
		acc.WriteString(fragment)
		content := acc.String()
		o.store.UpdateMessage(ctx, sessionID, messageID, session.MessageUpdate{Content: &content})
		o.emit(ctx, callback, Event{Type: EventChunk, Text: fragment})
	}

	if len(history) == 0 && !restricted {
		o.summarizeTitle(sessionID, prompt)
	}
	return nil
}

// summarizeTitle renames the session from a generated summary,
// fire-and-forget. The generator's contract makes failure invisible
// here: it falls back to the default title, which equals the
// placeholder the session already carries.
func (o *Orchestrator) summarizeTitle(sessionID, prompt string) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		title := o.gen.SummarizeTitle(o.bgCtx, prompt)
		o.store.RenameSession(o.bgCtx, sessionID, title)
	}()
}

func (o *Orchestrator) generateImage(ctx context.Context, sessionID, messageID, prompt string, callback *StreamCallback) error {
	url, err := o.gen.GenerateImage(ctx, prompt)
	if err != nil {
		return err
	}
	notice := imageDoneNotice
	o.store.UpdateMessage(ctx, sessionID, messageID, session.MessageUpdate{Content: &notice, MediaURL: &url})
	o.emit(ctx, callback, Event{Type: EventMedia, MediaURL: url})
	return nil
}

func (o *Orchestrator) generateVideo(ctx context.Context, sessionID, messageID, prompt string, callback *StreamCallback) error {
	url, err := o.gen.GenerateVideo(ctx, prompt, func(msg string) {
		o.setStatus(msg)
		o.emit(ctx, callback, Event{Type: EventStatus, Text: msg})
	})
	if err != nil {
		return err
	}
	notice := videoDoneNotice
	o.store.UpdateMessage(ctx, sessionID, messageID, session.MessageUpdate{Content: &notice, MediaURL: &url})
	o.emit(ctx, callback, Event{Type: EventMedia, MediaURL: url})
	return nil
}

// emit delivers an event to the callback. A callback error disables
// further delivery for this request; the reducer is unaffected.
func (o *Orchestrator) emit(ctx context.Context, callback *StreamCallback, ev Event) {
	if callback == nil || *callback == nil {
		return
	}
	if err := (*callback)(ctx, ev); err != nil {
		o.logger.Debug("stream callback rejected event", "error", err)
		*callback = nil
	}
}

// wait applies the optional proactive rate limit.
func (o *Orchestrator) wait(ctx context.Context) error {
	if o.limiter == nil {
		return nil
	}
	return o.limiter.Wait(ctx)
}

// acquire takes the single-flight lock by moving Idle to
// PendingSubmit. It reports false when another request is in flight.
func (o *Orchestrator) acquire() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StateIdle {
		return false
	}
	o.state = StatePendingSubmit
	return true
}

// finish returns to Idle and clears the transient status.
func (o *Orchestrator) finish() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state = StateIdle
	o.status = ""
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state = s
}

func (o *Orchestrator) setStatus(msg string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.status = msg
}

// State returns the current generation state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Busy reports whether a request is in flight.
func (o *Orchestrator) Busy() bool {
	return o.State() != StateIdle
}

// Status returns the transient status indicator shown during
// long-running media generation, or "" when idle.
func (o *Orchestrator) Status() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// Wait blocks until outstanding background title tasks finish. Called
// during shutdown.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}
