package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/neyroplan/neyroplan/internal/chat"
	"github.com/neyroplan/neyroplan/internal/log"
	"github.com/neyroplan/neyroplan/internal/session"
)

// GenerateService is the orchestrator surface the handler depends on.
type GenerateService interface {
	Generate(ctx context.Context, prompt string, output session.MediaType, restricted bool, callback chat.StreamCallback) chat.Submission
	Busy() bool
	Status() string
}

// GenerateHandler streams generation results to the browser over SSE.
type GenerateHandler struct {
	svc    GenerateService
	logger log.Logger
}

// NewGenerateHandler creates a generate handler.
func NewGenerateHandler(svc GenerateService, logger log.Logger) *GenerateHandler {
	return &GenerateHandler{svc: svc, logger: logger}
}

// RegisterRoutes registers generation routes on the given mux.
func (h *GenerateHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/generate", h.generate)
	mux.HandleFunc("GET /api/state", h.state)
}

// state reports the processing flag and transient status text the UI
// polls between SSE streams.
func (h *GenerateHandler) state(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, h.logger, http.StatusOK, map[string]any{
		"busy":   h.svc.Busy(),
		"status": h.svc.Status(),
	})
}

// GenerateRequest is the request body for a generation run.
type GenerateRequest struct {
	Prompt     string `json:"prompt"`
	Type       string `json:"type"` // "text" (default), "image", "video"
	Restricted bool   `json:"restricted"`
}

// SSE event payloads.
type (
	// SSEChunkData carries one streamed text fragment.
	SSEChunkData struct {
		Text string `json:"text"`
	}

	// SSEStatusData carries a transient status line.
	SSEStatusData struct {
		Text string `json:"text"`
	}

	// SSEMediaData carries the final media reference.
	SSEMediaData struct {
		URL string `json:"url"`
	}

	// SSEDoneData closes the stream.
	SSEDoneData struct {
		Result string `json:"result"`
	}

	// SSEErrorData reports request rejection.
	SSEErrorData struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
)

// generate handles the SSE generation endpoint.
//
// Event types: chunk, status, media, done, error. Rejections
// (busy slot, empty prompt, bad type) arrive as error events; a
// generation failure surfaces only through the placeholder message,
// so the stream still ends with done.
func (h *GenerateHandler) generate(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.logger.Error("streaming not supported")
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeEvent(w, flusher, "error", SSEErrorData{Code: "INVALID_REQUEST", Message: "invalid request body"})
		return
	}

	output, ok := parseMediaType(req.Type)
	if !ok {
		h.writeEvent(w, flusher, "error", SSEErrorData{Code: "INVALID_TYPE", Message: fmt.Sprintf("unknown output type %q", req.Type)})
		return
	}

	ctx := r.Context()
	callback := func(ctx context.Context, ev chat.Event) error {
		// Stop generating events for a disconnected client.
		if err := ctx.Err(); err != nil {
			return err
		}
		switch ev.Type {
		case chat.EventChunk:
			return h.writeEvent(w, flusher, "chunk", SSEChunkData{Text: ev.Text})
		case chat.EventStatus:
			return h.writeEvent(w, flusher, "status", SSEStatusData{Text: ev.Text})
		case chat.EventMedia:
			return h.writeEvent(w, flusher, "media", SSEMediaData{URL: ev.MediaURL})
		default:
			return nil
		}
	}

	switch h.svc.Generate(ctx, req.Prompt, output, req.Restricted, callback) {
	case chat.IgnoredEmpty:
		h.writeEvent(w, flusher, "error", SSEErrorData{Code: "EMPTY_PROMPT", Message: "prompt is empty"})
	case chat.IgnoredBusy:
		h.writeEvent(w, flusher, "error", SSEErrorData{Code: "BUSY", Message: "another request is in flight"})
	default:
		h.writeEvent(w, flusher, "done", SSEDoneData{Result: "accepted"})
	}
}

// writeEvent writes one SSE event with a JSON data payload.
func (h *GenerateHandler) writeEvent(w http.ResponseWriter, flusher http.Flusher, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		h.logger.Error("encoding SSE payload", "error", err)
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// parseMediaType maps the request type field to a session.MediaType.
// Empty defaults to text.
func parseMediaType(s string) (session.MediaType, bool) {
	switch s {
	case "", string(session.TypeText):
		return session.TypeText, true
	case string(session.TypeImage):
		return session.TypeImage, true
	case string(session.TypeVideo):
		return session.TypeVideo, true
	default:
		return "", false
	}
}
