package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"os"

	"github.com/mark3labs/mcp-go/mcp"

	terrors "totari/internal/errors"
	"totari/model"
	"totari/state"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	c *state.Coordinator
}

func NewHandlers(c *state.Coordinator) *Handlers {
	return &Handlers{c: c}
}

type ThreadCreateRequest struct {
	Title string `json:"title"`
}

type ThreadRenameRequest struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type IDRequest struct {
	ID string `json:"id"`
}

type MessageListRequest struct {
	ThreadID string `json:"thread_id"`
}

type NoteAddRequest struct {
	ThreadID string `json:"thread_id"`
	Text     string `json:"text"`
}

type TranscribeFileRequest struct {
	ThreadID string `json:"thread_id"`
	Path     string `json:"path"`
}

// MessageView is a message as returned to MCP clients: the payload is
// reduced to its readable text.
type MessageView struct {
	ID          string       `json:"id"`
	ThreadID    string       `json:"thread_id"`
	Kind        model.Kind   `json:"kind"`
	Source      model.Source `json:"source"`
	Status      model.Status `json:"status,omitempty"`
	Text        string       `json:"text,omitempty"`
	Error       string       `json:"error,omitempty"`
	DurationSec int          `json:"duration_sec,omitempty"`
	CreatedAt   int64        `json:"created_at"`
}

// NewMessageView flattens m for tool and CLI output. Audio bytes are left out.
func NewMessageView(m model.Message) MessageView {
	v := MessageView{
		ID:        m.ID,
		ThreadID:  m.ThreadID,
		Kind:      m.Kind,
		Source:    m.Source,
		Status:    m.Status,
		Text:      m.Payload.Preview(),
		Error:     m.Error,
		CreatedAt: m.CreatedAt,
	}
	if m.Payload.Audio != nil {
		v.DurationSec = m.Payload.Audio.DurationSec
	}
	return v
}

func (h *Handlers) HandleThreadList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	h.c.FetchThreads(ctx)
	if msg := h.c.ThreadsError(); msg != "" {
		return errorResult(terrors.NewBackendUnavailable("store")), nil
	}
	return successResult(map[string]any{"threads": h.c.Threads()})
}

func (h *Handlers) HandleThreadCreate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ThreadCreateRequest](req)
	if err != nil {
		return errorResult(terrors.NewInvalidRequest(err.Error())), nil
	}
	t, err := h.c.CreateThread(ctx, input.Title)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(t)
}

func (h *Handlers) HandleThreadRename(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ThreadRenameRequest](req)
	if err != nil {
		return errorResult(terrors.NewInvalidRequest(err.Error())), nil
	}
	if input.ID == "" {
		return errorResult(terrors.NewInvalidRequest("id is required")), nil
	}
	if err := h.c.RenameThread(ctx, input.ID, input.Title); err != nil {
		return errorResult(err), nil
	}
	return successResult(map[string]any{"id": input.ID, "renamed": true})
}

func (h *Handlers) HandleThreadDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[IDRequest](req)
	if err != nil {
		return errorResult(terrors.NewInvalidRequest(err.Error())), nil
	}
	if input.ID == "" {
		return errorResult(terrors.NewInvalidRequest("id is required")), nil
	}
	if err := h.c.DeleteThread(ctx, input.ID); err != nil {
		return errorResult(err), nil
	}
	return successResult(map[string]any{"id": input.ID, "deleted": true})
}

func (h *Handlers) HandleMessageList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[MessageListRequest](req)
	if err != nil {
		return errorResult(terrors.NewInvalidRequest(err.Error())), nil
	}
	if input.ThreadID == "" {
		return errorResult(terrors.NewInvalidRequest("thread_id is required")), nil
	}
	msgs := h.c.Store().GetMessages(ctx, input.ThreadID)
	views := make([]MessageView, 0, len(msgs))
	for _, m := range msgs {
		views = append(views, NewMessageView(m))
	}
	return successResult(map[string]any{"messages": views})
}

func (h *Handlers) HandleNoteAdd(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[NoteAddRequest](req)
	if err != nil {
		return errorResult(terrors.NewInvalidRequest(err.Error())), nil
	}
	if input.ThreadID == "" {
		return errorResult(terrors.NewInvalidRequest("thread_id is required")), nil
	}
	m, err := h.c.AddNote(ctx, input.ThreadID, input.Text)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(NewMessageView(*m))
}

func (h *Handlers) HandleMessageDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[IDRequest](req)
	if err != nil {
		return errorResult(terrors.NewInvalidRequest(err.Error())), nil
	}
	if input.ID == "" {
		return errorResult(terrors.NewInvalidRequest("id is required")), nil
	}
	if err := h.c.DeleteMessage(ctx, input.ID); err != nil {
		return errorResult(err), nil
	}
	return successResult(map[string]any{"id": input.ID, "deleted": true})
}

// HandleTranscribeFile runs a file through the same lifecycle as a live
// capture and blocks until the transcription settles.
func (h *Handlers) HandleTranscribeFile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[TranscribeFileRequest](req)
	if err != nil {
		return errorResult(terrors.NewInvalidRequest(err.Error())), nil
	}
	if input.ThreadID == "" || input.Path == "" {
		return errorResult(terrors.NewInvalidRequest("thread_id and path are required")), nil
	}
	data, err := os.ReadFile(input.Path)
	if err != nil {
		return errorResult(terrors.NewInvalidRequest("read audio file: " + err.Error())), nil
	}

	m, err := h.c.StartAudioRecording(ctx, input.ThreadID)
	if err != nil {
		return errorResult(err), nil
	}
	task, err := h.c.ProcessAudioRecording(ctx, m.ID, data)
	if err != nil {
		return errorResult(err), nil
	}
	select {
	case <-task.Done():
	case <-ctx.Done():
		return errorResult(terrors.NewInvalidRequest("cancelled while transcribing " + m.ID)), nil
	}
	if err := task.Err(); err != nil {
		return errorResult(err), nil
	}
	final, err := h.c.Store().GetMessage(ctx, m.ID)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(NewMessageView(*final))
}

// errorResult renders err as a structured tool error. Causes are kept out
// of the payload.
func errorResult(err error) *mcp.CallToolResult {
	errorObj := map[string]any{
		"code":    "INTERNAL",
		"message": "an internal error occurred",
	}
	var te *terrors.Error
	if errors.As(err, &te) {
		errorObj["code"] = te.Code
		errorObj["message"] = te.Message
		if te.Details != nil {
			errorObj["details"] = te.Details
		}
	}
	content, _ := json.Marshal(map[string]any{"error": errorObj})
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
