// Package mcp exposes threads and messages to MCP clients over stdio.
package mcp

import (
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"totari/state"
)

type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

var toolRegistry = map[string]toolEntry{
	"thread_list": {
		def: mcp.NewTool("thread_list",
			mcp.WithDescription("List conversation threads, most recently updated first."),
		),
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleThreadList },
	},
	"thread_create": {
		def: mcp.NewTool("thread_create",
			mcp.WithDescription("Create a new thread."),
			mcp.WithString("title", mcp.Required(), mcp.Description("Thread title")),
		),
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleThreadCreate },
	},
	"thread_rename": {
		def: mcp.NewTool("thread_rename",
			mcp.WithDescription("Rename a thread."),
			mcp.WithString("id", mcp.Required(), mcp.Description("Thread id")),
			mcp.WithString("title", mcp.Required(), mcp.Description("New title")),
		),
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleThreadRename },
	},
	"thread_delete": {
		def: mcp.NewTool("thread_delete",
			mcp.WithDescription("Delete a thread. Deleting a missing thread succeeds."),
			mcp.WithString("id", mcp.Required(), mcp.Description("Thread id")),
		),
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleThreadDelete },
	},
	"message_list": {
		def: mcp.NewTool("message_list",
			mcp.WithDescription("List a thread's messages in chronological order. Audio bytes are omitted."),
			mcp.WithString("thread_id", mcp.Required(), mcp.Description("Thread id")),
		),
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleMessageList },
	},
	"note_add": {
		def: mcp.NewTool("note_add",
			mcp.WithDescription("Append a text note to a thread."),
			mcp.WithString("thread_id", mcp.Required(), mcp.Description("Thread id")),
			mcp.WithString("text", mcp.Required(), mcp.Description("Note text")),
		),
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleNoteAdd },
	},
	"message_delete": {
		def: mcp.NewTool("message_delete",
			mcp.WithDescription("Delete a message."),
			mcp.WithString("id", mcp.Required(), mcp.Description("Message id")),
		),
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleMessageDelete },
	},
	"message_transcribe_file": {
		def: mcp.NewTool("message_transcribe_file",
			mcp.WithDescription("Post an audio file (wav, flac, mp3 or ogg) to a thread and wait for its transcription."),
			mcp.WithString("thread_id", mcp.Required(), mcp.Description("Thread id")),
			mcp.WithString("path", mcp.Required(), mcp.Description("Path to the audio file")),
		),
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleTranscribeFile },
	},
}

// ToolNames returns the registered tool names, sorted.
func ToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewServer creates an MCP server with every tool registered against c.
func NewServer(c *state.Coordinator, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"totari",
		version,
		server.WithToolCapabilities(true),
	)
	h := NewHandlers(c)
	for _, entry := range toolRegistry {
		s.AddTool(entry.def, entry.handler(h))
	}
	return s
}

// Run serves the tools over stdio until stdin closes.
func Run(c *state.Coordinator, version string) error {
	return server.ServeStdio(NewServer(c, version))
}
