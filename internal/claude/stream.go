package claude

import (
	"encoding/json"
)

// ChunkType identifies the kind of stream-json chunk emitted by the CLI.
type ChunkType string

const (
	ChunkTypeSystem    ChunkType = "system"
	ChunkTypeAssistant ChunkType = "assistant"
	ChunkTypeResult    ChunkType = "result"
)

// StreamChunk is one parsed unit of the CLI's newline-delimited JSON output.
type StreamChunk struct {
	Type    ChunkType       `json:"type"`
	Subtype string          `json:"subtype,omitempty"`
	UUID    string          `json:"uuid,omitempty"`
	Message *AssistantEvent `json:"message,omitempty"`

	// Result fields, present when Type == ChunkTypeResult.
	SessionID         string   `json:"session_id,omitempty"`
	Result            string   `json:"result,omitempty"`
	IsError           bool     `json:"is_error,omitempty"`
	TotalCostUSD      float64  `json:"total_cost_usd,omitempty"`
	DurationMS        int64    `json:"duration_ms,omitempty"`
	NumTurns          int      `json:"num_turns,omitempty"`
	PermissionDenials []Denial `json:"permission_denials,omitempty"`
}

// AssistantEvent carries the content blocks of an assistant chunk.
type AssistantEvent struct {
	Content []ContentBlock `json:"content"`
}

// ContentBlock is a single span of assistant output: text or a tool call.
type ContentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

// Denial is a permission refusal reported in the terminal result chunk.
type Denial struct {
	ToolName  string          `json:"tool_name"`
	ToolInput json.RawMessage `json:"tool_use_input,omitempty"`
}

// FileChange records a file-editing tool invocation for later diff rendering.
type FileChange struct {
	Path     string
	Tool     string
	RawInput json.RawMessage
}

// fileEditTools are the CLI tools whose tool_use blocks mutate project files.
var fileEditTools = map[string]bool{
	"Edit":         true,
	"Write":        true,
	"MultiEdit":    true,
	"NotebookEdit": true,
}

// IsFileEditTool reports whether the named tool edits files.
func IsFileEditTool(name string) bool {
	return fileEditTools[name]
}

// parseChunk parses one stdout line into a StreamChunk.
// Malformed lines return (nil, false) and are dropped by the caller.
func parseChunk(line []byte) (*StreamChunk, bool) {
	var chunk StreamChunk
	if err := json.Unmarshal(line, &chunk); err != nil {
		return nil, false
	}
	if chunk.Type == "" {
		return nil, false
	}
	return &chunk, true
}

// changePath extracts the target file path from a tool_use input payload.
func changePath(input json.RawMessage) string {
	var args struct {
		FilePath     string `json:"file_path"`
		Path         string `json:"path"`
		NotebookPath string `json:"notebook_path"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return ""
	}
	if args.FilePath != "" {
		return args.FilePath
	}
	if args.NotebookPath != "" {
		return args.NotebookPath
	}
	return args.Path
}
