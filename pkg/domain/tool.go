package domain

// ToolSpec describes a tool advertised by the tool server.
// Parameters holds the JSON schema of the arguments object.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ToolCall is a request produced by the agent runtime.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// ToolResult is the outcome of a tool invocation.
// Exactly one of Value (OK) or Message (!OK) is meaningful.
type ToolResult struct {
	OK      bool   `json:"ok"`
	Value   string `json:"value,omitempty"`
	Message string `json:"message,omitempty"`
}

// Success builds a successful result.
func Success(value string) ToolResult {
	return ToolResult{OK: true, Value: value}
}

// Failure builds a failed result carrying a human-readable message.
func Failure(message string) ToolResult {
	return ToolResult{OK: false, Message: message}
}

// Text returns the human-readable text regardless of outcome.
func (r ToolResult) Text() string {
	if r.OK {
		return r.Value
	}
	return r.Message
}
