package domain

// Inbound is the frame a browser sends for each user message.
type Inbound struct {
	Content string `json:"content"`
}

// Outbound is the frame sent back to the browser.
//
// Partial is a pointer so that "partial": false is serialized explicitly for
// complete messages while welcome and notice frames omit the field.
type Outbound struct {
	Role              Role   `json:"role"`
	Content           string `json:"content"`
	Partial           *bool  `json:"partial,omitempty"`
	StreamingComplete bool   `json:"streaming_complete,omitempty"`
}

// Notice builds a frame without the partial marker (welcome, status notices).
func Notice(role Role, content string) Outbound {
	return Outbound{Role: role, Content: content}
}

// Chunk builds an incremental assistant frame.
func Chunk(content string) Outbound {
	partial := true
	return Outbound{Role: RoleAssistant, Content: content, Partial: &partial}
}

// Complete builds a final (non-partial) frame.
func Complete(role Role, content string) Outbound {
	partial := false
	return Outbound{Role: role, Content: content, Partial: &partial}
}

// StreamEnd builds the empty terminator sent after a streamed reply.
func StreamEnd() Outbound {
	out := Complete(RoleAssistant, "")
	out.StreamingComplete = true
	return out
}

// IsPartial reports whether the frame is an incremental chunk.
func (o Outbound) IsPartial() bool {
	return o.Partial != nil && *o.Partial
}
