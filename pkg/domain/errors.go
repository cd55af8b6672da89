package domain

import "errors"

// ErrSessionNotFound is returned when no session (or turn log) exists for a client ID.
var ErrSessionNotFound = errors.New("session not found")

// ErrSessionCreate wraps every failure that aborts session creation
// (connection refused, handshake timeout, tool listing failure).
var ErrSessionCreate = errors.New("failed to create session")

// ErrToolCallLimit is returned when an agent run exhausts its tool call budget
// and the model still refuses to answer in text.
var ErrToolCallLimit = errors.New("tool call limit reached")

// ErrBroker marks a failure reported by the broker API itself.
var ErrBroker = errors.New("broker error")

// ErrUnknownTool is returned when a tool name is not registered.
var ErrUnknownTool = errors.New("unknown tool")
