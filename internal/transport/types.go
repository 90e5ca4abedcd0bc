// Package transport defines the chat-platform boundary. Concrete adapters
// live in subpackages; everything above them talks to the Adapter interface.
package transport

import "context"

// ChatTarget addresses a chat on the platform.
type ChatTarget struct {
	ChatID int64
}

// SendOptions tweaks a single outgoing message.
type SendOptions struct {
	Silent bool // no notification sound on the client
}

// Adapter is a minimal chat transport: long-lived receive loop plus text send.
type Adapter interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	// SendText delivers text to the target and returns the platform message ID.
	SendText(ctx context.Context, target ChatTarget, text string, opts *SendOptions) (int, error)
}
