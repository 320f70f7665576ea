package transport

import "context"

// ChatTarget identifies a delivery destination.
type ChatTarget struct {
	ChatID int64
}

// Gateway is the outbound messaging dependency wrapped by the delivery retry
// protocol. Implementations must be safe for concurrent use: firings for
// different jobs deliver concurrently.
type Gateway interface {
	SendText(ctx context.Context, to ChatTarget, text string) error
	SendDocument(ctx context.Context, to ChatTarget, path, caption string) error
}
