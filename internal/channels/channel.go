package channels

import (
	"context"

	"github.com/BrickRelay/BrickRelay/internal/bus"
)

// Channel defines the interface for chat platforms.
type Channel interface {
	// Name returns the channel name (e.g. "slack").
	Name() string
	// Start starts the channel listener.
	Start(ctx context.Context) error
	// Stop stops the channel listener.
	Stop() error
	// Send posts a reply to a specific chat thread.
	Send(ctx context.Context, msg *bus.OutboundMessage) error
}

// BaseChannel provides common functionality for channels.
type BaseChannel struct {
	Bus *bus.MessageBus
}
