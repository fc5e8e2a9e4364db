package domain

import "context"

// Channel is a user-facing surface (CLI, Telegram, HTTP API).
type Channel interface {
	Name() string
	Start(ctx context.Context, bus MessageBus) error
	Stop() error
	Send(ctx context.Context, msg OutboundMessage) error
}
