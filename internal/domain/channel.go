package domain

import "context"

// Channel is the interface for chat platform adapters (Slack, Telegram, Discord).
type Channel interface {
	Name() string
	Start(ctx context.Context, bus MessageBus) error
	Stop() error
}
