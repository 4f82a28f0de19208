package domain

import "time"

// InboundMessage is a single chat message as delivered by a channel adapter.
type InboundMessage struct {
	Channel   string    // adapter name: "slack", "telegram", "discord"
	ChatID    string    // channel/chat identifier on the platform
	MessageID string    // platform message ID (Slack ts, Telegram message ID, ...)
	SenderID  string    // author identifier
	FromSelf  bool      // true when the message was authored by the bot itself
	Content   string    // all candidate text gathered from the message
	ThreadID  string    // existing thread root, empty if the message is not threaded
	Timestamp time.Time // platform event time, used for the startup cutoff
}

// OutboundMessage is a reply to be delivered by a channel adapter.
// ThreadID anchors the reply onto the source message's thread.
type OutboundMessage struct {
	Channel  string
	ChatID   string
	ThreadID string
	Content  string
}
