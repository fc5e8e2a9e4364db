package domain

import "time"

// MessageKind tells the assistant loop how to treat an inbound message.
type MessageKind string

const (
	KindText     MessageKind = "text"
	KindAudio    MessageKind = "audio"
	KindDocument MessageKind = "document"
	KindCommand  MessageKind = "command"
)

type InboundMessage struct {
	Channel   string
	ChatID    string
	SenderID  string
	Kind      MessageKind
	Content   string // text, or the command line for KindCommand
	MediaPath string // local file for KindAudio / KindDocument
	FileName  string // original upload name
	TempMedia bool   // MediaPath is a download the consumer removes
	Timestamp time.Time
}

type OutboundMessage struct {
	Channel   string
	ChatID    string
	Content   string
	Format    string // text | markdown
	ImageURL  string
	AudioPath string
}
