package bus

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"mmassist/internal/domain"
)

const publishTimeout = 10 * time.Second

// InMemoryBus carries inbound messages from channels to the assistant loop
// and routes replies back to the originating channel by name.
type InMemoryBus struct {
	inbound  chan domain.InboundMessage
	handlers map[string]func(domain.OutboundMessage)
	mu       sync.RWMutex
	closed   bool
	logger   *zap.SugaredLogger
}

// New creates a new InMemoryBus with the given buffer size.
func New(bufferSize int, logger *zap.SugaredLogger) *InMemoryBus {
	if bufferSize <= 0 {
		bufferSize = 16
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &InMemoryBus{
		inbound:  make(chan domain.InboundMessage, bufferSize),
		handlers: make(map[string]func(domain.OutboundMessage)),
		logger:   logger,
	}
}

// Publish blocks up to publishTimeout when the buffer is full, then drops
// the message.
func (b *InMemoryBus) Publish(msg domain.InboundMessage) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.logger.Warnw("publish on closed bus", "channel", msg.Channel, "kind", msg.Kind)
		return
	}

	select {
	case b.inbound <- msg:
	default:
		b.logger.Warnw("inbound bus full, waiting", "channel", msg.Channel, "sender", msg.SenderID)
		timer := time.NewTimer(publishTimeout)
		defer timer.Stop()
		select {
		case b.inbound <- msg:
			b.logger.Infow("message delivered after wait", "channel", msg.Channel)
		case <-timer.C:
			b.logger.Errorw("message dropped: bus full",
				"channel", msg.Channel,
				"sender", msg.SenderID,
			)
		}
	}
}

func (b *InMemoryBus) Subscribe() <-chan domain.InboundMessage {
	return b.inbound
}

func (b *InMemoryBus) SendOutbound(msg domain.OutboundMessage) {
	b.mu.RLock()
	handler, ok := b.handlers[msg.Channel]
	b.mu.RUnlock()

	if !ok {
		b.logger.Warnw("no handler registered for channel", "channel", msg.Channel, "chat", msg.ChatID)
		return
	}

	handler(msg)
}

func (b *InMemoryBus) OnOutbound(channelName string, handler func(domain.OutboundMessage)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[channelName] = handler
}

func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		close(b.inbound)
	}
}
