package bus

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Event is an internal notification about something the assistant did.
type Event struct {
	ID        string
	Type      string         // e.g. "message.received", "image.generated"
	Source    string         // originating component
	Session   string         // conversation the event belongs to
	Payload   map[string]any // event-specific data
	Timestamp time.Time
}

// EventHandler is a callback for events.
type EventHandler func(Event)

// EventBus is a synchronous topic-based publish/subscribe bus.
type EventBus struct {
	handlers map[string][]namedHandler
	mu       sync.RWMutex
	logger   *zap.SugaredLogger
}

type namedHandler struct {
	ID      string
	Handler EventHandler
}

func NewEventBus(logger *zap.SugaredLogger) *EventBus {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &EventBus{
		handlers: make(map[string][]namedHandler),
		logger:   logger,
	}
}

// On registers a handler for the given event type. "*" receives every
// event. The returned ID identifies the handler in logs.
func (eb *EventBus) On(eventType string, handler EventHandler) string {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	id := uuid.NewString()
	eb.handlers[eventType] = append(eb.handlers[eventType], namedHandler{ID: id, Handler: handler})
	return id
}

// Emit calls every matching handler in registration order. A panicking
// handler is logged and skipped.
func (eb *EventBus) Emit(event Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	eb.mu.RLock()
	handlers := make([]namedHandler, 0, len(eb.handlers[event.Type])+len(eb.handlers["*"]))
	handlers = append(handlers, eb.handlers[event.Type]...)
	handlers = append(handlers, eb.handlers["*"]...)
	eb.mu.RUnlock()

	for _, h := range handlers {
		func(nh namedHandler) {
			defer func() {
				if r := recover(); r != nil {
					eb.logger.Errorw("event handler panic", "event", event.Type, "handler", nh.ID, "panic", r)
				}
			}()
			nh.Handler(event)
		}(h)
	}
}

// Well-known event types.
const (
	EventMessageReceived     = "message.received"
	EventAudioTranscribed    = "audio.transcribed"
	EventDocumentIndexed     = "document.indexed"
	EventImageGenerated      = "image.generated"
	EventSpeechSynthesized   = "speech.synthesized"
	EventCapabilityFailed    = "capability.failed"
	EventConversationCleared = "conversation.cleared"
)
