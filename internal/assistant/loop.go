package assistant

import (
	"context"
	"fmt"
	"os"

	"mmassist/internal/domain"
)

// Run consumes inbound messages one at a time and replies on the bus. It
// returns when ctx is done or the bus is closed.
func (a *Assistant) Run(ctx context.Context, b domain.MessageBus) {
	a.logger.Infow("assistant loop started")
	inbound := b.Subscribe()
	for {
		select {
		case <-ctx.Done():
			a.logger.Infow("assistant loop stopping")
			return
		case msg, ok := <-inbound:
			if !ok {
				a.logger.Infow("inbound channel closed, assistant loop stopping")
				return
			}
			b.SendOutbound(a.Handle(ctx, msg))
		}
	}
}

// Handle processes one inbound message and returns the reply.
func (a *Assistant) Handle(ctx context.Context, msg domain.InboundMessage) domain.OutboundMessage {
	if msg.TempMedia && msg.MediaPath != "" {
		defer os.Remove(msg.MediaPath)
	}

	session := SessionKey(msg.Channel, msg.ChatID)
	a.logger.Infow("processing message",
		"channel", msg.Channel,
		"sender", msg.SenderID,
		"kind", msg.Kind,
		"content_len", len(msg.Content),
	)

	out := domain.OutboundMessage{Channel: msg.Channel, ChatID: msg.ChatID, Format: "markdown"}

	switch msg.Kind {
	case domain.KindAudio:
		resp := a.ProcessAudio(ctx, a.sessions.Request(session, ""), msg.MediaPath)
		return fill(out, resp)

	case domain.KindDocument:
		name := msg.FileName
		if name == "" {
			name = msg.MediaPath
		}
		res := a.IngestFile(ctx, msg.MediaPath, msg.FileName)
		if report, ok := res.Get(); ok {
			out.Content = fmt.Sprintf("✅ %s added to knowledge base (%d chunks)", report.Document, report.Chunks)
		} else {
			out.Content = fmt.Sprintf("❌ Failed to process %s\n%s", name, res.Notice())
		}
		return out
	}

	if cmd := ParseCommand(msg.Content); cmd != nil {
		if cr := a.HandleCommand(ctx, session, cmd); cr.Handled {
			out.Content = cr.Response
			return out
		}
	}
	return fill(out, a.Process(ctx, a.sessions.Request(session, msg.Content)))
}

func fill(out domain.OutboundMessage, resp Response) domain.OutboundMessage {
	out.Content = resp.Text()
	if resp.Image != nil {
		out.ImageURL = resp.Image.URL
	}
	out.AudioPath = resp.AudioPath
	return out
}
