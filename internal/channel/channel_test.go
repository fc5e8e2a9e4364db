package channel

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"go.uber.org/zap/zaptest"

	"mmassist/internal/domain"
)

type recordingBus struct {
	mu        sync.Mutex
	published []domain.InboundMessage
	handlers  map[string]func(domain.OutboundMessage)
}

func (b *recordingBus) Publish(msg domain.InboundMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, msg)
}

func (b *recordingBus) Subscribe() <-chan domain.InboundMessage { return nil }

func (b *recordingBus) SendOutbound(msg domain.OutboundMessage) {
	if h, ok := b.handlers[msg.Channel]; ok {
		h(msg)
	}
}

func (b *recordingBus) OnOutbound(name string, handler func(domain.OutboundMessage)) {
	if b.handlers == nil {
		b.handlers = make(map[string]func(domain.OutboundMessage))
	}
	b.handlers[name] = handler
}

func (b *recordingBus) Close() {}

func TestCLI_PublishesLines(t *testing.T) {
	doc := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(doc, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	input := strings.Join([]string{
		"hello",
		"",
		"/lang french",
		"/doc " + doc,
		"/audio " + filepath.Join(t.TempDir(), "missing.ogg"),
		"/audio",
		"/quit",
		"never sent",
	}, "\n")

	var out bytes.Buffer
	b := &recordingBus{}
	cli := NewCLI(CLIConfig{Logger: zaptest.NewLogger(t).Sugar(), In: strings.NewReader(input), Out: &out})
	if err := cli.Start(context.Background(), b); err != nil {
		t.Fatal(err)
	}

	if len(b.published) != 3 {
		t.Fatalf("published %d messages: %+v", len(b.published), b.published)
	}
	if b.published[0].Kind != domain.KindText || b.published[0].Content != "hello" {
		t.Errorf("first = %+v", b.published[0])
	}
	if b.published[1].Content != "/lang french" {
		t.Errorf("commands are forwarded as text, got %+v", b.published[1])
	}
	d := b.published[2]
	if d.Kind != domain.KindDocument || d.MediaPath != doc || d.FileName != "notes.txt" || d.TempMedia {
		t.Errorf("doc = %+v", d)
	}
	if !strings.Contains(out.String(), "cannot read") {
		t.Error("missing audio file should be reported")
	}
	if !strings.Contains(out.String(), "usage: /audio <file>") {
		t.Error("bare /audio should print usage")
	}
}

func TestCLI_SendRendersMedia(t *testing.T) {
	var out bytes.Buffer
	cli := NewCLI(CLIConfig{Out: &out})
	err := cli.Send(context.Background(), domain.OutboundMessage{
		Channel:   "cli",
		Content:   "**RAG Response:** hi",
		ImageURL:  "https://img.example/cat.png",
		AudioPath: "/tmp/tts_1.mp3",
	})
	if err != nil {
		t.Fatal(err)
	}
	got := out.String()
	for _, want := range []string{"RAG Response:** hi", "Image: https://img.example/cat.png", "Audio: /tmp/tts_1.mp3"} {
		if !strings.Contains(got, want) {
			t.Errorf("output %q missing %q", got, want)
		}
	}
}

func TestCLI_OutboundHandlerPrints(t *testing.T) {
	var out bytes.Buffer
	b := &recordingBus{}
	cli := NewCLI(CLIConfig{In: strings.NewReader(""), Out: &out})
	if err := cli.Start(context.Background(), b); err != nil {
		t.Fatal(err)
	}
	b.SendOutbound(domain.OutboundMessage{Channel: "cli", Content: "pong"})
	if !strings.Contains(out.String(), "pong") {
		t.Fatalf("output = %q", out.String())
	}
}

func TestSplitMessage_Short(t *testing.T) {
	chunks := splitMessage("short message", 100)
	if len(chunks) != 1 {
		t.Errorf("expected 1 chunk, got %d", len(chunks))
	}
}

func TestSplitMessage_Empty(t *testing.T) {
	if chunks := splitMessage("", 100); len(chunks) != 0 {
		t.Errorf("expected no chunks, got %d", len(chunks))
	}
}

func TestSplitMessage_PrefersNewlines(t *testing.T) {
	text := strings.Repeat("a", 70) + "\n" + strings.Repeat("b", 70)
	chunks := splitMessage(text, 100)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0] != strings.Repeat("a", 70) {
		t.Errorf("first chunk should end at the newline, got %q", chunks[0])
	}
	if strings.Join(chunks, "") != text {
		t.Error("chunks must reassemble to the input")
	}
}

func TestSplitMessage_KeepsRunesWhole(t *testing.T) {
	text := strings.Repeat("é", 3000)
	chunks := splitMessage(text, telegramMaxMsgLen)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if len(c) > telegramMaxMsgLen {
			t.Errorf("chunk %d too long: %d", i, len(c))
		}
		if !utf8.ValidString(c) {
			t.Errorf("chunk %d splits a rune", i)
		}
	}
}

func TestTelegram_IsAllowed(t *testing.T) {
	open := NewTelegram(TelegramConfig{Token: "x"})
	if !open.isAllowed(42) {
		t.Error("empty allow list should allow everyone")
	}

	tg := NewTelegram(TelegramConfig{Token: "x", AllowFrom: []string{"123", "bad", " 456 "}})
	if len(tg.allowFrom) != 2 {
		t.Fatalf("allowFrom = %v", tg.allowFrom)
	}
	if !tg.isAllowed(456) || tg.isAllowed(789) {
		t.Error("allow list not applied")
	}
}

func TestNameOr(t *testing.T) {
	if nameOr("", "voice.ogg") != "voice.ogg" || nameOr("a.mp3", "voice.ogg") != "a.mp3" {
		t.Error("nameOr")
	}
}
