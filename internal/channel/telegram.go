package channel

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"mmassist/internal/domain"
)

const (
	telegramMaxMsgLen   = 4000
	telegramMaxDownload = 20 << 20 // Bot API download limit
)

// Telegram implements domain.Channel for a Telegram bot. Voice notes and
// audio files are transcribed, documents are added to the knowledge base.
type Telegram struct {
	token     string
	allowFrom []int64 // Allowed user IDs (empty = allow all)
	parseMode string

	bot    *tgbotapi.BotAPI
	bus    domain.MessageBus
	http   *http.Client
	logger *zap.SugaredLogger
}

type TelegramConfig struct {
	Token      string
	AllowFrom  []string // User IDs as strings
	ParseMode  string
	HTTPClient *http.Client // file downloads
	Logger     *zap.SugaredLogger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	var allowed []int64
	for _, s := range cfg.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed = append(allowed, id)
		}
	}
	if cfg.ParseMode == "" {
		cfg.ParseMode = tgbotapi.ModeMarkdown
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	return &Telegram{
		token:     cfg.Token,
		allowFrom: allowed,
		parseMode: cfg.ParseMode,
		http:      cfg.HTTPClient,
		logger:    cfg.Logger,
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Start connects to Telegram and begins polling for updates.
func (t *Telegram) Start(ctx context.Context, bus domain.MessageBus) error {
	t.bus = bus

	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.logger.Infow("telegram bot connected",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)

	bus.OnOutbound(t.Name(), func(msg domain.OutboundMessage) {
		if err := t.Send(ctx, msg); err != nil {
			t.logger.Errorw("telegram outbound", "chat", msg.ChatID, "error", err)
		}
	})

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	t.logger.Infow("telegram polling started")

	for {
		select {
		case <-ctx.Done():
			t.logger.Infow("telegram channel stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(ctx, update)
		}
	}
}

// Stop is a no-op: the bot stops when Start's context is cancelled, and
// StopReceivingUpdates panics when called twice.
func (t *Telegram) Stop() error {
	return nil
}

// Send delivers text, then the generated image, then the synthesized audio.
func (t *Telegram) Send(_ context.Context, msg domain.OutboundMessage) error {
	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat ID: %w", err)
	}
	if msg.Content != "" {
		for _, part := range splitMessage(msg.Content, telegramMaxMsgLen) {
			t.sendChunk(chatID, part)
		}
	}
	if msg.ImageURL != "" {
		photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(msg.ImageURL))
		photo.Caption = "Generated Image"
		if _, err := t.bot.Send(photo); err != nil {
			t.logger.Warnw("telegram send photo", "chat", chatID, "error", err)
			t.sendChunk(chatID, msg.ImageURL)
		}
	}
	if msg.AudioPath != "" {
		audio := tgbotapi.NewAudio(chatID, tgbotapi.FilePath(msg.AudioPath))
		if _, err := t.bot.Send(audio); err != nil {
			return fmt.Errorf("send audio: %w", err)
		}
	}
	return nil
}

func (t *Telegram) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	m := update.Message
	if m == nil || m.From == nil || m.Chat == nil {
		return
	}

	userID := m.From.ID
	chatID := m.Chat.ID

	if !t.isAllowed(userID) {
		t.logger.Warnw("unauthorized telegram user",
			"user_id", userID,
			"username", m.From.UserName,
		)
		t.sendChunk(chatID, "⛔ Unauthorized. Your user ID is not in the allow list.")
		return
	}

	msg := domain.InboundMessage{
		Channel:   t.Name(),
		ChatID:    strconv.FormatInt(chatID, 10),
		SenderID:  strconv.FormatInt(userID, 10),
		Kind:      domain.KindText,
		Timestamp: time.Unix(int64(m.Date), 0),
	}

	var (
		fileID, fileName string
		fileSize         int
	)
	switch {
	case m.Voice != nil:
		msg.Kind = domain.KindAudio
		fileID, fileName, fileSize = m.Voice.FileID, "voice.ogg", m.Voice.FileSize
	case m.Audio != nil:
		msg.Kind = domain.KindAudio
		fileID, fileName, fileSize = m.Audio.FileID, nameOr(m.Audio.FileName, "audio.mp3"), m.Audio.FileSize
	case m.Document != nil:
		msg.Kind = domain.KindDocument
		fileID, fileName, fileSize = m.Document.FileID, nameOr(m.Document.FileName, "document.txt"), m.Document.FileSize
	default:
		msg.Content = strings.TrimSpace(m.Text)
		if msg.Content == "" {
			return
		}
		if m.IsCommand() && m.Command() == "start" {
			t.sendChunk(chatID, "👋 Hello! I'm your multi-modal assistant.\n\nSend text, a voice note or a document.\nType /help for commands.")
			return
		}
	}

	if fileID != "" {
		if fileSize > telegramMaxDownload {
			t.sendChunk(chatID, "📁 File too large. Telegram bots can download up to 20 MB.")
			return
		}
		path, err := t.download(ctx, fileID, fileName)
		if err != nil {
			t.logger.Errorw("telegram download", "file", fileName, "error", err)
			t.sendChunk(chatID, "📄 File processing error. Please try again.")
			return
		}
		msg.MediaPath, msg.FileName, msg.TempMedia = path, fileName, true
	}

	t.logger.Infow("telegram message received",
		"user_id", userID,
		"chat_id", chatID,
		"kind", msg.Kind,
		"text_len", len(msg.Content),
	)

	typing := tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)
	_, _ = t.bot.Send(typing)

	t.bus.Publish(msg)
}

// download saves a Telegram file to a temporary path that keeps its extension.
func (t *Telegram) download(ctx context.Context, fileID, name string) (string, error) {
	url, err := t.bot.GetFileDirectURL(fileID)
	if err != nil {
		return "", fmt.Errorf("resolve file: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := t.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download status %d", resp.StatusCode)
	}

	f, err := os.CreateTemp("", "telegram-*"+filepath.Ext(name))
	if err != nil {
		return "", err
	}
	_, err = io.Copy(f, io.LimitReader(resp.Body, telegramMaxDownload))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

func nameOr(name, fallback string) string {
	if name == "" {
		return fallback
	}
	return name
}

func (t *Telegram) isAllowed(userID int64) bool {
	if len(t.allowFrom) == 0 {
		return true // Empty list = allow all
	}
	for _, id := range t.allowFrom {
		if id == userID {
			return true
		}
	}
	return false
}

// splitMessage cuts text into parts of at most limit bytes, preferring
// newline boundaries and never splitting a UTF-8 sequence.
func splitMessage(text string, limit int) []string {
	var parts []string
	for len(text) > limit {
		cut := strings.LastIndex(text[:limit], "\n")
		if cut < limit/2 {
			cut = limit
			for cut > 0 && !utf8RuneStart(text[cut]) {
				cut--
			}
		}
		parts = append(parts, text[:cut])
		text = text[cut:]
	}
	if text != "" {
		parts = append(parts, text)
	}
	return parts
}

func utf8RuneStart(b byte) bool { return b&0xC0 != 0x80 }

// sendChunk sends one message, falling back to plain text when the markup
// does not parse.
func (t *Telegram) sendChunk(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = t.parseMode
	_, err := t.bot.Send(msg)
	if err == nil {
		return
	}
	if strings.Contains(err.Error(), "can't parse entities") {
		t.logger.Warnw("telegram markdown parse error, sending as plain text", "error", err)
		if _, err = t.bot.Send(tgbotapi.NewMessage(chatID, text)); err == nil {
			return
		}
	}
	t.logger.Errorw("telegram send failed", "chat", chatID, "error", err)
}
