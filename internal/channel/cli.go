package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"mmassist/internal/domain"
)

var (
	replyHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	mediaStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	hintStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

const cliPrompt = "You> "

// CLI implements domain.Channel for interactive terminal chat.
type CLI struct {
	bus       domain.MessageBus
	logger    *zap.SugaredLogger
	in        io.Reader
	out       io.Writer
	outMu     sync.Mutex
	spinner   bool
	thinking  bool
	thinkMu   sync.Mutex
	thinkStop chan struct{}
}

type CLIConfig struct {
	Logger  *zap.SugaredLogger
	In      io.Reader
	Out     io.Writer
	Spinner bool // animate while waiting for a reply
}

func NewCLI(cfg CLIConfig) *CLI {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	return &CLI{
		logger:  cfg.Logger,
		in:      cfg.In,
		out:     cfg.Out,
		spinner: cfg.Spinner,
	}
}

func (c *CLI) Name() string { return "cli" }

// Start runs the interactive REPL and blocks until /quit, EOF or context
// cancellation.
func (c *CLI) Start(ctx context.Context, bus domain.MessageBus) error {
	c.bus = bus

	bus.OnOutbound(c.Name(), func(msg domain.OutboundMessage) {
		c.stopThinking()
		_ = c.Send(ctx, msg)
		c.print(cliPrompt)
	})

	c.print(hintStyle.Render("mmassist CLI. Type a message, /audio <file>, /doc <file>, /help, or /quit.") + "\n")
	c.print(cliPrompt)

	scanner := bufio.NewScanner(c.in)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return err
			}
			return nil // EOF
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			c.print(cliPrompt)
			continue
		}
		if line == "/quit" || line == "/exit" || line == "/q" {
			c.logger.Infow("user requested quit")
			return nil
		}

		msg, err := parseCLILine(line)
		if err != nil {
			c.print(err.Error() + "\n" + cliPrompt)
			continue
		}
		c.startThinking()
		c.bus.Publish(msg)
	}
}

// parseCLILine turns /audio and /doc into media messages. Everything else,
// including other slash commands, is sent as text.
func parseCLILine(line string) (domain.InboundMessage, error) {
	msg := domain.InboundMessage{
		Channel:   "cli",
		ChatID:    "local",
		SenderID:  "user",
		Kind:      domain.KindText,
		Content:   line,
		Timestamp: time.Now(),
	}

	name, arg, _ := strings.Cut(line, " ")
	arg = strings.Trim(strings.TrimSpace(arg), `"'`)
	switch strings.ToLower(name) {
	case "/audio", "/doc":
		if arg == "" {
			return msg, fmt.Errorf("usage: %s <file>", name)
		}
		path := expandHome(arg)
		if _, err := os.Stat(path); err != nil {
			return msg, fmt.Errorf("cannot read %s: %v", arg, err)
		}
		msg.MediaPath = path
		msg.FileName = filepath.Base(path)
		msg.Content = ""
		msg.Kind = domain.KindAudio
		if strings.EqualFold(name, "/doc") {
			msg.Kind = domain.KindDocument
		}
	}
	return msg, nil
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

func (c *CLI) print(s string) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	_, _ = fmt.Fprint(c.out, s)
}

func (c *CLI) startThinking() {
	if !c.spinner {
		return
	}
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if c.thinking {
		return
	}
	c.thinking = true
	c.thinkStop = make(chan struct{})
	go func(stop chan struct{}) {
		frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
		i := 0
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				c.print("\r\033[K")
				return
			case <-ticker.C:
				c.print(fmt.Sprintf("\r%s Thinking...", frames[i%len(frames)]))
				i++
			}
		}
	}(c.thinkStop)
}

func (c *CLI) stopThinking() {
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if !c.thinking {
		return
	}
	c.thinking = false
	close(c.thinkStop)
}

// Stop is a no-op for CLI (we exit when Start returns).
func (c *CLI) Stop() error { return nil }

// Send prints a reply with any image URL or audio file it carries.
func (c *CLI) Send(_ context.Context, msg domain.OutboundMessage) error {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	var sb strings.Builder
	sb.WriteString(replyHeaderStyle.Render("Assistant") + "\n")
	sb.WriteString(msg.Content + "\n")
	if msg.ImageURL != "" {
		sb.WriteString(mediaStyle.Render("🖼️  Image: "+msg.ImageURL) + "\n")
	}
	if msg.AudioPath != "" {
		sb.WriteString(mediaStyle.Render("🔊 Audio: "+msg.AudioPath) + "\n")
	}
	_, err := fmt.Fprint(c.out, sb.String())
	return err
}
