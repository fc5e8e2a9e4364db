package assistant

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"time"

	"mmassist/internal/lang"
)

// ChatCommand represents a parsed chat command.
type ChatCommand struct {
	Name string   // command name without "/"
	Args []string // arguments after the command
	Raw  string   // original full text
}

// CommandResult holds the response for a handled command.
type CommandResult struct {
	Response string // text response to send back
	Handled  bool   // false: treat the text as a normal message
}

// startTime records when the process started for /status.
var startTime = time.Now()

// version is set by the build system.
var version = "0.1.0"

// SetVersion sets the version string used by commands.
func SetVersion(v string) {
	version = v
}

// ParseCommand checks if a message starts with "/" and parses it into a ChatCommand.
// Returns nil if the message is not a command.
func ParseCommand(text string) *ChatCommand {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return nil
	}
	parts := strings.Fields(text)
	if len(parts) == 0 {
		return nil
	}
	return &ChatCommand{
		Name: strings.ToLower(strings.TrimPrefix(parts[0], "/")),
		Args: parts[1:],
		Raw:  text,
	}
}

// Rest returns the raw text after the command name.
func (c *ChatCommand) Rest() string {
	rest := strings.TrimSpace(strings.TrimPrefix(c.Raw, "/"))
	if i := strings.IndexAny(rest, " \t"); i >= 0 {
		return strings.TrimSpace(rest[i:])
	}
	return ""
}

// HandleCommand runs a session command. Unknown commands return
// Handled=false so the text is processed as a message.
func (a *Assistant) HandleCommand(ctx context.Context, session string, cmd *ChatCommand) CommandResult {
	switch cmd.Name {
	case "help", "start":
		return CommandResult{Response: helpText(), Handled: true}

	case "lang", "language":
		if len(cmd.Args) == 0 {
			return CommandResult{Response: a.languageText(session), Handled: true}
		}
		s, err := a.sessions.SetLanguage(session, cmd.Rest())
		if err != nil {
			return CommandResult{Response: err.Error(), Handled: true}
		}
		return CommandResult{Response: fmt.Sprintf("🌍 Target language: %s", s.Language), Handled: true}

	case "toggle":
		if len(cmd.Args) == 0 {
			return CommandResult{Response: a.togglesText(session), Handled: true}
		}
		on, err := a.sessions.Toggle(session, cmd.Args[0])
		if err != nil {
			return CommandResult{Response: err.Error(), Handled: true}
		}
		return CommandResult{Response: fmt.Sprintf("%s: %s", strings.ToLower(cmd.Args[0]), onOff(on)), Handled: true}

	case "settings":
		return CommandResult{Response: a.languageText(session) + "\n\n" + a.togglesText(session), Handled: true}

	case "stats", "kb":
		st := a.KnowledgeStats()
		return CommandResult{Response: fmt.Sprintf("📚 Knowledge base\nDocuments: %d\nChunks: %d\nVector dimensions: %d",
			st.Documents, st.Chunks, st.VectorDims), Handled: true}

	case "images", "gallery":
		return CommandResult{Response: a.galleryText(), Handled: true}

	case "analytics":
		return CommandResult{Response: a.analyticsText(), Handled: true}

	case "performance", "perf":
		return CommandResult{Response: a.performanceText(), Handled: true}

	case "detect":
		text := cmd.Rest()
		if text == "" {
			return CommandResult{Response: "Usage: /detect <text>", Handled: true}
		}
		return CommandResult{Response: "Detected language: " + a.DetectLanguage(ctx, text), Handled: true}

	case "new", "clear":
		if err := a.ClearSession(ctx, session); err != nil {
			a.logger.Warnw("clear session", "session", session, "error", err)
			return CommandResult{Response: "Could not clear the session. Please try again.", Handled: true}
		}
		return CommandResult{Response: "🗑️ Session cleared. Starting fresh.", Handled: true}

	case "status":
		return CommandResult{Response: statusText(), Handled: true}

	default:
		return CommandResult{Handled: false}
	}
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

func helpText() string {
	return `**mmassist commands**

/help: show this help message
/lang [name]: show or set the target language
/toggle [translation|rag|image|speech]: show or flip a feature
/settings: show language and features
/stats: knowledge base statistics
/images: recently generated images
/analytics: usage counters
/performance: capability call statistics
/detect <text>: detect the language of a text
/clear: clear this session
/status: version and uptime`
}

func statusText() string {
	uptime := time.Since(startTime).Round(time.Second)
	return fmt.Sprintf("**mmassist v%s**\nUptime: %s\nRuntime: %s/%s, Go %s",
		version, uptime, runtime.GOOS, runtime.GOARCH, runtime.Version())
}

func (a *Assistant) languageText(session string) string {
	s := a.sessions.Get(session)
	return fmt.Sprintf("🌍 Target language: %s\nAvailable: %s", s.Language, strings.Join(lang.Names(), ", "))
}

func (a *Assistant) togglesText(session string) string {
	t := a.sessions.Get(session).Toggles
	return fmt.Sprintf("Features\n🔄 translation: %s\n📚 rag: %s\n🎨 image: %s\n🔊 speech: %s",
		onOff(t.Translation), onOff(t.RAG), onOff(t.ImageGeneration), onOff(t.Speech))
}

func (a *Assistant) galleryText() string {
	images := a.Gallery()
	if len(images) == 0 {
		return "No images generated yet. Start chatting to create some!"
	}
	const shown = 10
	var sb strings.Builder
	fmt.Fprintf(&sb, "🎨 Generated images (%d)\n", len(images))
	start := 0
	if len(images) > shown {
		start = len(images) - shown
	}
	for _, img := range images[start:] {
		fmt.Fprintf(&sb, "\n• %s\n  %s\n  Generated: %s", img.Prompt, img.URL, img.Timestamp.Format(time.RFC3339))
	}
	return sb.String()
}

func (a *Assistant) analyticsText() string {
	st := a.Analytics()
	return fmt.Sprintf("📊 Usage analytics\nTotal messages: %d\nImages generated: %d\nDocuments processed: %d\nAudio processed: %d\nLast updated: %s",
		st.TotalMessages, st.ImagesGenerated, st.DocumentsProcessed, st.AudioProcessed, st.LastUpdated.Format(time.RFC3339))
}

func (a *Assistant) performanceText() string {
	perf := a.Performance()
	if len(perf) == 0 {
		return "No capability calls yet."
	}
	names := make([]string, 0, len(perf))
	for n := range perf {
		names = append(names, n)
	}
	sort.Strings(names)
	var sb strings.Builder
	sb.WriteString("⏱️ Capability calls")
	for _, n := range names {
		st := perf[n]
		fmt.Fprintf(&sb, "\n%s: %d calls, %d failed, avg %.2fs", n, st.TotalCalls, st.FailedCalls, st.AvgTime)
	}
	return sb.String()
}
