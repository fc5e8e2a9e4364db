// Package assistant chains the hosted capabilities behind one conversational
// interaction: translation, knowledge-base answers, image generation and
// speech, plus audio transcription and document ingestion.
package assistant

import (
	"context"
	"errors"
	"io"
	"strings"

	"go.uber.org/zap"

	"mmassist/internal/bus"
	"mmassist/internal/domain"
	"mmassist/internal/gallery"
	"mmassist/internal/lang"
	"mmassist/internal/loader"
	"mmassist/internal/metrics"
	"mmassist/internal/result"
)

const (
	defaultHistoryLimit = 50

	// fallbackReply is stored as the assistant turn when no answer text was produced.
	fallbackReply = "Response generated"
)

type Transcriber interface {
	Transcribe(ctx context.Context, path string) result.Result[string]
}

type Translator interface {
	TryTranslate(ctx context.Context, text, language string) result.Result[string]
	DetectLanguage(ctx context.Context, text string) string
}

// Knowledge answers questions from the indexed documents.
type Knowledge interface {
	Respond(ctx context.Context, query string) string
	AddDocument(ctx context.Context, doc domain.Document) result.Result[domain.AddReport]
	Stats() domain.KnowledgeStats
}

// ImageGenerator creates images and keeps their history.
type ImageGenerator interface {
	Generate(ctx context.Context, prompt, size, quality string) result.Result[domain.ImageRecord]
	History() []domain.ImageRecord
}

type Speaker interface {
	Speak(ctx context.Context, text, language string) result.Result[string]
}

// Tracker counts analytics events.
type Tracker interface {
	Record(event domain.AnalyticsEvent)
	TrackSession(id string)
	Snapshot() domain.SessionAnalytics
}

// Config wires the capabilities. Any capability may be nil, in which case
// its step is skipped.
type Config struct {
	Transcriber Transcriber
	Translator  Translator
	Knowledge   Knowledge
	Images      ImageGenerator
	Speaker     Speaker
	Analytics   Tracker
	Memory      domain.MemoryStore
	Events      *bus.EventBus
	Sessions    *SessionManager
	ImageSize   string
	Quality     string
	Logger      *zap.SugaredLogger
}

// Assistant runs user interactions one stage after another. A failing stage
// adds a notice to the response and the remaining stages still run.
type Assistant struct {
	cfg      Config
	events   *bus.EventBus
	sessions *SessionManager
	logger   *zap.SugaredLogger
}

func New(cfg Config) *Assistant {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	if cfg.Events == nil {
		cfg.Events = bus.NewEventBus(cfg.Logger)
	}
	if cfg.Sessions == nil {
		cfg.Sessions = NewSessionManager(DefaultSettings())
	}
	a := &Assistant{
		cfg:      cfg,
		events:   cfg.Events,
		sessions: cfg.Sessions,
		logger:   cfg.Logger,
	}
	a.bindAnalytics()
	return a
}

// bindAnalytics counts the events emitted by the pipeline.
func (a *Assistant) bindAnalytics() {
	if a.cfg.Analytics == nil {
		return
	}
	counted := map[string]domain.AnalyticsEvent{
		bus.EventMessageReceived:  domain.EventMessage,
		bus.EventImageGenerated:   domain.EventImageGenerated,
		bus.EventDocumentIndexed:  domain.EventDocumentProcessed,
		bus.EventAudioTranscribed: domain.EventAudioProcessed,
	}
	for eventType, analyticsEvent := range counted {
		analyticsEvent := analyticsEvent
		a.events.On(eventType, func(e bus.Event) {
			a.cfg.Analytics.Record(analyticsEvent)
			if e.Type == bus.EventMessageReceived {
				a.cfg.Analytics.TrackSession(e.Session)
			}
		})
	}
}

// Events exposes the event bus for subscribers such as the HTTP API.
func (a *Assistant) Events() *bus.EventBus { return a.events }

// Sessions exposes per-session settings.
func (a *Assistant) Sessions() *SessionManager { return a.sessions }

// Toggles selects the optional stages of Process.
type Toggles struct {
	Translation     bool `json:"translation"`
	RAG             bool `json:"rag"`
	ImageGeneration bool `json:"image_generation"`
	Speech          bool `json:"speech"`
}

// Request is one user turn.
type Request struct {
	Session  string  `json:"session"`
	Text     string  `json:"text"`
	Language string  `json:"language"` // target language display name
	Toggles  Toggles `json:"toggles"`
	kind     string
}

// Response collects what each stage produced.
type Response struct {
	Session     string              `json:"session"`
	Input       string              `json:"input"`
	Transcript  string              `json:"transcript,omitempty"`
	Translation string              `json:"translation,omitempty"`
	Answer      string              `json:"answer,omitempty"`
	Image       *domain.ImageRecord `json:"image,omitempty"`
	AudioPath   string              `json:"audio_path,omitempty"`
	Notices     []string            `json:"notices,omitempty"`
}

// Text renders the response for text-only surfaces.
func (r Response) Text() string {
	var sb strings.Builder
	line := func(s string) {
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(s)
	}
	if r.Transcript != "" {
		line("🎤 Transcribed: " + r.Transcript)
	}
	if r.Translation != "" {
		line("**Translation:** " + r.Translation)
	}
	if r.Answer != "" {
		line("**RAG Response:** " + r.Answer)
	}
	if r.Image != nil {
		line("🎨 Generated image: " + r.Image.URL)
	}
	for _, n := range r.Notices {
		line(n)
	}
	if sb.Len() == 0 {
		return fallbackReply
	}
	return sb.String()
}

func (r *Response) notice(n string) {
	r.Notices = append(r.Notices, n)
}

// Process runs one text turn: translation, knowledge-base answer, image
// generation and speech, each when enabled.
func (a *Assistant) Process(ctx context.Context, req Request) Response {
	text := strings.TrimSpace(req.Text)
	resp := Response{Session: req.Session, Input: text}
	if text == "" {
		resp.notice("✍️ Please type a message.")
		return resp
	}
	if req.Language == "" {
		req.Language = "English"
	}
	if req.kind == "" {
		req.kind = string(domain.KindText)
	}

	metrics.MessagesTotal.Inc()
	a.emit(bus.EventMessageReceived, req.Session, map[string]any{"kind": req.kind, "length": len(text)})
	a.remember(ctx, req.Session, domain.MessageRecord{Role: "user", Kind: req.kind, Content: text, Language: req.Language})

	if req.Toggles.Translation && a.cfg.Translator != nil && !lang.IsEnglish(req.Language) {
		res := a.cfg.Translator.TryTranslate(ctx, text, req.Language)
		if tr, ok := res.Get(); ok {
			resp.Translation = tr
		} else {
			resp.Translation = text
			a.failed(&resp, "translate", res.Kind(), res.Notice())
		}
	}

	if req.Toggles.RAG && a.cfg.Knowledge != nil {
		resp.Answer = a.cfg.Knowledge.Respond(ctx, text)
	}

	if req.Toggles.ImageGeneration && a.cfg.Images != nil && gallery.IsImageRequest(text) {
		res := a.cfg.Images.Generate(ctx, text, a.cfg.ImageSize, a.cfg.Quality)
		if rec, ok := res.Get(); ok {
			resp.Image = &rec
			a.emit(bus.EventImageGenerated, req.Session, map[string]any{"url": rec.URL, "size": rec.Size})
		} else {
			a.failed(&resp, "image", res.Kind(), res.Notice())
		}
	}

	if req.Toggles.Speech && a.cfg.Speaker != nil {
		spoken := text
		if resp.Answer != "" {
			spoken = resp.Answer
		}
		res := a.cfg.Speaker.Speak(ctx, spoken, req.Language)
		if path, ok := res.Get(); ok {
			resp.AudioPath = path
			a.emit(bus.EventSpeechSynthesized, req.Session, map[string]any{"path": path, "language": req.Language})
		} else {
			a.failed(&resp, "speech", res.Kind(), res.Notice())
		}
	}

	reply := resp.Answer
	if reply == "" {
		reply = fallbackReply
	}
	a.remember(ctx, req.Session, domain.MessageRecord{Role: "assistant", Kind: "text", Content: reply, Language: req.Language})
	return resp
}

// ProcessAudio transcribes the file at path and processes the transcript.
// Without a transcript nothing else runs.
func (a *Assistant) ProcessAudio(ctx context.Context, req Request, path string) Response {
	resp := Response{Session: req.Session}
	if a.cfg.Transcriber == nil {
		resp.notice(result.Notice(result.KindUnavailable))
		return resp
	}

	res := a.cfg.Transcriber.Transcribe(ctx, path)
	transcript, ok := res.Get()
	if !ok {
		a.failed(&resp, "transcribe", res.Kind(), res.Notice())
		return resp
	}
	transcript = strings.TrimSpace(transcript)
	a.emit(bus.EventAudioTranscribed, req.Session, map[string]any{"length": len(transcript)})

	req.Text = transcript
	req.kind = string(domain.KindAudio)
	out := a.Process(ctx, req)
	out.Transcript = transcript
	return out
}

// IngestDocument loads an upload and adds it to the knowledge base. The
// upload is staged in a temporary file that is removed before returning.
func (a *Assistant) IngestDocument(ctx context.Context, name string, r io.Reader) result.Result[domain.AddReport] {
	doc, err := loader.LoadReader(ctx, name, r)
	if err != nil {
		return a.loadFailed(name, err)
	}
	return a.index(ctx, doc)
}

// IngestFile adds a document already on disk. name defaults to the base name.
func (a *Assistant) IngestFile(ctx context.Context, path, name string) result.Result[domain.AddReport] {
	doc, err := loader.Load(path, name)
	if err != nil {
		return a.loadFailed(path, err)
	}
	return a.index(ctx, doc)
}

func (a *Assistant) loadFailed(name string, err error) result.Result[domain.AddReport] {
	kind := result.Classify(err)
	if kind == result.KindRemote || errors.Is(err, loader.ErrUnsupportedType) || errors.Is(err, loader.ErrEmptyDocument) {
		kind = result.KindFile
	}
	a.logger.Errorw("load document", "name", name, "kind", kind, "error", err)
	a.emit(bus.EventCapabilityFailed, "", map[string]any{"capability": "load", "kind": string(kind)})
	return result.Failure[domain.AddReport](kind, "load document", err)
}

func (a *Assistant) index(ctx context.Context, doc domain.Document) result.Result[domain.AddReport] {
	if a.cfg.Knowledge == nil {
		return result.Failure[domain.AddReport](result.KindUnavailable, "knowledge base disabled", nil)
	}
	res := a.cfg.Knowledge.AddDocument(ctx, doc)
	if report, ok := res.Get(); ok {
		a.emit(bus.EventDocumentIndexed, "", map[string]any{"document": report.Document, "chunks": report.Chunks})
	} else {
		a.emit(bus.EventCapabilityFailed, "", map[string]any{"capability": "index", "kind": string(res.Kind())})
	}
	return res
}

// ClearSession forgets the transcript and settings of one session.
func (a *Assistant) ClearSession(ctx context.Context, session string) error {
	a.sessions.Reset(session)
	if a.cfg.Memory != nil {
		if err := a.cfg.Memory.DeleteConversation(ctx, session); err != nil {
			return err
		}
	}
	a.emit(bus.EventConversationCleared, session, nil)
	return nil
}

// History returns the most recent turns of a session, oldest first.
func (a *Assistant) History(ctx context.Context, session string, limit int) ([]domain.MessageRecord, error) {
	if a.cfg.Memory == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return a.cfg.Memory.GetMessages(ctx, session, limit)
}

// Conversations lists stored sessions, most recently active first.
func (a *Assistant) Conversations(ctx context.Context, limit int) ([]domain.Conversation, error) {
	if a.cfg.Memory == nil {
		return nil, nil
	}
	return a.cfg.Memory.ListConversations(ctx, limit)
}

// DetectLanguage reports the ISO code of text, or "unknown".
func (a *Assistant) DetectLanguage(ctx context.Context, text string) string {
	if a.cfg.Translator == nil {
		return "unknown"
	}
	return a.cfg.Translator.DetectLanguage(ctx, text)
}

func (a *Assistant) KnowledgeStats() domain.KnowledgeStats {
	if a.cfg.Knowledge == nil {
		return domain.KnowledgeStats{}
	}
	return a.cfg.Knowledge.Stats()
}

func (a *Assistant) Gallery() []domain.ImageRecord {
	if a.cfg.Images == nil {
		return nil
	}
	return a.cfg.Images.History()
}

func (a *Assistant) Analytics() domain.SessionAnalytics {
	if a.cfg.Analytics == nil {
		return domain.SessionAnalytics{Sessions: []string{}}
	}
	return a.cfg.Analytics.Snapshot()
}

// Performance returns per-capability call statistics.
func (a *Assistant) Performance() map[string]metrics.CallStats {
	return metrics.Calls.Snapshot()
}

func (a *Assistant) failed(resp *Response, capability string, kind result.Kind, notice string) {
	resp.notice(notice)
	a.emit(bus.EventCapabilityFailed, resp.Session, map[string]any{"capability": capability, "kind": string(kind)})
}

func (a *Assistant) emit(eventType, session string, payload map[string]any) {
	a.events.Emit(bus.Event{Type: eventType, Source: "assistant", Session: session, Payload: payload})
}

func (a *Assistant) remember(ctx context.Context, session string, msg domain.MessageRecord) {
	if a.cfg.Memory == nil || session == "" {
		return
	}
	if err := a.cfg.Memory.AddMessage(ctx, session, msg); err != nil {
		a.logger.Warnw("save message", "session", session, "role", msg.Role, "error", err)
	}
}
