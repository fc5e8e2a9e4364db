package knowledge

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"mmassist/internal/domain"
	"mmassist/internal/result"
	"mmassist/internal/vectorstore"
)

// keywordEmbedder maps text to keyword counts so nearest neighbours are predictable.
type keywordEmbedder struct {
	mu   sync.Mutex
	fail bool
	seen int
}

var keywords = []string{"paris", "france", "golang", "python", "welcome"}

func (k *keywordEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.fail {
		return nil, errors.New("embedding quota exceeded")
	}
	k.seen += len(texts)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		lower := strings.ToLower(t)
		v := make([]float32, len(keywords))
		for j, kw := range keywords {
			v[j] = float32(strings.Count(lower, kw))
		}
		out[i] = v
	}
	return out, nil
}

func (k *keywordEmbedder) setFail(f bool) {
	k.mu.Lock()
	k.fail = f
	k.mu.Unlock()
}

type fakeChat struct {
	reply string
	err   error
	last  domain.ChatRequest
	calls int
}

func (f *fakeChat) Chat(_ context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	f.calls++
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return &domain.ChatResponse{Content: f.reply}, nil
}
func (f *fakeChat) Name() string                  { return "fake" }
func (f *fakeChat) Healthy(context.Context) error { return nil }

func newTestEngine(t *testing.T, dir string, emb *keywordEmbedder, chat *fakeChat) *Engine {
	t.Helper()
	e, err := NewEngine(context.Background(), EngineConfig{
		Dir:       dir,
		Embedder:  emb,
		Chat:      chat,
		ChunkSize: 60,
		Overlap:   10,
		Logger:    zaptest.NewLogger(t).Sugar(),
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func doc(name, text string) domain.Document {
	return domain.Document{ID: name + "-id", Name: name, Type: domain.DocumentText, Text: text, Size: int64(len(text))}
}

func TestEngine_FreshBaseIsSeededButEmpty(t *testing.T) {
	dir := t.TempDir()
	chat := &fakeChat{reply: "unused"}
	e := newTestEngine(t, dir, &keywordEmbedder{}, chat)

	if !e.Available() {
		t.Fatal("seeded engine should be available")
	}
	if !vectorstore.Exists(dir) {
		t.Fatal("placeholder index was not saved")
	}
	if st := e.Stats(); st.Documents != 0 || st.Chunks != 0 || st.VectorDims != len(keywords) {
		t.Fatalf("unexpected stats %+v", st)
	}
	if got := e.Respond(context.Background(), "anything?"); got != MsgUnavailable {
		t.Fatalf("Respond = %q, want unavailable message", got)
	}
	if chat.calls != 0 {
		t.Fatal("chat model called with no real content")
	}
}

func TestEngine_AddAndRespond(t *testing.T) {
	chat := &fakeChat{reply: "  Paris.  "}
	e := newTestEngine(t, t.TempDir(), &keywordEmbedder{}, chat)

	text := "Paris is the capital of France. France is in Europe. " +
		"Golang is a programming language. Python is another language used widely."
	res := e.AddDocument(context.Background(), doc("facts.txt", text))
	report, ok := res.Get()
	if !ok {
		t.Fatalf("AddDocument failed: %v", res.Err())
	}
	c, _ := NewChunker(60, 10)
	if report.Chunks != len(c.Split(text)) || report.Document != "facts.txt" {
		t.Fatalf("unexpected report %+v", report)
	}

	st := e.Stats()
	if st.Documents != 1 || st.Chunks != report.Chunks {
		t.Fatalf("unexpected stats %+v", st)
	}

	answer := e.Respond(context.Background(), "What is the capital of France? paris")
	if answer != "Paris." {
		t.Fatalf("Respond = %q", answer)
	}
	if chat.last.Temperature != 0 || len(chat.last.Messages) != 1 {
		t.Fatalf("unexpected chat request %+v", chat.last)
	}
	prompt := chat.last.Messages[0].Content
	if !strings.HasPrefix(prompt, "Use the following pieces of context") ||
		!strings.HasSuffix(prompt, "Question: What is the capital of France? paris\nHelpful Answer:") {
		t.Fatalf("unexpected prompt:\n%s", prompt)
	}
	if !strings.Contains(prompt, "Paris is the capital") {
		t.Fatalf("nearest chunk missing from prompt:\n%s", prompt)
	}

	hits, ok := e.Retrieve(context.Background(), "paris france", 50).Get()
	if !ok || len(hits) != report.Chunks+1 {
		t.Fatalf("expected all %d entries, got %d", report.Chunks+1, len(hits))
	}
}

func TestEngine_DistinctSources(t *testing.T) {
	e := newTestEngine(t, t.TempDir(), &keywordEmbedder{}, &fakeChat{})
	e.AddDocument(context.Background(), doc("a.txt", "paris paris"))
	e.AddDocument(context.Background(), doc("a.txt", "france again"))
	e.AddDocument(context.Background(), doc("b.md", "golang"))

	if st := e.Stats(); st.Documents != 2 || st.Chunks != 3 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestEngine_FailuresUseFixedMessages(t *testing.T) {
	emb := &keywordEmbedder{}
	chat := &fakeChat{reply: "ok"}
	e := newTestEngine(t, t.TempDir(), emb, chat)
	e.AddDocument(context.Background(), doc("a.txt", "paris"))

	chat.err = errors.New("model overloaded")
	if got := e.Respond(context.Background(), "paris?"); got != MsgFailed {
		t.Fatalf("chat failure: Respond = %q", got)
	}

	chat.err = nil
	emb.setFail(true)
	if got := e.Respond(context.Background(), "paris?"); got != MsgFailed {
		t.Fatalf("embed failure: Respond = %q", got)
	}

	res := e.AddDocument(context.Background(), doc("b.txt", "france"))
	if res.OK() || res.Kind() != result.KindRemote {
		t.Fatalf("expected remote failure, got ok=%v kind=%q", res.OK(), res.Kind())
	}
	if st := e.Stats(); st.Chunks != 1 {
		t.Fatalf("failed add changed the index: %+v", st)
	}
}

func TestEngine_UnavailableUntilFirstDocument(t *testing.T) {
	dir := t.TempDir()
	emb := &keywordEmbedder{fail: true}
	chat := &fakeChat{reply: "It is Paris."}
	e := newTestEngine(t, dir, emb, chat)

	if e.Available() {
		t.Fatal("engine should be unavailable when seeding fails")
	}
	if got := e.Respond(context.Background(), "paris?"); got != MsgUnavailable {
		t.Fatalf("Respond = %q", got)
	}
	if res := e.Retrieve(context.Background(), "paris", 3); res.Kind() != result.KindUnavailable {
		t.Fatalf("Retrieve kind = %q", res.Kind())
	}

	emb.setFail(false)
	if res := e.AddDocument(context.Background(), doc("a.txt", "Paris is in France")); !res.OK() {
		t.Fatalf("AddDocument: %v", res.Err())
	}
	if got := e.Respond(context.Background(), "paris?"); got != "It is Paris." {
		t.Fatalf("Respond = %q", got)
	}
	if st := e.Stats(); st.Documents != 1 || st.Chunks != 1 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestEngine_PersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	emb := &keywordEmbedder{}
	e := newTestEngine(t, dir, emb, &fakeChat{})
	e.AddDocument(context.Background(), doc("a.txt", strings.Repeat("paris france ", 20)))
	before := e.Stats()
	e.Close()

	seen := emb.seen
	r := newTestEngine(t, dir, emb, &fakeChat{})
	if emb.seen != seen {
		t.Fatal("reopening a saved index should not re-seed the placeholder")
	}
	if after := r.Stats(); after != before {
		t.Fatalf("stats changed across restart: %+v vs %+v", after, before)
	}
}

func TestEngine_CorruptIndexRecoversOnAdd(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, vectorstore.IndexFile), []byte("definitely not an index"), 0o644)

	e := newTestEngine(t, dir, &keywordEmbedder{}, &fakeChat{reply: "yes"})
	if e.Available() {
		t.Fatal("corrupt index should leave the engine unavailable")
	}
	if res := e.AddDocument(context.Background(), doc("a.txt", "paris")); !res.OK() {
		t.Fatalf("AddDocument after corruption: %v", res.Err())
	}
	if st := e.Stats(); st.Documents != 1 {
		t.Fatalf("unexpected stats %+v", st)
	}
	aside, _ := filepath.Glob(filepath.Join(dir, vectorstore.IndexFile+".corrupt-*"))
	if len(aside) != 1 {
		t.Fatalf("corrupt index not moved aside: %v", aside)
	}
}

func TestEngine_RejectsBadChunking(t *testing.T) {
	if _, err := NewEngine(context.Background(), EngineConfig{Dir: t.TempDir(), ChunkSize: 100, Overlap: 100}); !errors.Is(err, ErrInvalidChunking) {
		t.Fatalf("expected ErrInvalidChunking, got %v", err)
	}
}

func TestBuildPrompt(t *testing.T) {
	hits := []domain.SearchHit{{Chunk: domain.Chunk{Text: "first"}}, {Chunk: domain.Chunk{Text: "second"}}}
	got := BuildPrompt(hits, "why?")
	want := "Use the following pieces of context to answer the question at the end. " +
		"If you don't know the answer, just say that you don't know, don't try to make up an answer.\n\n" +
		"first\n\nsecond\n\nQuestion: why?\nHelpful Answer:"
	if got != want {
		t.Fatalf("BuildPrompt =\n%q\nwant\n%q", got, want)
	}
}

func TestEngine_FailedSaveIsRolledBack(t *testing.T) {
	dir := t.TempDir()
	emb := &keywordEmbedder{}
	e := newTestEngine(t, dir, emb, &fakeChat{})

	indexPath := filepath.Join(dir, vectorstore.IndexFile)
	os.Remove(indexPath)
	if err := os.MkdirAll(filepath.Join(indexPath, "busy"), 0o755); err != nil {
		t.Fatal(err)
	}
	if res := e.AddDocument(context.Background(), doc("failed.txt", "python python")); res.OK() {
		t.Fatal("expected the save to fail")
	}

	os.RemoveAll(indexPath)
	if res := e.AddDocument(context.Background(), doc("good.txt", "golang golang")); !res.OK() {
		t.Fatalf("AddDocument: %v", res.Err())
	}
	if st := e.Stats(); st.Documents != 1 || st.Chunks != 1 {
		t.Fatalf("failed document still indexed: %+v", st)
	}
	e.Close()

	r := newTestEngine(t, dir, emb, &fakeChat{})
	if st := r.Stats(); st.Documents != 1 || st.Chunks != 1 {
		t.Fatalf("failed document persisted: %+v", st)
	}
}

func TestEngine_LockedByAnotherWriter(t *testing.T) {
	dir := t.TempDir()
	holder, err := vectorstore.Open(dir, vectorstore.Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer holder.Close()

	e, err := NewEngine(context.Background(), EngineConfig{
		Dir:         dir,
		Embedder:    &keywordEmbedder{},
		Chat:        &fakeChat{},
		ChunkSize:   60,
		Overlap:     10,
		LockTimeout: 50 * time.Millisecond,
		Logger:      zaptest.NewLogger(t).Sugar(),
	})
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	if e.Available() {
		t.Fatal("locked index should leave the engine unavailable")
	}
	if !vectorstore.IsLocked(e.Err()) {
		t.Fatalf("Err = %v, want a lock error", e.Err())
	}
	res := e.AddDocument(context.Background(), doc("a.txt", "paris"))
	if res.OK() || res.Kind() != result.KindUnavailable || !strings.Contains(res.Reason(), "locked") {
		t.Fatalf("AddDocument = kind %q reason %q", res.Kind(), res.Reason())
	}

	holder.Close()
	if res := e.AddDocument(context.Background(), doc("a.txt", "paris")); !res.OK() {
		t.Fatalf("AddDocument after release: %v", res.Err())
	}
	if e.Err() != nil {
		t.Fatalf("Err after open = %v", e.Err())
	}
}
