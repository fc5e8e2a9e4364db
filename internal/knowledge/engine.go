// Package knowledge provides the RAG (Retrieval-Augmented Generation) engine.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"mmassist/internal/domain"
	"mmassist/internal/metrics"
	"mmassist/internal/result"
	"mmassist/internal/vectorstore"
)

const (
	// Placeholder is indexed into a new knowledge base so that search never
	// runs against an empty index.
	Placeholder       = "Welcome to the AI Assistant knowledge base"
	placeholderSource = "mmassist:placeholder"

	MsgUnavailable = "Knowledge base not available. Please add some documents first."
	MsgFailed      = "Sorry, I couldn't process your query at the moment."

	DefaultTopK = 3
)

var errNoChunks = errors.New("document produced no chunks")

// EngineConfig configures NewEngine.
type EngineConfig struct {
	Dir         string // holds index.vec and docstore.db
	Embedder    domain.Embedder
	Chat        domain.ChatModel
	Model       string // chat model override
	ChunkSize   int
	Overlap     int
	TopK        int
	LockTimeout time.Duration
	Logger      *zap.SugaredLogger
}

// Engine manages the knowledge base: adding documents, retrieving chunks and
// answering questions from them.
type Engine struct {
	mu      sync.Mutex
	cfg     EngineConfig
	chunker *Chunker
	store   *vectorstore.Store
	openErr error
	real    int // chunks that are not the placeholder
	logger  *zap.SugaredLogger
}

// NewEngine validates the chunking parameters and opens the index. A failure
// to open or seed the index is logged and leaves the engine unavailable
// until a document is added.
func NewEngine(ctx context.Context, cfg EngineConfig) (*Engine, error) {
	chunker, err := NewChunker(cfg.ChunkSize, cfg.Overlap)
	if err != nil {
		return nil, err
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}

	e := &Engine{cfg: cfg, chunker: chunker, logger: cfg.Logger}
	if err := e.openStore(); err != nil {
		e.logUnavailable(err)
		return e, nil
	}
	if e.store.Len() == 0 {
		if err := e.seed(ctx); err != nil {
			e.logger.Errorw("seed knowledge base", "dir", cfg.Dir, "error", err)
		}
	}
	return e, nil
}

func (e *Engine) openStore() error {
	store, err := vectorstore.Open(e.cfg.Dir, vectorstore.Options{LockTimeout: e.cfg.LockTimeout, Logger: e.logger})
	if err != nil {
		e.openErr = err
		return err
	}
	e.store = store
	e.openErr = nil
	e.recount()
	return nil
}

func (e *Engine) logUnavailable(err error) {
	if vectorstore.IsLocked(err) {
		e.logger.Errorw("knowledge base locked by another process", "dir", e.cfg.Dir, "error", err)
		return
	}
	e.logger.Errorw("knowledge base unavailable", "dir", e.cfg.Dir, "error", err)
}

func (e *Engine) recount() {
	st, err := e.store.Stats()
	if err != nil {
		e.logger.Warnw("count knowledge chunks", "error", err)
		return
	}
	e.real = st.Entries - st.Sources[placeholderSource]
	metrics.IndexEntries.Set(int64(st.Entries))
}

func (e *Engine) seed(ctx context.Context) error {
	res := e.embed(ctx, []string{Placeholder})
	vecs, ok := res.Get()
	if !ok {
		return res.Err()
	}
	chunk := domain.Chunk{Source: placeholderSource, Text: Placeholder}
	if _, err := e.store.Add([]domain.Chunk{chunk}, vecs); err != nil {
		return err
	}
	if err := e.store.Save(); err != nil {
		e.rollback(0, placeholderSource)
		return err
	}
	e.logger.Infow("created knowledge base", "dir", e.cfg.Dir)
	return nil
}

// Available reports whether the index is open and non-empty.
func (e *Engine) Available() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store != nil && e.store.Len() > 0
}

// Err is the error from the last failed attempt to open the index, nil once
// it is open. vectorstore.IsLocked tells whether another process holds it.
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.openErr
}

// AddDocument chunks, embeds and indexes doc, then saves the index. If the
// engine was unavailable it is initialised from this document.
func (e *Engine) AddDocument(ctx context.Context, doc domain.Document) result.Result[domain.AddReport] {
	e.mu.Lock()
	defer e.mu.Unlock()

	chunks := e.chunker.ChunkDocument(doc)
	if len(chunks) == 0 {
		return result.Failure[domain.AddReport](result.KindFile, "add document", fmt.Errorf("%s: %w", doc.Name, errNoChunks))
	}

	if e.store == nil {
		if err := e.reopen(); err != nil {
			e.logUnavailable(err)
			reason := "open knowledge base"
			if vectorstore.IsLocked(err) {
				reason = "knowledge base locked by another process"
			}
			return result.Failure[domain.AddReport](result.KindUnavailable, reason, err)
		}
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	res := e.embed(ctx, texts)
	vecs, ok := res.Get()
	if !ok {
		return result.Failure[domain.AddReport](res.Kind(), "embed document", res.Err())
	}

	before := e.store.Len()
	if _, err := e.store.Add(chunks, vecs); err != nil {
		e.logger.Errorw("index document", "name", doc.Name, "error", err)
		return result.Failure[domain.AddReport](result.KindFile, "index document", err)
	}
	if err := e.store.Save(); err != nil {
		e.logger.Errorw("save knowledge base", "dir", e.cfg.Dir, "error", err)
		e.rollback(before, doc.Name)
		return result.Failure[domain.AddReport](result.Classify(err), "save knowledge base", err)
	}

	e.real += len(chunks)
	metrics.ChunksIndexed.Add(int64(len(chunks)))
	metrics.IndexEntries.Set(int64(e.store.Len()))
	e.logger.Infow("document added to knowledge base",
		"name", doc.Name, "type", doc.Type, "chunks", len(chunks), "size", doc.Size)

	return result.Success(domain.AddReport{Document: doc.Name, Chunks: len(chunks)})
}

// rollback drops the chunks of a document whose save failed.
func (e *Engine) rollback(n int, name string) {
	if err := e.store.Rollback(n); err != nil {
		e.logger.Errorw("roll back failed document", "name", name, "error", err)
		return
	}
	e.logger.Warnw("rolled back unsaved document", "name", name, "entries", n)
}

// reopen retries opening the store. A corrupt index file is moved aside so
// the next save starts a fresh one.
func (e *Engine) reopen() error {
	err := e.openStore()
	if err == nil || !errors.Is(err, vectorstore.ErrCorruptIndex) {
		return err
	}
	bad := filepath.Join(e.cfg.Dir, vectorstore.IndexFile)
	aside := fmt.Sprintf("%s.corrupt-%d", bad, time.Now().Unix())
	if rerr := os.Rename(bad, aside); rerr != nil {
		return fmt.Errorf("%w (move aside: %v)", err, rerr)
	}
	e.logger.Warnw("moved corrupt index aside", "path", aside)
	return e.openStore()
}

// Retrieve returns the k chunks nearest to query.
func (e *Engine) Retrieve(ctx context.Context, query string, k int) result.Result[[]domain.SearchHit] {
	if k <= 0 {
		k = e.cfg.TopK
	}
	e.mu.Lock()
	store := e.store
	e.mu.Unlock()
	if store == nil || store.Len() == 0 {
		return result.Failure[[]domain.SearchHit](result.KindUnavailable, "retrieve", nil)
	}

	res := e.embed(ctx, []string{query})
	vecs, ok := res.Get()
	if !ok {
		return result.Failure[[]domain.SearchHit](res.Kind(), "embed query", res.Err())
	}
	hits, err := store.Search(vecs[0], k)
	if err != nil {
		e.logger.Errorw("search knowledge base", "error", err)
		return result.Failure[[]domain.SearchHit](result.KindFile, "search", err)
	}
	return result.Success(hits)
}

// Respond answers query from the top-k chunks. It never fails: problems
// produce one of two fixed messages.
func (e *Engine) Respond(ctx context.Context, query string) string {
	e.mu.Lock()
	ready := e.store != nil && e.store.Len() > 0 && e.real > 0
	e.mu.Unlock()
	if !ready {
		return MsgUnavailable
	}

	hits, ok := e.Retrieve(ctx, query, e.cfg.TopK).Get()
	if !ok {
		return MsgFailed
	}

	prompt := BuildPrompt(hits, query)
	answer := result.Capture(ctx, result.Call{
		Capability: "chat",
		Logger:     e.logger,
		Fields:     []any{"hits", len(hits)},
	}, func(ctx context.Context) (string, error) {
		resp, err := e.cfg.Chat.Chat(ctx, domain.ChatRequest{
			Model:       e.cfg.Model,
			Messages:    []domain.Message{{Role: "user", Content: prompt}},
			Temperature: 0,
		})
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(resp.Content), nil
	})
	return answer.Or(MsgFailed)
}

// Stats counts documents by distinct source name. The placeholder is not counted.
func (e *Engine) Stats() domain.KnowledgeStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.store == nil {
		return domain.KnowledgeStats{}
	}
	st, err := e.store.Stats()
	if err != nil {
		e.logger.Warnw("knowledge stats", "error", err)
		return domain.KnowledgeStats{}
	}
	docs := len(st.Sources)
	if _, ok := st.Sources[placeholderSource]; ok {
		docs--
	}
	return domain.KnowledgeStats{
		Documents:  docs,
		Chunks:     st.Entries - st.Sources[placeholderSource],
		VectorDims: st.Dims,
	}
}

// Close releases the index.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.store == nil {
		return nil
	}
	err := e.store.Close()
	e.store = nil
	return err
}

func (e *Engine) embed(ctx context.Context, texts []string) result.Result[[][]float32] {
	return result.Capture(ctx, result.Call{
		Capability: "embed",
		Logger:     e.logger,
		Fields:     []any{"texts", len(texts)},
	}, func(ctx context.Context) ([][]float32, error) {
		vecs, err := e.cfg.Embedder.Embed(ctx, texts)
		if err != nil {
			return nil, err
		}
		if len(vecs) != len(texts) {
			return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(texts))
		}
		return vecs, nil
	})
}
