package provider

import (
	"context"
	"fmt"
	"sort"

	"github.com/openai/openai-go"
	"go.uber.org/zap"
)

// Embedder implements domain.Embedder on the embeddings API.
type Embedder struct {
	client    openai.Client
	model     string
	batchSize int
	logger    *zap.SugaredLogger
}

type EmbedderConfig struct {
	Client    openai.Client
	Model     string // default "text-embedding-3-small"
	BatchSize int    // texts per request, default 100
	Logger    *zap.SugaredLogger
}

func NewEmbedder(cfg EmbedderConfig) *Embedder {
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	return &Embedder{client: cfg.Client, model: cfg.Model, batchSize: cfg.BatchSize, logger: cfg.Logger}
}

// Embed returns one vector per text, in input order.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))
		batch, err := e.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
	}
	return out, nil
}

func (e *Embedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, fmt.Errorf("embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embeddings: got %d vectors for %d texts", len(resp.Data), len(texts))
	}

	data := resp.Data
	sort.SliceStable(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	out := make([][]float32, len(data))
	for i, d := range data {
		vec := make([]float32, len(d.Embedding))
		for j, v := range d.Embedding {
			vec[j] = float32(v)
		}
		out[i] = vec
	}
	e.logger.Debugw("embedded batch", "model", e.model, "texts", len(texts), "tokens", resp.Usage.TotalTokens)
	return out, nil
}
