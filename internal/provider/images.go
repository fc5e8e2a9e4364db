package provider

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"go.uber.org/zap"
)

// ImageConfig configures the image generation provider.
type ImageConfig struct {
	Client openai.Client
	Model  string // e.g. "dall-e-3"
	Logger *zap.SugaredLogger
}

// ImageGenerator turns prompts into hosted image URLs.
type ImageGenerator struct {
	client openai.Client
	model  string
	logger *zap.SugaredLogger
}

func NewImageGenerator(cfg ImageConfig) *ImageGenerator {
	if cfg.Model == "" {
		cfg.Model = "dall-e-3"
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	return &ImageGenerator{client: cfg.Client, model: cfg.Model, logger: cfg.Logger}
}

// Generate returns the URL of one generated image.
func (g *ImageGenerator) Generate(ctx context.Context, prompt, size, quality string) (string, error) {
	resp, err := g.client.Images.Generate(ctx, openai.ImageGenerateParams{
		Prompt:         prompt,
		Model:          openai.ImageModel(g.model),
		Size:           openai.ImageGenerateParamsSize(size),
		Quality:        openai.ImageGenerateParamsQuality(quality),
		ResponseFormat: openai.ImageGenerateParamsResponseFormatURL,
		N:              openai.Int(1),
	})
	if err != nil {
		return "", fmt.Errorf("image generation: %w", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return "", fmt.Errorf("image generation: no image in response")
	}
	g.logger.Debugw("image generated", "model", g.model, "size", size, "quality", quality)
	return resp.Data[0].URL, nil
}
