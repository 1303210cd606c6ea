package embed

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIBackend produces embeddings via the official OpenAI client. The
// text-embedding-3 family supports server-side dimensionality reduction, so
// the store's configured size is requested directly.
type OpenAIBackend struct {
	client     openai.Client
	model      openai.EmbeddingModel
	dimensions int
}

// NewOpenAIBackend creates a backend using the given API key. An empty model
// selects text-embedding-3-small.
func NewOpenAIBackend(apiKey, model string, dimensions int) *OpenAIBackend {
	m := openai.EmbeddingModelTextEmbedding3Small
	if model != "" {
		m = openai.EmbeddingModel(model)
	}

	return &OpenAIBackend{
		client:     openai.NewClient(option.WithAPIKey(apiKey)),
		model:      m,
		dimensions: dimensions,
	}
}

// Embed calls the embeddings API for a single input.
func (o *OpenAIBackend) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := o.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input:      openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: []string{text}},
		Model:      o.model,
		Dimensions: openai.Int(int64(o.dimensions)),
	})
	if err != nil {
		return nil, fmt.Errorf("openai embed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai embed: empty response for model %s", o.model)
	}

	raw := resp.Data[0].Embedding
	vec := make([]float32, len(raw))
	for i, v := range raw {
		vec[i] = float32(v)
	}
	if len(vec) != o.dimensions {
		return nil, fmt.Errorf("openai embed: model %s returned %d dimensions, store expects %d",
			o.model, len(vec), o.dimensions)
	}
	return vec, nil
}

// Dimensions returns the configured embedding size.
func (o *OpenAIBackend) Dimensions() int {
	return o.dimensions
}

// Name identifies the backend in logs.
func (o *OpenAIBackend) Name() string {
	return "openai/" + string(o.model)
}
