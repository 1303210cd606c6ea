package embed

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"
)

// OllamaBackend produces embeddings from a local Ollama server. Suitable for
// air-gapped deployments where no hosted embedding API is reachable.
type OllamaBackend struct {
	client     *api.Client
	model      string
	dimensions int
}

// NewOllamaBackend creates a backend talking to the Ollama server at hostURL
// (e.g. "http://localhost:11434").
func NewOllamaBackend(hostURL, model string, dimensions int) *OllamaBackend {
	parsed, err := url.Parse(hostURL)
	if err != nil {
		parsed, _ = url.Parse("http://localhost:11434")
	}

	return &OllamaBackend{
		client:     api.NewClient(parsed, http.DefaultClient),
		model:      model,
		dimensions: dimensions,
	}
}

// Embed calls the Ollama embed endpoint for a single input.
func (o *OllamaBackend) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := o.client.Embed(ctx, &api.EmbedRequest{
		Model: o.model,
		Input: text,
	})
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("ollama embed: empty response for model %s", o.model)
	}

	vec := resp.Embeddings[0]
	if len(vec) != o.dimensions {
		return nil, fmt.Errorf("ollama embed: model %s returned %d dimensions, store expects %d",
			o.model, len(vec), o.dimensions)
	}
	return vec, nil
}

// Dimensions returns the configured embedding size.
func (o *OllamaBackend) Dimensions() int {
	return o.dimensions
}

// Name identifies the backend in logs.
func (o *OllamaBackend) Name() string {
	return "ollama/" + o.model
}
