package embedding

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// EmbeddingsClient captures the subset of the go-openai client used here so
// tests can substitute a fake.
type EmbeddingsClient interface {
	CreateEmbeddings(ctx context.Context, conv openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
}

// OpenAIOptions configure the OpenAI-backed provider.
type OpenAIOptions struct {
	Client EmbeddingsClient
	Model  string
	// Dimension asks the API to truncate vectors to this size. It must match
	// the pgvector column dimension.
	Dimension int
}

// OpenAIProvider implements Provider via the OpenAI embeddings API.
type OpenAIProvider struct {
	client    EmbeddingsClient
	model     string
	dimension int
}

var _ Provider = (*OpenAIProvider)(nil)

// NewOpenAIProvider builds a provider from the provided options.
func NewOpenAIProvider(opts OpenAIOptions) (*OpenAIProvider, error) {
	if opts.Client == nil {
		return nil, errors.New("openai client is required")
	}
	if opts.Model == "" {
		opts.Model = string(openai.SmallEmbedding3)
	}
	if opts.Dimension <= 0 {
		return nil, errors.New("embedding dimension is required")
	}
	return &OpenAIProvider{
		client:    opts.Client,
		model:     opts.Model,
		dimension: opts.Dimension,
	}, nil
}

// NewOpenAIProviderFromAPIKey constructs a provider using the default
// go-openai HTTP client.
func NewOpenAIProviderFromAPIKey(apiKey, model string, dimension int) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	return NewOpenAIProvider(OpenAIOptions{
		Client:    openai.NewClient(apiKey),
		Model:     model,
		Dimension: dimension,
	})
}

func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (p *OpenAIProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      texts,
		Model:      openai.EmbeddingModel(p.model),
		Dimensions: p.dimension,
	})
	if err != nil {
		return nil, &ProviderError{Model: p.model, Err: err}
	}
	if len(resp.Data) != len(texts) {
		return nil, &ProviderError{
			Model: p.model,
			Err:   fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data)),
		}
	}
	vectors := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, &ProviderError{Model: p.model, Err: fmt.Errorf("embedding index %d out of range", d.Index)}
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

func (p *OpenAIProvider) Dimension() int { return p.dimension }

func (p *OpenAIProvider) Model() string { return p.model }
