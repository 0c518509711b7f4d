package embedding

import (
	"context"
	"errors"
	"testing"

	openai "github.com/sashabaranov/go-openai"
)

type fakeOpenAI struct {
	calls int
	err   error
}

func (f *fakeOpenAI) CreateEmbeddings(_ context.Context, conv openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error) {
	f.calls++
	if f.err != nil {
		return openai.EmbeddingResponse{}, f.err
	}
	req := conv.Convert()
	inputs, _ := req.Input.([]string)
	resp := openai.EmbeddingResponse{}
	// Returned out of order on purpose; the adapter must reorder by index.
	for i := len(inputs) - 1; i >= 0; i-- {
		resp.Data = append(resp.Data, openai.Embedding{
			Index:     i,
			Embedding: []float32{float32(i), 0, 0},
		})
	}
	return resp, nil
}

func TestOpenAIProviderBatchOrder(t *testing.T) {
	fake := &fakeOpenAI{}
	p, err := NewOpenAIProvider(OpenAIOptions{Client: fake, Model: "test-model", Dimension: 3})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	vectors, err := p.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("embed batch: %v", err)
	}
	if len(vectors) != 3 {
		t.Fatalf("expected 3 vectors, got %d", len(vectors))
	}
	for i, v := range vectors {
		if v[0] != float32(i) {
			t.Fatalf("vector %d out of order: %v", i, v)
		}
	}
	if fake.calls != 1 {
		t.Fatalf("expected one API call, got %d", fake.calls)
	}
}

func TestOpenAIProviderWrapsFailures(t *testing.T) {
	fake := &fakeOpenAI{err: errors.New("rate limited")}
	p, err := NewOpenAIProvider(OpenAIOptions{Client: fake, Model: "test-model", Dimension: 3})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	_, err = p.Embed(context.Background(), "text")
	var provErr *ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("expected *ProviderError, got %v", err)
	}
	if provErr.Model != "test-model" {
		t.Fatalf("provider error missing model: %+v", provErr)
	}
}

func TestOpenAIProviderValidation(t *testing.T) {
	if _, err := NewOpenAIProvider(OpenAIOptions{Model: "m", Dimension: 3}); err == nil {
		t.Fatalf("nil client must be rejected")
	}
	if _, err := NewOpenAIProvider(OpenAIOptions{Client: &fakeOpenAI{}, Model: "m"}); err == nil {
		t.Fatalf("missing dimension must be rejected")
	}
}

type mapCache struct {
	entries map[string][]float32
}

func (c *mapCache) Get(_ context.Context, hash string) ([]float32, error) {
	if v, ok := c.entries[hash]; ok {
		return v, nil
	}
	return nil, ErrCacheMiss
}

func (c *mapCache) Put(_ context.Context, hash string, vector []float32) error {
	c.entries[hash] = vector
	return nil
}

type countingProvider struct {
	calls int
}

func (p *countingProvider) Embed(_ context.Context, _ string) ([]float32, error) {
	p.calls++
	return []float32{1, 2, 3}, nil
}

func (p *countingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i := range texts {
		v, _ := p.Embed(ctx, texts[i])
		vectors[i] = v
	}
	return vectors, nil
}

func (p *countingProvider) Dimension() int { return 3 }
func (p *countingProvider) Model() string  { return "counting" }

func TestCachedProviderSingleUpstreamCall(t *testing.T) {
	inner := &countingProvider{}
	cached := NewCachedProvider(inner, &mapCache{entries: map[string][]float32{}}, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		v, err := cached.Embed(ctx, "same text")
		if err != nil {
			t.Fatalf("embed: %v", err)
		}
		if len(v) != 3 {
			t.Fatalf("unexpected vector: %v", v)
		}
	}
	if inner.calls != 1 {
		t.Fatalf("expected one upstream call, got %d", inner.calls)
	}
}

func TestCachedProviderBatchPartialHit(t *testing.T) {
	inner := &countingProvider{}
	cached := NewCachedProvider(inner, &mapCache{entries: map[string][]float32{}}, nil)
	ctx := context.Background()

	if _, err := cached.Embed(ctx, "warm"); err != nil {
		t.Fatalf("warm: %v", err)
	}
	callsAfterWarm := inner.calls

	vectors, err := cached.EmbedBatch(ctx, []string{"warm", "cold"})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(vectors) != 2 || vectors[0] == nil || vectors[1] == nil {
		t.Fatalf("incomplete batch result: %v", vectors)
	}
	if inner.calls != callsAfterWarm+1 {
		t.Fatalf("only the cold text should hit upstream, got %d extra calls", inner.calls-callsAfterWarm)
	}
}

func TestContentHashVariesByModel(t *testing.T) {
	if contentHash("model-a", "text") == contentHash("model-b", "text") {
		t.Fatalf("hash must include the model identifier")
	}
}
