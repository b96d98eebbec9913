//go:build integration

package embedder

import (
	"context"
	"errors"
	"math"
	"net/http"
	"os"
	"testing"
	"time"
)

// ollamaUnderTest returns the host and model for a locally running Ollama,
// skipping the test when the daemon does not answer /api/tags.
//
//	ollama pull nomic-embed-text
//	go test -tags=integration ./internal/embedder/
func ollamaUnderTest(t *testing.T) (string, string) {
	t.Helper()
	host := os.Getenv("OLLAMA_HOST")
	if host == "" {
		host = "http://localhost:11434"
	}
	model := os.Getenv("EMBEDDING_MODEL")
	if model == "" {
		model = "nomic-embed-text"
	}

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(host + "/api/tags")
	if err != nil {
		t.Skipf("ollama not reachable at %s: %v", host, err)
	}
	_ = resp.Body.Close()
	return host, model
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func TestOllamaEmbedder_Integration_BatchKeepsOrder(t *testing.T) {
	host, model := ollamaUnderTest(t)
	emb := NewOllamaEmbedder(&OllamaConfig{Host: host, Model: model})

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	shipping := "Orders ship within 2 business days. Free shipping above a minimum order value."
	returns := "Swimwear can be exchanged within 7 days if the tags are intact."

	batch, err := emb.Embed(ctx, []string{shipping, returns, shipping})
	if err != nil {
		t.Fatalf("Embed: %v (is %q pulled?)", err, model)
	}
	if len(batch) != 3 {
		t.Fatalf("got %d vectors, want 3", len(batch))
	}
	if model == "nomic-embed-text" {
		if want := DefaultDimensions("ollama"); len(batch[0]) != want {
			t.Errorf("dim = %d, want %d to match the vector store default", len(batch[0]), want)
		}
	}

	// Repeated input lands at the same position with the same vector; the
	// unrelated passage does not.
	if s := cosine(batch[0], batch[2]); s < 0.999 {
		t.Errorf("cosine(shipping, shipping) = %.4f", s)
	}
	if s := cosine(batch[0], batch[1]); s > 0.99 {
		t.Errorf("cosine(shipping, returns) = %.4f, vectors look swapped or constant", s)
	}

	single, err := emb.Embed(ctx, []string{returns})
	if err != nil {
		t.Fatalf("Embed single: %v", err)
	}
	if s := cosine(single[0], batch[1]); s < 0.999 {
		t.Errorf("batched and single vectors for the same text differ: cosine %.4f", s)
	}
}

func TestOllamaEmbedder_Integration_UnknownModel(t *testing.T) {
	host, _ := ollamaUnderTest(t)
	emb := NewOllamaEmbedder(&OllamaConfig{Host: host, Model: "sitechat-missing-model"})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := emb.Embed(ctx, []string{"hello"})
	var up *UpstreamError
	if !errors.As(err, &up) {
		t.Fatalf("err = %v, want *UpstreamError", err)
	}
	if up.Provider != "ollama" || up.StatusCode < 400 {
		t.Errorf("upstream = %+v", up)
	}
	if up.Temporary() {
		t.Errorf("a missing model must not be reported as temporary (status %d)", up.StatusCode)
	}
}
