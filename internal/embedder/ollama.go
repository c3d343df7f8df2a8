package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ajitpratap0/openclaw-briefing/pkg/tokenizer"
)

const (
	ollamaTimeout = 30 * time.Second
	// maxEmbedTokens keeps long article bodies inside the model context.
	maxEmbedTokens = 2048
)

// OllamaEmbedder calls the Ollama /api/embed endpoint.
type OllamaEmbedder struct {
	endpoint  string
	model     string
	dimension int
	http      *http.Client
	logger    *slog.Logger
}

var _ Embedder = (*OllamaEmbedder)(nil)

type embedRequest struct {
	Model    string `json:"model"`
	Input    string `json:"input"`
	Truncate bool   `json:"truncate"`
}

type embedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float64 `json:"embeddings"`
}

// NewOllamaEmbedder creates an embedder for the Ollama server at baseURL.
// A dimension of 0 accepts whatever the model returns.
func NewOllamaEmbedder(baseURL, model string, dimension int, logger *slog.Logger) *OllamaEmbedder {
	return &OllamaEmbedder{
		endpoint:  strings.TrimRight(baseURL, "/") + "/api/embed",
		model:     model,
		dimension: dimension,
		http:      &http.Client{Timeout: ollamaTimeout},
		logger:    logger,
	}
}

// Embed returns the vector for text. Blank text is rejected without a request.
func (o *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("embedding blank text")
	}
	payload, err := json.Marshal(embedRequest{
		Model:    o.model,
		Input:    tokenizer.TruncateToTokenBudget(text, maxEmbedTokens),
		Truncate: true,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding with %s: %w", o.model, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("embed endpoint status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding embed response: %w", err)
	}
	if len(out.Embeddings) == 0 || len(out.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("model %s returned no embedding", o.model)
	}
	raw := out.Embeddings[0]
	if o.dimension > 0 && len(raw) != o.dimension {
		return nil, fmt.Errorf("model %s returned %d dimensions, configured %d", o.model, len(raw), o.dimension)
	}

	vec := make([]float32, len(raw))
	for i, v := range raw {
		vec[i] = float32(v)
	}
	o.logger.Debug("embedded text", "model", o.model, "dimension", len(vec))
	return vec, nil
}

// Dimension returns the configured vector size, or 0 when unchecked.
func (o *OllamaEmbedder) Dimension() int {
	return o.dimension
}
