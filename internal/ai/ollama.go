package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

// ollamaClient talks to a locally hosted Ollama server over its REST API:
// a bounded-timeout *http.Client, one POST per call, JSON in and out.
type ollamaClient struct {
	cfg  Config
	http *http.Client
}

func newOllamaClient(cfg Config) *ollamaClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	return &ollamaClient{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *ollamaClient) Embed(ctx context.Context, text string) ([]float32, error) {
	payload := map[string]any{
		"model": c.cfg.EmbedModel,
		"input": text,
	}
	var out struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := c.post(ctx, "/api/embed", payload, &out); err != nil {
		return nil, err
	}
	if len(out.Embeddings) == 0 {
		return nil, errors.New("ollama: no embedding returned")
	}
	return out.Embeddings[0], nil
}

func (c *ollamaClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	payload := map[string]any{
		"model": c.cfg.EmbedModel,
		"input": texts,
	}
	var out struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := c.post(ctx, "/api/embed", payload, &out); err != nil {
		return nil, err
	}
	if len(out.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama: expected %d embeddings, got %d", len(texts), len(out.Embeddings))
	}
	return out.Embeddings, nil
}

func (c *ollamaClient) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	payload := map[string]any{
		"model":  c.cfg.GenerateModel,
		"prompt": prompt,
		"stream": false,
		"options": map[string]any{
			"temperature": opts.Temperature,
			"num_predict": opts.MaxTokens,
		},
	}
	var out struct {
		Response string `json:"response"`
	}
	if err := c.post(ctx, "/api/generate", payload, &out); err != nil {
		return "", err
	}
	return strings.TrimSpace(out.Response), nil
}

func (c *ollamaClient) Health(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			log.Warn().Err(cerr).Msg("ollama: failed to close health response body")
		}
	}()
	return resp.StatusCode == http.StatusOK
}

func (c *ollamaClient) EmbeddingInfo() EmbeddingInfo {
	return EmbeddingInfo{Provider: "ollama", Model: c.cfg.EmbedModel, Dimensions: c.cfg.Dim}
}

func (c *ollamaClient) GenerationInfo() GenerationInfo {
	return GenerationInfo{Provider: "ollama", Model: c.cfg.GenerateModel}
}

func (c *ollamaClient) post(ctx context.Context, path string, payload any, out any) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			log.Warn().Err(cerr).Str("path", path).Msg("ollama: failed to close response body")
		}
	}()

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error != "" {
			return fmt.Errorf("ollama %s: %s", path, e.Error)
		}
		return fmt.Errorf("ollama %s: non-200 status %s", path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
