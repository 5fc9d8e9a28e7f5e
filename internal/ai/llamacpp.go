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

// llamaCppClient talks to a locally hosted llama.cpp server (llama-server)
// over its native REST API. Same request/response shape as ollamaClient,
// split into its own type because the two servers disagree on field names
// and response envelopes.
type llamaCppClient struct {
	cfg  Config
	http *http.Client
}

func newLlamaCppClient(cfg Config) *llamaCppClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:8080"
	}
	return &llamaCppClient{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *llamaCppClient) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (c *llamaCppClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	payload := map[string]any{
		"content": texts,
	}
	var out []struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := c.post(ctx, "/embedding", payload, &out); err != nil {
		return nil, err
	}
	if len(out) != len(texts) {
		return nil, fmt.Errorf("llamacpp: expected %d embeddings, got %d", len(texts), len(out))
	}
	vecs := make([][]float32, len(out))
	for i, o := range out {
		vecs[i] = o.Embedding
	}
	return vecs, nil
}

func (c *llamaCppClient) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	payload := map[string]any{
		"prompt":      prompt,
		"temperature": opts.Temperature,
		"n_predict":   opts.MaxTokens,
		"stream":      false,
	}
	var out struct {
		Content string `json:"content"`
	}
	if err := c.post(ctx, "/completion", payload, &out); err != nil {
		return "", err
	}
	return strings.TrimSpace(out.Content), nil
}

func (c *llamaCppClient) Health(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			log.Warn().Err(cerr).Msg("llamacpp: failed to close health response body")
		}
	}()
	return resp.StatusCode == http.StatusOK
}

func (c *llamaCppClient) EmbeddingInfo() EmbeddingInfo {
	return EmbeddingInfo{Provider: "llamacpp", Model: c.cfg.EmbedModel, Dimensions: c.cfg.Dim}
}

func (c *llamaCppClient) GenerationInfo() GenerationInfo {
	return GenerationInfo{Provider: "llamacpp", Model: c.cfg.GenerateModel}
}

func (c *llamaCppClient) post(ctx context.Context, path string, payload any, out any) error {
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
			log.Warn().Err(cerr).Str("path", path).Msg("llamacpp: failed to close response body")
		}
	}()

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error != "" {
			return errors.New("llamacpp " + path + ": " + e.Error)
		}
		return fmt.Errorf("llamacpp %s: non-200 status %s", path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
