// Package generator produces candidate markup for a prompt. Generation is an
// external collaborator of the harness: either an OpenAI-compatible chat
// completions endpoint or a directory of pre-generated samples for offline
// runs.
package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"a11yeval/internal/sampler"
)

// systemPrompt frames every generation request. The generated document is
// evaluated as-is; no post-processing beyond fence stripping.
const systemPrompt = "You are generating a single self-contained HTML document. " +
	"Respond with only the HTML, no commentary."

// Dir serves pre-generated samples from
// <root>/<test>/samples/<model>/<sample_index>.html. Used for offline runs
// and fixture-style evaluation of stored outputs.
type Dir struct {
	Root string
}

func (d Dir) Generate(_ context.Context, req sampler.GenerationRequest) (string, error) {
	path := filepath.Join(d.Root, req.Test, "samples", req.Model, fmt.Sprintf("%d.html", req.SampleIndex))
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read pre-generated sample: %w", err)
	}
	return string(raw), nil
}

// HTTP calls an OpenAI-compatible chat completions endpoint.
type HTTP struct {
	Endpoint string
	APIKey   string
	Client   *http.Client
	Logger   *zap.Logger
}

// NewHTTP builds a generator for one endpoint. apiKey may be empty for
// unauthenticated local servers.
func NewHTTP(endpoint, apiKey string, logger *zap.Logger) *HTTP {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTP{
		Endpoint: endpoint,
		APIKey:   apiKey,
		Client:   &http.Client{Timeout: 5 * time.Minute},
		Logger:   logger,
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Seed        *int64        `json:"seed,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (h *HTTP) Generate(ctx context.Context, req sampler.GenerationRequest) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: req.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: req.Prompt},
		},
		Seed:        req.Seed,
		Temperature: req.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("encode generation request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build generation request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if h.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+h.APIKey)
	}

	start := time.Now()
	resp, err := h.Client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("generation request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return "", fmt.Errorf("read generation response: %w", err)
	}

	var decoded chatResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("decode generation response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(raw))
		if decoded.Error != nil {
			msg = decoded.Error.Message
		}
		return "", fmt.Errorf("generation endpoint returned %d: %s", resp.StatusCode, msg)
	}
	if len(decoded.Choices) == 0 {
		return "", fmt.Errorf("generation response had no choices")
	}

	h.Logger.Debug("generation complete",
		zap.String("test", req.Test),
		zap.String("model", req.Model),
		zap.Duration("elapsed", time.Since(start)))
	return StripFences(decoded.Choices[0].Message.Content), nil
}

// StripFences removes a wrapping markdown code fence, which models emit even
// when told not to.
func StripFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	lines := strings.Split(trimmed, "\n")
	if len(lines) < 2 {
		return trimmed
	}
	lines = lines[1:]
	if strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
