// Package ollama implements a Merger backed by Ollama's chat API.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/engramlabs/engram/pkg/synthesis"
)

const (
	// DefaultModel is the default chat model used for merging.
	DefaultModel = "llama3.2"

	// DefaultBaseURL is the default Ollama API URL.
	DefaultBaseURL = "http://localhost:11434"
)

const systemPrompt = "You merge duplicate memory records for an agent. " +
	"Combine the given records into one concise record that preserves every " +
	"distinct fact. Output only the merged record, no commentary."

// Merger wraps Ollama's chat API.
type Merger struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// MergerConfig holds configuration for the Ollama merger.
type MergerConfig struct {
	// BaseURL is the Ollama API URL. Defaults to DefaultBaseURL if empty.
	BaseURL string

	// Model is the chat model to use. Defaults to DefaultModel if empty.
	Model string
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatResponse struct {
	Message chatMessage `json:"message"`
}

// NewMerger creates a new merger using Ollama's chat API.
func NewMerger(cfg MergerConfig) (*Merger, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	return &Merger{
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}, nil
}

// Merge asks the model to combine the contents into one record.
func (m *Merger) Merge(ctx context.Context, contents []string) (string, error) {
	if len(contents) == 0 {
		return "", nil
	}

	var sb strings.Builder
	for i, c := range contents {
		fmt.Fprintf(&sb, "Record %d:\n%s\n\n", i+1, c)
	}

	reqBody := chatRequest{
		Model: m.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: sb.String()},
		},
		Stream: false,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("%w: marshaling request: %v", synthesis.ErrSynthesis, err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", m.baseURL+"/api/chat", bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("%w: creating request: %v", synthesis.ErrSynthesis, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: sending request: %v", synthesis.ErrSynthesis, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("%w: ollama returned status %d: %s", synthesis.ErrSynthesis, resp.StatusCode, string(body))
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("%w: decoding response: %v", synthesis.ErrSynthesis, err)
	}

	merged := strings.TrimSpace(chatResp.Message.Content)
	if merged == "" {
		return "", fmt.Errorf("%w: model returned empty content", synthesis.ErrSynthesis)
	}

	return merged, nil
}

// Close releases resources held by the merger.
func (m *Merger) Close() error {
	return nil
}

var _ synthesis.Merger = (*Merger)(nil)
