package improve

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

type ollamaImprover struct {
	endpoint string
	model    string
	client   *http.Client
}

func NewOllamaImprover(endpoint, model string, client *http.Client) Improver {
	if client == nil {
		client = http.DefaultClient
	}
	if model == "" {
		model = "llama3.2:latest"
	}
	return &ollamaImprover{endpoint: strings.TrimRight(endpoint, "/"), model: model, client: client}
}

type ollamaRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	System  string        `json:"system,omitempty"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
}

type ollamaStreamResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

func (g *ollamaImprover) Improve(ctx context.Context, words, language string) (string, error) {
	system, user := prompt(words, language)
	body, err := json.Marshal(ollamaRequest{
		Model:   g.model,
		Prompt:  user,
		System:  system,
		Stream:  true,
		Options: ollamaOptions{Temperature: 0.2},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("ollama returned status %s", resp.Status)
	}

	var sentence strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk ollamaStreamResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			return "", fmt.Errorf("decode ollama chunk: %w", err)
		}
		sentence.WriteString(chunk.Response)
		if chunk.Done {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return strings.TrimSpace(sentence.String()), nil
}
