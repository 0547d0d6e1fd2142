package recognition

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/loqalabs/loqa-sign/internal/landmark"
)

type keypointsRequest struct {
	Keypoints []landmark.Vector `json:"keypoints"`
}

type recognitionResponse struct {
	Result Result `json:"result"`
}

type httpRecognizer struct {
	endpoint string
	token    string
	client   *http.Client
}

// NewHTTPRecognizer posts windows to {endpoint}/recognition. Timeouts come
// from the caller's context.
func NewHTTPRecognizer(endpoint, token string, client *http.Client) Recognizer {
	if client == nil {
		client = http.DefaultClient
	}
	return &httpRecognizer{
		endpoint: strings.TrimRight(endpoint, "/"),
		token:    token,
		client:   client,
	}
}

func (r *httpRecognizer) Recognize(ctx context.Context, window []landmark.Vector) (Result, error) {
	if len(window) == 0 {
		return Result{}, ErrEmptyWindow
	}
	body, err := json.Marshal(keypointsRequest{Keypoints: window})
	if err != nil {
		return Result{}, fmt.Errorf("encode window: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+"/recognition", bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("recognition request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Result{}, fmt.Errorf("recognition returned status %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}

	var out recognitionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{}, fmt.Errorf("decode recognition response: %w", err)
	}
	return out.Result, nil
}
