package recognition

import (
	"context"
	"errors"
	"fmt"

	"github.com/loqalabs/loqa-sign/internal/config"
	"github.com/loqalabs/loqa-sign/internal/landmark"
)

// ErrEmptyWindow is returned when a dispatch carries no frames.
var ErrEmptyWindow = errors.New("recognition window is empty")

// Result captures recognizer output for one window.
type Result struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Recognizer abstracts sign recognition backends.
type Recognizer interface {
	Recognize(ctx context.Context, window []landmark.Vector) (Result, error)
}

// New builds the recognizer selected by cfg.Mode.
func New(cfg config.RecognitionConfig) (Recognizer, error) {
	switch cfg.Mode {
	case "", "mock":
		return NewMockRecognizer(), nil
	case "http":
		return NewHTTPRecognizer(cfg.Endpoint, cfg.Token, nil), nil
	case "exec":
		return NewExecRecognizer(cfg.Command)
	default:
		return nil, fmt.Errorf("unsupported recognition mode %q", cfg.Mode)
	}
}
