package recognition

import (
	"context"
	"fmt"

	"github.com/loqalabs/loqa-sign/internal/landmark"
)

type mockRecognizer struct{}

func NewMockRecognizer() Recognizer {
	return &mockRecognizer{}
}

func (m *mockRecognizer) Recognize(ctx context.Context, window []landmark.Vector) (Result, error) {
	if len(window) == 0 {
		return Result{}, ErrEmptyWindow
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	return Result{
		Text:       fmt.Sprintf("[sign frames=%d]", len(window)),
		Confidence: 0,
	}, nil
}
