package improve

import (
	"context"
	"fmt"
	"strings"

	"github.com/loqalabs/loqa-sign/internal/config"
)

// Improver turns a run of recognized sign glosses into a fluent sentence.
type Improver interface {
	Improve(ctx context.Context, words, language string) (string, error)
}

// New builds the improver selected by cfg.Mode. It returns nil when improvement is disabled.
func New(cfg config.ImproveConfig) (Improver, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch cfg.Mode {
	case "", "mock":
		return NewMockImprover(), nil
	case "ollama":
		return NewOllamaImprover(cfg.Endpoint, cfg.Model, nil), nil
	default:
		return nil, fmt.Errorf("unsupported improve mode %q", cfg.Mode)
	}
}

func prompt(words, language string) (system, user string) {
	name := "Spanish"
	if strings.EqualFold(language, "en") {
		name = "English"
	}
	system = "You rewrite sequences of sign language glosses into one grammatical " + name +
		" sentence. Reply with the sentence only."
	return system, strings.TrimSpace(words)
}
