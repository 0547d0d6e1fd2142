package improve

import (
	"context"
	"strings"
	"unicode"
	"unicode/utf8"
)

type mockImprover struct{}

func NewMockImprover() Improver { return &mockImprover{} }

// Improve capitalizes the first word and terminates the sentence.
func (m *mockImprover) Improve(ctx context.Context, words, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s := strings.Join(strings.Fields(words), " ")
	if s == "" {
		return "", nil
	}
	r, size := utf8.DecodeRuneInString(s)
	s = string(unicode.ToUpper(r)) + s[size:]
	if !strings.HasSuffix(s, ".") {
		s += "."
	}
	return s, nil
}
