package recognition

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"

	"github.com/loqalabs/loqa-sign/internal/landmark"
	"github.com/mattn/go-shellwords"
)

// execRecognizer runs a local model command per window. The window is written
// to stdin as {"keypoints": [[...]]} and a Result is read from stdout.
type execRecognizer struct {
	cmd []string
	mu  sync.Mutex
}

func NewExecRecognizer(command string) (Recognizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse recognition command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("recognition command is empty")
	}
	return &execRecognizer{cmd: args}, nil
}

func (r *execRecognizer) Recognize(ctx context.Context, window []landmark.Vector) (Result, error) {
	if len(window) == 0 {
		return Result{}, ErrEmptyWindow
	}
	input, err := json.Marshal(keypointsRequest{Keypoints: window})
	if err != nil {
		return Result{}, fmt.Errorf("encode window: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	command := exec.CommandContext(ctx, r.cmd[0], r.cmd[1:]...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdin = bytes.NewReader(input)
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return Result{}, fmt.Errorf("recognition command failed: %w: %s", err, stderr.String())
	}

	var resp Result
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return Result{}, fmt.Errorf("decode recognition response: %w", err)
	}
	return resp, nil
}
