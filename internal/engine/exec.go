package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/loqalabs/loqa-voicelab/internal/synthesis"
	"github.com/mattn/go-shellwords"
)

// execEngine runs one worker process per request. The model is not
// reentrant, so calls are serialized.
type execEngine struct {
	cmd     []string
	timeout time.Duration
	mu      sync.Mutex
}

func NewExecEngine(command string, timeout time.Duration) (synthesis.Engine, error) {
	parser := shellwords.NewParser()
	parser.ParseEnv = true
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse engine command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("engine command empty")
	}
	return &execEngine{cmd: args, timeout: timeout}, nil
}

func (e *execEngine) Synthesize(ctx context.Context, call synthesis.Call) (synthesis.RawOutput, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	input, err := json.Marshal(encodeCall(call))
	if err != nil {
		return synthesis.RawOutput{}, err
	}

	base := e.cmd[0]
	args := append([]string{}, e.cmd[1:]...)
	cmd := exec.CommandContext(ctx, base, args...)
	cmd.Stdin = bytes.NewReader(input)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return synthesis.RawOutput{}, fmt.Errorf("engine command failed: %w: %s", err, strings.TrimSpace(tail(stderr.String(), 2048)))
	}

	line, err := lastJSONLine(stdout.Bytes())
	if err != nil {
		return synthesis.RawOutput{}, err
	}
	var resp wireOutput
	if err := json.Unmarshal(line, &resp); err != nil {
		return synthesis.RawOutput{}, fmt.Errorf("decode engine response: %w", err)
	}
	return decodeOutput(resp)
}

// lastJSONLine skips anything the worker printed besides its result object.
func lastJSONLine(out []byte) ([]byte, error) {
	var last []byte
	scanner := bufio.NewScanner(bytes.NewReader(out))
	scanner.Buffer(make([]byte, 64*1024), 512*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		last = append(last[:0], line...)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read engine output: %w", err)
	}
	if last == nil {
		return nil, errors.New("engine produced no response")
	}
	return last, nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
