// Package engine holds the synthesis backends. One engine is built per
// process and shared by every request.
package engine

import (
	"fmt"
	"time"

	"github.com/loqalabs/loqa-voicelab/internal/config"
	"github.com/loqalabs/loqa-voicelab/internal/synthesis"
)

// New builds the engine selected by cfg.Mode.
func New(cfg config.EngineConfig) (synthesis.Engine, error) {
	switch cfg.Mode {
	case "", "mock":
		return NewMockEngine(cfg.Candidates), nil
	case "exec":
		return NewExecEngine(cfg.Command, time.Duration(cfg.TimeoutMS)*time.Millisecond)
	default:
		return nil, fmt.Errorf("unsupported engine mode %q", cfg.Mode)
	}
}
