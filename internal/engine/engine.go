// Package engine owns the full lifecycle of a profiling run: byte ingest
// through validation, normalization, tokenization, parallel per-column
// aggregation, finalization into a Profile, and post-confirmation duplicate
// detection.
//
// One Run owns an isolated workspace directory holding its spill stores and
// a spool of the normalized byte stream; nothing is shared across runs. A
// catastrophic error is terminal: the run transitions to Failed, workers are
// stopped, spill state is discarded, and nothing is exposed beyond the error
// itself.
package engine

import (
	"fmt"
	"os"

	"profiler/internal/config"
)

// Logger is the minimal logging surface the engine needs. *log.Logger
// satisfies it.
type Logger interface {
	Printf(format string, v ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// Engine creates runs. It is cheap and safe to share across goroutines;
// per-run state lives on Run.
type Engine struct {
	cfg config.Engine
	log Logger
}

// New returns an engine with normalized tuning. A nil logger disables
// logging.
func New(cfg config.Engine, log Logger) *Engine {
	cfg.Normalize()
	if log == nil {
		log = nopLogger{}
	}
	return &Engine{cfg: cfg, log: log}
}

// BeginRun validates the run config, provisions the run workspace, and
// returns a handle in the Queued state. The caller must Close the run to
// release its workspace.
func (e *Engine) BeginRun(rc config.RunConfig) (*Run, error) {
	if err := rc.Validate(); err != nil {
		return nil, err
	}
	workspace, err := os.MkdirTemp(e.cfg.WorkspaceRoot, "profile-run-*")
	if err != nil {
		return nil, fmt.Errorf("provision run workspace: %w", err)
	}
	r, err := newRun(e, rc, workspace)
	if err != nil {
		_ = os.RemoveAll(workspace)
		return nil, err
	}
	e.log.Printf("run %s: queued (delimiter=%s quoted=%v workspace=%s)",
		r.ID(), rc.Delimiter, rc.Quoted, workspace)
	return r, nil
}
