// Package config defines the run submission payload and engine tuning knobs.
//
// RunConfig is the JSON shape submitted alongside a file; it is immutable for
// the lifetime of a run. Engine holds operator-tunable limits with safe
// defaults; zero values are replaced by Normalize.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"strings"
)

// Delimiter selects the field separator for a run.
type Delimiter string

const (
	Comma Delimiter = "comma"
	Pipe  Delimiter = "pipe"
)

// Byte returns the separator byte for the delimiter.
func (d Delimiter) Byte() byte {
	if d == Pipe {
		return '|'
	}
	return ','
}

func (d Delimiter) String() string { return string(d) }

// RunConfig is the per-run submission payload. It is validated once at
// BeginRun and never mutated afterwards.
type RunConfig struct {
	// Delimiter is "comma" or "pipe".
	Delimiter Delimiter `json:"delimiter"`

	// Quoted enables RFC-style quoting rules (doubled-quote escaping,
	// delimiters and newlines literal inside quoted fields). When false,
	// quote characters are ordinary content bytes.
	Quoted bool `json:"quoted"`

	// ExpectCRLF records the submitter's expectation about line endings.
	// Detection governs correctness; a mismatch only produces a warning.
	ExpectCRLF bool `json:"expect_crlf"`
}

// Validate rejects unknown delimiters. An empty delimiter defaults to comma.
func (c *RunConfig) Validate() error {
	switch c.Delimiter {
	case "":
		c.Delimiter = Comma
	case Comma, Pipe:
	default:
		return fmt.Errorf("config: unsupported delimiter %q (want comma|pipe)", c.Delimiter)
	}
	return nil
}

// LoadRunConfig reads a RunConfig from a JSON file.
func LoadRunConfig(path string) (RunConfig, error) {
	var cfg RunConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read run config: %w", err)
	}
	dec := json.NewDecoder(strings.NewReader(string(b)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parse run config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Engine holds engine-wide tuning. All fields have conservative defaults;
// callers normally start from DefaultEngine and override selectively.
type Engine struct {
	// SampleSize is the per-column count of non-null values buffered before
	// the column type is decided.
	SampleSize int

	// Confidence is the share of sampled values that must match a pattern
	// for the numeric/date tests to classify the column.
	Confidence float64

	// CodeCardinalityThreshold classifies a string column as a code when its
	// sample distinct ratio falls below this value.
	CodeCardinalityThreshold float64

	// CodeSampleFloor is the minimum non-null sample size before the code
	// test may fire. Small samples produce unstable distinct ratios.
	CodeSampleFloor int

	// MixedMinorityThreshold is the minimum share two or more value
	// categories must each hold for a column to be classified as mixed.
	MixedMinorityThreshold float64

	// TopValues is the number of most-frequent values reported per column.
	TopValues int

	// SpillBudgetBytes caps the aggregate in-memory footprint of all
	// distinct indexes for a run before they spill to disk.
	SpillBudgetBytes int64

	// ColumnWorkers sizes the per-run column worker pool.
	ColumnWorkers int

	// ChannelBuffer bounds the row channels between the tokenizer and the
	// column workers (backpressure, not unbounded buffering).
	ChannelBuffer int

	// WorkspaceRoot is the parent directory for per-run workspaces (spool
	// and spill files). Defaults to the OS temp directory.
	WorkspaceRoot string
}

// DefaultEngine returns the default engine tuning.
func DefaultEngine() Engine {
	return Engine{
		SampleSize:               10000,
		Confidence:               0.9,
		CodeCardinalityThreshold: 0.10,
		CodeSampleFloor:          50,
		MixedMinorityThreshold:   0.20,
		TopValues:                10,
		SpillBudgetBytes:         1 << 30,
		ColumnWorkers:            runtime.NumCPU(),
		ChannelBuffer:            256,
		WorkspaceRoot:            os.TempDir(),
	}
}

// Normalize replaces zero values with defaults. It is idempotent.
func (e *Engine) Normalize() {
	def := DefaultEngine()
	if e.SampleSize <= 0 {
		e.SampleSize = def.SampleSize
	}
	if e.Confidence <= 0 || e.Confidence > 1 {
		e.Confidence = def.Confidence
	}
	if e.CodeCardinalityThreshold <= 0 {
		e.CodeCardinalityThreshold = def.CodeCardinalityThreshold
	}
	if e.CodeSampleFloor <= 0 {
		e.CodeSampleFloor = def.CodeSampleFloor
	}
	if e.MixedMinorityThreshold <= 0 {
		e.MixedMinorityThreshold = def.MixedMinorityThreshold
	}
	if e.TopValues <= 0 {
		e.TopValues = def.TopValues
	}
	if e.SpillBudgetBytes <= 0 {
		e.SpillBudgetBytes = def.SpillBudgetBytes
	}
	if e.ColumnWorkers <= 0 {
		e.ColumnWorkers = def.ColumnWorkers
	}
	if e.ChannelBuffer <= 0 {
		e.ChannelBuffer = def.ChannelBuffer
	}
	if strings.TrimSpace(e.WorkspaceRoot) == "" {
		e.WorkspaceRoot = def.WorkspaceRoot
	}
}
