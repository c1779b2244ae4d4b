package safety

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	// DefaultMaxExecutionTime bounds a single command's wall-clock run time.
	DefaultMaxExecutionTime = 30 * time.Second
	// DefaultMaxOutputBytes bounds combined stdout+stderr capture.
	DefaultMaxOutputBytes = 1024 * 1024
)

// DefaultDangerousSubstrings returns a fresh copy of the built-in denylist.
func DefaultDangerousSubstrings() []string {
	return []string{
		"rm -rf", "rmdir /s", "del /f", "format",
		":(){:|:&};:", "dd", "mkfs", "sudo", ">", "chmod -R",
		"| mail", "wget -O", "curl -o",
	}
}

// PolicyOptions are the inputs to NewPolicy. Zero values fall back to defaults.
type PolicyOptions struct {
	DangerousSubstrings     []string
	MaxExecutionTime        time.Duration
	MaxOutputBytes          int
	DefaultWorkingDirectory string
}

// Policy is the process-wide execution policy. It is built once at startup
// and passed by value; its fields are unexported so nothing can change it
// after construction.
type Policy struct {
	dangerous  []string
	timeout    time.Duration
	maxOutput  int
	defaultDir string
}

// NewPolicy validates opts and returns an immutable Policy.
func NewPolicy(opts PolicyOptions) (Policy, error) {
	if opts.MaxExecutionTime < 0 {
		return Policy{}, fmt.Errorf("max execution time must not be negative: %s", opts.MaxExecutionTime)
	}
	if opts.MaxOutputBytes < 0 {
		return Policy{}, fmt.Errorf("max output bytes must not be negative: %d", opts.MaxOutputBytes)
	}

	p := Policy{
		timeout:   opts.MaxExecutionTime,
		maxOutput: opts.MaxOutputBytes,
	}
	if p.timeout == 0 {
		p.timeout = DefaultMaxExecutionTime
	}
	if p.maxOutput == 0 {
		p.maxOutput = DefaultMaxOutputBytes
	}

	if opts.DangerousSubstrings == nil {
		p.dangerous = DefaultDangerousSubstrings()
	} else {
		p.dangerous = make([]string, 0, len(opts.DangerousSubstrings))
		for _, s := range opts.DangerousSubstrings {
			if s == "" {
				return Policy{}, errors.New("dangerous substrings must not contain empty entries")
			}
			p.dangerous = append(p.dangerous, s)
		}
	}

	dir := opts.DefaultWorkingDirectory
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return Policy{}, fmt.Errorf("resolve current directory: %w", err)
		}
		dir = cwd
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return Policy{}, fmt.Errorf("resolve default working directory: %w", err)
	}
	p.defaultDir = abs

	return p, nil
}

// DangerousSubstrings returns a copy of the denylist in configured order.
func (p Policy) DangerousSubstrings() []string {
	out := make([]string, len(p.dangerous))
	copy(out, p.dangerous)
	return out
}

func (p Policy) MaxExecutionTime() time.Duration { return p.timeout }

func (p Policy) MaxOutputBytes() int { return p.maxOutput }

func (p Policy) DefaultWorkingDirectory() string { return p.defaultDir }
