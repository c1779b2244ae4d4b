package safety

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrWorkingDirectoryNotFound is wrapped by WorkingDirectoryError.
	ErrWorkingDirectoryNotFound = errors.New("working directory does not exist")
	// ErrCommandRejected is wrapped by RejectedCommandError.
	ErrCommandRejected = errors.New("command rejected")
)

// WorkingDirectoryError reports a working directory that could not be found.
type WorkingDirectoryError struct {
	Path string
}

func (e *WorkingDirectoryError) Error() string {
	return "Working directory does not exist: " + e.Path
}

func (e *WorkingDirectoryError) Unwrap() error {
	return ErrWorkingDirectoryNotFound
}

// RejectedCommandError reports a command refused by the CommandChecker.
type RejectedCommandError struct {
	Command string
	// Match is the denylist entry that triggered the rejection, when known.
	Match string
}

func (e *RejectedCommandError) Error() string {
	return "Command rejected due to security concerns: " + e.Command
}

func (e *RejectedCommandError) Unwrap() error {
	return ErrCommandRejected
}

// CommandChecker decides whether a command may run. Implementations can be
// swapped without touching the dispatcher.
type CommandChecker interface {
	IsSafe(command string) bool
}

// DenylistChecker rejects commands containing any of its substrings,
// compared case-insensitively as plain text. It does not parse shell syntax:
// "dd" also matches "add", and quoting inside a word slips through. Treat
// it as advisory.
type DenylistChecker struct {
	substrings []string
}

func NewDenylistChecker(substrings []string) *DenylistChecker {
	lowered := make([]string, 0, len(substrings))
	for _, s := range substrings {
		lowered = append(lowered, strings.ToLower(s))
	}
	return &DenylistChecker{substrings: lowered}
}

func (c *DenylistChecker) IsSafe(command string) bool {
	_, found := c.Match(command)
	return !found
}

// Match returns the first denylist entry found in command.
func (c *DenylistChecker) Match(command string) (string, bool) {
	lower := strings.ToLower(command)
	for _, s := range c.substrings {
		if strings.Contains(lower, s) {
			return s, true
		}
	}
	return "", false
}

type matcher interface {
	Match(command string) (string, bool)
}

// Validator runs the pre-execution checks against a Policy.
type Validator struct {
	policy  Policy
	checker CommandChecker
}

// NewValidator returns a Validator. A nil checker means a DenylistChecker
// built from the policy's dangerous substrings.
func NewValidator(policy Policy, checker CommandChecker) *Validator {
	if checker == nil {
		checker = NewDenylistChecker(policy.DangerousSubstrings())
	}
	return &Validator{policy: policy, checker: checker}
}

func (v *Validator) Policy() Policy {
	return v.policy
}

// ResolveWorkingDirectory returns the policy default for an empty input,
// otherwise the absolute form of dir, which must exist. It does not check
// that the path is a directory.
func (v *Validator) ResolveWorkingDirectory(dir string) (string, error) {
	if dir == "" {
		return v.policy.DefaultWorkingDirectory(), nil
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", &WorkingDirectoryError{Path: dir}
	}
	if _, err := os.Stat(abs); err != nil {
		return "", &WorkingDirectoryError{Path: abs}
	}
	return abs, nil
}

func (v *Validator) IsCommandSafe(command string) bool {
	return v.checker.IsSafe(command)
}

// CheckCommand is IsCommandSafe returning a *RejectedCommandError on refusal.
func (v *Validator) CheckCommand(command string) error {
	if v.checker.IsSafe(command) {
		return nil
	}
	rejected := &RejectedCommandError{Command: command}
	if m, ok := v.checker.(matcher); ok {
		rejected.Match, _ = m.Match(command)
	}
	return rejected
}
