package exec

import (
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/sameehj/shellmcp/pkg/safety"
	"github.com/sameehj/shellmcp/pkg/system"
)

// SafeExecutor runs already-validated commands through the platform shell
// with a wall-clock timeout and a cap on combined output. Each call makes a
// single attempt.
type SafeExecutor struct {
	Timeout   time.Duration
	MaxOutput int
	Shell     system.Shell

	logger *slog.Logger
}

// NewSafeExecutor takes its limits from policy and uses the platform shell.
func NewSafeExecutor(policy safety.Policy) *SafeExecutor {
	return &SafeExecutor{
		Timeout:   policy.MaxExecutionTime(),
		MaxOutput: policy.MaxOutputBytes(),
		Shell:     system.DefaultShell(),
	}
}

func (e *SafeExecutor) SetLogger(logger *slog.Logger) {
	e.logger = logger
}

// Run executes command in dir. It never returns nil; failures are described
// by Outcome.Failure and Outcome.Err.
func (e *SafeExecutor) Run(ctx context.Context, command, dir string) *Outcome {
	out := &Outcome{Command: command}
	if strings.TrimSpace(command) == "" {
		out.Failure = FailureProcessError
		out.Err = ErrEmptyCommand
		out.ExitCode = -1
		return out
	}

	start := time.Now()
	defer func() { out.Duration = time.Since(start) }()

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	if e.Timeout > 0 {
		var stop context.CancelFunc
		runCtx, stop = context.WithTimeoutCause(runCtx, e.Timeout, ErrTimeout)
		defer stop()
	}

	capture := newCappedOutput(e.MaxOutput, func() { cancel(ErrOutputLimit) })

	shell := e.Shell
	if shell.Path == "" {
		shell = system.DefaultShell()
	}
	cmd := shell.CommandContext(runCtx, command)
	cmd.Dir = dir
	cmd.Stdout = capture.Stdout()
	cmd.Stderr = capture.Stderr()
	setupProcessGroup(cmd)

	e.logDebug("exec_start", "command", command, "cwd", dir, "shell", shell.String())
	err := cmd.Run()
	killProcessGroup(cmd)

	stdout, stderr := capture.Strings()
	out.Stdout = strings.TrimSpace(stdout)
	out.Stderr = strings.TrimSpace(stderr)
	out.ExitCode = exitCode(cmd, err)
	cause := context.Cause(runCtx)

	switch {
	case capture.Overflowed():
		out.Failure = FailureProcessError
		out.Err = &OutputLimitError{Limit: e.MaxOutput}
	case err == nil || lingeringPipes(cmd, err):
		out.Succeeded = true
	case errors.Is(cause, ErrTimeout):
		out.Failure = FailureTimeout
		out.Err = &TimeoutError{Timeout: e.Timeout}
	default:
		out.Failure = FailureProcessError
		out.Err = &CommandError{Command: command, Err: err}
	}

	if out.Succeeded {
		e.logDebug("exec_finished", "command", command, "exit_code", out.ExitCode)
	} else {
		e.logWarn("exec_failed", "command", command, "reason", out.Failure.String(), "error", out.Err)
	}
	return out
}

// lingeringPipes reports whether the shell itself exited 0 and only a
// background child kept the output pipes open past WaitDelay.
func lingeringPipes(cmd *exec.Cmd, err error) bool {
	return errors.Is(err, exec.ErrWaitDelay) && cmd.ProcessState != nil && cmd.ProcessState.Success()
}

func exitCode(cmd *exec.Cmd, err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	return -1
}

func (e *SafeExecutor) logDebug(msg string, args ...any) {
	if e.logger != nil {
		e.logger.Debug(msg, args...)
	}
}

func (e *SafeExecutor) logWarn(msg string, args ...any) {
	if e.logger != nil {
		e.logger.Warn(msg, args...)
	}
}
