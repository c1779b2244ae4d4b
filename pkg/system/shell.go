package system

import (
	"context"
	"os"
	"os/exec"
	"runtime"
	"strings"
)

// Shell is the interpreter commands are handed to, e.g. {"/bin/sh", ["-c"]}.
type Shell struct {
	Path string
	Args []string
}

// DefaultShell picks the interpreter for the running platform: zsh on macOS,
// %ComSpec% on Windows, /bin/sh elsewhere.
func DefaultShell() Shell {
	return shellFor(runtime.GOOS, os.Getenv)
}

func shellFor(goos string, getenv func(string) string) Shell {
	switch goos {
	case "darwin":
		return Shell{Path: "/bin/zsh", Args: []string{"-c"}}
	case "windows":
		comspec := getenv("ComSpec")
		if comspec == "" {
			comspec = "cmd.exe"
		}
		return Shell{Path: comspec, Args: []string{"/d", "/s", "/c"}}
	default:
		return Shell{Path: "/bin/sh", Args: []string{"-c"}}
	}
}

// CommandContext builds an *exec.Cmd running command through the shell.
func (s Shell) CommandContext(ctx context.Context, command string) *exec.Cmd {
	args := make([]string, 0, len(s.Args)+1)
	args = append(args, s.Args...)
	args = append(args, command)
	return exec.CommandContext(ctx, s.Path, args...)
}

func (s Shell) String() string {
	if len(s.Args) == 0 {
		return s.Path
	}
	return s.Path + " " + strings.Join(s.Args, " ")
}
