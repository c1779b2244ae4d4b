//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package exec

import (
	"os/exec"
	"time"
)

const processGroupWaitDelay = 2 * time.Second

// setupProcessGroup keeps the default CommandContext kill; only the shell
// process is terminated on these platforms.
func setupProcessGroup(cmd *exec.Cmd) {
	cmd.WaitDelay = processGroupWaitDelay
}

// killProcessGroup is a no-op here; there is no group to clean up.
func killProcessGroup(cmd *exec.Cmd) {}
