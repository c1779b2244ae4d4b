//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package exec

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// processGroupWaitDelay bounds how long Wait keeps reading pipes after the
// shell exits or the group is killed, in case a child still holds them open.
const processGroupWaitDelay = 2 * time.Second

// setupProcessGroup puts the shell in its own process group so cancellation
// kills everything it spawned, not only the shell itself.
func setupProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true

	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return os.ErrProcessDone
		}
		return killGroup(cmd.Process.Pid)
	}
	cmd.WaitDelay = processGroupWaitDelay
}

// killProcessGroup kills whatever the shell left behind in its group, such
// as children started with "&". It runs after Wait returns.
func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = killGroup(cmd.Process.Pid)
}

func killGroup(pid int) error {
	// kill(-1) and kill(0) would hit far more than our child.
	if pid <= 1 {
		return os.ErrProcessDone
	}
	if err := unix.Kill(-pid, unix.SIGKILL); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return os.ErrProcessDone
		}
		return err
	}
	return nil
}
