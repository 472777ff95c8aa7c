//go:build !windows

package launch

import (
	"errors"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

const shellQuoting = false

func command(executable string, args []string) *exec.Cmd {
	return exec.Command(executable, args...)
}

// prepare puts the runner into its own process group, so kill reaches
// everything it spawned.
func prepare(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

func kill(proc *os.Process) error {
	if proc == nil {
		return nil
	}
	if proc.Pid > 0 {
		err := unix.Kill(-proc.Pid, unix.SIGKILL)
		if err == nil {
			return nil
		}
		if !errors.Is(err, unix.ESRCH) {
			return err
		}
	}
	err := proc.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}
