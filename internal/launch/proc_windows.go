//go:build windows

package launch

import (
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

const shellQuoting = true

// command runs the runner through cmd.exe passing the argument vector
// verbatim.
func command(executable string, args []string) *exec.Cmd {
	comspec := os.Getenv("ComSpec")
	if comspec == "" {
		comspec = "cmd.exe"
	}
	line := append([]string{quote(executable)}, args...)
	cmd := exec.Command(comspec)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CmdLine: quote(comspec) + ` /d /s /c "` + strings.Join(line, " ") + `"`,
	}
	return cmd
}

func prepare(*exec.Cmd) {}

// kill stops the whole tree, cmd.exe would otherwise leave the runner
// holding our pipes.
func kill(proc *os.Process) error {
	if proc == nil {
		return nil
	}
	if proc.Pid > 0 {
		taskkill := "taskkill"
		if root := os.Getenv("SystemRoot"); root != "" {
			taskkill = filepath.Join(root, "System32", "taskkill.exe")
		}
		cmd := exec.Command(taskkill, "/PID", strconv.Itoa(proc.Pid), "/T", "/F")
		cmd.Stdout = io.Discard
		cmd.Stderr = io.Discard
		if err := cmd.Run(); err == nil {
			return nil
		}
	}
	err := proc.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}
