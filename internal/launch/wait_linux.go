package launch

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// awaitExit blocks until proc exits without reaping it, so its pid and
// process group id can't be reused while Terminate may still signal them.
func awaitExit(proc *os.Process) bool {
	if proc == nil {
		return false
	}
	var info unix.Siginfo
	for {
		err := unix.Waitid(unix.P_PID, proc.Pid, &info, unix.WEXITED|unix.WNOWAIT, nil)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		return err == nil
	}
}
