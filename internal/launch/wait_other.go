//go:build !linux

package launch

import "os"

// awaitExit is not supported, the process is marked done once reaped.
func awaitExit(*os.Process) bool {
	return false
}
