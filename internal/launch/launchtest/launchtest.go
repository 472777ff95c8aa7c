// Package launchtest provides a scriptable stand-in for a test runner.
//
// The runner is a single shell script evaluating the HERALD_SCRIPT
// environment variable, so a test package writes it once in TestMain
// before any process is forked. Writing executables while other
// goroutines fork leads to ETXTBSY on exec.
package launchtest

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/CZERTAINLY/Herald/internal/launch"
)

const ScriptEnv = "HERALD_SCRIPT"

const runner = `#!/bin/sh
eval "$` + ScriptEnv + `"
`

// Available reports whether the script runner can work on this platform.
func Available() bool {
	if runtime.GOOS == "windows" {
		return false
	}
	_, err := exec.LookPath("sh")
	return err == nil
}

// WriteRunner writes the runner script into dir and returns its path.
func WriteRunner(dir string) (string, error) {
	path := filepath.Join(dir, "runner.sh")
	if err := os.WriteFile(path, []byte(runner), 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// Spec returns a spec running script by the runner at path. The script
// gets the argument vector as "$@".
func Spec(path, script string) launch.Spec {
	return launch.Spec{
		Executable: path,
		Reporter:   "reporter",
		Env:        map[string]string{ScriptEnv: script},
	}
}
