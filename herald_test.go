package herald_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/CZERTAINLY/Herald/internal/model"
)

var (
	heraldPath string
	fakePath   string

	// tmpDir is a function used to create a tempdir
	// -test.keepdir flag says test to use os.MkdirTemp
	// default is t.TempDir, which will be cleaned up
	tmpDir func(t *testing.T) string
)

func TestMain(m *testing.M) {
	var keepTestDir bool
	flag.BoolVar(&keepTestDir, "test.keepdir", false, "use os.TempDir instead of t.TempDir to keep test artifacts")

	flag.Parse()

	if testing.Short() {
		slog.Warn("integration tests with -short are ignored")
		os.Exit(0)
	}

	if !keepTestDir {
		tmpDir = func(t *testing.T) string {
			t.Helper()
			return t.TempDir()
		}
	} else {
		tmpDir = func(t *testing.T) string {
			t.Helper()
			dir, err := os.MkdirTemp("", t.Name()+"*")
			require.NoError(t, err)
			_, err = fmt.Fprintf(t.Output(), "TEMPDIR %s: -test.keepdir used, so it won't be automatically deleted", dir)
			require.NoError(t, err)
			return dir
		}
	}

	for name, dst := range map[string]*string{"herald-ci": &heraldPath, "herald-fake-ci": &fakePath} {
		if !isExecutable(name) {
			slog.Warn("cannot locate binary, integration tests are skipped: run go build -race -cover -covermode=atomic -o herald-ci ./cmd/herald/ && go build -o herald-fake-ci ./cmd/herald-fake/ first", "binary", name)
			os.Exit(0)
		}
		var err error
		*dst, err = filepath.Abs(name)
		if err != nil {
			slog.Error("can't get abspath", "binary", name, "error", err)
			os.Exit(1)
		}
	}

	coverDir, err := filepath.Abs("coverage")
	if err != nil {
		slog.Error("can't get value for GOCOVERDIR for herald-ci", "error", err)
		os.Exit(1)
	}
	err = rmRfMkdirp(coverDir)
	if err != nil {
		slog.Error("can't reset GOCOVERDIR for herald-ci", "error", err, "coverdir", coverDir)
		os.Exit(1)
	}
	err = os.Setenv("GOCOVERDIR", coverDir)
	if err != nil {
		slog.Error("can't set GOCOVERDIR env variable", "error", err)
		os.Exit(1)
	}

	os.Exit(m.Run())
}

func TestHerald(t *testing.T) {
	_ = chDir(t)

	script := lines(
		report(`{"type":"testStart","test":"math.vader::adds"}`),
		"out computing",
		report(`{"type":"testEnd","test":"math.vader::adds","status":"success","duration":3}`),
		report(`{"type":"testStart","test":"math.vader::divides"}`),
		report(`{"type":"testEnd","test":"math.vader::divides","status":"failure","message":"Expected 2 but got 3","line":4}`),
		"err warning from runner",
		"exit 1",
	)
	creat(t, "suite.script", []byte(script))
	creat(t, "math.vader", []byte("placeholder\n"))
	creat(t, "herald.yaml", []byte(config("PT5S")))
	require.NoError(t, os.Mkdir("reports", 0o755))

	stdout, stderr, code := herald(t, "run", "--config", "herald.yaml")
	require.Equal(t, 1, code, stderr)

	require.Contains(t, stdout, "run: adds\n")
	require.Contains(t, stdout, "computing\n")
	require.Contains(t, stdout, "end: divides (failure)\n")
	require.Contains(t, stdout, "Tests failed (code 1): success: 1 and fails: 1\n")
	require.Contains(t, stderr, "warning from runner\n")

	rep := storedReport(t)
	require.Equal(t, model.StateCompleted, rep.State)
	require.Equal(t, 1, rep.Code)
	require.Equal(t, 1, rep.Success)
	require.Equal(t, 1, rep.Fail)
	require.Len(t, rep.Tests, 2)
	require.Equal(t, model.TestPassed, rep.Tests[0].Status)
	require.Equal(t, model.TestFailed, rep.Tests[1].Status)
}

func TestHeraldTimeout(t *testing.T) {
	_ = chDir(t)

	script := lines(
		report(`{"type":"testStart","test":"slow.vader::sleeps"}`),
		"hang",
	)
	creat(t, "suite.script", []byte(script))
	creat(t, "herald.yaml", []byte(config("PT0.5S")))
	require.NoError(t, os.Mkdir("reports", 0o755))

	stdout, stderr, code := herald(t, "run", "--config", "herald.yaml")
	require.Equal(t, 1, code, stderr)
	require.Contains(t, stdout, "Tests failed (code 1): success: 0 and fails: 0, timed out\n")

	rep := storedReport(t)
	require.Equal(t, model.StateTimedOut, rep.State)
	require.Len(t, rep.Tests, 1)
	require.Equal(t, model.TestErrored, rep.Tests[0].Status)
	require.Contains(t, rep.Tests[0].Message, "Test timed out after 500ms without output")
}

func herald(t *testing.T, args ...string) (stdout, stderr string, code int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 60*time.Second)
	t.Cleanup(cancel)
	var outBuf, errBuf bytes.Buffer
	cmd := exec.CommandContext(ctx, heraldPath, args...)
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	err := cmd.Run()
	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		code = exitErr.ExitCode()
	default:
		require.NoError(t, err)
	}
	// store the $TEST_NAME output
	creat(t, t.Name()+".log", outBuf.Bytes())
	return outBuf.String(), errBuf.String(), code
}

func config(idleTimeout string) string {
	return fmt.Sprintf(`
version: 0
runner:
    executable: %q
    reporter: reporter.vim
    args: ["--script", "suite.script"]
    idle_timeout: %q
service:
    mode: manual
    dir: reports
`, fakePath, idleTimeout)
}

func storedReport(t *testing.T) model.RunReport {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("reports", "herald-*.json"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	b, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	var reports []model.RunReport
	require.NoError(t, json.Unmarshal(b, &reports))
	require.Len(t, reports, 1)
	return reports[0]
}

func report(payload string) string {
	return "report " + payload
}

func lines(cmds ...string) string {
	var buf bytes.Buffer
	for _, c := range cmds {
		buf.WriteString(c)
		buf.WriteByte('\n')
	}
	return buf.String()
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().Perm()&0111 != 0
}

func rmRfMkdirp(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return nil
}

func chDir(t *testing.T) string {
	t.Helper()
	tempdir := tmpDir(t)
	t.Chdir(tempdir)
	return tempdir
}

func creat(t *testing.T, path string, content []byte) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, f.Close())
	}()
	_, err = f.Write(content)
	require.NoError(t, err)
	err = f.Sync()
	require.NoError(t, err)
}
