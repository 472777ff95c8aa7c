// herald-fake is a scripted test runner speaking the herald report
// protocol. Each line of a script is one command:
//
//	out <text>       line to stdout
//	err <text>       line to stderr
//	report <json>    structured report line
//	raw <text>       text to stdout without a newline
//	sleep <duration> pause, e.g. 150ms
//	exit <code>      exit immediately
//	hang             block until killed
//
// Empty lines and lines starting with # are ignored. The runner
// arguments --filter=<f> and -o <reporter> are accepted and logged to
// stderr as "args: ..." when --echo is set.
package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/CZERTAINLY/Herald/internal/protocol"
)

var (
	flagScript  string
	flagFilters []string
	flagOutput  string
	flagEcho    bool

	exitCode int
)

func main() {
	rootCmd.Flags().StringVar(&flagScript, "script", os.Getenv("HERALD_FAKE_SCRIPT"), "script to replay, - reads stdin")
	rootCmd.Flags().StringArrayVar(&flagFilters, "filter", nil, "ignored")
	rootCmd.Flags().StringVarP(&flagOutput, "output", "o", "", "ignored")
	rootCmd.Flags().BoolVar(&flagEcho, "echo", false, "print arguments to stderr")
	rootCmd.FParseErrWhitelist.UnknownFlags = true

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "herald-fake:", err)
		os.Exit(127)
	}
	os.Exit(exitCode)
}

var rootCmd = &cobra.Command{
	Use:           "herald-fake [files...]",
	Short:         "scripted fake test runner",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(_ *cobra.Command, args []string) error {
		if flagEcho {
			fmt.Fprintf(os.Stderr, "args: filters=%v output=%s files=%v\n", flagFilters, flagOutput, args)
		}
		var in io.Reader
		switch flagScript {
		case "":
			return errors.New("missing --script")
		case "-":
			in = os.Stdin
		default:
			f, err := os.Open(flagScript)
			if err != nil {
				return err
			}
			defer func() {
				_ = f.Close()
			}()
			in = f
		}
		var err error
		exitCode, err = replay(in, os.Stdout, os.Stderr)
		return err
	},
}

// replay executes script commands until the end of the script or an exit
// command and returns the exit code.
func replay(script io.Reader, stdout, stderr io.Writer) (int, error) {
	scanner := bufio.NewScanner(script)
	scanner.Buffer(make([]byte, 0, 64*1024), protocol.MaxLineSize)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}
		command, arg, _ := strings.Cut(line, " ")
		var err error
		switch command {
		case "out":
			_, err = fmt.Fprintln(stdout, arg)
		case "err":
			_, err = fmt.Fprintln(stderr, arg)
		case "report":
			_, err = fmt.Fprintln(stdout, protocol.Marker+" "+arg)
		case "raw":
			_, err = io.WriteString(stdout, arg)
		case "sleep":
			var d time.Duration
			d, err = time.ParseDuration(arg)
			if err == nil {
				time.Sleep(d)
			}
		case "exit":
			code, err := strconv.Atoi(strings.TrimSpace(arg))
			if err != nil {
				return 0, fmt.Errorf("line %d: %w", lineNo, err)
			}
			return code, nil
		case "hang":
			// a bare select{} would be reported as a deadlock
			for {
				time.Sleep(time.Hour)
			}
		default:
			err = fmt.Errorf("unknown command %q", command)
		}
		if err != nil {
			return 0, fmt.Errorf("line %d: %w", lineNo, err)
		}
	}
	return 0, scanner.Err()
}
