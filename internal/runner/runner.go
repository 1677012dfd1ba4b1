// Package runner executes external tools and streams their output into the
// log as it is produced.
package runner

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
	"unicode/utf8"
)

// ExitError is a child process that exited with a non-zero status.
type ExitError struct {
	Command string
	Code    int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("'%s' execution failed with error code: %d", e.Command, e.Code)
}

// NotFoundError means the executable is not on PATH.
type NotFoundError struct {
	Name string
	Err  error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %v", e.Name, e.Err)
}

func (e *NotFoundError) Unwrap() error { return e.Err }

// Runner runs one command at a time.
type Runner struct {
	log *slog.Logger
	// Echo also receives the raw output, e.g. the console.
	Echo io.Writer
	// GracePeriod is how long an interrupted child may take to exit before
	// it is killed.
	GracePeriod time.Duration
	// Env is appended to the inherited environment.
	Env []string
}

// New creates a Runner that logs child output at info level.
func New(log *slog.Logger) *Runner {
	return &Runner{log: log, GracePeriod: 3 * time.Second}
}

// Run starts name with args in dir ("" for the current directory) and waits
// for it. Output is logged line by line. On cancellation the child gets an
// interrupt, then a kill after GracePeriod.
func (r *Runner) Run(ctx context.Context, dir, name string, args ...string) error {
	display := strings.TrimSpace(name + " " + strings.Join(args, " "))
	if dir != "" {
		r.log.Info("Running", "cmd", display, "dir", dir)
	} else {
		r.log.Info("Running", "cmd", display)
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	if len(r.Env) > 0 {
		cmd.Env = append(os.Environ(), r.Env...)
	}
	cmd.Cancel = func() error {
		return interrupt(cmd.Process)
	}
	cmd.WaitDelay = r.GracePeriod

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pw.Close()
		pr.Close()
		var ee *exec.Error
		if errors.As(err, &ee) {
			return &NotFoundError{Name: name, Err: ee.Err}
		}
		return fmt.Errorf("failed to start %s: %w", name, err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.stream(pr)
	}()

	err := cmd.Wait()
	pw.Close()
	<-done

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		var xe *exec.ExitError
		if errors.As(err, &xe) {
			code := xe.ExitCode()
			if code < 0 {
				code = 1
			}
			return &ExitError{Command: display, Code: code}
		}
		return fmt.Errorf("failed to run %s: %w", name, err)
	}
	return nil
}

func (r *Runner) stream(rd io.Reader) {
	sc := bufio.NewScanner(rd)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	sc.Split(scanLines)
	for sc.Scan() {
		line := sc.Bytes()
		if r.Echo != nil {
			_, _ = r.Echo.Write(append(append([]byte{}, line...), '\n'))
		}
		text := strings.TrimRight(string(line), " \t")
		if text == "" {
			continue
		}
		if !utf8.ValidString(text) {
			text = strings.ToValidUTF8(text, "?")
		}
		r.log.Info(text)
	}
	// Drain so the child never blocks on a full pipe.
	_, _ = io.Copy(io.Discard, rd)
}

// scanLines splits on \n or \r so progress output that rewrites one line
// shows up while it happens.
func scanLines(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		adv := i + 1
		if data[i] == '\r' && i+1 < len(data) && data[i+1] == '\n' {
			adv++
		}
		return adv, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
