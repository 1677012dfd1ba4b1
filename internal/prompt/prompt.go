// Package prompt asks the operator yes/no questions.
package prompt

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// ErrInterrupted is returned when the operator presses Ctrl+C at a prompt.
var ErrInterrupted = errors.New("interrupted by user")

const (
	question = "Do you want to continue Y(es)/N(no)? "
	invalid  = "Invalid input. Please enter Y for yes or N for no."
	ctrlC    = 0x03
)

// Confirmer awaits a yes/no answer.
type Confirmer interface {
	Confirm(ctx context.Context, reason string) (bool, error)
}

// New picks the strategy once: Refuse when nonInteractive, Keypress when in
// is a terminal, Line otherwise.
func New(nonInteractive bool, in *os.File, out io.Writer) Confirmer {
	switch {
	case nonInteractive:
		return Refuse{Out: out}
	case in != nil && term.IsTerminal(int(in.Fd())):
		return &Keypress{In: in, Out: out}
	case in != nil:
		return &Line{In: in, Out: out}
	default:
		return &Line{Out: out}
	}
}

// Refuse answers no without asking.
type Refuse struct {
	Out io.Writer
}

func (r Refuse) Confirm(_ context.Context, reason string) (bool, error) {
	if r.Out != nil && reason != "" {
		fmt.Fprintf(r.Out, "%s\nNon-interactive mode, not continuing.\n", reason)
	}
	return false, nil
}

// Line reads answers a line at a time.
type Line struct {
	In  io.Reader
	Out io.Writer

	lines chan string
}

func (l *Line) Confirm(ctx context.Context, reason string) (bool, error) {
	if l.In == nil {
		return false, io.ErrUnexpectedEOF
	}
	if l.lines == nil {
		l.lines = make(chan string)
		go func() {
			defer close(l.lines)
			sc := bufio.NewScanner(l.In)
			for sc.Scan() {
				l.lines <- sc.Text()
			}
		}()
	}
	ask(l.Out, reason)
	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case line, ok := <-l.lines:
			if !ok {
				return false, io.ErrUnexpectedEOF
			}
			if yes, valid := parse(strings.TrimSpace(line)); valid {
				return yes, nil
			}
			fmt.Fprintln(l.Out, invalid)
		}
	}
}

// Keypress reads single keys with the terminal in raw mode. One reader
// goroutine serves every prompt.
type Keypress struct {
	In  *os.File
	Out io.Writer

	keys chan byte
}

func (k *Keypress) Confirm(ctx context.Context, reason string) (bool, error) {
	fd := int(k.In.Fd())
	state, err := term.MakeRaw(fd)
	if err != nil {
		return false, fmt.Errorf("failed to switch terminal to raw mode: %w", err)
	}
	defer term.Restore(fd, state)

	if k.keys == nil {
		k.keys = make(chan byte)
		go func() {
			defer close(k.keys)
			b := make([]byte, 1)
			for {
				n, err := k.In.Read(b)
				if err != nil {
					return
				}
				if n == 1 {
					k.keys <- b[0]
				}
			}
		}()
	}

	ask(k.Out, reason)
	for {
		select {
		case <-ctx.Done():
			fmt.Fprint(k.Out, "\r\n")
			return false, ctx.Err()
		case c, ok := <-k.keys:
			if !ok {
				return false, io.ErrUnexpectedEOF
			}
			if c == ctrlC {
				fmt.Fprint(k.Out, "\r\n")
				return false, ErrInterrupted
			}
			if yes, valid := parse(string(c)); valid {
				fmt.Fprint(k.Out, "\r\n")
				return yes, nil
			}
			fmt.Fprint(k.Out, "\r\n"+invalid+"\r\n")
		}
	}
}

func ask(out io.Writer, reason string) {
	if reason != "" {
		fmt.Fprintln(out, reason)
	}
	fmt.Fprint(out, question)
}

func parse(s string) (yes, valid bool) {
	switch s {
	case "y", "Y":
		return true, true
	case "n", "N":
		return false, true
	}
	return false, false
}
