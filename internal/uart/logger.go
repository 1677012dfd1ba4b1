// Package uart captures the gateway's serial debug log.
package uart

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"go.bug.st/serial"
)

// DefaultBaud is the console speed of the gateway firmware.
const DefaultBaud = 115200

const (
	readTimeout = 100 * time.Millisecond
	maxLineLen  = 1000
)

// SerialDisconnectError means the device went away during capture.
type SerialDisconnectError struct {
	Port string
	Err  error
}

func (e *SerialDisconnectError) Error() string {
	return fmt.Sprintf("serial port %s disconnected: %v", e.Port, e.Err)
}

func (e *SerialDisconnectError) Unwrap() error { return e.Err }

// Opener opens a serial port. serial.Open satisfies it.
type Opener func(name string, mode *serial.Mode) (serial.Port, error)

// Logger reads lines from a serial port.
type Logger struct {
	open    Opener
	baud    int
	console io.Writer
	log     *slog.Logger
}

// Option configures a Logger.
type Option func(*Logger)

// WithConsole echoes every raw line to w.
func WithConsole(w io.Writer) Option {
	return func(l *Logger) { l.console = w }
}

// WithOpener replaces serial.Open.
func WithOpener(open Opener) Option {
	return func(l *Logger) { l.open = open }
}

// WithBaud overrides DefaultBaud.
func WithBaud(baud int) Option {
	return func(l *Logger) {
		if baud > 0 {
			l.baud = baud
		}
	}
}

// New creates a Logger.
func New(log *slog.Logger, opts ...Option) *Logger {
	l := &Logger{open: serial.Open, baud: DefaultBaud, log: log}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Mode is 8N1 at baud with DTR and RTS released, so opening the port does
// not hold the chip in reset.
func Mode(baud int) *serial.Mode {
	return &serial.Mode{
		BaudRate:          baud,
		Parity:            serial.NoParity,
		DataBits:          8,
		StopBits:          serial.OneStopBit,
		InitialStatusBits: &serial.ModemOutputBits{DTR: false, RTS: false},
	}
}

// FileName is the capture file for a session started at t.
func FileName(dir string, t time.Time) string {
	return filepath.Join(dir, t.Format("2006-01-02T15-04-05")+"_ruuvi_gw_uart.log")
}

// Capture copies lines from port to dst until ctx is done, which is a normal
// end and returns nil. Lines written to dst have terminal control sequences
// removed. A read failure ends capture with a *SerialDisconnectError.
func (l *Logger) Capture(ctx context.Context, port string, dst io.Writer) error {
	p, err := l.open(port, Mode(l.baud))
	if err != nil {
		return fmt.Errorf("failed to open port for logging: %w", err)
	}
	defer p.Close()

	if err := p.SetReadTimeout(readTimeout); err != nil {
		return fmt.Errorf("failed to set read timeout: %w", err)
	}
	l.log.Info("Logging UART", "port", port, "baud", l.baud)

	var pending []byte
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		err := l.emit(pending, dst)
		pending = pending[:0]
		return err
	}

	buf := make([]byte, 1024)
	for {
		if ctx.Err() != nil {
			l.log.Info("UART logging stopped")
			return flush()
		}
		n, err := p.Read(buf)
		if err != nil {
			_ = flush()
			return &SerialDisconnectError{Port: port, Err: err}
		}
		if n == 0 {
			continue
		}
		pending = append(pending, buf[:n]...)
		for {
			i := bytes.IndexByte(pending, '\n')
			if i < 0 {
				break
			}
			if err := l.emit(pending[:i], dst); err != nil {
				return err
			}
			pending = append(pending[:0], pending[i+1:]...)
		}
		if len(pending) > maxLineLen {
			if err := flush(); err != nil {
				return err
			}
		}
	}
}

func (l *Logger) emit(raw []byte, dst io.Writer) error {
	line := strings.ToValidUTF8(strings.TrimRight(string(raw), "\r"), "")
	if l.console != nil {
		_, _ = io.WriteString(l.console, line+"\n")
	}
	if dst == nil {
		return nil
	}
	if _, err := io.WriteString(dst, StripANSI(line)+"\n"); err != nil {
		return fmt.Errorf("failed to write UART log: %w", err)
	}
	return nil
}
