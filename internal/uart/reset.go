package uart

import (
	"fmt"
	"time"
)

const resetHold = 100 * time.Millisecond

// Reset restarts the chip by pulsing EN through RTS while GPIO0 (DTR) stays
// high, so it boots the application. It is used when the flashing tool is
// not installed.
func Reset(open Opener, port string) error {
	p, err := open(port, Mode(DefaultBaud))
	if err != nil {
		return fmt.Errorf("failed to open port: %w", err)
	}
	defer p.Close()

	if err := p.SetDTR(false); err != nil {
		return fmt.Errorf("failed to set DTR: %w", err)
	}
	if err := p.SetRTS(true); err != nil {
		return fmt.Errorf("failed to set RTS: %w", err)
	}
	time.Sleep(resetHold)
	if err := p.SetRTS(false); err != nil {
		return fmt.Errorf("failed to set RTS: %w", err)
	}
	return nil
}

// Reset restarts the chip on port.
func (l *Logger) Reset(port string) error {
	l.log.Info("Resetting device", "port", port)
	return Reset(l.open, port)
}
