// Package portcat enumerates serial ports and selects the one the gateway
// is connected to.
package portcat

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/samber/lo"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// EnvPort overrides autodetection when no port is given explicitly.
const EnvPort = "RUUVI_GW_SERIAL_PORT"

// Origin tells where a port selection came from.
type Origin int

const (
	OriginAuto Origin = iota
	OriginFlag
	OriginEnv
)

func (o Origin) String() string {
	switch o {
	case OriginFlag:
		return "--port"
	case OriginEnv:
		return EnvPort
	default:
		return "autodetect"
	}
}

// SerialPortRef is a device path and whether it was enumerated when
// selected. It is a snapshot; devices come and go.
type SerialPortRef struct {
	Path   string
	Live   bool
	Origin Origin
}

// DeviceUnavailableError is an explicitly requested port that is not
// currently enumerated.
type DeviceUnavailableError struct {
	Port      SerialPortRef
	Available []string
}

func (e *DeviceUnavailableError) Error() string {
	return fmt.Sprintf("serial port %s (from %s) is not available, available ports: [%s]",
		e.Port.Path, e.Port.Origin, strings.Join(e.Available, ", "))
}

// NoPortsError means autodetection found nothing.
type NoPortsError struct{}

func (NoPortsError) Error() string {
	return "no port available, please connect a device"
}

// MultiplePortsError means autodetection found more than one candidate.
type MultiplePortsError struct {
	Ports []string
}

func (e *MultiplePortsError) Error() string {
	return fmt.Sprintf("multiple ports available (%s), please specify the port", strings.Join(e.Ports, ", "))
}

// Catalog lists serial ports from the OS enumerator and well-known device
// node patterns.
type Catalog struct {
	log      *slog.Logger
	patterns []string

	listPorts func() ([]string, error)
	details   func() ([]*enumerator.PortDetails, error)
	glob      func(string) ([]string, error)
}

// NewCatalog creates a catalog for the host OS.
func NewCatalog(log *slog.Logger) *Catalog {
	return &Catalog{
		log:       log,
		patterns:  hostPatterns(runtime.GOOS),
		listPorts: serial.GetPortsList,
		details:   enumerator.GetDetailedPortsList,
		glob:      filepath.Glob,
	}
}

func hostPatterns(goos string) []string {
	switch goos {
	case "linux":
		return []string{"/dev/ttyUSB*"}
	case "darwin":
		return []string{"/dev/cu.wchusbserial*", "/dev/tty.usbserial-*"}
	default:
		return nil
	}
}

// Ports returns candidate ports, deduplicated and sorted in reverse order.
func (c *Catalog) Ports() ([]string, error) {
	ports, err := c.listPorts()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	for _, p := range c.patterns {
		matches, err := c.glob(p)
		if err != nil {
			continue
		}
		ports = append(ports, matches...)
	}
	ports = lo.Uniq(ports)
	sort.Sort(sort.Reverse(sort.StringSlice(ports)))
	c.logDetails()
	return ports, nil
}

func (c *Catalog) logDetails() {
	if c.details == nil || !c.log.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	list, err := c.details()
	if err != nil {
		c.log.Debug("Failed to read port details", "err", err)
		return
	}
	for _, d := range list {
		if d.IsUSB {
			c.log.Debug("Serial port", "name", d.Name, "usb", d.VID+":"+d.PID, "serial", d.SerialNumber, "product", d.Product)
		} else {
			c.log.Debug("Serial port", "name", d.Name)
		}
	}
}

// Select picks the port: explicit first, then the environment override,
// then the only enumerated candidate. For an explicit or environment port
// that is not enumerated the ref is returned together with a
// *DeviceUnavailableError so the caller may still go ahead.
func (c *Catalog) Select(explicit, env string) (SerialPortRef, error) {
	ports, err := c.Ports()
	if err != nil {
		return SerialPortRef{}, err
	}

	ref := SerialPortRef{Path: explicit, Origin: OriginFlag}
	if ref.Path == "" {
		ref = SerialPortRef{Path: env, Origin: OriginEnv}
	}
	if ref.Path != "" {
		ref.Live = lo.Contains(ports, ref.Path)
		if !ref.Live {
			return ref, &DeviceUnavailableError{Port: ref, Available: ports}
		}
		c.log.Info("Using serial port", "port", ref.Path, "from", ref.Origin.String())
		return ref, nil
	}

	switch len(ports) {
	case 0:
		return SerialPortRef{}, NoPortsError{}
	case 1:
		c.log.Info("Automatically detected serial port", "port", ports[0])
		return SerialPortRef{Path: ports[0], Live: true, Origin: OriginAuto}, nil
	default:
		return SerialPortRef{}, &MultiplePortsError{Ports: ports}
	}
}
