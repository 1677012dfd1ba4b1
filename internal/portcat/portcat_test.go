package portcat

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
	"go.bug.st/serial/enumerator"
)

func fakeCatalog(listed []string, globbed map[string][]string) *Catalog {
	return &Catalog{
		log:       slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)),
		patterns:  []string{"/dev/ttyUSB*", "/dev/cu.wchusbserial*"},
		listPorts: func() ([]string, error) { return append([]string{}, listed...), nil },
		glob:      func(p string) ([]string, error) { return globbed[p], nil },
	}
}

func TestPortsMergesDedupesAndSortsDescending(t *testing.T) {
	c := fakeCatalog(
		[]string{"/dev/ttyS0", "/dev/ttyUSB0"},
		map[string][]string{"/dev/ttyUSB*": {"/dev/ttyUSB0", "/dev/ttyUSB1"}},
	)
	ports, err := c.Ports()
	require.NoError(t, err)
	require.Equal(t, []string{"/dev/ttyUSB1", "/dev/ttyUSB0", "/dev/ttyS0"}, ports)
}

func TestPortsListError(t *testing.T) {
	c := fakeCatalog(nil, nil)
	c.listPorts = func() ([]string, error) { return nil, errors.New("boom") }
	_, err := c.Ports()
	require.ErrorContains(t, err, "failed to list serial ports")
}

func TestSelectPriority(t *testing.T) {
	c := fakeCatalog([]string{"/dev/ttyUSB0", "/dev/ttyUSB1"}, nil)

	ref, err := c.Select("/dev/ttyUSB1", "/dev/ttyUSB0")
	require.NoError(t, err)
	require.Equal(t, SerialPortRef{Path: "/dev/ttyUSB1", Live: true, Origin: OriginFlag}, ref)

	ref, err = c.Select("", "/dev/ttyUSB0")
	require.NoError(t, err)
	require.Equal(t, SerialPortRef{Path: "/dev/ttyUSB0", Live: true, Origin: OriginEnv}, ref)
}

func TestSelectUnavailable(t *testing.T) {
	c := fakeCatalog([]string{"/dev/ttyUSB0"}, nil)

	ref, err := c.Select("", "/dev/ttyUSB7")
	var uerr *DeviceUnavailableError
	require.True(t, errors.As(err, &uerr))
	require.Equal(t, "/dev/ttyUSB7", ref.Path)
	require.False(t, ref.Live)
	require.Equal(t, OriginEnv, uerr.Port.Origin)
	require.Equal(t, []string{"/dev/ttyUSB0"}, uerr.Available)
	require.Contains(t, uerr.Error(), EnvPort)
}

func TestSelectAutodetect(t *testing.T) {
	ref, err := fakeCatalog([]string{"/dev/ttyUSB0"}, nil).Select("", "")
	require.NoError(t, err)
	require.Equal(t, SerialPortRef{Path: "/dev/ttyUSB0", Live: true, Origin: OriginAuto}, ref)

	_, err = fakeCatalog(nil, nil).Select("", "")
	require.ErrorAs(t, err, &NoPortsError{})

	_, err = fakeCatalog([]string{"/dev/ttyUSB0", "/dev/ttyUSB1"}, nil).Select("", "")
	var merr *MultiplePortsError
	require.True(t, errors.As(err, &merr))
	require.Len(t, merr.Ports, 2)
}

func TestDetailsLoggedAtDebug(t *testing.T) {
	var buf bytes.Buffer
	c := fakeCatalog([]string{"/dev/ttyUSB0"}, nil)
	c.log = slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	c.details = func() ([]*enumerator.PortDetails, error) {
		return []*enumerator.PortDetails{{Name: "/dev/ttyUSB0", IsUSB: true, VID: "1a86", PID: "55d4", Product: "USB Single Serial"}}, nil
	}
	_, err := c.Ports()
	require.NoError(t, err)
	require.Contains(t, buf.String(), "usb=1a86:55d4")
}

func TestHostPatterns(t *testing.T) {
	require.Equal(t, []string{"/dev/ttyUSB*"}, hostPatterns("linux"))
	require.Len(t, hostPatterns("darwin"), 2)
	require.Empty(t, hostPatterns("windows"))
}
