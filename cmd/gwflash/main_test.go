package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func tempStderr(t *testing.T) *os.File {
	t.Helper()
	f, err := os.Create(filepath.Join(t.TempDir(), "stderr"))
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func readAll(t *testing.T, f *os.File) string {
	t.Helper()
	b, err := os.ReadFile(f.Name())
	require.NoError(t, err)
	return string(b)
}

func TestHelp(t *testing.T) {
	var out bytes.Buffer
	code := run(context.Background(), []string{"--help"}, nil, &out, tempStderr(t))
	require.Equal(t, 0, code)
	require.Contains(t, out.String(), "gwflash <firmware>")
	require.Contains(t, out.String(), "--compile-and-flash")
}

func TestConflictingFlagsExitOne(t *testing.T) {
	releases := filepath.Join(t.TempDir(), "releases")
	stderr := tempStderr(t)
	var out bytes.Buffer

	code := run(context.Background(), []string{
		"v1.15.0", "--erase_flash", "--log-uart", "--no-color", "--releases-dir", releases,
	}, nil, &out, stderr)

	require.Equal(t, 1, code)
	require.Contains(t, readAll(t, stderr), "erase-flash and log-uart cannot be used together")
	require.NoDirExists(t, releases)
	require.Empty(t, out.String())
}

func TestMissingFirmwareArgument(t *testing.T) {
	stderr := tempStderr(t)
	code := run(context.Background(), nil, nil, &bytes.Buffer{}, stderr)
	require.Equal(t, 1, code)
	require.Contains(t, readAll(t, stderr), "accepts 1 arg(s)")
}

func TestInvalidBaud(t *testing.T) {
	stderr := tempStderr(t)
	code := run(context.Background(), []string{"-", "--reset", "--baud", "0"}, nil, &bytes.Buffer{}, stderr)
	require.Equal(t, 1, code)
	require.Contains(t, readAll(t, stderr), "invalid baud")
}
