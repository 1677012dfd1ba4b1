package esptool

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

var builder = Builder{Tool: "esptool.py", Port: "/dev/ttyUSB0", Baud: 460800, Chip: ChipESP32}

var base = []string{
	"-p", "/dev/ttyUSB0", "-b", "460800",
	"--before", "default_reset", "--after", "hard_reset", "--chip", "esp32",
}

func withBase(args ...string) []string {
	return append(append([]string{}, base...), args...)
}

func TestEraseAndReset(t *testing.T) {
	if diff := cmp.Diff(withBase("erase_flash"), builder.Erase().Args); diff != "" {
		t.Errorf("erase args mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(withBase("run"), builder.Reset().Args); diff != "" {
		t.Errorf("reset args mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, "esptool.py", builder.Erase().Name)
}

func TestWriteRestricted(t *testing.T) {
	cmd := builder.Write(RestrictedLayout("build"))
	want := withBase("write_flash",
		"--flash_mode", "dio", "--flash_size", "detect", "--flash_freq", "40m",
		"0xd000", filepath.Join("build", "ota_data_initial.bin"),
		"0x100000", filepath.Join("build", "ruuvi_gateway_esp.bin"),
	)
	if diff := cmp.Diff(want, cmd.Args); diff != "" {
		t.Errorf("restricted write mismatch (-want +got):\n%s", diff)
	}
	for _, off := range []string{"0x1000", "0x8000", "0x500000", "0x5c0000"} {
		require.NotContains(t, cmd.Args, off)
	}
}

func TestWriteCachedRelease(t *testing.T) {
	dir := filepath.Join("/tmp", ".releases", "v1.15.0")
	cmd := builder.Write(CacheLayout(dir))
	want := withBase("write_flash",
		"--flash_mode", "dio", "--flash_size", "detect", "--flash_freq", "40m",
		"0x1000", filepath.Join(dir, "bootloader.bin"),
		"0x8000", filepath.Join(dir, "partition-table.bin"),
		"0xd000", filepath.Join(dir, "ota_data_initial.bin"),
		"0x100000", filepath.Join(dir, "ruuvi_gateway_esp.bin"),
		"0x500000", filepath.Join(dir, "fatfs_gwui.bin"),
		"0x5c0000", filepath.Join(dir, "fatfs_nrf52.bin"),
	)
	if diff := cmp.Diff(want, cmd.Args); diff != "" {
		t.Errorf("cached write mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteLocalBuild(t *testing.T) {
	cmd := builder.Write(BuildLayout("build"))
	require.Contains(t, cmd.Args, filepath.Join("build", "binaries_v1.9.2", "bootloader.bin"))
	require.Contains(t, cmd.Args, filepath.Join("build", "partition_table", "partition-table.bin"))
	require.Len(t, cmd.Args, len(base)+1+6+12)
}

func TestBaseDefaults(t *testing.T) {
	b := Builder{Tool: "esptool", Port: "COM3"}
	require.Equal(t, []string{
		"-p", "COM3", "-b", "460800",
		"--before", "default_reset", "--after", "hard_reset", "--chip", "esp32",
	}, b.Base())

	b.Chip = ChipESP32S3
	b.Baud = 921600
	require.Contains(t, b.Base(), "esp32s3")
	require.Contains(t, b.Base(), "921600")
}

func TestCommandString(t *testing.T) {
	require.Equal(t,
		"esptool.py -p /dev/ttyUSB0 -b 460800 --before default_reset --after hard_reset --chip esp32 run",
		builder.Reset().String())
}

func TestParseChip(t *testing.T) {
	for in, want := range map[string]Chip{
		"esp32":    ChipESP32,
		"ESP32-S2": ChipESP32S2,
		"esp32s3":  ChipESP32S3,
		" esp32c3": ChipESP32C3,
	} {
		got, err := ParseChip(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got)
	}
	_, err := ParseChip("esp8266")
	require.ErrorContains(t, err, "unsupported chip")
	require.Equal(t, "ESP32-C3", ChipESP32C3.String())
}

func TestLookPath(t *testing.T) {
	only := func(found string) func(string) (string, error) {
		return func(name string) (string, error) {
			if name == found {
				return "/usr/bin/" + name, nil
			}
			return "", errors.New("not found")
		}
	}

	name, ok := LookPath(only("esptool"))
	require.True(t, ok)
	require.Equal(t, "esptool", name)

	name, ok = LookPath(only("esptool.py"))
	require.True(t, ok)
	require.Equal(t, "esptool.py", name)

	_, ok = LookPath(only("nothing"))
	require.False(t, ok)
}
