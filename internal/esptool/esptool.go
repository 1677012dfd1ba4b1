// Package esptool builds command lines for the esptool flashing utility.
package esptool

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"gwflasher/internal/cache"
)

// Flash layout of the gateway firmware.
const (
	OffsetBootloader     uint32 = 0x1000
	OffsetPartitionTable uint32 = 0x8000
	OffsetOTAData        uint32 = 0xd000
	OffsetApplication    uint32 = 0x100000
	OffsetFilesystemGWUI uint32 = 0x500000
	OffsetFilesystemNRF  uint32 = 0x5c0000
)

// DefaultBaud is the flashing baud rate.
const DefaultBaud = 460800

// ToolNames are looked up on PATH in this order.
var ToolNames = []string{"esptool.py", "esptool"}

// Image is one file written at a flash offset.
type Image struct {
	Offset uint32
	Path   string
}

// CacheLayout is the full image set of a cache entry directory.
func CacheLayout(dir string) []Image {
	return []Image{
		{OffsetBootloader, filepath.Join(dir, cache.Bootloader)},
		{OffsetPartitionTable, filepath.Join(dir, cache.PartitionTable)},
		{OffsetOTAData, filepath.Join(dir, cache.OTAData)},
		{OffsetApplication, filepath.Join(dir, cache.Application)},
		{OffsetFilesystemGWUI, filepath.Join(dir, cache.FilesystemGWUI)},
		{OffsetFilesystemNRF, filepath.Join(dir, cache.FilesystemNRF)},
	}
}

// BuildLayout is the full image set of a local build directory, where the
// bootloader and partition table stay in their component subdirectories.
func BuildLayout(buildDir string) []Image {
	return []Image{
		{OffsetBootloader, filepath.Join(buildDir, "binaries_v1.9.2", cache.Bootloader)},
		{OffsetPartitionTable, filepath.Join(buildDir, "partition_table", cache.PartitionTable)},
		{OffsetOTAData, filepath.Join(buildDir, cache.OTAData)},
		{OffsetApplication, filepath.Join(buildDir, cache.Application)},
		{OffsetFilesystemGWUI, filepath.Join(buildDir, cache.FilesystemGWUI)},
		{OffsetFilesystemNRF, filepath.Join(buildDir, cache.FilesystemNRF)},
	}
}

// RestrictedLayout writes only the images that change while iterating on
// the application.
func RestrictedLayout(buildDir string) []Image {
	return []Image{
		{OffsetOTAData, filepath.Join(buildDir, cache.OTAData)},
		{OffsetApplication, filepath.Join(buildDir, cache.Application)},
	}
}

// Command is a tool invocation.
type Command struct {
	Name string
	Args []string
}

func (c Command) String() string {
	return c.Name + " " + strings.Join(c.Args, " ")
}

// Builder produces esptool invocations for one device.
type Builder struct {
	Tool string
	Port string
	Baud int
	Chip Chip
}

// Base is the argument prefix shared by every subcommand.
func (b Builder) Base() []string {
	baud := b.Baud
	if baud == 0 {
		baud = DefaultBaud
	}
	chip := b.Chip
	if chip == ChipUnknown {
		chip = ChipESP32
	}
	return []string{
		"-p", b.Port,
		"-b", fmt.Sprint(baud),
		"--before", "default_reset",
		"--after", "hard_reset",
		"--chip", chip.Target(),
	}
}

// Erase erases the whole flash.
func (b Builder) Erase() Command {
	return b.command("erase_flash")
}

// Write flashes images in the given order.
func (b Builder) Write(images []Image) Command {
	args := []string{"--flash_mode", "dio", "--flash_size", "detect", "--flash_freq", "40m"}
	for _, img := range images {
		args = append(args, fmt.Sprintf("%#x", img.Offset), img.Path)
	}
	return b.command("write_flash", args...)
}

// Reset restarts the chip into the application.
func (b Builder) Reset() Command {
	return b.command("run")
}

func (b Builder) command(sub string, extra ...string) Command {
	args := append(b.Base(), sub)
	return Command{Name: b.Tool, Args: append(args, extra...)}
}

// LookPath returns the first tool from ToolNames found on PATH.
func LookPath(look func(string) (string, error)) (string, bool) {
	if look == nil {
		look = exec.LookPath
	}
	for _, name := range ToolNames {
		if _, err := look(name); err == nil {
			return name, true
		}
	}
	return "", false
}
