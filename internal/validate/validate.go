// Package validate checks operator flags for conflicts before any I/O and
// derives the operation mode of a run.
package validate

import (
	"fmt"
	"strings"

	"gwflasher/internal/source"
)

// Flags are the operator's choices as given on the command line.
type Flags struct {
	FirmwareRef     string
	Erase           bool
	Reset           bool
	CompileAndFlash bool // restricted build-and-flash
	CompileOnly     bool
	DownloadOnly    bool
	LogUART         bool
	PrintPort       bool
}

// Mode is a set of operations performed by one run.
type Mode uint16

const (
	EraseOnly Mode = 1 << iota
	FlashRelease
	FlashArtifact
	FlashLocal
	BuildAndFlash
	CompileOnly
	ResetOnly
	LogOnly
	DownloadOnly
	PrintPort
)

var modeNames = []struct {
	m    Mode
	name string
}{
	{EraseOnly, "erase"},
	{FlashRelease, "flash-release"},
	{FlashArtifact, "flash-artifact"},
	{FlashLocal, "flash-local"},
	{BuildAndFlash, "build-and-flash"},
	{CompileOnly, "compile-only"},
	{ResetOnly, "reset"},
	{LogOnly, "log-uart"},
	{DownloadOnly, "download-only"},
	{PrintPort, "print-port"},
}

// Has reports whether all operations in o are part of m.
func (m Mode) Has(o Mode) bool { return m&o == o }

// Flashes reports whether the run writes firmware images to the device.
func (m Mode) Flashes() bool {
	return m&(FlashRelease|FlashArtifact|FlashLocal|BuildAndFlash) != 0
}

// NeedsDevice reports whether the run talks to the serial device.
func (m Mode) NeedsDevice() bool {
	return m&(EraseOnly|ResetOnly|LogOnly|PrintPort) != 0 || m.Flashes()
}

func (m Mode) String() string {
	var parts []string
	for _, n := range modeNames {
		if m.Has(n.m) {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "+")
}

// Plan is the validated outcome: what to do and with which firmware.
type Plan struct {
	Mode   Mode
	Source source.Source
}

// ValidationError reports conflicting or missing flags.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func fail(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// Validate checks f against the mutual-exclusion and pairing rules and
// classifies the firmware reference. The first violated rule is returned.
// It performs no I/O.
func Validate(c *source.Classifier, f Flags) (Plan, error) {
	f.FirmwareRef = strings.TrimSpace(f.FirmwareRef)
	skip := f.FirmwareRef == source.SkipToken
	build := f.FirmwareRef == source.BuildToken

	if skip && !f.Erase && !f.Reset && !f.LogUART && !f.PrintPort {
		return Plan{}, fail("nothing to do: %q is passed as firmware but none of erase, reset, log-uart or print-port is set", source.SkipToken)
	}
	if f.DownloadOnly && (skip || build) {
		return Plan{}, fail("download-only requires a firmware version or CI reference")
	}
	if f.DownloadOnly && f.Erase {
		return Plan{}, fail("download-only and erase-flash are mutually exclusive")
	}
	if f.DownloadOnly && f.PrintPort {
		return Plan{}, fail("download-only and print-port are mutually exclusive")
	}
	if f.Erase && f.CompileAndFlash {
		return Plan{}, fail("erase-flash and compile-and-flash cannot be used together")
	}
	if f.CompileOnly && f.CompileAndFlash {
		return Plan{}, fail("compile-only and compile-and-flash cannot be used together")
	}
	if f.Erase && f.LogUART {
		return Plan{}, fail("erase-flash and log-uart cannot be used together")
	}
	if f.CompileAndFlash && !build {
		return Plan{}, fail("compile-and-flash must be used with %q as firmware", source.BuildToken)
	}
	if f.CompileOnly && !build {
		return Plan{}, fail("compile-only must be used with %q as firmware", source.BuildToken)
	}

	src, err := c.Classify(f.FirmwareRef)
	if err != nil {
		return Plan{}, err
	}

	var m Mode
	if f.Erase {
		m |= EraseOnly
	}
	if f.Reset {
		m |= ResetOnly
	}
	if f.LogUART {
		m |= LogOnly
	}
	if f.PrintPort {
		m |= PrintPort
	}
	switch src.(type) {
	case source.ReleaseTag:
		if f.DownloadOnly {
			m |= DownloadOnly
		} else {
			m |= FlashRelease
		}
	case source.ActionsArtifact:
		if f.DownloadOnly {
			m |= DownloadOnly
		} else {
			m |= FlashArtifact
		}
	case source.LocalBuild:
		switch {
		case f.CompileOnly:
			m |= CompileOnly
		case f.CompileAndFlash:
			m |= BuildAndFlash
		default:
			m |= FlashLocal
		}
	}
	return Plan{Mode: m, Source: src}, nil
}
