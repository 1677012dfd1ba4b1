package validate

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"gwflasher/internal/source"
)

func classifier() *source.Classifier {
	return source.NewClassifier("https://github.com", "ruuvi/ruuvi.gateway_esp.c")
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name    string
		flags   Flags
		message string
	}{
		{"skip alone", Flags{FirmwareRef: "-"}, "nothing to do"},
		{"download only with skip", Flags{FirmwareRef: "-", DownloadOnly: true, Reset: true}, "download-only requires"},
		{"download only with build", Flags{FirmwareRef: "build", DownloadOnly: true}, "download-only requires"},
		{"download only and erase", Flags{FirmwareRef: "v1.15.0", DownloadOnly: true, Erase: true}, "mutually exclusive"},
		{"download only and print-port", Flags{FirmwareRef: "v1.15.0", DownloadOnly: true, PrintPort: true}, "download-only and print-port"},
		{"padded skip alone", Flags{FirmwareRef: " - "}, "nothing to do"},
		{"padded build with download only", Flags{FirmwareRef: "build\n", DownloadOnly: true}, "download-only requires"},
		{"erase and compile-and-flash", Flags{FirmwareRef: "build", Erase: true, CompileAndFlash: true}, "erase-flash and compile-and-flash"},
		{"compile-only and compile-and-flash", Flags{FirmwareRef: "build", CompileOnly: true, CompileAndFlash: true}, "compile-only and compile-and-flash"},
		{"erase and log", Flags{FirmwareRef: "v1.15.0", Erase: true, LogUART: true}, "erase-flash and log-uart"},
		{"compile-and-flash with release", Flags{FirmwareRef: "v1.15.0", CompileAndFlash: true}, "compile-and-flash must be used"},
		{"compile-only with skip", Flags{FirmwareRef: "-", CompileOnly: true, Reset: true}, "compile-only must be used"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := Validate(classifier(), tt.flags)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "want *ValidationError, got %v", err)
			require.Contains(t, verr.Error(), tt.message)
			require.Equal(t, Plan{}, plan)
		})
	}
}

func TestValidateReportsFirstViolation(t *testing.T) {
	// Violates both the download-only/erase rule and the erase/log rule.
	_, err := Validate(classifier(), Flags{FirmwareRef: "v1", DownloadOnly: true, Erase: true, LogUART: true})
	require.ErrorContains(t, err, "download-only and erase-flash")
}

func TestValidateTrimsSentinels(t *testing.T) {
	plan, err := Validate(classifier(), Flags{FirmwareRef: " build", CompileAndFlash: true})
	require.NoError(t, err)
	require.Equal(t, Plan{Mode: BuildAndFlash, Source: source.LocalBuild{}}, plan)

	plan, err = Validate(classifier(), Flags{FirmwareRef: "\t-\t", Reset: true})
	require.NoError(t, err)
	require.Equal(t, Plan{Mode: ResetOnly, Source: source.Skip{}}, plan)
}

func TestValidateModes(t *testing.T) {
	tests := []struct {
		name  string
		flags Flags
		mode  Mode
		src   source.Source
	}{
		{"flash release", Flags{FirmwareRef: "v1.15.0"}, FlashRelease, source.ReleaseTag{Version: "v1.15.0"}},
		{"erase and flash release", Flags{FirmwareRef: "v1.15.0", Erase: true}, EraseOnly | FlashRelease, source.ReleaseTag{Version: "v1.15.0"}},
		{"download release", Flags{FirmwareRef: "v1.15.0", DownloadOnly: true}, DownloadOnly, source.ReleaseTag{Version: "v1.15.0"}},
		{"flash run", Flags{FirmwareRef: "8187982688"}, FlashArtifact, source.ActionsArtifact{RunID: "8187982688"}},
		{"erase only", Flags{FirmwareRef: "-", Erase: true}, EraseOnly, source.Skip{}},
		{"reset and log", Flags{FirmwareRef: "-", Reset: true, LogUART: true}, ResetOnly | LogOnly, source.Skip{}},
		{"print port", Flags{FirmwareRef: "-", PrintPort: true}, PrintPort, source.Skip{}},
		{"build and flash full", Flags{FirmwareRef: "build"}, FlashLocal, source.LocalBuild{}},
		{"restricted build", Flags{FirmwareRef: "build", CompileAndFlash: true}, BuildAndFlash, source.LocalBuild{}},
		{"compile only", Flags{FirmwareRef: "build", CompileOnly: true}, CompileOnly, source.LocalBuild{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := Validate(classifier(), tt.flags)
			require.NoError(t, err)
			require.Equal(t, tt.mode, plan.Mode)
			require.Equal(t, tt.src, plan.Source)
		})
	}
}

func TestValidatePropagatesParseError(t *testing.T) {
	_, err := Validate(classifier(), Flags{FirmwareRef: "https://example.com/x"})
	var perr *source.ReferenceParseError
	require.True(t, errors.As(err, &perr))
}

func TestModeHelpers(t *testing.T) {
	m := EraseOnly | FlashRelease | ResetOnly
	require.True(t, m.Has(EraseOnly|ResetOnly))
	require.False(t, m.Has(LogOnly))
	require.True(t, m.Flashes())
	require.True(t, m.NeedsDevice())
	require.Equal(t, "erase+flash-release+reset", m.String())

	require.False(t, DownloadOnly.NeedsDevice())
	require.False(t, CompileOnly.NeedsDevice())
	require.Equal(t, "none", Mode(0).String())
}
