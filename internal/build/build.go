// Package build drives the ESP-IDF build of the gateway firmware.
package build

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
)

// Targets built by an incremental build, in order.
var IncrementalTargets = []string{"ruuvi_gateway_esp.elf", ".bin_timestamp"}

// ErrNoBuildDir means an incremental build was requested before any full
// build produced the build directory.
var ErrNoBuildDir = errors.New("build directory does not exist")

const (
	ninja = "ninja"
	idf   = "idf.py"
)

// Executor runs a command in a directory.
type Executor interface {
	Run(ctx context.Context, dir, name string, args ...string) error
}

// Orchestrator builds the firmware in the current project.
type Orchestrator struct {
	exec     Executor
	buildDir string
	log      *slog.Logger
	lookPath func(string) (string, error)
}

// New creates an Orchestrator for buildDir.
func New(exec Executor, buildDir string, log *slog.Logger) *Orchestrator {
	return &Orchestrator{exec: exec, buildDir: buildDir, log: log}
}

// Dir is the build output directory.
func (o *Orchestrator) Dir() string { return o.buildDir }

// Incremental rebuilds only the application image and its binary
// timestamp inside the existing build directory.
func (o *Orchestrator) Incremental(ctx context.Context) error {
	fi, err := os.Stat(o.buildDir)
	if err != nil || !fi.IsDir() {
		return ErrNoBuildDir
	}
	o.log.Info("Building application image", "dir", o.buildDir)
	for _, target := range IncrementalTargets {
		if err := o.exec.Run(ctx, o.buildDir, ninja, target); err != nil {
			return fmt.Errorf("failed to build %s: %w", target, err)
		}
	}
	return nil
}

// Full runs the complete project build.
func (o *Orchestrator) Full(ctx context.Context) error {
	o.log.Info("Building project")
	if err := o.exec.Run(ctx, "", idf, "build"); err != nil {
		return fmt.Errorf("failed to build project: %w", err)
	}
	return nil
}

// FullToolAvailable reports whether idf.py is on PATH.
func (o *Orchestrator) FullToolAvailable() bool {
	look := o.lookPath
	if look == nil {
		look = exec.LookPath
	}
	_, err := look(idf)
	return err == nil
}
