// Package app runs one gwflash invocation: validate, resolve and fetch the
// firmware, build, flash, reset and capture the UART log, in that order.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gwflasher/internal/build"
	"gwflasher/internal/config"
	"gwflasher/internal/esptool"
	"gwflasher/internal/fetch"
	"gwflasher/internal/portcat"
	"gwflasher/internal/source"
	"gwflasher/internal/uart"
	"gwflasher/internal/validate"
)

// ErrAborted is returned when the operator declines to continue.
var ErrAborted = errors.New("aborted by user")

// Fetcher populates the firmware cache.
type Fetcher interface {
	Fetch(ctx context.Context, src source.Source) (string, error)
}

// PortSelector picks the serial port.
type PortSelector interface {
	Select(explicit, env string) (portcat.SerialPortRef, error)
}

// Executor runs external tools.
type Executor interface {
	Run(ctx context.Context, dir, name string, args ...string) error
}

// Builder builds the firmware locally.
type Builder interface {
	Dir() string
	Incremental(ctx context.Context) error
	Full(ctx context.Context) error
	FullToolAvailable() bool
}

// UART captures the device log and resets it without esptool.
type UART interface {
	Capture(ctx context.Context, port string, dst io.Writer) error
	Reset(port string) error
}

// Confirmer asks the operator to go ahead.
type Confirmer interface {
	Confirm(ctx context.Context, reason string) (bool, error)
}

// Deps are the collaborators of an App.
type Deps struct {
	Fetcher  Fetcher
	Ports    PortSelector
	Exec     Executor
	Build    Builder
	UART     UART
	Confirm  Confirmer
	Stdout   io.Writer
	LookTool func() (string, bool)
	Now      func() time.Time
}

// App is a configured run.
type App struct {
	cfg        config.Config
	log        *slog.Logger
	classifier *source.Classifier
	Deps
}

// New creates an App.
func New(cfg config.Config, log *slog.Logger, deps Deps) *App {
	if deps.LookTool == nil {
		deps.LookTool = func() (string, bool) { return esptool.LookPath(nil) }
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Stdout == nil {
		deps.Stdout = os.Stdout
	}
	return &App{
		cfg:        cfg,
		log:        log,
		classifier: source.NewClassifier(cfg.GitHubWeb, cfg.Repo),
		Deps:       deps,
	}
}

func (a *App) flags() validate.Flags {
	return validate.Flags{
		FirmwareRef:     a.cfg.FirmwareRef,
		Erase:           a.cfg.EraseFlash,
		Reset:           a.cfg.Reset,
		CompileAndFlash: a.cfg.CompileAndFlash,
		CompileOnly:     a.cfg.CompileOnly,
		DownloadOnly:    a.cfg.DownloadOnly,
		LogUART:         a.cfg.LogUART,
		PrintPort:       a.cfg.PrintPort,
	}
}

// Run executes the pipeline. Nothing touches the disk, network or device
// before the flags have been validated.
func (a *App) Run(ctx context.Context) error {
	plan, err := validate.Validate(a.classifier, a.flags())
	if err != nil {
		return err
	}
	a.log.Debug("Plan", "mode", plan.Mode.String(), "source", plan.Source.String())

	var port portcat.SerialPortRef
	if plan.Mode.NeedsDevice() && !plan.Mode.Has(validate.DownloadOnly) {
		if port, err = a.selectPort(ctx); err != nil {
			return err
		}
	}
	if plan.Mode.Has(validate.PrintPort) {
		fmt.Fprintln(a.Stdout, port.Path)
		return nil
	}

	var fwDir string
	if source.IsRemote(plan.Source) {
		if fwDir, err = a.fetch(ctx, plan.Source); err != nil {
			return err
		}
	}
	if plan.Mode.Has(validate.DownloadOnly) {
		a.log.Info("Firmware downloaded", "path", fwDir)
		return nil
	}

	if plan.Mode.Has(validate.CompileOnly) {
		return a.fullBuild(ctx)
	}

	tool, nativeReset, err := a.flashTool(ctx, plan.Mode)
	if err != nil {
		return err
	}
	chip, err := esptool.ParseChip(a.cfg.Chip)
	if err != nil {
		return err
	}
	esp := esptool.Builder{Tool: tool, Port: port.Path, Baud: a.cfg.Baud, Chip: chip}

	if plan.Mode.Has(validate.EraseOnly) {
		if err := a.run(ctx, esp.Erase()); err != nil {
			return err
		}
	}

	if plan.Mode.Flashes() {
		images, err := a.images(ctx, plan, fwDir)
		if err != nil {
			return err
		}
		if err := a.run(ctx, esp.Write(images)); err != nil {
			return err
		}
	}

	if plan.Mode.Has(validate.ResetOnly) {
		if nativeReset {
			if err := a.UART.Reset(port.Path); err != nil {
				return err
			}
		} else if err := a.run(ctx, esp.Reset()); err != nil {
			return err
		}
	}

	if plan.Mode.Has(validate.LogOnly) {
		return a.captureUART(ctx, port.Path)
	}
	return nil
}

func (a *App) selectPort(ctx context.Context) (portcat.SerialPortRef, error) {
	ref, err := a.Ports.Select(a.cfg.Port, a.cfg.EnvPort)
	var unavailable *portcat.DeviceUnavailableError
	if errors.As(err, &unavailable) {
		a.log.Error(unavailable.Error())
		ok, cerr := a.Confirm.Confirm(ctx, fmt.Sprintf("Serial port %s is not available.", ref.Path))
		if cerr != nil {
			return ref, cerr
		}
		if !ok {
			return ref, unavailable
		}
		a.log.Warn("Continuing with unavailable serial port", "port", ref.Path)
		return ref, nil
	}
	return ref, err
}

func (a *App) fetch(ctx context.Context, src source.Source) (string, error) {
	dir, err := a.Fetcher.Fetch(ctx, src)
	var unknown *fetch.UnknownVersionError
	if errors.As(err, &unknown) {
		a.log.Info(fmt.Sprintf("Available releases: %v", unknown.Known))
	}
	return dir, err
}

// flashTool finds esptool. When it is missing and the operator agrees to
// go on, a reset-only run falls back to toggling the modem lines.
func (a *App) flashTool(ctx context.Context, mode validate.Mode) (string, bool, error) {
	if !mode.Has(validate.EraseOnly) && !mode.Flashes() && !mode.Has(validate.ResetOnly) {
		return "", false, nil
	}
	if tool, ok := a.LookTool(); ok {
		return tool, false, nil
	}
	a.log.Error("esptool.py is not installed or not on PATH")
	ok, err := a.Confirm.Confirm(ctx, "")
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, ErrAborted
	}
	resetOnly := mode.Has(validate.ResetOnly) && !mode.Has(validate.EraseOnly) && !mode.Flashes()
	return esptool.ToolNames[0], resetOnly, nil
}

func (a *App) images(ctx context.Context, plan validate.Plan, fwDir string) ([]esptool.Image, error) {
	switch {
	case plan.Mode.Has(validate.BuildAndFlash):
		err := a.Build.Incremental(ctx)
		if errors.Is(err, build.ErrNoBuildDir) {
			a.log.Warn("Build directory not found, running a full build", "dir", a.Build.Dir())
			if err := a.fullBuild(ctx); err != nil {
				return nil, err
			}
			return esptool.BuildLayout(a.Build.Dir()), nil
		}
		if err != nil {
			return nil, err
		}
		return esptool.RestrictedLayout(a.Build.Dir()), nil
	case plan.Mode.Has(validate.FlashLocal):
		if err := a.fullBuild(ctx); err != nil {
			return nil, err
		}
		return esptool.BuildLayout(a.Build.Dir()), nil
	default:
		return esptool.CacheLayout(fwDir), nil
	}
}

func (a *App) fullBuild(ctx context.Context) error {
	if !a.Build.FullToolAvailable() {
		a.log.Error("idf.py is not installed or not on PATH, run the ESP-IDF export script first")
		ok, err := a.Confirm.Confirm(ctx, "")
		if err != nil {
			return err
		}
		if !ok {
			return ErrAborted
		}
	}
	return a.Build.Full(ctx)
}

func (a *App) run(ctx context.Context, cmd esptool.Command) error {
	return a.Exec.Run(ctx, "", cmd.Name, cmd.Args...)
}

func (a *App) captureUART(ctx context.Context, port string) error {
	if err := os.MkdirAll(a.cfg.LogDir, 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	name := uart.FileName(a.cfg.LogDir, a.Now())
	f, err := os.Create(name)
	if err != nil {
		return fmt.Errorf("failed to create UART log file: %w", err)
	}
	defer f.Close()
	a.log.Info("Saving UART log", "file", name)

	err = a.UART.Capture(ctx, port, f)
	var disconnected *uart.SerialDisconnectError
	if errors.As(err, &disconnected) {
		a.log.Error(disconnected.Error())
		return nil
	}
	return err
}
