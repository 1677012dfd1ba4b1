// Command gwflash downloads, builds and flashes Ruuvi Gateway firmware and
// captures the gateway's UART log.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"gwflasher/internal/app"
	"gwflasher/internal/config"
	"gwflasher/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// exitError carries an exit status whose cause has already been logged.
type exitError struct {
	code int
}

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

func run(ctx context.Context, args []string, stdin *os.File, stdout io.Writer, stderr *os.File) int {
	cmd := newRootCmd(stdin, stdout, stderr)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var exit *exitError
	if errors.As(err, &exit) {
		return exit.code
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	fmt.Fprintf(stderr, "Run '%s --help' for usage.\n", cmd.CommandPath())
	return 1
}

func newRootCmd(stdin *os.File, stdout io.Writer, stderr *os.File) *cobra.Command {
	var configFile string
	cmd := &cobra.Command{
		Use:   "gwflash <firmware>",
		Short: "Flash Ruuvi Gateway firmware",
		Long: `gwflash flashes Ruuvi Gateway firmware over a serial port.

<firmware> is one of:
  v1.15.0                                      a release tag
  https://github.com/<repo>/actions/runs/<id>  a CI run (needs GITHUB_TOKEN)
  <digits>                                     a CI run id
  build                                        the local ESP-IDF build
  -                                            no firmware, with --erase-flash, --reset, --log-uart or --print-port`,
		Example: `  gwflash v1.15.0 --log-uart
  gwflash build --compile-and-flash -p /dev/ttyUSB0
  gwflash - --erase-flash
  RUUVI_GW_SERIAL_PORT=/dev/ttyUSB1 gwflash - --reset --log-to-console`,
		Args:          cobra.ExactArgs(1),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.New(), cmd.Flags(), configFile)
			if err != nil {
				return err
			}
			cfg.FirmwareRef = args[0]

			var logFile string
			if cfg.Log {
				logFile = logging.FileName(cfg.LogDir, time.Now())
			}
			log, closer, err := logging.New(stderr, logging.Options{
				Verbose: cfg.Verbose,
				NoColor: cfg.NoColor,
				File:    logFile,
			})
			if err != nil {
				return err
			}
			defer closer.Close()

			ctx := cmd.Context()
			err = app.Wire(ctx, cfg, log, stdin, stdout, stderr).Run(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					log.Error("Interrupted")
				} else {
					log.Error(err.Error())
				}
				return &exitError{code: app.ExitCode(err)}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&configFile, "config", "", "config file (yaml, toml or json)")
	config.RegisterFlags(cmd.Flags())
	return cmd
}
