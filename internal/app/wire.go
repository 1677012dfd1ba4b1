package app

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"

	"gwflasher/internal/build"
	"gwflasher/internal/cache"
	"gwflasher/internal/config"
	"gwflasher/internal/fetch"
	"gwflasher/internal/github"
	"gwflasher/internal/logging"
	"gwflasher/internal/portcat"
	"gwflasher/internal/prompt"
	"gwflasher/internal/runner"
	"gwflasher/internal/source"
	"gwflasher/internal/uart"
)

// Wire builds an App from the real components.
func Wire(ctx context.Context, cfg config.Config, log *slog.Logger, stdin *os.File, stdout io.Writer, stderr *os.File) *App {
	run := runner.New(log)
	var progress io.Writer
	if logging.IsTerminal(stderr) {
		progress = stderr
	}

	opts := []uart.Option{uart.WithBaud(cfg.UARTBaud)}
	if cfg.LogToConsole {
		opts = append(opts, uart.WithConsole(stdout))
	}

	return New(cfg, log, Deps{
		Fetcher: &lazyFetcher{open: func() (*fetch.Fetcher, error) {
			store, err := cache.Open(cfg.ReleasesDir, log)
			if err != nil {
				return nil, err
			}
			gh := github.New(ctx, github.Config{
				APIBase: cfg.GitHubAPI,
				WebBase: cfg.GitHubWeb,
				Repo:    cfg.Repo,
				Token:   cfg.GitHubToken,
				Retries: uint64(cfg.Retries),
			}, log)
			return fetch.New(store, gh, fetch.Options{
				ArtifactName: cfg.ArtifactName,
				Progress:     progress,
			}, log), nil
		}},
		Ports:   portcat.NewCatalog(log),
		Exec:    run,
		Build:   build.New(run, cfg.BuildDir, log),
		UART:    uart.New(log, opts...),
		Confirm: prompt.New(cfg.NonInteractive, stdin, stderr),
		Stdout:  stdout,
	})
}

// lazyFetcher opens the cache on first use.
type lazyFetcher struct {
	open func() (*fetch.Fetcher, error)

	once sync.Once
	f    *fetch.Fetcher
	err  error
}

func (l *lazyFetcher) Fetch(ctx context.Context, src source.Source) (string, error) {
	l.once.Do(func() { l.f, l.err = l.open() })
	if l.err != nil {
		return "", l.err
	}
	return l.f.Fetch(ctx, src)
}
