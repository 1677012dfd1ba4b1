// Package fetch populates cache entries from GitHub releases and CI
// artifacts.
package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/schollz/progressbar/v3"

	"gwflasher/internal/cache"
	"gwflasher/internal/github"
	"gwflasher/internal/source"
)

// Archive members that live one level too deep in CI artifacts.
var relocations = []string{
	"binaries_v1.9.2/" + cache.Bootloader,
	"partition_table/" + cache.PartitionTable,
}

const archiveName = "artifact.zip"

// Remote is the subset of the GitHub client the fetcher uses.
type Remote interface {
	Releases(ctx context.Context) ([]github.Release, error)
	RunArtifacts(ctx context.Context, runID string) ([]github.Artifact, error)
	ReleaseAssetURL(tag, file string) string
	ArtifactArchiveURL(artifactID string) string
	Download(ctx context.Context, rawURL string, open func(size int64) (io.WriteCloser, error)) (int64, error)
}

// FetchError is any download or extraction failure. The cache entry it was
// populating has been discarded when it is returned.
type FetchError struct {
	Source source.Source
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch %s: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// UnknownVersionError is returned for a release tag GitHub does not know.
type UnknownVersionError struct {
	Version string
	Known   []string
}

func (e *UnknownVersionError) Error() string {
	return fmt.Sprintf("unknown firmware version %s", e.Version)
}

// Options configure a Fetcher.
type Options struct {
	// ArtifactName selects the artifact of a CI run.
	ArtifactName string
	// Progress receives download progress bars. Nil disables them.
	Progress io.Writer
}

// Fetcher downloads firmware into a cache.Store.
type Fetcher struct {
	store  *cache.Store
	remote Remote
	opts   Options
	log    *slog.Logger
}

// New creates a Fetcher.
func New(store *cache.Store, remote Remote, opts Options, log *slog.Logger) *Fetcher {
	return &Fetcher{store: store, remote: remote, opts: opts, log: log}
}

// Fetch makes sure the cache entry for src is complete and returns its
// directory. A complete entry is returned without any network access; an
// incomplete one is deleted and fetched again in full.
func (f *Fetcher) Fetch(ctx context.Context, src source.Source) (string, error) {
	if !source.IsRemote(src) {
		return "", fmt.Errorf("nothing to fetch for %s", src)
	}
	key := src.CacheKey()
	if f.store.Complete(key) {
		f.log.Info("Firmware found in cache", "source", src.String(), "path", f.store.Path(key))
		return f.store.Path(key), nil
	}
	if f.store.Exists(key) {
		f.log.Warn("Cached firmware is incomplete, downloading again",
			"path", f.store.Path(key), "missing", f.store.Missing(key))
		if err := f.store.Remove(key); err != nil {
			return "", &FetchError{Source: src, Err: err}
		}
	}

	switch s := src.(type) {
	case source.ReleaseTag:
		return f.fetchRelease(ctx, s)
	case source.ActionsArtifact:
		return f.fetchArtifact(ctx, s)
	}
	return "", fmt.Errorf("unsupported source %s", src)
}

// KnownVersions lists release tags, newest first.
func (f *Fetcher) KnownVersions(ctx context.Context) ([]string, error) {
	releases, err := f.remote.Releases(ctx)
	if err != nil {
		return nil, err
	}
	return lo.Map(releases, func(r github.Release, _ int) string { return r.TagName }), nil
}

func (f *Fetcher) fetchRelease(ctx context.Context, rel source.ReleaseTag) (string, error) {
	known, err := f.KnownVersions(ctx)
	if err != nil {
		return "", err
	}
	if !lo.Contains(known, rel.Version) {
		return "", &UnknownVersionError{Version: rel.Version, Known: known}
	}

	tx, err := f.store.Begin(rel.CacheKey())
	if err != nil {
		return "", &FetchError{Source: rel, Err: err}
	}
	defer tx.Rollback()

	f.log.Info("Downloading release", "version", rel.Version, "to", f.store.Path(rel.CacheKey()))
	for _, name := range cache.RequiredFiles {
		u := f.remote.ReleaseAssetURL(rel.Version, name)
		if err := f.download(ctx, u, filepath.Join(tx.Dir(), name), name); err != nil {
			return "", &FetchError{Source: rel, Err: err}
		}
	}
	dir, err := tx.Commit()
	if err != nil {
		return "", &FetchError{Source: rel, Err: err}
	}
	f.log.Info("Release downloaded", "version", rel.Version, "path", dir)
	return dir, nil
}

func (f *Fetcher) fetchArtifact(ctx context.Context, art source.ActionsArtifact) (string, error) {
	id := art.ArtifactID
	if id == "" {
		resolved, err := f.resolveArtifact(ctx, art.RunID)
		if err != nil {
			return "", err
		}
		id = resolved
	}

	tx, err := f.store.Begin(art.CacheKey())
	if err != nil {
		return "", &FetchError{Source: art, Err: err}
	}
	defer tx.Rollback()

	archive := filepath.Join(tx.Dir(), archiveName)
	f.log.Info("Downloading CI artifact", "artifact", id, "run", art.RunID)
	if err := f.download(ctx, f.remote.ArtifactArchiveURL(id), archive, "artifact "+id); err != nil {
		return "", &FetchError{Source: art, Err: err}
	}
	if err := extract(archive, tx.Dir()); err != nil {
		return "", &FetchError{Source: art, Err: err}
	}
	if err := os.Remove(archive); err != nil {
		return "", &FetchError{Source: art, Err: err}
	}
	if err := relocate(tx.Dir()); err != nil {
		return "", &FetchError{Source: art, Err: err}
	}
	dir, err := tx.Commit()
	if err != nil {
		return "", &FetchError{Source: art, Err: err}
	}
	f.log.Info("CI artifact downloaded", "artifact", id, "path", dir)
	return dir, nil
}

func (f *Fetcher) resolveArtifact(ctx context.Context, runID string) (string, error) {
	arts, err := f.remote.RunArtifacts(ctx, runID)
	if err != nil {
		return "", err
	}
	a, ok := lo.Find(arts, func(a github.Artifact) bool { return a.Name == f.opts.ArtifactName })
	if !ok {
		names := lo.Map(arts, func(a github.Artifact, _ int) string { return a.Name })
		return "", &github.RemoteLookupError{
			What: fmt.Sprintf("artifact %s of run %s", f.opts.ArtifactName, runID),
			Err:  errors.Errorf("not found, run has %v", names),
		}
	}
	if a.Expired {
		return "", &github.RemoteLookupError{
			What: fmt.Sprintf("artifact %s of run %s", f.opts.ArtifactName, runID),
			Err:  errors.New("artifact has expired"),
		}
	}
	id := strconv.FormatInt(a.ID, 10)
	f.log.Debug("Resolved CI artifact", "run", runID, "artifact", id)
	return id, nil
}

func (f *Fetcher) download(ctx context.Context, rawURL, dst, label string) error {
	f.log.Debug("GET", "url", rawURL)
	_, err := f.remote.Download(ctx, rawURL, func(size int64) (io.WriteCloser, error) {
		file, err := os.Create(dst)
		if err != nil {
			return nil, err
		}
		return &progressFile{file: file, bar: f.newBar(size, label)}, nil
	})
	return err
}

func (f *Fetcher) newBar(size int64, label string) *progressbar.ProgressBar {
	if f.opts.Progress == nil {
		return progressbar.DefaultBytesSilent(size, label)
	}
	return progressbar.NewOptions64(size,
		progressbar.OptionSetWriter(f.opts.Progress),
		progressbar.OptionSetDescription(label),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(30),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}

type progressFile struct {
	file *os.File
	bar  *progressbar.ProgressBar
}

func (p *progressFile) Write(b []byte) (int, error) {
	n, err := p.file.Write(b)
	_ = p.bar.Add(n)
	return n, err
}

func (p *progressFile) Close() error {
	_ = p.bar.Finish()
	return p.file.Close()
}

func extract(archive, dst string) error {
	r, err := zip.OpenReader(archive)
	if err != nil {
		return errors.Wrap(err, "failed to open archive")
	}
	defer r.Close()

	root := filepath.Clean(dst) + string(os.PathSeparator)
	for _, zf := range r.File {
		target := filepath.Join(dst, zf.Name)
		if !strings.HasPrefix(target, root) {
			return errors.Errorf("archive entry %q escapes the destination", zf.Name)
		}
		if zf.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := extractFile(zf, target); err != nil {
			return errors.Wrapf(err, "failed to extract %s", zf.Name)
		}
	}
	return nil
}

func extractFile(zf *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	rc, err := zf.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func relocate(dir string) error {
	for _, rel := range relocations {
		from := filepath.Join(dir, filepath.FromSlash(rel))
		if _, err := os.Stat(from); err != nil {
			continue
		}
		to := filepath.Join(dir, filepath.Base(from))
		if err := os.Rename(from, to); err != nil {
			return errors.Wrapf(err, "failed to move %s", rel)
		}
	}
	for _, rel := range relocations {
		sub := filepath.Join(dir, filepath.FromSlash(rel[:strings.IndexByte(rel, '/')]))
		if err := os.RemoveAll(sub); err != nil {
			return err
		}
	}
	return nil
}
