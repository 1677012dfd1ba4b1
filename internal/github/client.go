// Package github talks to the GitHub REST API and release download host.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"
)

const apiVersion = "2022-11-28"

// Release is the subset of a GitHub release the flasher uses.
type Release struct {
	TagName     string    `json:"tag_name"`
	Name        string    `json:"name"`
	Prerelease  bool      `json:"prerelease"`
	PublishedAt time.Time `json:"published_at"`
}

// Artifact is a CI workflow artifact.
type Artifact struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Expired bool   `json:"expired"`
}

type artifactList struct {
	TotalCount int        `json:"total_count"`
	Artifacts  []Artifact `json:"artifacts"`
}

// RemoteLookupError means release or artifact metadata could not be obtained.
type RemoteLookupError struct {
	What string
	Err  error
}

func (e *RemoteLookupError) Error() string {
	return fmt.Sprintf("could not fetch %s from GitHub: %v", e.What, e.Err)
}

func (e *RemoteLookupError) Unwrap() error { return e.Err }

// StatusError is a non-2xx HTTP response.
type StatusError struct {
	URL    string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Status == http.StatusNotFound {
		return fmt.Sprintf("%s not found", e.URL)
	}
	msg := fmt.Sprintf("HTTP error %d for %s", e.Status, e.URL)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Config configures a Client.
type Config struct {
	APIBase string // https://api.github.com
	WebBase string // https://github.com
	Repo    string // owner/name
	Token   string
	// Retries is the number of attempts per request; 0 means one.
	Retries uint64
	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// Client is safe for sequential use by one run. The release list is fetched
// at most once.
type Client struct {
	cfg  Config
	http *http.Client
	log  *slog.Logger

	mu       sync.Mutex
	releases []Release
}

// New builds a client. With a token every request carries a bearer
// Authorization header.
func New(ctx context.Context, cfg Config, log *slog.Logger) *Client {
	base := cfg.HTTPClient
	if base == nil {
		base = &http.Client{
			Transport: &http.Transport{Proxy: http.ProxyFromEnvironment},
		}
	}
	hc := base
	if cfg.Token != "" {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
		hc = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token}))
	}
	cfg.APIBase = strings.TrimSuffix(cfg.APIBase, "/")
	cfg.WebBase = strings.TrimSuffix(cfg.WebBase, "/")
	return &Client{cfg: cfg, http: hc, log: log}
}

// HasToken reports whether requests are authenticated.
func (c *Client) HasToken() bool { return c.cfg.Token != "" }

// Releases returns the repository's releases, newest first.
func (c *Client) Releases(ctx context.Context) ([]Release, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.releases != nil {
		return c.releases, nil
	}
	u := fmt.Sprintf("%s/repos/%s/releases?per_page=100", c.cfg.APIBase, c.cfg.Repo)
	var releases []Release
	if err := c.getJSON(ctx, u, &releases); err != nil {
		return nil, &RemoteLookupError{What: "releases", Err: err}
	}
	if releases == nil {
		releases = []Release{}
	}
	c.releases = releases
	return releases, nil
}

// RunArtifacts lists the artifacts produced by a workflow run.
func (c *Client) RunArtifacts(ctx context.Context, runID string) ([]Artifact, error) {
	u := fmt.Sprintf("%s/repos/%s/actions/runs/%s/artifacts?per_page=100", c.cfg.APIBase, c.cfg.Repo, url.PathEscape(runID))
	var list artifactList
	if err := c.getJSON(ctx, u, &list); err != nil {
		return nil, &RemoteLookupError{What: "artifacts of run " + runID, Err: c.authHint(err)}
	}
	return list.Artifacts, nil
}

// ReleaseAssetURL is the direct download URL of one release file.
func (c *Client) ReleaseAssetURL(tag, file string) string {
	return fmt.Sprintf("%s/%s/releases/download/%s/%s", c.cfg.WebBase, c.cfg.Repo, url.PathEscape(tag), url.PathEscape(file))
}

// ArtifactArchiveURL is the zip download URL of an artifact.
func (c *Client) ArtifactArchiveURL(artifactID string) string {
	return fmt.Sprintf("%s/repos/%s/actions/artifacts/%s/zip", c.cfg.APIBase, c.cfg.Repo, url.PathEscape(artifactID))
}

// Download streams rawURL into the writer returned by open. open is called
// once per attempt so that a retry starts from an empty destination; size is
// the Content-Length or -1. 404 and auth failures are not retried.
func (c *Client) Download(ctx context.Context, rawURL string, open func(size int64) (io.WriteCloser, error)) (int64, error) {
	var written int64
	op := func() error {
		n, err := c.downloadOnce(ctx, rawURL, open)
		written = n
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		var se *StatusError
		if errors.As(err, &se) && se.Status >= 400 && se.Status < 500 && se.Status != http.StatusTooManyRequests {
			return backoff.Permanent(c.authHint(err))
		}
		return err
	}
	notify := func(err error, d time.Duration) {
		c.log.Warn("Download failed, retrying", "url", rawURL, "err", err, "in", d.Round(time.Millisecond))
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxElapsedTime = 2 * time.Minute
	if err := backoff.RetryNotify(op, backoff.WithContext(c.limit(b), ctx), notify); err != nil {
		return written, err
	}
	return written, nil
}

func (c *Client) downloadOnce(ctx context.Context, rawURL string, open func(size int64) (io.WriteCloser, error)) (int64, error) {
	resp, err := c.get(ctx, rawURL, "application/octet-stream")
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	w, err := open(resp.ContentLength)
	if err != nil {
		return 0, errors.Wrap(err, "failed to open destination")
	}
	n, err := io.Copy(w, resp.Body)
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, errors.Wrapf(err, "failed to read %s", rawURL)
	}
	return n, nil
}

func (c *Client) getJSON(ctx context.Context, rawURL string, v any) error {
	op := func() error {
		resp, err := c.get(ctx, rawURL, "application/vnd.github+json")
		if err != nil {
			var se *StatusError
			if ctx.Err() != nil || (errors.As(err, &se) && se.Status < 500) {
				return backoff.Permanent(err)
			}
			return err
		}
		defer resp.Body.Close()
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			return backoff.Permanent(errors.Wrap(err, "failed to decode response"))
		}
		return nil
	}
	b := backoff.WithContext(c.limit(backoff.NewExponentialBackOff()), ctx)
	return backoff.Retry(op, b)
}

// limit caps b so that a request is tried at most Retries times in total.
func (c *Client) limit(b backoff.BackOff) backoff.BackOff {
	n := c.cfg.Retries
	if n > 0 {
		n--
	}
	return backoff.WithMaxRetries(b, n)
}

func (c *Client) get(ctx context.Context, rawURL, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{URL: rawURL, Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return resp, nil
}

func (c *Client) authHint(err error) error {
	var se *StatusError
	if !c.HasToken() && errors.As(err, &se) && (se.Status == http.StatusUnauthorized || se.Status == http.StatusForbidden) {
		return errors.Wrap(err, "set GITHUB_TOKEN to access CI artifacts")
	}
	return err
}
