/*
Package data fetches the data packages a part ships inside its image.

A url source is downloaded over HTTP, relative URLs resolving against the
public data bucket. A repo source is cloned into the workspace, unless a clone
of the same name is already there, and its data/ directory copied.
*/
package data

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jpillora/backoff"

	"github.com/phovea/productbuild/internal/cache"
	"github.com/phovea/productbuild/internal/checksum"
	"github.com/phovea/productbuild/internal/fsutil"
	"github.com/phovea/productbuild/internal/product"
	"github.com/phovea/productbuild/internal/repo"
)

const (
	defaultAttempts = 4
	defaultMinWait  = 500 * time.Millisecond
	defaultMaxWait  = 10 * time.Second
)

// NetworkError is returned when a download fails for good.
type NetworkError struct {
	URL        string
	StatusCode int
	Attempts   int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("download %s failed after %d attempt(s): server returned %d", e.URL, e.Attempts, e.StatusCode)
	}
	return fmt.Sprintf("download %s failed after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Cloner clones a repository into dir and returns the checkout path.
type Cloner interface {
	Clone(ctx context.Context, ref product.RepoRef, dir string) (string, error)
}

// Downloader fetches data sources.
type Downloader struct {
	client   *http.Client
	baseURL  string
	cloner   Cloner
	resolver repo.Resolver
	cache    *cache.Cache
	attempts int
	minWait  time.Duration
	maxWait  time.Duration
}

// Option configures a Downloader.
type Option func(*Downloader)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(d *Downloader) {
		d.client = client
	}
}

// WithCache reuses downloads kept in c.
func WithCache(c *cache.Cache) Option {
	return func(d *Downloader) {
		d.cache = c
	}
}

// WithRetries sets the number of attempts and the backoff bounds between them.
func WithRetries(attempts int, minWait, maxWait time.Duration) Option {
	return func(d *Downloader) {
		d.attempts = attempts
		d.minWait = minWait
		d.maxWait = maxWait
	}
}

// NewDownloader creates a Downloader resolving relative URLs against baseURL.
func NewDownloader(baseURL string, cloner Cloner, resolver repo.Resolver, opts ...Option) *Downloader {
	d := &Downloader{
		client:   http.DefaultClient,
		baseURL:  baseURL,
		cloner:   cloner,
		resolver: resolver,
		attempts: defaultAttempts,
		minWait:  defaultMinWait,
		maxWait:  defaultMaxWait,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.attempts < 1 {
		d.attempts = 1
	}
	return d
}

// ResolveURL returns the absolute URL of a url source.
func (d *Downloader) ResolveURL(url string) string {
	if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
		return url
	}
	return strings.TrimSuffix(d.baseURL, "/") + "/" + strings.TrimPrefix(url, "/")
}

// FileName returns the local file name of a url source.
func FileName(url string) string {
	if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
		if i := strings.IndexAny(url, "?#"); i >= 0 {
			url = url[:i]
		}
		return path.Base(url)
	}
	return filepath.FromSlash(url)
}

// Fetch materializes src below destDir and returns the written path.
// workspaceDir is where repo sources are cloned.
func (d *Downloader) Fetch(ctx context.Context, src product.DataSource, destDir, workspaceDir string) (string, error) {
	switch src.Type {
	case product.DataURL, "":
		return d.fetchURL(ctx, src, destDir)
	case product.DataRepo:
		return d.fetchRepo(ctx, src, destDir, workspaceDir)
	default:
		return "", fmt.Errorf("unknown data source type %q", src.Type)
	}
}

func (d *Downloader) fetchURL(ctx context.Context, src product.DataSource, destDir string) (string, error) {
	var digest *checksum.Digest
	if src.Checksum != "" {
		parsed, err := checksum.ParseDigest(src.Checksum)
		if err != nil {
			return "", err
		}
		digest = &parsed
	}

	url := d.ResolveURL(src.URL)
	dest := filepath.Join(destDir, FileName(src.URL))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", err
	}

	key := cache.Key(url, src.Checksum)
	if d.restore(ctx, key, dest, digest) {
		return dest, nil
	}

	log.FromContext(ctx).Info("Downloading data", "url", url)
	if err := d.download(ctx, url, dest); err != nil {
		return "", err
	}

	if digest != nil {
		if err := checksum.Verify(dest, *digest); err != nil {
			os.Remove(dest)
			return "", err
		}
	}
	if d.cache != nil {
		if _, err := d.cache.Put(key, url, dest); err != nil {
			log.FromContext(ctx).Warn("Failed to cache download", "url", url, "error", err)
		}
	}
	return dest, nil
}

// restore copies a cached download to dest. A cached file failing verification is evicted.
func (d *Downloader) restore(ctx context.Context, key, dest string, digest *checksum.Digest) bool {
	if d.cache == nil {
		return false
	}
	logger := log.FromContext(ctx)
	ok, err := d.cache.Restore(key, dest)
	if err != nil {
		logger.Warn("Ignoring cached download", "dest", dest, "error", err)
		return false
	}
	if !ok {
		return false
	}
	if digest != nil {
		if err := checksum.Verify(dest, *digest); err != nil {
			logger.Warn("Evicting cached download", "dest", dest, "error", err)
			os.Remove(dest)
			_ = d.cache.Delete(key)
			return false
		}
	}
	logger.Info("Using cached data", "dest", dest)
	return true
}

// download retries transport errors and 5xx responses with exponential backoff.
func (d *Downloader) download(ctx context.Context, url, dest string) error {
	b := &backoff.Backoff{
		Min:    d.minWait,
		Max:    d.maxWait,
		Factor: 2,
		Jitter: true,
	}

	var lastErr *NetworkError
	for attempt := 1; attempt <= d.attempts; attempt++ {
		retry, err := d.tryDownload(ctx, url, dest)
		if err == nil {
			return nil
		}
		lastErr = err
		lastErr.Attempts = attempt
		if !retry || attempt == d.attempts {
			break
		}

		wait := b.Duration()
		log.FromContext(ctx).Warn("Download failed, retrying", "url", url, "attempt", attempt, "wait", wait, "error", err)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return &NetworkError{URL: url, Attempts: attempt, Err: ctx.Err()}
		case <-timer.C:
		}
	}
	return lastErr
}

func (d *Downloader) tryDownload(ctx context.Context, url, dest string) (bool, *NetworkError) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, &NetworkError{URL: url, Err: err}
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return ctx.Err() == nil, &NetworkError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		retry := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		return retry, &NetworkError{URL: url, StatusCode: resp.StatusCode}
	}

	tmp := dest + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return false, &NetworkError{URL: url, Err: err}
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(tmp)
		return true, &NetworkError{URL: url, Err: err}
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return false, &NetworkError{URL: url, Err: err}
	}
	if err := os.Rename(tmp, dest); err != nil {
		return false, &NetworkError{URL: url, Err: err}
	}
	return false, nil
}

func (d *Downloader) fetchRepo(ctx context.Context, src product.DataSource, destDir, workspaceDir string) (string, error) {
	if strings.TrimSpace(src.Repo) == "" {
		return "", fmt.Errorf("data source of type repo requires a repo")
	}
	name := src.Name
	if name == "" {
		name = repo.Name(src.Repo)
	}

	checkout := filepath.Join(workspaceDir, name)
	if fsutil.IsDir(checkout) {
		log.FromContext(ctx).Debug("Reusing clone for data", "repo", name)
	} else {
		url, err := d.resolver.Resolve(src.Repo)
		if err != nil {
			return "", err
		}
		branch := src.Branch
		if branch == "" {
			branch = product.DefaultBranch
		}
		ref := product.RepoRef{Ref: src.Repo, Name: name, URL: url, Branch: branch}
		if checkout, err = d.cloner.Clone(ctx, ref, workspaceDir); err != nil {
			return "", err
		}
	}

	dest := filepath.Join(destDir, name)
	if err := fsutil.CopyDir(filepath.Join(checkout, "data"), dest); err != nil {
		return "", fmt.Errorf("failed to copy data of %s: %w", name, err)
	}
	return dest, nil
}
