// Package source fetches published files for the import service.
//
// Locations are http(s) URLs, file:// URLs or plain paths. Relative paths
// resolve against BaseDir. Every fetch is capped at MaxSize bytes.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/JonMunkholm/sukl/internal/core"
)

// DefaultMaxSize is used when Options.MaxSize is not set.
const DefaultMaxSize = 256 << 20

// ErrEmptyFile is returned for zero-byte files.
var ErrEmptyFile = errors.New("empty file")

// ErrUnsupportedScheme is returned for locations that are neither files nor http(s).
var ErrUnsupportedScheme = errors.New("unsupported location scheme")

// Options configures a Fetcher.
type Options struct {
	BaseDir string
	MaxSize int64
	Timeout time.Duration // per HTTP request; 0 means no extra timeout
	Client  *http.Client
}

// Fetcher implements core.Source.
type Fetcher struct {
	baseDir string
	maxSize int64
	timeout time.Duration
	client  *http.Client
}

var _ core.Source = (*Fetcher)(nil)

// New creates a Fetcher.
func New(opts Options) *Fetcher {
	if opts.MaxSize <= 0 {
		opts.MaxSize = DefaultMaxSize
	}
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	return &Fetcher{
		baseDir: opts.BaseDir,
		maxSize: opts.MaxSize,
		timeout: opts.Timeout,
		client:  opts.Client,
	}
}

// Fetch returns the full contents of location.
func (f *Fetcher) Fetch(ctx context.Context, location string) ([]byte, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return nil, errors.New("empty location")
	}

	u, err := url.Parse(location)
	if err != nil || u.Scheme == "" || isWindowsDrive(u.Scheme) {
		return f.readFile(location)
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return f.download(ctx, location)
	case "file":
		return f.readFile(u.Path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, u.Scheme)
	}
}

// Resolve returns the absolute path a file location maps to.
func (f *Fetcher) Resolve(path string) string {
	if filepath.IsAbs(path) || f.baseDir == "" {
		return filepath.Clean(path)
	}
	return filepath.Join(f.baseDir, path)
}

func (f *Fetcher) readFile(path string) ([]byte, error) {
	path = f.Resolve(path)

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	if info.Size() > f.maxSize {
		return nil, fmt.Errorf("%w: %s is %d bytes, limit %d", core.ErrFileTooLarge, path, info.Size(), f.maxSize)
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyFile, path)
	}

	return os.ReadFile(path)
}

func (f *Fetcher) download(ctx context.Context, location string) ([]byte, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if resp.ContentLength > f.maxSize {
		return nil, fmt.Errorf("%w: declared %d bytes, limit %d", core.ErrFileTooLarge, resp.ContentLength, f.maxSize)
	}

	// Read one byte past the limit to detect oversize bodies without a length.
	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > f.maxSize {
		return nil, fmt.Errorf("%w: body exceeds %d bytes", core.ErrFileTooLarge, f.maxSize)
	}
	if len(data) == 0 {
		return nil, ErrEmptyFile
	}
	return data, nil
}

// isWindowsDrive reports whether a parsed scheme is really a drive letter.
func isWindowsDrive(scheme string) bool {
	return len(scheme) == 1
}
