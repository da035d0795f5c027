package subgraph

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	errs "github.com/mrkhmath/mathgraph-backend/internal/pkg/errors"
)

// Fetcher retrieves one serialized artifact from the remote store. The
// returned size is the advertised transfer size, or -1 when unknown; the
// cache uses it only for eviction accounting.
type Fetcher interface {
	Fetch(ctx context.Context, code string) (rc io.ReadCloser, size int64, err error)
}

// HTTPFetcher pulls artifacts from `GET {base}/{code}{ext}`. A 404 is a
// definitive absence; every other failure is transient.
type HTTPFetcher struct {
	baseURL string
	ext     string
	timeout time.Duration

	httpClient *http.Client
}

func NewHTTPFetcher(baseURL, ext string, timeout time.Duration) (*HTTPFetcher, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("http fetcher: base url required")
	}
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	if timeout <= 0 {
		timeout = 45 * time.Second
	}

	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &HTTPFetcher{
		baseURL:    baseURL,
		ext:        ext,
		timeout:    timeout,
		httpClient: &http.Client{Transport: tr},
	}, nil
}

// NewHTTPFetcherWithClient is intended for tests; it avoids network access by
// using a custom RoundTripper.
func NewHTTPFetcherWithClient(baseURL, ext string, timeout time.Duration, httpClient *http.Client) (*HTTPFetcher, error) {
	f, err := NewHTTPFetcher(baseURL, ext, timeout)
	if err != nil {
		return nil, err
	}
	if httpClient != nil {
		f.httpClient = httpClient
	}
	return f, nil
}

func (f *HTTPFetcher) Fetch(ctx context.Context, code string) (io.ReadCloser, int64, error) {
	u := f.baseURL + "/" + url.PathEscape(code) + f.ext

	// The per-attempt timeout covers the full body read, so the cancel is
	// handed to the caller through the ReadCloser.
	ctx, cancel := context.WithTimeout(ctx, f.timeout)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		cancel()
		return nil, -1, fmt.Errorf("build request for %s: %v: %w", code, err, errs.ErrTransient)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, -1, fmt.Errorf("fetch %s: %v: %w", code, err, errs.ErrTransient)
	}
	if resp.StatusCode == http.StatusNotFound {
		_ = resp.Body.Close()
		cancel()
		return nil, -1, fmt.Errorf("remote subgraph %s: %w", code, errs.ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_ = resp.Body.Close()
		cancel()
		return nil, -1, fmt.Errorf("fetch %s: status %d: %w", code, resp.StatusCode, errs.ErrTransient)
	}

	size := resp.ContentLength
	return &cancelReadCloser{rc: resp.Body, cancel: cancel}, size, nil
}

type cancelReadCloser struct {
	rc     io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelReadCloser) Read(p []byte) (int, error) { return c.rc.Read(p) }

func (c *cancelReadCloser) Close() error {
	err := c.rc.Close()
	c.cancel()
	return err
}
