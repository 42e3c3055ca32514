package modelsource

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/okian/decisionlog/internal/domain/modelslot"
)

const (
	defaultFetchTimeout = 30 * time.Second
	maxModelBytes       = 256 << 20
)

// HTTPOption applies a configuration option to the HTTPSource.
type HTTPOption func(*HTTPSource)

// WithTimeout sets the request timeout.
func WithTimeout(d time.Duration) HTTPOption {
	return func(s *HTTPSource) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithAPIKey sends the key as a bearer token.
func WithAPIKey(key string) HTTPOption {
	return func(s *HTTPSource) {
		s.apiKey = key
	}
}

// WithInsecureSkipVerify disables TLS certificate validation.
func WithInsecureSkipVerify(skip bool) HTTPOption {
	return func(s *HTTPSource) {
		s.insecure = skip
	}
}

// WithHTTPClient replaces the underlying client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(s *HTTPSource) {
		if c != nil {
			s.client = c
		}
	}
}

// HTTPSource downloads the model with a conditional GET. The response ETag is
// the model version; a 304 reply means the model is unchanged.
type HTTPSource struct {
	url      string
	apiKey   string
	insecure bool
	timeout  time.Duration
	client   *http.Client

	mu   sync.Mutex
	etag string
}

// NewHTTPSource creates a source for url.
func NewHTTPSource(url string, opts ...HTTPOption) (*HTTPSource, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("%w: empty url", ErrInvalidSource)
	}
	s := &HTTPSource{url: url, timeout: defaultFetchTimeout}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if s.insecure {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in via cert_validation_disabled
		}
		s.client = &http.Client{Timeout: s.timeout, Transport: transport}
	}
	return s, nil
}

// Fetch implements modelslot.Source.
func (s *HTTPSource) Fetch(ctx context.Context) (string, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, http.NoBody)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	if s.etag != "" {
		req.Header.Set("If-None-Match", s.etag)
	}
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		return "", nil, modelslot.ErrNotModified
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return "", nil, fmt.Errorf("%w: status %d", ErrFetch, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxModelBytes+1))
	if err != nil {
		return "", nil, fmt.Errorf("%w: read body: %w", ErrFetch, err)
	}
	if len(data) > maxModelBytes {
		return "", nil, fmt.Errorf("%w: model exceeds %d bytes", ErrFetch, maxModelBytes)
	}

	etag := resp.Header.Get("ETag")
	s.etag = etag
	version := strings.Trim(strings.TrimPrefix(etag, "W/"), `"`)
	if version == "" {
		version = modelslot.Fingerprint(data)
	}
	return version, data, nil
}
