package sink

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Default HTTP sink configuration constants.
const (
	defaultTimeout     = 5 * time.Second
	defaultContentType = "application/x-ndjson"
	maxDrainBytes      = 64 << 10
)

// Compression names accepted by WithCompression.
const (
	CompressionNone = "none"
	CompressionGzip = "gzip"
	CompressionZstd = "zstd"
)

// HTTPOption applies a configuration option to the HTTPSink.
type HTTPOption func(*HTTPSink)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) HTTPOption {
	return func(s *HTTPSink) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithAPIKey sends the key as a bearer token.
func WithAPIKey(key string) HTTPOption {
	return func(s *HTTPSink) {
		s.apiKey = key
	}
}

// WithContentType overrides the request content type.
func WithContentType(ct string) HTTPOption {
	return func(s *HTTPSink) {
		if ct != "" {
			s.contentType = ct
		}
	}
}

// WithCompression selects request body compression: none, gzip or zstd.
func WithCompression(name string) HTTPOption {
	return func(s *HTTPSink) {
		s.compression = strings.ToLower(strings.TrimSpace(name))
	}
}

// WithInsecureSkipVerify disables TLS certificate validation.
func WithInsecureSkipVerify(skip bool) HTTPOption {
	return func(s *HTTPSink) {
		s.insecure = skip
	}
}

// WithHTTPClient replaces the underlying client. Timeout and TLS options are
// ignored when a client is supplied.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(s *HTTPSink) {
		if c != nil {
			s.client = c
		}
	}
}

// HTTPSink POSTs each payload to a fixed endpoint. 2xx means success, any
// other status means the payload was rejected.
type HTTPSink struct {
	endpoint    string
	apiKey      string
	contentType string
	compression string
	insecure    bool
	timeout     time.Duration
	client      *http.Client
	zenc        *zstd.Encoder
}

// NewHTTPSink creates a sink for endpoint.
func NewHTTPSink(endpoint string, opts ...HTTPOption) (*HTTPSink, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, fmt.Errorf("%w: empty endpoint", ErrInvalidSink)
	}
	s := &HTTPSink{
		endpoint:    endpoint,
		contentType: defaultContentType,
		compression: CompressionNone,
		timeout:     defaultTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}

	switch s.compression {
	case "", CompressionNone:
		s.compression = CompressionNone
	case CompressionGzip:
	case CompressionZstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("%w: zstd encoder: %v", ErrInvalidSink, err)
		}
		s.zenc = enc
	default:
		return nil, fmt.Errorf("%w: unknown compression %q", ErrInvalidSink, s.compression)
	}

	if s.client == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		// One connection per sink keeps requests on a sink ordered on the wire.
		transport.MaxConnsPerHost = 1
		transport.MaxIdleConnsPerHost = 1
		if s.insecure {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in via cert_validation_disabled
		}
		s.client = &http.Client{Timeout: s.timeout, Transport: transport}
	}
	return s, nil
}

// Endpoint returns the target URL.
func (s *HTTPSink) Endpoint() string {
	return s.endpoint
}

// Send implements EventSink.
func (s *HTTPSink) Send(ctx context.Context, payload []byte) (Status, error) {
	body, err := s.encode(payload)
	if err != nil {
		return StatusRejected, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return StatusRejected, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	req.Header.Set("Content-Type", s.contentType)
	if s.compression != CompressionNone {
		req.Header.Set("Content-Encoding", s.compression)
	}
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return StatusRejected, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return StatusRejected, nil
	}
	return StatusSuccess, nil
}

func (s *HTTPSink) encode(payload []byte) ([]byte, error) {
	switch s.compression {
	case CompressionGzip:
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(payload); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case CompressionZstd:
		return s.zenc.EncodeAll(payload, make([]byte, 0, len(payload)/2)), nil
	default:
		return payload, nil
	}
}

// Close releases encoder resources and idle connections.
func (s *HTTPSink) Close() error {
	if s.zenc != nil {
		_ = s.zenc.Close()
	}
	s.client.CloseIdleConnections()
	return nil
}

// NewHTTPPool creates n independent sinks for the same endpoint.
func NewHTTPPool(n int, endpoint string, opts ...HTTPOption) ([]EventSink, error) {
	if n < 1 {
		return nil, fmt.Errorf("%w: pool size %d", ErrInvalidSink, n)
	}
	pool := make([]EventSink, 0, n)
	for i := 0; i < n; i++ {
		s, err := NewHTTPSink(endpoint, opts...)
		if err != nil {
			return nil, err
		}
		pool = append(pool, s)
	}
	return pool, nil
}
