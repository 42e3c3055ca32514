package sink_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/okian/decisionlog/internal/adapters/sink"
	. "github.com/smartystreets/goconvey/convey"
)

type captured struct {
	method   string
	ctype    string
	encoding string
	auth     string
	body     []byte
}

func captureServer(status int, out chan<- captured) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		out <- captured{
			method:   r.Method,
			ctype:    r.Header.Get("Content-Type"),
			encoding: r.Header.Get("Content-Encoding"),
			auth:     r.Header.Get("Authorization"),
			body:     body,
		}
		w.WriteHeader(status)
	}))
}

func TestHTTPSink(t *testing.T) {
	Convey("Given an HTTP sink", t, func() {
		ctx := context.Background()
		payload := []byte(`{"EventId":"a"}` + "\n" + `{"EventId":"b"}`)

		Convey("A 2xx response is a success and headers are set", func() {
			got := make(chan captured, 1)
			srv := captureServer(http.StatusAccepted, got)
			defer srv.Close()

			s, err := sink.NewHTTPSink(srv.URL, sink.WithAPIKey("secret"))
			So(err, ShouldBeNil)
			defer s.Close()

			status, err := s.Send(ctx, payload)
			So(err, ShouldBeNil)
			So(status, ShouldEqual, sink.StatusSuccess)

			req := <-got
			So(req.method, ShouldEqual, http.MethodPost)
			So(req.ctype, ShouldEqual, "application/x-ndjson")
			So(req.encoding, ShouldBeEmpty)
			So(req.auth, ShouldEqual, "Bearer secret")
			So(string(req.body), ShouldEqual, string(payload))
		})

		Convey("A non-2xx response is a rejection, not an error", func() {
			got := make(chan captured, 1)
			srv := captureServer(http.StatusBadRequest, got)
			defer srv.Close()

			s, err := sink.NewHTTPSink(srv.URL)
			So(err, ShouldBeNil)

			status, err := s.Send(ctx, payload)
			So(err, ShouldBeNil)
			So(status, ShouldEqual, sink.StatusRejected)
			So(status.String(), ShouldEqual, "rejected")
		})

		Convey("An unreachable endpoint is a transport error", func() {
			srv := httptest.NewServer(http.NotFoundHandler())
			url := srv.URL
			srv.Close()

			s, err := sink.NewHTTPSink(url, sink.WithTimeout(time.Second))
			So(err, ShouldBeNil)

			_, err = s.Send(ctx, payload)
			So(errors.Is(err, sink.ErrTransport), ShouldBeTrue)
		})

		Convey("Gzip compression round-trips", func() {
			got := make(chan captured, 1)
			srv := captureServer(http.StatusOK, got)
			defer srv.Close()

			s, err := sink.NewHTTPSink(srv.URL, sink.WithCompression("gzip"))
			So(err, ShouldBeNil)
			_, err = s.Send(ctx, payload)
			So(err, ShouldBeNil)

			req := <-got
			So(req.encoding, ShouldEqual, "gzip")
			zr, err := gzip.NewReader(bytes.NewReader(req.body))
			So(err, ShouldBeNil)
			plain, err := io.ReadAll(zr)
			So(err, ShouldBeNil)
			So(string(plain), ShouldEqual, string(payload))
		})

		Convey("Zstd compression round-trips", func() {
			got := make(chan captured, 1)
			srv := captureServer(http.StatusOK, got)
			defer srv.Close()

			s, err := sink.NewHTTPSink(srv.URL, sink.WithCompression("ZSTD"))
			So(err, ShouldBeNil)
			defer s.Close()
			_, err = s.Send(ctx, payload)
			So(err, ShouldBeNil)

			req := <-got
			So(req.encoding, ShouldEqual, "zstd")
			dec, err := zstd.NewReader(nil)
			So(err, ShouldBeNil)
			defer dec.Close()
			plain, err := dec.DecodeAll(req.body, nil)
			So(err, ShouldBeNil)
			So(string(plain), ShouldEqual, string(payload))
		})

		Convey("TLS endpoints need certificate validation disabled for self-signed certs", func() {
			srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))
			defer srv.Close()

			strict, err := sink.NewHTTPSink(srv.URL)
			So(err, ShouldBeNil)
			_, err = strict.Send(ctx, payload)
			So(errors.Is(err, sink.ErrTransport), ShouldBeTrue)

			lax, err := sink.NewHTTPSink(srv.URL, sink.WithInsecureSkipVerify(true))
			So(err, ShouldBeNil)
			status, err := lax.Send(ctx, payload)
			So(err, ShouldBeNil)
			So(status, ShouldEqual, sink.StatusSuccess)
		})
	})
}

func TestNewHTTPSinkValidation(t *testing.T) {
	Convey("Invalid sink settings are rejected", t, func() {
		_, err := sink.NewHTTPSink("  ")
		So(errors.Is(err, sink.ErrInvalidSink), ShouldBeTrue)

		_, err = sink.NewHTTPSink("http://localhost", sink.WithCompression("brotli"))
		So(errors.Is(err, sink.ErrInvalidSink), ShouldBeTrue)

		_, err = sink.NewHTTPPool(0, "http://localhost")
		So(errors.Is(err, sink.ErrInvalidSink), ShouldBeTrue)
	})
}

func TestNewHTTPPool(t *testing.T) {
	Convey("A pool holds independent sinks for one endpoint", t, func() {
		pool, err := sink.NewHTTPPool(3, "http://localhost:1")
		So(err, ShouldBeNil)
		So(len(pool), ShouldEqual, 3)
		So(pool[0], ShouldNotPointTo, pool[1])
		So(pool[0].(*sink.HTTPSink).Endpoint(), ShouldEqual, "http://localhost:1")
	})
}

func TestFunc(t *testing.T) {
	Convey("Func adapts a function to EventSink", t, func() {
		var seen []byte
		var s sink.EventSink = sink.Func(func(_ context.Context, p []byte) (sink.Status, error) {
			seen = p
			return sink.StatusSuccess, nil
		})
		status, err := s.Send(context.Background(), []byte("x"))
		So(err, ShouldBeNil)
		So(status, ShouldEqual, sink.StatusSuccess)
		So(string(seen), ShouldEqual, "x")
	})
}
