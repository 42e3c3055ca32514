package uploader_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/decisionlog/internal/adapters/mq/queue"
	"github.com/okian/decisionlog/internal/adapters/mq/uploader"
	"github.com/okian/decisionlog/internal/adapters/sink"
	"github.com/okian/decisionlog/pkg/metrics"
	"github.com/smartystreets/goconvey/convey"
)

type recordingSink struct {
	mu      sync.Mutex
	batches [][]byte
	status  sink.Status
	err     error
	calls   atomic.Int64
}

func (s *recordingSink) Send(_ context.Context, payload []byte) (sink.Status, error) {
	s.calls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]byte(nil), payload...))
	return s.status, s.err
}

func (s *recordingSink) snapshot() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.batches))
	copy(out, s.batches)
	return out
}

// gateSink holds every upload until a token is sent on release.
type gateSink struct {
	release chan struct{}
	calls   atomic.Int64
}

func (s *gateSink) Send(ctx context.Context, _ []byte) (sink.Status, error) {
	s.calls.Add(1)
	select {
	case <-s.release:
		return sink.StatusSuccess, nil
	case <-ctx.Done():
		return sink.StatusRejected, ctx.Err()
	}
}

// hookQueue runs onFirst after the first payload is dequeued.
type hookQueue struct {
	*queue.BoundedQueue
	once    sync.Once
	onFirst func()
}

func (h *hookQueue) TryDequeue() ([]byte, bool) {
	p, ok := h.BoundedQueue.TryDequeue()
	if ok && h.onFirst != nil {
		h.once.Do(h.onFirst)
	}
	return p, ok
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}

func fill(q *queue.BoundedQueue, n int) {
	for i := 1; i <= n; i++ {
		q.TryEnqueue([]byte(fmt.Sprintf("E%d", i)))
	}
}

func TestBatcher(t *testing.T) {
	convey.Convey("Given a batcher over a queue", t, func() {
		q := queue.NewBoundedQueue(queue.WithCapacity(16))

		convey.Convey("It joins events in FIFO order within the byte limit", func() {
			fill(q, 4)
			b := uploader.NewBatcher(q, 64)

			batch, n := b.Next()
			convey.So(n, convey.ShouldEqual, 4)
			convey.So(string(batch), convey.ShouldEqual, "E1\nE2\nE3\nE4")
			convey.So(b.Pending(), convey.ShouldBeFalse)

			batch, n = b.Next()
			convey.So(n, convey.ShouldEqual, 0)
			convey.So(batch, convey.ShouldBeNil)
		})

		convey.Convey("It carries the event that does not fit into the next batch", func() {
			fill(q, 5)
			// "E1\nE2" is 5 bytes; adding "\nE3" would make 8.
			b := uploader.NewBatcher(q, 7)

			var got []string
			for {
				batch, n := b.Next()
				if n == 0 {
					break
				}
				convey.So(len(batch), convey.ShouldBeLessThanOrEqualTo, 7)
				got = append(got, string(batch))
			}
			convey.So(got, convey.ShouldResemble, []string{"E1\nE2", "E3\nE4", "E5"})
		})

		convey.Convey("A single oversized event forms its own batch", func() {
			q.TryEnqueue([]byte("small"))
			q.TryEnqueue(bytes.Repeat([]byte("x"), 100))
			q.TryEnqueue([]byte("tail"))
			b := uploader.NewBatcher(q, 10)

			batch, n := b.Next()
			convey.So(n, convey.ShouldEqual, 1)
			convey.So(string(batch), convey.ShouldEqual, "small")

			batch, n = b.Next()
			convey.So(n, convey.ShouldEqual, 1)
			convey.So(len(batch), convey.ShouldEqual, 100)

			batch, n = b.Next()
			convey.So(n, convey.ShouldEqual, 1)
			convey.So(string(batch), convey.ShouldEqual, "tail")
		})

		convey.Convey("Discard drops the held seed", func() {
			fill(q, 2)
			// "E1" fits in 3 bytes; "E1\nE2" would not.
			b := uploader.NewBatcher(q, 3)
			batch, n := b.Next()
			convey.So(n, convey.ShouldEqual, 1)
			convey.So(string(batch), convey.ShouldEqual, "E1")
			convey.So(b.Pending(), convey.ShouldBeTrue)
			convey.So(b.Discard(), convey.ShouldBeTrue)
			convey.So(b.Pending(), convey.ShouldBeFalse)
			convey.So(b.Discard(), convey.ShouldBeFalse)
		})
	})
}

func TestNewValidation(t *testing.T) {
	convey.Convey("New rejects invalid wiring", t, func() {
		q := queue.NewBoundedQueue()

		_, err := uploader.New(nil, []sink.EventSink{&recordingSink{}})
		convey.So(errors.Is(err, uploader.ErrInvalidUploader), convey.ShouldBeTrue)

		_, err = uploader.New(q, nil)
		convey.So(errors.Is(err, uploader.ErrInvalidUploader), convey.ShouldBeTrue)

		_, err = uploader.New(q, []sink.EventSink{nil})
		convey.So(errors.Is(err, uploader.ErrInvalidUploader), convey.ShouldBeTrue)
	})
}

func TestUploaderDeliversInOrder(t *testing.T) {
	convey.Convey("Given an uploader with one connection", t, func() {
		q := queue.NewBoundedQueue(queue.WithCapacity(100))
		rec := &recordingSink{status: sink.StatusSuccess}
		u, err := uploader.New(q, []sink.EventSink{rec},
			uploader.WithMaxBytes(12),
			uploader.WithFlushInterval(time.Millisecond),
		)
		convey.So(err, convey.ShouldBeNil)

		fill(q, 20)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		u.Start(ctx)

		convey.So(waitFor(func() bool { return u.Stats().EventsUploaded == 20 }), convey.ShouldBeTrue)
		convey.So(u.Shutdown(context.Background()), convey.ShouldBeNil)

		convey.Convey("Every event arrives once, in enqueue order, in bounded batches", func() {
			var all []string
			for _, b := range rec.snapshot() {
				convey.So(len(b), convey.ShouldBeLessThanOrEqualTo, 12)
				for _, p := range bytes.Split(b, []byte{'\n'}) {
					all = append(all, string(p))
				}
			}
			convey.So(len(all), convey.ShouldEqual, 20)
			for i, id := range all {
				convey.So(id, convey.ShouldEqual, fmt.Sprintf("E%d", i+1))
			}
			convey.So(u.Stats().Failures, convey.ShouldEqual, 0)
		})
	})
}

func TestUploaderBoundsInFlight(t *testing.T) {
	convey.Convey("Given two connections whose uploads block", t, func() {
		q := queue.NewBoundedQueue(queue.WithCapacity(16))
		gate := &gateSink{release: make(chan struct{})}
		u, err := uploader.New(q, []sink.EventSink{gate, gate},
			uploader.WithMaxBytes(2),
			uploader.WithFlushInterval(time.Millisecond),
		)
		convey.So(err, convey.ShouldBeNil)

		fill(q, 5)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		u.Start(ctx)

		convey.So(waitFor(func() bool { return u.Stats().InFlight == 2 }), convey.ShouldBeTrue)
		time.Sleep(20 * time.Millisecond)

		convey.Convey("No more than two uploads start", func() {
			st := u.Stats()
			convey.So(st.BatchesDispatched, convey.ShouldEqual, 2)
			convey.So(st.MaxInFlight, convey.ShouldEqual, 2)
			convey.So(gate.calls.Load(), convey.ShouldEqual, 2)
		})

		convey.Convey("Completing one upload lets the next batch start", func() {
			gate.release <- struct{}{}
			convey.So(waitFor(func() bool { return u.Stats().BatchesDispatched == 3 }), convey.ShouldBeTrue)
			convey.So(u.Stats().MaxInFlight, convey.ShouldEqual, 2)

			for i := 0; i < 4; i++ {
				gate.release <- struct{}{}
			}
			convey.So(waitFor(func() bool { return u.Stats().BatchesUploaded == 5 }), convey.ShouldBeTrue)
			convey.So(u.Stats().MaxInFlight, convey.ShouldEqual, 2)
		})

		convey.Reset(func() {
			sctx, scancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer scancel()
			_ = u.Shutdown(sctx)
		})
	})
}

func TestUploaderDropsFailedBatches(t *testing.T) {
	cases := map[string]struct {
		sink *recordingSink
	}{
		"rejected":  {sink: &recordingSink{status: sink.StatusRejected}},
		"transport": {sink: &recordingSink{status: sink.StatusSuccess, err: errors.New("connection reset")}},
	}

	for name, tc := range cases {
		convey.Convey("Given a sink that fails with "+name, t, func() {
			q := queue.NewBoundedQueue(queue.WithCapacity(8))
			u, err := uploader.New(q, []sink.EventSink{tc.sink},
				uploader.WithMaxBytes(2),
				uploader.WithFlushInterval(time.Millisecond),
			)
			convey.So(err, convey.ShouldBeNil)

			fill(q, 3)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			u.Start(ctx)

			convey.So(waitFor(func() bool { return u.Stats().Failures == 3 }), convey.ShouldBeTrue)
			time.Sleep(20 * time.Millisecond)

			convey.Convey("Each batch is attempted exactly once and then dropped", func() {
				convey.So(tc.sink.calls.Load(), convey.ShouldEqual, 3)
				convey.So(u.Stats().BatchesUploaded, convey.ShouldEqual, 0)
				convey.So(q.Len(), convey.ShouldEqual, 0)
			})

			convey.So(u.Shutdown(context.Background()), convey.ShouldBeNil)
		})
	}
}

func TestUploaderShutdown(t *testing.T) {
	convey.Convey("Shutdown before any upload leaves queued events unsent", t, func() {
		q := queue.NewBoundedQueue(queue.WithCapacity(8))
		rec := &recordingSink{status: sink.StatusSuccess}
		u, err := uploader.New(q, []sink.EventSink{rec})
		convey.So(err, convey.ShouldBeNil)

		fill(q, 3)
		convey.So(u.Shutdown(context.Background()), convey.ShouldBeNil)
		convey.So(rec.calls.Load(), convey.ShouldEqual, 0)
		convey.So(q.Len(), convey.ShouldEqual, 3)
	})

	convey.Convey("Shutdown of an idle running uploader returns promptly", t, func() {
		q := queue.NewBoundedQueue(queue.WithCapacity(8))
		u, err := uploader.New(q, []sink.EventSink{&recordingSink{}},
			uploader.WithFlushInterval(time.Hour),
		)
		convey.So(err, convey.ShouldBeNil)
		u.Start(context.Background())

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		start := time.Now()
		convey.So(u.Shutdown(ctx), convey.ShouldBeNil)
		convey.So(time.Since(start), convey.ShouldBeLessThan, 500*time.Millisecond)
	})

	convey.Convey("Shutdown times out when an upload never completes", t, func() {
		q := queue.NewBoundedQueue(queue.WithCapacity(8))
		gate := &gateSink{release: make(chan struct{})}
		u, err := uploader.New(q, []sink.EventSink{gate}, uploader.WithFlushInterval(time.Millisecond))
		convey.So(err, convey.ShouldBeNil)

		fill(q, 1)
		u.Start(context.Background())
		convey.So(waitFor(func() bool { return u.Stats().InFlight == 1 }), convey.ShouldBeTrue)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()
		err = u.Shutdown(ctx)
		convey.So(errors.Is(err, context.DeadlineExceeded), convey.ShouldBeTrue)
		// The cancelled upload releases its slot.
		convey.So(waitFor(func() bool { return u.Stats().InFlight == 0 }), convey.ShouldBeTrue)
	})
}

func TestUploaderShutdownWithHeldEvent(t *testing.T) {
	convey.Convey("Given a blocked upload and a batch waiting for a connection", t, func() {
		q := queue.NewBoundedQueue(queue.WithCapacity(8))
		gate := &gateSink{release: make(chan struct{})}
		// Each batch holds one event; the third is carried as the next seed.
		u, err := uploader.New(q, []sink.EventSink{gate},
			uploader.WithMaxBytes(3),
			uploader.WithFlushInterval(time.Millisecond),
		)
		convey.So(err, convey.ShouldBeNil)

		fill(q, 3)
		u.Start(context.Background())
		convey.So(waitFor(func() bool { return u.Stats().InFlight == 1 && q.Len() == 0 }), convey.ShouldBeTrue)

		convey.Convey("Shutdown counts both the waiting batch and the held event as discarded", func() {
			done := make(chan error, 1)
			go func() { done <- u.Shutdown(context.Background()) }()

			convey.So(waitFor(func() bool { return u.Stats().Discarded == 2 }), convey.ShouldBeTrue)
			gate.release <- struct{}{}

			select {
			case err := <-done:
				convey.So(err, convey.ShouldBeNil)
			case <-time.After(2 * time.Second):
				convey.So("shutdown did not return", convey.ShouldBeEmpty)
			}
			st := u.Stats()
			convey.So(st.BatchesDispatched, convey.ShouldEqual, 1)
			convey.So(st.EventsUploaded, convey.ShouldEqual, 1)
			convey.So(gate.calls.Load(), convey.ShouldEqual, 1)
		})
	})
}

func TestUploaderNoDispatchAfterShutdown(t *testing.T) {
	convey.Convey("Given shutdown begins while a batch is being built", t, func() {
		hq := &hookQueue{BoundedQueue: queue.NewBoundedQueue(queue.WithCapacity(8))}
		rec := &recordingSink{status: sink.StatusSuccess}
		u, err := uploader.New(hq, []sink.EventSink{rec},
			uploader.WithMaxBytes(64),
			uploader.WithFlushInterval(time.Millisecond),
		)
		convey.So(err, convey.ShouldBeNil)

		shutdownErr := make(chan error, 1)
		hq.onFirst = func() {
			go func() { shutdownErr <- u.Shutdown(context.Background()) }()
			// Shutdown signals the loop before it waits.
			time.Sleep(20 * time.Millisecond)
		}

		fill(hq.BoundedQueue, 2)
		u.Run(context.Background())

		convey.Convey("The batch is discarded with a connection free", func() {
			convey.So(<-shutdownErr, convey.ShouldBeNil)
			convey.So(rec.calls.Load(), convey.ShouldEqual, 0)
			st := u.Stats()
			convey.So(st.BatchesDispatched, convey.ShouldEqual, 0)
			convey.So(st.Discarded, convey.ShouldEqual, 2)
		})
	})
}

// slowSink accepts every batch after a sub-millisecond pause.
type slowSink struct{}

func (slowSink) Send(context.Context, []byte) (sink.Status, error) {
	time.Sleep(300 * time.Microsecond)
	return sink.StatusSuccess, nil
}

func uploadLatencySum() float64 {
	families, err := metrics.GetRegistry().Gather()
	if err != nil {
		return 0
	}
	for _, f := range families {
		if strings.HasSuffix(f.GetName(), "upload_latency_milliseconds") && len(f.GetMetric()) > 0 {
			return f.GetMetric()[0].GetHistogram().GetSampleSum()
		}
	}
	return 0
}

func TestUploaderRecordsSubMillisecondLatency(t *testing.T) {
	convey.Convey("Given a sink that answers in well under a millisecond", t, func() {
		q := queue.NewBoundedQueue(queue.WithCapacity(8))
		u, err := uploader.New(q, []sink.EventSink{slowSink{}},
			uploader.WithMaxBytes(2),
			uploader.WithFlushInterval(time.Millisecond),
		)
		convey.So(err, convey.ShouldBeNil)

		before := uploadLatencySum()
		fill(q, 3)
		u.Start(context.Background())
		convey.So(waitFor(func() bool { return u.Stats().BatchesUploaded == 3 }), convey.ShouldBeTrue)
		convey.So(u.Shutdown(context.Background()), convey.ShouldBeNil)

		convey.Convey("The fractional milliseconds reach the latency histogram", func() {
			convey.So(uploadLatencySum()-before, convey.ShouldBeGreaterThan, 0)
		})
	})
}
