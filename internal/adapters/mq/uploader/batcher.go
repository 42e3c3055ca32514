package uploader

import (
	"github.com/okian/decisionlog/internal/domain/codec"
)

// Dequeuer is the consumer side of the event queue.
type Dequeuer interface {
	TryDequeue() ([]byte, bool)
}

// Batcher coalesces queued payloads into separator-joined batches that fit
// within maxBytes. A payload that does not fit is held back as the seed of the
// next batch. Batcher is not safe for concurrent use; the uploader loop is its
// only caller.
type Batcher struct {
	src      Dequeuer
	maxBytes int
	seed     []byte
	hasSeed  bool
}

// NewBatcher creates a batcher reading from src.
func NewBatcher(src Dequeuer, maxBytes int) *Batcher {
	if maxBytes < 1 {
		maxBytes = defaultBatchMaxBytes
	}
	return &Batcher{src: src, maxBytes: maxBytes}
}

// MaxBytes returns the batch size limit.
func (b *Batcher) MaxBytes() int {
	return b.maxBytes
}

// Pending reports whether a seed payload is waiting for the next batch.
func (b *Batcher) Pending() bool {
	return b.hasSeed
}

// Next builds the next batch and returns it with the number of payloads it
// holds. It returns (nil, 0) when there is nothing to send. A single payload
// larger than maxBytes is returned alone.
func (b *Batcher) Next() ([]byte, int) {
	first, ok := b.pop()
	if !ok {
		return nil, 0
	}

	buf := make([]byte, 0, max(len(first), min(b.maxBytes, 4*len(first))))
	buf = append(buf, first...)
	n := 1

	for len(buf) < b.maxBytes {
		next, ok := b.src.TryDequeue()
		if !ok {
			break
		}
		if len(buf)+1+len(next) > b.maxBytes {
			b.seed, b.hasSeed = next, true
			break
		}
		buf = append(buf, codec.Separator)
		buf = append(buf, next...)
		n++
	}
	return buf, n
}

// Discard drops the held seed and reports whether one was held.
func (b *Batcher) Discard() bool {
	held := b.hasSeed
	b.seed, b.hasSeed = nil, false
	return held
}

func (b *Batcher) pop() ([]byte, bool) {
	if b.hasSeed {
		seed := b.seed
		b.seed, b.hasSeed = nil, false
		return seed, true
	}
	return b.src.TryDequeue()
}
