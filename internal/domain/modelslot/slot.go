// Package modelslot holds the active scoring model.
//
// A Slot is never mutated after it is published. Writers build a new Slot and
// swap it in; readers that already hold the previous Slot keep using it.
package modelslot

import (
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Slot is an immutable model version.
type Slot struct {
	Version     string
	Data        []byte
	InstalledAt time.Time
}

// Size returns the model size in bytes.
func (s *Slot) Size() int {
	if s == nil {
		return 0
	}
	return len(s.Data)
}

// Holder is a single-writer, many-reader cell for the active Slot.
type Holder struct {
	writeMu   sync.Mutex
	current   atomic.Pointer[Slot]
	swaps     atomic.Int64
	versioner func([]byte) string
}

// HolderOption applies a configuration option to the Holder.
type HolderOption func(*Holder)

// WithVersioner sets a function that reads the version a model declares in
// its own bytes. A non-empty declared version takes precedence over the
// version passed to Install.
func WithVersioner(fn func([]byte) string) HolderOption {
	return func(h *Holder) {
		h.versioner = fn
	}
}

// NewHolder returns an empty Holder.
func NewHolder(opts ...HolderOption) *Holder {
	h := &Holder{}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Load returns the active slot, or nil when no model has been installed.
func (h *Holder) Load() *Slot {
	return h.current.Load()
}

// Version returns the active version, or "" when empty.
func (h *Holder) Version() string {
	if s := h.current.Load(); s != nil {
		return s.Version
	}
	return ""
}

// Swaps returns how many slots have been published.
func (h *Holder) Swaps() int64 {
	return h.swaps.Load()
}

// Install copies data into a new Slot and publishes it. The version is, in
// order: the one declared by the model, the one given, a content fingerprint.
func (h *Holder) Install(version string, data []byte) *Slot {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	if h.versioner != nil {
		if declared := h.versioner(data); declared != "" {
			version = declared
		}
	}
	if version == "" {
		version = Fingerprint(data)
	}
	s := &Slot{
		Version:     version,
		Data:        append([]byte(nil), data...),
		InstalledAt: time.Now(),
	}
	h.current.Store(s)
	h.swaps.Add(1)
	return s
}

// InstallRange installs data[offset:offset+length].
func (h *Holder) InstallRange(version string, data []byte, offset, length int) (*Slot, error) {
	if offset < 0 || length < 0 || offset > len(data) || length > len(data)-offset {
		return nil, fmt.Errorf("%w: offset=%d length=%d size=%d", ErrInvalidRange, offset, length, len(data))
	}
	return h.Install(version, data[offset:offset+length]), nil
}

// Fingerprint returns a stable content hash used as a version tag.
func Fingerprint(data []byte) string {
	return strconv.FormatUint(xxhash.Sum64(data), 16)
}
