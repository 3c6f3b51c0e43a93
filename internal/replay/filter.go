// Package replay implements the packet replay filter: a Bloom filter over
// packet tags sized for 10^7 entries at a 10^-4 false-positive rate.
package replay

import (
	"bytes"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// capacity and falsePositiveRate size the filter per the contract: 10^7
// entries at a 10^-4 false positive rate.
const (
	capacity          = 10_000_000
	falsePositiveRate = 1e-4
)

// Tag is a 128-bit packet tag derived from the packet's ephemeral key.
type Tag [16]byte

// Filter is a replay filter shared across the Packet Processor's
// goroutines; all operations are serialized by an internal mutex.
type Filter struct {
	mu       sync.Mutex
	bloom    *bloom.BloomFilter
	inserted uint64
}

// New constructs an empty replay filter.
func New() *Filter {
	return &Filter{
		bloom: bloom.NewWithEstimates(capacity, falsePositiveRate),
	}
}

// CheckAndSet reports whether tag was already present, marking it seen
// either way. On reaching the configured item capacity the filter is
// cleared; this accepts a bounded risk of replay for very old packets in
// exchange for not growing unboundedly.
func (f *Filter) CheckAndSet(tag Tag) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	seen := f.bloom.Test(tag[:])
	f.bloom.Add(tag[:])
	f.inserted++

	if f.inserted >= capacity {
		f.bloom = bloom.NewWithEstimates(capacity, falsePositiveRate)
		f.inserted = 0
	}

	return seen
}

// Load replaces the filter's internal state from a previously persisted
// blob, as written by Dump.
func (f *Filter) Load(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	bf := &bloom.BloomFilter{}
	if _, err := bf.ReadFrom(bytes.NewReader(data)); err != nil {
		return err
	}

	f.bloom = bf
	f.inserted = 0
	return nil
}

// Dump serializes the filter's current state for persistence.
func (f *Filter) Dump() ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var buf bytes.Buffer
	if _, err := f.bloom.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
