package rng

import (
	"crypto/rand"
	"encoding/binary"
	"sync/atomic"
	"time"
)

// EntropySource supplies seed material for a thread's generator.
//
// Seed is called once per thread, at thread start.
type EntropySource interface {
	Seed() uint32
}

// CryptoSource reads seeds from crypto/rand.
//
// If the system source fails, it falls back to the monotonic clock mixed
// with a process-wide counter so that sibling threads still diverge.
type CryptoSource struct{}

var fallbackCounter atomic.Uint32

// Seed implements EntropySource.
func (CryptoSource) Seed() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err == nil {
		return binary.LittleEndian.Uint32(b[:])
	}
	//nolint:gosec // G115: Truncation is fine for seed material.
	now := uint32(time.Now().UnixNano())
	return mix32(now ^ fallbackCounter.Add(0x9e3779b9))
}

// FixedSource returns the same seed every time. Used in tests and for
// reproducible runs.
type FixedSource uint32

// Seed implements EntropySource.
func (f FixedSource) Seed() uint32 {
	return uint32(f)
}
