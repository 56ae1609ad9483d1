package rng

// fallbackSeed replaces a zero seed; xorshift32 is stuck at zero forever.
const fallbackSeed uint32 = 0x9e3779b9

const (
	// bufferEnd sits above the bytes still buffered; a buffer of 1 (or 0)
	// is empty.
	bufferEnd uint32 = 1 << 24

	// sequentialMode in buffer selects sequential tags. A random-mode
	// buffer never exceeds bufferEnd<<1, so the bit is free.
	sequentialMode uint32 = 1 << 31
)

// Generator is a per-thread tag generator.
//
// Layout: two 32-bit words.
//   - state:  xorshift32 state (random mode) or last tag (sequential mode)
//   - buffer: unconsumed bytes of the last xorshift output below a
//     bufferEnd marker, or sequentialMode
//
// The zero Generator is valid and behaves as if seeded with fallbackSeed.
// State is mutated only by Next and reset only by Seed / SeedSequential.
type Generator struct {
	state  uint32
	buffer uint32
}

// Seed reseeds the generator in random mode.
//
// The seed is mixed before use so that adjacent seeds (thread IDs, counters)
// give unrelated streams.
func (g *Generator) Seed(seed uint32) {
	s := mix32(seed)
	if s == 0 {
		s = fallbackSeed
	}
	g.state = s
	g.buffer = 0
}

// SeedSequential reseeds the generator in sequential mode.
//
// The first tag produced is (start+1) mod 256, skipping zero.
func (g *Generator) SeedSequential(start uint32) {
	g.state = start & 0xff
	g.buffer = sequentialMode
}

// Sequential reports whether the generator is in sequential mode.
func (g *Generator) Sequential() bool {
	return g.buffer&sequentialMode != 0
}

// Next returns the next non-zero tag.
//
// This is the allocation HOT PATH. Must stay lock-free and allocation-free.
//
//go:nosplit
func (g *Generator) Next() uint8 {
	for {
		var tag uint8
		switch {
		case g.buffer&sequentialMode != 0:
			g.state = (g.state + 1) & 0xff
			tag = uint8(g.state)
		case g.buffer <= 1:
			if g.state == 0 {
				g.state = fallbackSeed
			}
			g.state = xorshift32(g.state)
			//nolint:gosec // G115: Intentional truncation to the low byte.
			tag = uint8(g.state)
			g.buffer = g.state>>8 | bufferEnd
		default:
			//nolint:gosec // G115: Intentional truncation to the low byte.
			tag = uint8(g.buffer)
			g.buffer >>= 8
		}
		if tag != 0 {
			return tag
		}
	}
}

// xorshift32 is Marsaglia's 13/17/5 xorshift. Period 2^32-1 over non-zero states.
//
//go:nosplit
func xorshift32(x uint32) uint32 {
	x ^= x << 13
	x ^= x >> 17
	x ^= x << 5
	return x
}

// mix32 is the murmur3 finalizer.
func mix32(x uint32) uint32 {
	x ^= x >> 16
	x *= 0x85ebca6b
	x ^= x >> 13
	x *= 0xc2b2ae35
	x ^= x >> 16
	return x
}
