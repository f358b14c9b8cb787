package rng

import (
	"encoding/binary"
	"hash/fnv"
	"math/rand"
	"sync"
)

// Source is the single randomness abstraction used by generators, simulators and the
// statistical predictor. Implementations are not required to be safe for concurrent use.
type Source interface {
	// Float64 returns a uniform value in [0, 1).
	Float64() float64
	// NormFloat64 returns a standard normal value.
	NormFloat64() float64
}

// Rand is a seeded Source backed by math/rand.
type Rand struct {
	r *rand.Rand
}

// New creates a seeded source
func New(seed int64) *Rand {
	return &Rand{r: rand.New(rand.NewSource(seed))}
}

func (s *Rand) Float64() float64     { return s.r.Float64() }
func (s *Rand) NormFloat64() float64 { return s.r.NormFloat64() }

// Locked wraps a Source with a mutex for long-lived shared owners (API predictor).
type Locked struct {
	mu  sync.Mutex
	src Source
}

// NewLocked creates a goroutine safe source
func NewLocked(seed int64) *Locked {
	return &Locked{src: New(seed)}
}

func (l *Locked) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.src.Float64()
}

func (l *Locked) NormFloat64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.src.NormFloat64()
}

// Derive mixes a base seed with labels into a new seed. The same inputs always yield the
// same seed, so independent consumers get independent but reproducible streams.
func Derive(seed int64, parts ...interface{}) int64 {
	h := fnv.New64a()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(seed))
	h.Write(buf[:])
	for _, p := range parts {
		switch v := p.(type) {
		case string:
			h.Write([]byte(v))
		case int64:
			binary.LittleEndian.PutUint64(buf[:], uint64(v))
			h.Write(buf[:])
		case int:
			binary.LittleEndian.PutUint64(buf[:], uint64(v))
			h.Write(buf[:])
		}
		h.Write([]byte{0})
	}
	return int64(h.Sum64() & 0x7fffffffffffffff)
}
