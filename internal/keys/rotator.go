package keys

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"time"
)

// ErrEmptyPool is returned when a rotator is constructed without any keys.
var ErrEmptyPool = errors.New("keys: credential pool is empty")

// Rotator cycles through a pool of API credentials so that load is spread
// across keys and a rate-limited key is not immediately reused.
//
// Rotation state is private to one instance; Next is safe for concurrent
// callers (search tasks issuing parallel requests share one rotator).
type Rotator struct {
	mu   sync.Mutex
	pool []string
	rng  *rand.Rand
}

// NewRotator creates a rotator over the given keys. The pool is shuffled once
// at construction so that restarts do not always hammer the same key first.
func NewRotator(pool []string) (*Rotator, error) {
	return NewSeededRotator(pool, time.Now().UnixNano())
}

// NewSeededRotator creates a rotator with a deterministic shuffle order.
// Tests construct isolated rotators with a fixed seed.
func NewSeededRotator(pool []string, seed int64) (*Rotator, error) {
	if len(pool) == 0 {
		return nil, ErrEmptyPool
	}
	keys := make([]string, len(pool))
	copy(keys, pool)
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(keys), func(i, j int) {
		keys[i], keys[j] = keys[j], keys[i]
	})
	return &Rotator{pool: keys, rng: rng}, nil
}

// FromEnv builds a rotator from a base environment variable plus arbitrarily
// many numbered suffix variables (BASE, BASE_1, BASE_2, ...). Numbering stops
// at the first unset suffix.
func FromEnv(base string) (*Rotator, error) {
	var pool []string
	if v := os.Getenv(base); v != "" {
		pool = append(pool, v)
	}
	for i := 1; ; i++ {
		v := os.Getenv(fmt.Sprintf("%s_%d", base, i))
		if v == "" {
			break
		}
		pool = append(pool, v)
	}
	if len(pool) == 0 {
		return nil, fmt.Errorf("keys: no credentials found under %s: %w", base, ErrEmptyPool)
	}
	return NewRotator(pool)
}

// Next pops the front key and re-appends it at the back, so no key is reused
// until the whole pool has cycled.
func (r *Rotator) Next() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := r.pool[0]
	r.pool = append(r.pool[1:], key)
	return key
}

// Random returns an arbitrary key without disturbing the rotation order.
func (r *Rotator) Random() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pool[r.rng.Intn(len(r.pool))]
}

// Len reports the pool size.
func (r *Rotator) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pool)
}
