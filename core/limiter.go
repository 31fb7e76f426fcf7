package core

import (
	"fmt"
	"sync"
)

// Limiter bounds the number of concurrently running invocations.
type Limiter struct {
	max   int
	inUse int
	mu    sync.Mutex
}

// NewLimiter creates a limiter with max slots. If max == 0, any number of
// slots may be held.
func NewLimiter(max int) *Limiter {
	return &Limiter{max: max}
}

// Acquire takes a slot or returns an error when all slots are held.
func (l *Limiter) Acquire() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.max > 0 && l.inUse >= l.max {
		return fmt.Errorf("exceeded max concurrent invocations: %d", l.max)
	}
	l.inUse++

	return nil
}

// Release returns a slot.
func (l *Limiter) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.inUse > 0 {
		l.inUse--
	}
}

// InUse returns the number of held slots.
func (l *Limiter) InUse() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.inUse
}

// Remaining returns how many slots are free.
func (l *Limiter) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.max == 0 {
		return -1 // unlimited
	}

	return l.max - l.inUse
}
