package shm

import (
	"sync/atomic"
	"unsafe"
)

// semSize leaves the counter word alone on its own cache line.
const semSize = 64

// Semaphore is a counting semaphore shared between processes through a
// mapped region.
type Semaphore struct {
	region *Region
	word   *int32
}

// CreateSemaphore creates (or replaces) a named semaphore holding initial.
func CreateSemaphore(dir, name string, initial int32) (*Semaphore, error) {
	r, err := Create(dir, name, semSize)
	if err != nil {
		return nil, err
	}
	s := newSemaphore(r)
	atomic.StoreInt32(s.word, initial)
	return s, nil
}

// OpenSemaphore attaches to a semaphore created by CreateSemaphore.
func OpenSemaphore(dir, name string) (*Semaphore, error) {
	r, err := Open(dir, name, semSize)
	if err != nil {
		return nil, err
	}
	return newSemaphore(r), nil
}

func newSemaphore(r *Region) *Semaphore {
	return &Semaphore{
		region: r,
		word:   (*int32)(unsafe.Pointer(&r.Bytes()[0])),
	}
}

// Wait decrements the semaphore, blocking while it is zero.
func (s *Semaphore) Wait() error {
	for {
		v := atomic.LoadInt32(s.word)
		if v > 0 {
			if atomic.CompareAndSwapInt32(s.word, v, v-1) {
				return nil
			}
			continue
		}
		if err := futexWait(s.word, v); err != nil {
			return err
		}
	}
}

// TryWait decrements the semaphore if it is positive and reports whether it
// did.
func (s *Semaphore) TryWait() bool {
	for {
		v := atomic.LoadInt32(s.word)
		if v <= 0 {
			return false
		}
		if atomic.CompareAndSwapInt32(s.word, v, v-1) {
			return true
		}
	}
}

// Post increments the semaphore and wakes one waiter.
func (s *Semaphore) Post() error {
	atomic.AddInt32(s.word, 1)
	return futexWake(s.word, 1)
}

// Value returns the current count.
func (s *Semaphore) Value() int32 {
	return atomic.LoadInt32(s.word)
}

// Name returns the semaphore's object name.
func (s *Semaphore) Name() string {
	return s.region.Name()
}

// Close detaches from the semaphore. It must not race with Wait or Post.
func (s *Semaphore) Close() error {
	return s.region.Close()
}

// Remove unlinks the semaphore's name.
func (s *Semaphore) Remove() error {
	return s.region.Remove()
}
