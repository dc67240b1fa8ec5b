package util

// Semaphore is a counting semaphore built on a buffered channel, used to cap
// how many tasks run at once when a run is not fully parallel (spec
// concurrency limits).
type Semaphore struct {
	ch chan struct{}
}

// NewSemaphore returns a Semaphore that allows at most n concurrent holders.
func NewSemaphore(n int) Semaphore {
	return Semaphore{ch: make(chan struct{}, n)}
}

// Acquire blocks until a slot is available.
func (s Semaphore) Acquire() {
	s.ch <- struct{}{}
}

// Release frees a previously acquired slot.
func (s Semaphore) Release() {
	<-s.ch
}
