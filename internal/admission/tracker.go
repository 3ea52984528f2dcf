// Package admission keeps track of the URLs that are currently being fetched so the
// same URL is never downloaded twice at the same time.
package admission

import (
	"errors"
	"sync"
)

// ErrAlreadyReserved is returned by Do when the URL is already in flight.
var ErrAlreadyReserved = errors.New("url already reserved")

// Tracker is a mutex guarded set of in-flight URLs. The zero value is not usable, use NewTracker.
type Tracker struct {
	mu       sync.Mutex
	inFlight map[string]struct{}
}

func NewTracker() *Tracker {
	return &Tracker{inFlight: make(map[string]struct{})}
}

// Reserve marks url as in flight. It returns false if url was already reserved.
func (t *Tracker) Reserve(url string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.inFlight[url]; ok {
		return false
	}

	t.inFlight[url] = struct{}{}

	return true
}

// Release removes url from the in-flight set. Releasing an unknown url is a no-op.
func (t *Tracker) Release(url string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.inFlight, url)
}

// Count returns the number of reserved URLs.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.inFlight)
}

// Do reserves url for the duration of fn. The reservation is released when fn returns,
// including when it panics. fn runs outside of the tracker lock.
func (t *Tracker) Do(url string, fn func() error) error {
	if !t.Reserve(url) {
		return ErrAlreadyReserved
	}
	defer t.Release(url)

	return fn()
}
