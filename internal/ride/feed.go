package ride

import "sync"

// Feed fans committed ride writes out to predicate subscriptions. Both store
// implementations embed one; it is the in-process half of the store's change
// feed (cross-process consumers go through the event bus instead).
type Feed struct {
	mu      sync.RWMutex
	nextID  int
	watches map[int]*watch
}

type watch struct {
	pred Predicate
	ch   chan *Ride
}

// NewFeed creates an empty feed.
func NewFeed() *Feed {
	return &Feed{watches: make(map[int]*watch)}
}

// Subscribe registers a predicate watch. The returned subscription's channel
// is buffered; when a consumer falls behind, older updates are dropped in
// favor of newer ones, matching the feed's current-state (not log) contract.
func (f *Feed) Subscribe(pred Predicate) *Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.nextID
	f.nextID++

	w := &watch{pred: pred, ch: make(chan *Ride, 64)}
	f.watches[id] = w

	return &Subscription{
		C: w.ch,
		cancel: func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			if _, ok := f.watches[id]; ok {
				delete(f.watches, id)
				close(w.ch)
			}
		},
	}
}

// Publish delivers the record to every matching subscription without
// blocking. A full buffer sheds the oldest pending update first.
func (f *Feed) Publish(r *Ride) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	for _, w := range f.watches {
		if !w.pred(r) {
			continue
		}
		select {
		case w.ch <- r:
		default:
			select {
			case <-w.ch:
			default:
			}
			select {
			case w.ch <- r:
			default:
			}
		}
	}
}

// Len returns the number of live subscriptions.
func (f *Feed) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.watches)
}
