package hub

import "sync"

// Subscription receives snapshots of one key's record after each committed
// change. Only the latest snapshot is buffered; a slow reader skips
// intermediate states but always observes the most recent one. Delivery is
// local to the Hub that created it.
type Subscription struct {
	key SessionKey
	ch  chan Record
	w   *watchers

	once    sync.Once
	onClose func()
}

// C returns the snapshot channel. It is never closed; select on a context
// alongside it.
func (s *Subscription) C() <-chan Record { return s.ch }

func (s *Subscription) Key() SessionKey { return s.key }

// Close stops delivery. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.w.remove(s)
		if s.onClose != nil {
			s.onClose()
		}
	})
}

type watchers struct {
	mu   sync.Mutex
	subs map[SessionKey]map[*Subscription]struct{}

	// onDrop is called when a buffered snapshot is replaced by a newer one.
	onDrop func()
}

func newWatchers() *watchers {
	return &watchers{subs: make(map[SessionKey]map[*Subscription]struct{})}
}

func (w *watchers) add(key SessionKey) *Subscription {
	sub := &Subscription{key: key, ch: make(chan Record, 1), w: w}
	w.mu.Lock()
	set, ok := w.subs[key]
	if !ok {
		set = make(map[*Subscription]struct{})
		w.subs[key] = set
	}
	set[sub] = struct{}{}
	w.mu.Unlock()
	return sub
}

func (w *watchers) remove(sub *Subscription) {
	w.mu.Lock()
	defer w.mu.Unlock()
	set := w.subs[sub.key]
	delete(set, sub)
	if len(set) == 0 {
		delete(w.subs, sub.key)
	}
}

func (w *watchers) publish(key SessionKey, rec Record) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for sub := range w.subs[key] {
		snapshot := rec.Clone()
		select {
		case sub.ch <- snapshot:
			continue
		default:
		}
		select {
		case <-sub.ch:
			if w.onDrop != nil {
				w.onDrop()
			}
		default:
		}
		select {
		case sub.ch <- snapshot:
		default:
		}
	}
}

func (w *watchers) count(key SessionKey) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.subs[key])
}
