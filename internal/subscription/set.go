package subscription

// Set is an insertion-ordered set of subscriptions keyed by "channel.symbol".
type Set struct {
	order []Subscription
	index map[string]int // key -> position in order
}

// NewSet creates a set seeded with initial, ignoring duplicates.
func NewSet(initial ...Subscription) *Set {
	s := &Set{index: make(map[string]int)}
	s.Add(initial...)
	return s
}

// Add inserts subs and returns the ones that were not already present, in
// argument order. Duplicates within subs count once.
func (s *Set) Add(subs ...Subscription) []Subscription {
	var added []Subscription
	for _, sub := range subs {
		key := sub.Key()
		if _, ok := s.index[key]; ok {
			continue
		}
		s.index[key] = len(s.order)
		s.order = append(s.order, sub)
		added = append(added, sub)
	}
	return added
}

// Remove deletes subs and returns the ones that were present.
func (s *Set) Remove(subs ...Subscription) []Subscription {
	var removed []Subscription
	for _, sub := range subs {
		key := sub.Key()
		if _, ok := s.index[key]; !ok {
			continue
		}
		delete(s.index, key)
		removed = append(removed, sub)
	}
	if len(removed) > 0 {
		s.compact()
	}
	return removed
}

// Contains reports whether sub is in the set.
func (s *Set) Contains(sub Subscription) bool {
	_, ok := s.index[sub.Key()]
	return ok
}

// Len returns the number of subscriptions.
func (s *Set) Len() int { return len(s.order) }

// Snapshot returns a copy of the set in insertion order.
func (s *Set) Snapshot() []Subscription {
	out := make([]Subscription, len(s.order))
	copy(out, s.order)
	return out
}

// Clear empties the set.
func (s *Set) Clear() {
	s.order = nil
	s.index = make(map[string]int)
}

// compact drops removed entries from order and rebuilds index.
func (s *Set) compact() {
	kept := s.order[:0]
	for _, sub := range s.order {
		if _, ok := s.index[sub.Key()]; ok {
			kept = append(kept, sub)
		}
	}
	for i := len(kept); i < len(s.order); i++ {
		s.order[i] = Subscription{}
	}
	s.order = kept
	for i, sub := range s.order {
		s.index[sub.Key()] = i
	}
}

// Batches splits subs into groups of at most size entries. A size <= 0
// returns a single batch.
func Batches(subs []Subscription, size int) [][]Subscription {
	if len(subs) == 0 {
		return nil
	}
	if size <= 0 || size >= len(subs) {
		return [][]Subscription{subs}
	}
	var out [][]Subscription
	for start := 0; start < len(subs); start += size {
		end := start + size
		if end > len(subs) {
			end = len(subs)
		}
		out = append(out, subs[start:end])
	}
	return out
}
