package openwire

import "fmt"

// marshalCache maps outbound structures to the slot the peer stores them in.
// Slots are reused in round-robin order once the cache is full. Changes go
// through a cacheFrame.
type marshalCache struct {
	index map[string]int16
	slots []string
	next  int
}

func newMarshalCache(size int) *marshalCache {
	return &marshalCache{
		index: make(map[string]int16, size),
		slots: make([]string, size),
	}
}

// begin opens the staging area for one frame.
func (m *marshalCache) begin() *cacheFrame {
	return &cacheFrame{
		cache: m,
		added: make(map[string]int16),
		slots: make(map[int16]string),
		used:  make(map[int16]bool),
		next:  m.next,
	}
}

// cacheDecision is how one cached field was encoded.
type cacheDecision struct {
	idx  int16
	full bool
}

// cacheFrame stages the cache changes of a single frame. The changes reach
// the marshalCache only through commit, so a frame that fails to encode
// leaves the cache matching what the peer holds. Lookups and assignments
// follow the order the peer decodes the frame in.
type cacheFrame struct {
	cache *marshalCache
	added map[string]int16
	slots map[int16]string
	used  map[int16]bool
	next  int

	decisions []cacheDecision
	replay    int
}

func (f *cacheFrame) lookup(key string) (int16, bool) {
	if i, ok := f.added[key]; ok {
		f.used[i] = true
		return i, true
	}
	i, ok := f.cache.index[key]
	if !ok {
		return 0, false
	}
	if _, overwritten := f.slots[i]; overwritten {
		return 0, false
	}
	f.used[i] = true
	return i, true
}

// reserve picks the slot for a new entry. Slots already referenced by this
// frame are skipped while a free one is left.
func (f *cacheFrame) reserve() int16 {
	n := len(f.cache.slots)
	i := f.next
	for range n {
		if !f.used[int16(i)] {
			break
		}
		i = (i + 1) % n
	}
	f.next = (i + 1) % n
	f.used[int16(i)] = true
	return int16(i)
}

// assign stores key in a reserved slot.
func (f *cacheFrame) assign(i int16, key string) {
	if old, ok := f.slots[i]; ok && f.added[old] == i {
		delete(f.added, old)
	}
	f.slots[i] = key
	f.added[key] = i
}

func (f *cacheFrame) record(d cacheDecision) {
	f.decisions = append(f.decisions, d)
}

func (f *cacheFrame) nextDecision() (cacheDecision, bool) {
	if f.replay >= len(f.decisions) {
		return cacheDecision{}, false
	}
	d := f.decisions[f.replay]
	f.replay++
	return d, true
}

// commit publishes the staged entries to the cache.
func (f *cacheFrame) commit() {
	m := f.cache
	for i := range f.slots {
		if old := m.slots[i]; old != "" && m.index[old] == i {
			delete(m.index, old)
		}
	}
	for i, key := range f.slots {
		m.slots[i] = key
		m.index[key] = i
	}
	m.next = f.next
}

type cacheSlot struct {
	ds  DataStructure
	set bool
}

// unmarshalCache holds inbound structures by the slot the peer assigned.
type unmarshalCache struct {
	slots []cacheSlot
}

func newUnmarshalCache(size int) *unmarshalCache {
	return &unmarshalCache{slots: make([]cacheSlot, size)}
}

func (u *unmarshalCache) set(i int16, ds DataStructure) error {
	if i < 0 || int(i) >= len(u.slots) {
		return NewProtocolError(fmt.Errorf("%w: index %d out of range", ErrCacheMiss, i))
	}
	u.slots[i] = cacheSlot{ds: ds, set: true}
	return nil
}

func (u *unmarshalCache) get(i int16) (DataStructure, error) {
	if i < 0 || int(i) >= len(u.slots) || !u.slots[i].set {
		return nil, NewProtocolError(fmt.Errorf("%w: index %d", ErrCacheMiss, i))
	}
	return u.slots[i].ds, nil
}
