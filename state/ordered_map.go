package state

import "slices"

// orderedMap keeps insertion order for replay. The zero value is ready to
// use; callers hold the owning state's lock.
type orderedMap[K comparable, V any] struct {
	keys  []K
	items map[K]V
}

func (m *orderedMap[K, V]) put(k K, v V) {
	if m.items == nil {
		m.items = make(map[K]V)
	}
	if _, ok := m.items[k]; !ok {
		m.keys = append(m.keys, k)
	}
	m.items[k] = v
}

func (m *orderedMap[K, V]) get(k K) (V, bool) {
	v, ok := m.items[k]
	return v, ok
}

func (m *orderedMap[K, V]) remove(k K) (V, bool) {
	v, ok := m.items[k]
	if !ok {
		return v, false
	}
	delete(m.items, k)
	m.keys = slices.DeleteFunc(m.keys, func(x K) bool { return x == k })
	return v, true
}

func (m *orderedMap[K, V]) values() []V {
	out := make([]V, 0, len(m.keys))
	for _, k := range m.keys {
		out = append(out, m.items[k])
	}
	return out
}

func (m *orderedMap[K, V]) size() int { return len(m.keys) }

func (m *orderedMap[K, V]) clear() {
	m.keys = nil
	m.items = nil
}
