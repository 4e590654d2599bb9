package normalize

// OrderedMap keeps keys in first-insertion order. Setting an existing key
// replaces its value in place.
type OrderedMap[K comparable, V any] struct {
	index  map[K]int
	keys   []K
	values []V
}

func NewOrderedMap[K comparable, V any]() *OrderedMap[K, V] {
	return &OrderedMap[K, V]{index: make(map[K]int)}
}

func (m *OrderedMap[K, V]) Set(key K, value V) {
	if i, ok := m.index[key]; ok {
		m.values[i] = value
		return
	}
	m.index[key] = len(m.keys)
	m.keys = append(m.keys, key)
	m.values = append(m.values, value)
}

func (m *OrderedMap[K, V]) Values() []V {
	out := make([]V, len(m.values))
	copy(out, m.values)
	return out
}
