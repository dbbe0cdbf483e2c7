package utils

import (
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
)

// MapSet is a map from keys to sets of values. A key with an empty set is
// removed from the map, so key presence always means at least one value.
type MapSet[K comparable, V comparable] struct {
	ms   map[K]mapset.Set[V]
	lock sync.RWMutex
}

func NewMapSet[K comparable, V comparable]() *MapSet[K, V] {
	return &MapSet[K, V]{ms: make(map[K]mapset.Set[V])}
}

func (ms *MapSet[K, V]) store(key K, value V) {
	curval, ok := ms.ms[key]
	if !ok {
		curval = mapset.NewThreadUnsafeSet[V]()
	}
	curval.Add(value)
	ms.ms[key] = curval
}

func (ms *MapSet[K, V]) Store(key K, value V) {
	ms.lock.Lock()
	defer ms.lock.Unlock()
	ms.store(key, value)
}

func (ms *MapSet[K, V]) StoreMany(key K, values []V) {
	ms.lock.Lock()
	defer ms.lock.Unlock()
	for _, value := range values {
		ms.store(key, value)
	}
}

// Load returns a snapshot of the set stored under key.
func (ms *MapSet[K, V]) Load(key K) (mapset.Set[V], bool) {
	ms.lock.RLock()
	defer ms.lock.RUnlock()
	val, ok := ms.ms[key]
	if !ok {
		return nil, false
	}
	return val.Clone(), true
}

func (ms *MapSet[K, V]) Delete(key K) {
	ms.lock.Lock()
	defer ms.lock.Unlock()
	delete(ms.ms, key)
}

// DeleteVal removes value from the set under key and reports whether the
// set became empty and the key was dropped.
func (ms *MapSet[K, V]) DeleteVal(key K, value V) bool {
	ms.lock.Lock()
	defer ms.lock.Unlock()
	curval, ok := ms.ms[key]
	if !ok {
		return false
	}
	curval.Remove(value)
	if curval.IsEmpty() {
		delete(ms.ms, key)
		return true
	}
	return false
}

func (ms *MapSet[K, V]) ContainsVal(key K, value V) bool {
	ms.lock.RLock()
	defer ms.lock.RUnlock()
	curval, ok := ms.ms[key]
	if !ok {
		return false
	}
	return curval.Contains(value)
}

// Keys returns a snapshot of the keys with at least one value.
func (ms *MapSet[K, V]) Keys() []K {
	ms.lock.RLock()
	defer ms.lock.RUnlock()
	keys := make([]K, 0, len(ms.ms))
	for k := range ms.ms {
		keys = append(keys, k)
	}
	return keys
}

func (ms *MapSet[K, V]) Len() int {
	ms.lock.RLock()
	defer ms.lock.RUnlock()
	return len(ms.ms)
}
