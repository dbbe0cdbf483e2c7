package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapSetStoreMultipleValues(t *testing.T) {
	ms := NewMapSet[string, int]()

	ms.Store("key1", 1)
	ms.Store("key1", 2)
	ms.Store("key1", 3)

	set, ok := ms.Load("key1")
	assert.True(t, ok, "Expected key1 to exist")
	assert.Equal(t, 3, set.Cardinality(), "Expected set cardinality 3")
	assert.True(t, set.Contains(1), "Expected set to contain value 1")
	assert.True(t, set.Contains(2), "Expected set to contain value 2")
	assert.True(t, set.Contains(3), "Expected set to contain value 3")
}

func TestMapSetStoreMany(t *testing.T) {
	ms := NewMapSet[string, int]()

	values := []int{10, 20, 30, 40}
	ms.StoreMany("key1", values)

	set, ok := ms.Load("key1")
	assert.True(t, ok, "Expected key1 to exist")
	assert.Equal(t, 4, set.Cardinality(), "Expected set cardinality 4")
	for _, v := range values {
		assert.True(t, set.Contains(v), "Expected set to contain value %d", v)
	}
}

func TestMapSetLoad(t *testing.T) {
	ms := NewMapSet[string, int]()

	_, ok := ms.Load("nonexistent")
	assert.False(t, ok, "Expected non-existent key to return false")

	ms.Store("key1", 42)
	set, ok := ms.Load("key1")
	assert.True(t, ok, "Expected key1 to exist")
	assert.True(t, set.Contains(42), "Expected set to contain value 42")
}

func TestMapSetLoadReturnsSnapshot(t *testing.T) {
	ms := NewMapSet[string, int]()

	ms.Store("key1", 1)
	set, _ := ms.Load("key1")
	set.Add(99)

	assert.False(t, ms.ContainsVal("key1", 99), "Mutating a loaded set must not affect the map")
}

func TestMapSetDelete(t *testing.T) {
	ms := NewMapSet[string, int]()

	ms.Store("key1", 1)
	ms.Store("key1", 2)
	ms.Store("key2", 3)

	ms.Delete("key1")

	_, ok := ms.Load("key1")
	assert.False(t, ok, "Expected key1 to be deleted")

	set, ok := ms.Load("key2")
	assert.True(t, ok, "Expected key2 to still exist")
	assert.True(t, set.Contains(3), "Expected key2 to still contain value 3")
}

func TestMapSetDeleteVal(t *testing.T) {
	ms := NewMapSet[string, int]()

	ms.Store("key1", 1)
	ms.Store("key1", 2)
	ms.Store("key1", 3)

	emptied := ms.DeleteVal("key1", 2)
	assert.False(t, emptied, "Set still has values, key must not be dropped")

	set, ok := ms.Load("key1")
	assert.True(t, ok, "Expected key1 to still exist")
	assert.False(t, set.Contains(2), "Expected value 2 to be deleted")
	assert.True(t, set.Contains(1), "Expected value 1 to still exist")
	assert.True(t, set.Contains(3), "Expected value 3 to still exist")
	assert.Equal(t, 2, set.Cardinality(), "Expected set cardinality 2")
}

func TestMapSetDeleteValLastValue(t *testing.T) {
	ms := NewMapSet[string, int]()

	ms.Store("key1", 1)

	emptied := ms.DeleteVal("key1", 1)
	assert.True(t, emptied, "Deleting the last value must drop the key")

	_, ok := ms.Load("key1")
	assert.False(t, ok, "Expected key1 to be completely removed after deleting last value")
}

func TestMapSetDeleteValNonExistentValue(t *testing.T) {
	ms := NewMapSet[string, int]()

	ms.Store("key1", 1)
	ms.Store("key1", 2)

	ms.DeleteVal("key1", 99)

	set, ok := ms.Load("key1")
	assert.True(t, ok, "Expected key1 to still exist")
	assert.Equal(t, 2, set.Cardinality(), "Expected set cardinality 2")
}

func TestMapSetContainsVal(t *testing.T) {
	ms := NewMapSet[string, int]()

	assert.False(t, ms.ContainsVal("nonexistent", 1), "Expected ContainsVal to return false for non-existent key")

	ms.Store("key1", 1)
	ms.Store("key1", 2)

	assert.True(t, ms.ContainsVal("key1", 1), "Expected ContainsVal to return true for existing value 1")
	assert.True(t, ms.ContainsVal("key1", 2), "Expected ContainsVal to return true for existing value 2")
	assert.False(t, ms.ContainsVal("key1", 99), "Expected ContainsVal to return false for non-existent value")
}

func TestMapSetLen(t *testing.T) {
	ms := NewMapSet[string, int]()
	assert.Equal(t, 0, ms.Len())

	ms.Store("key1", 1)
	ms.Store("key2", 2)
	assert.Equal(t, 2, ms.Len())

	ms.DeleteVal("key1", 1)
	assert.Equal(t, 1, ms.Len())
}
