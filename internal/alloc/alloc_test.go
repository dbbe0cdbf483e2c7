package alloc

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLabelsSequential(t *testing.T) {
	l := NewLabels()
	a, err := l.Allocate("first")
	require.NoError(t, err)
	b, err := l.Allocate("second")
	require.NoError(t, err)
	assert.Equal(t, uint32(MinLabel), a)
	assert.Equal(t, uint32(MinLabel+1), b)
	d, ok := l.Described(a)
	require.True(t, ok)
	assert.Equal(t, "first", d)
}

func TestLabelsReuseAfterRelease(t *testing.T) {
	l := NewLabels()
	a, err := l.Allocate("a")
	require.NoError(t, err)
	_, err = l.Allocate("b")
	require.NoError(t, err)
	l.Release(a)
	c, err := l.Allocate("c")
	require.NoError(t, err)
	assert.Equal(t, a, c)
}

func TestLabelsDoubleReleaseIgnored(t *testing.T) {
	l := NewLabels()
	a, err := l.Allocate("a")
	require.NoError(t, err)
	l.Release(a)
	l.Release(a)
	b, err := l.Allocate("b")
	require.NoError(t, err)
	c, err := l.Allocate("c")
	require.NoError(t, err)
	assert.NotEqual(t, b, c)
}

func TestLabelsConcurrentDisjoint(t *testing.T) {
	l := NewLabels()
	const n = 64
	out := make(chan uint32, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			label, err := l.Allocate(fmt.Sprintf("worker-%d", i))
			assert.NoError(t, err)
			out <- label
		}(i)
	}
	wg.Wait()
	close(out)
	seen := make(map[uint32]bool)
	for label := range out {
		assert.False(t, seen[label], "label %d handed out twice", label)
		seen[label] = true
	}
	assert.Len(t, seen, n)
}

func TestRDsFormatAndReuse(t *testing.T) {
	r := NewRDs("192.0.2.1")
	a, err := r.Allocate("instance-1")
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.1:0", a)
	b, err := r.Allocate("instance-2")
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.1:1", b)
	r.Release(a)
	c, err := r.Allocate("instance-3")
	require.NoError(t, err)
	assert.Equal(t, a, c)
}
