// Package alloc provides the label and route-distinguisher allocators shared
// by all VPN instances. Allocators hand out disjoint values under concurrent
// callers; released values are reused before the counter advances further.
package alloc

import (
	"errors"
	"fmt"
	"sync"
)

const (
	// MPLS label range usable for VPN traffic, below the first 16 reserved
	// values.
	MinLabel = 16
	MaxLabel = 1<<20 - 1
)

var ErrExhausted = errors.New("allocator exhausted")

// Labels allocates MPLS labels.
type Labels struct {
	mu    sync.Mutex
	next  uint32
	freed []uint32
	inUse map[uint32]string
}

func NewLabels() *Labels {
	return &Labels{next: MinLabel, inUse: make(map[uint32]string)}
}

// Allocate reserves an unused label. The description is kept for diagnostics
// only.
func (l *Labels) Allocate(description string) (uint32, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var label uint32
	if n := len(l.freed); n > 0 {
		label = l.freed[n-1]
		l.freed = l.freed[:n-1]
	} else {
		if l.next > MaxLabel {
			return 0, fmt.Errorf("%w: no labels left", ErrExhausted)
		}
		label = l.next
		l.next++
	}
	l.inUse[label] = description
	return label, nil
}

func (l *Labels) Release(label uint32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.inUse[label]; !ok {
		return
	}
	delete(l.inUse, label)
	l.freed = append(l.freed, label)
}

// Described returns the diagnostic description a label was allocated with.
func (l *Labels) Described(label uint32) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	d, ok := l.inUse[label]
	return d, ok
}

// RDs allocates route distinguishers of the form "<routerID>:<n>".
type RDs struct {
	mu       sync.Mutex
	routerID string
	next     uint32
	freed    []uint32
	inUse    map[string]string
}

func NewRDs(routerID string) *RDs {
	return &RDs{routerID: routerID, inUse: make(map[string]string)}
}

func (r *RDs) Allocate(description string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var suffix uint32
	if n := len(r.freed); n > 0 {
		suffix = r.freed[n-1]
		r.freed = r.freed[:n-1]
	} else {
		if r.next == 1<<16-1 {
			return "", fmt.Errorf("%w: no route distinguishers left", ErrExhausted)
		}
		suffix = r.next
		r.next++
	}
	rd := fmt.Sprintf("%s:%d", r.routerID, suffix)
	r.inUse[rd] = description
	return rd, nil
}

func (r *RDs) Release(rd string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.inUse[rd]; !ok {
		return
	}
	delete(r.inUse, rd)
	var suffix uint32
	fmt.Sscanf(rd[len(r.routerID)+1:], "%d", &suffix)
	r.freed = append(r.freed, suffix)
}
