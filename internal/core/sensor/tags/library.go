package tags

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
)

var (
	ErrLibraryFull = errors.New("tag library is full")
	ErrEmptyName   = errors.New("tag name is empty")
)

// Registry maps human-readable tag names to tag bits.
type Registry interface {
	// Create returns the tag for name, allocating a new bit if it does not exist yet.
	Create(name string) (Tags, error)
	// Lookup returns the tag for name without allocating.
	Lookup(name string) (Tags, bool)
	// Names returns the names of every allocated bit in t, lowest bit first.
	Names(t Tags) []string
}

var _ Registry = (*Library)(nil)

// Library is a Registry allocating bits in creation order. Names are matched
// case-insensitively and interned by their xxhash digest.
type Library struct {
	mu     sync.RWMutex
	byHash map[uint64]uint
	names  [Width]string
	next   uint
}

func NewLibrary() *Library {
	return &Library{byHash: make(map[uint64]uint)}
}

func nameKey(name string) uint64 {
	return xxhash.Sum64String(strings.ToLower(strings.TrimSpace(name)))
}

func (l *Library) Create(name string) (Tags, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return None, ErrEmptyName
	}
	key := nameKey(name)

	l.mu.Lock()
	defer l.mu.Unlock()
	if bit, ok := l.byHash[key]; ok {
		return Bit(bit), nil
	}
	if l.next >= Width {
		return None, fmt.Errorf("create %q: %w", name, ErrLibraryFull)
	}
	bit := l.next
	l.next++
	l.byHash[key] = bit
	l.names[bit] = name
	return Bit(bit), nil
}

func (l *Library) Lookup(name string) (Tags, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	bit, ok := l.byHash[nameKey(name)]
	if !ok {
		return None, false
	}
	return Bit(bit), true
}

func (l *Library) Names(t Tags) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, t.Count())
	t.Each(func(bit uint) {
		if bit < l.next {
			out = append(out, l.names[bit])
		}
	})
	return out
}

// Parse resolves a list of names into one tag set, creating missing tags.
func (l *Library) Parse(names ...string) (Tags, error) {
	var out Tags
	for _, n := range names {
		t, err := l.Create(n)
		if err != nil {
			return None, err
		}
		out |= t
	}
	return out, nil
}

// Format renders t as "A|B|C", or "-" for the empty set.
func (l *Library) Format(t Tags) string {
	if t.IsEmpty() {
		return "-"
	}
	return strings.Join(l.Names(t), "|")
}

// Len returns how many tags have been allocated.
func (l *Library) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return int(l.next)
}
