package generator

import "strconv"

// Allocator hands out names unique within one generated config
type Allocator struct {
	used map[string]struct{}
}

// NewAllocator returns an allocator with reserved names already taken
func NewAllocator(reserved ...string) *Allocator {
	a := &Allocator{used: make(map[string]struct{}, len(reserved))}
	for _, name := range reserved {
		a.used[name] = struct{}{}
	}
	return a
}

// Allocate returns base if it is free, else "base N" for the smallest free N >= 1.
// The returned name is taken before Allocate returns.
func (a *Allocator) Allocate(base string) string {
	name := base
	for n := 1; a.Taken(name); n++ {
		name = base + " " + strconv.Itoa(n)
	}
	a.used[name] = struct{}{}
	return name
}

// Taken reports whether name is already allocated or reserved
func (a *Allocator) Taken(name string) bool {
	_, ok := a.used[name]
	return ok
}
