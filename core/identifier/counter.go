package identifier

import "sync"

// Counter tracks the next free index for each (name, registry) pair.
// Indices only grow: installing a second app with the same name always
// yields a fresh identifier, even if an earlier one was never referenced.
type Counter struct {
	mu   sync.Mutex
	next map[string]int
}

// NewCounter returns an empty counter.
func NewCounter() *Counter {
	return &Counter{next: make(map[string]int)}
}

func counterKey(name, registryENS string) string {
	return name + ParseRegistry(registryENS)
}

// Observe records an existing identifier so later allocations skip its
// index. Labeled and malformed identifiers are ignored.
func (c *Counter) Observe(id string) {
	p, err := Parse(id)
	if err != nil || p.IsLabeled() {
		return
	}
	idx := p.Index
	if idx < 0 {
		idx = 0
	}
	key := counterKey(p.Name, p.RegistryENS())

	c.mu.Lock()
	defer c.mu.Unlock()
	if idx+1 > c.next[key] {
		c.next[key] = idx + 1
	}
}

// Peek returns the index the next allocation would use.
func (c *Counter) Peek(name, registryENS string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.next[counterKey(name, registryENS)]
}

// Next allocates the next identifier for name in the given registry.
func (c *Counter) Next(name, registryENS string) string {
	key := counterKey(name, registryENS)

	c.mu.Lock()
	n := c.next[key]
	c.next[key] = n + 1
	c.mu.Unlock()

	return Build(name, registryENS, n)
}
