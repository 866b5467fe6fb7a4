package org

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/opal-lang/evmcl/core/identifier"
	"github.com/opal-lang/evmcl/core/invariant"
)

var (
	// ErrUnknownApp is returned when an identifier is well formed but not
	// installed. It is always paired with identifier.ErrInvalidIdentifier.
	ErrUnknownApp = errors.New("app not found")
	// ErrDuplicateIdentifier is returned when registering a taken identifier.
	ErrDuplicateIdentifier = errors.New("identifier already in use")
)

// AppCache maps resolved identifiers to apps for one script execution.
// It starts with the organization's on-chain apps and grows as the script
// installs new ones.
type AppCache struct {
	mu      sync.RWMutex
	apps    map[string]*App
	byAddr  map[common.Address]string
	counter *identifier.Counter
}

// NewAppCache returns an empty cache.
func NewAppCache() *AppCache {
	return &AppCache{
		apps:    make(map[string]*App),
		byAddr:  make(map[common.Address]string),
		counter: identifier.NewCounter(),
	}
}

// Register stores app under id. id must be canonical (see identifier.Resolve).
func (c *AppCache) Register(id string, app *App) error {
	invariant.NotNil(app, "app")

	resolved, err := identifier.Resolve(id)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, taken := c.apps[resolved]; taken {
		return fmt.Errorf("%w: %s", ErrDuplicateIdentifier, resolved)
	}
	c.apps[resolved] = app
	if _, seen := c.byAddr[app.Address]; !seen {
		c.byAddr[app.Address] = resolved
	}
	c.counter.Observe(resolved)
	return nil
}

// Install registers app under the next free identifier for its name and
// registry, or under name:label when label is set. It returns the
// identifier used.
func (c *AppCache) Install(app *App, label string) (string, error) {
	invariant.NotNil(app, "app")

	if label != "" {
		id := app.Name + identifier.ParseRegistry(app.Registry) + ":" + label
		if !identifier.IsLabeledAppIdentifier(id) {
			return "", fmt.Errorf("%w %q", identifier.ErrInvalidIdentifier, id)
		}
		return id, c.Register(id, app)
	}

	for {
		id := c.counter.Next(app.Name, app.Registry)
		err := c.Register(id, app)
		if errors.Is(err, ErrDuplicateIdentifier) {
			continue
		}
		return id, err
	}
}

// Get resolves id and returns the app registered under it.
func (c *AppCache) Get(id string) (*App, error) {
	resolved, err := identifier.Resolve(id)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	app, ok := c.apps[resolved]
	if !ok {
		return nil, fmt.Errorf("%w: %w: %s", identifier.ErrInvalidIdentifier, ErrUnknownApp, resolved)
	}
	return app, nil
}

// ByAddress returns the app at addr and its identifier.
func (c *AppCache) ByAddress(addr common.Address) (*App, string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	id, ok := c.byAddr[addr]
	if !ok {
		return nil, "", false
	}
	return c.apps[id], id, true
}

// Identifiers returns every registered identifier, sorted.
func (c *AppCache) Identifiers() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make([]string, 0, len(c.apps))
	for id := range c.apps {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// NextIndex returns the index the next install of name would receive.
func (c *AppCache) NextIndex(name, registryENS string) int {
	return c.counter.Peek(name, registryENS)
}
