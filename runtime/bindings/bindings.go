// Package bindings holds the named values of one script execution: script
// variables set with "set" and the per-module state commands keep between
// lines, each in its own Space.
package bindings

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/opal-lang/evmcl/core/invariant"
)

// Space separates script variables from module state.
type Space int

const (
	// User holds variables written by the script's `set` command.
	User Space = iota
	// ModuleCustom holds state private to one module, such as the connected
	// organization or the predicted nonce table.
	ModuleCustom
)

func (s Space) String() string {
	switch s {
	case User:
		return "USER"
	case ModuleCustom:
		return "MODULE_CUSTOM"
	default:
		return fmt.Sprintf("Space(%d)", int(s))
	}
}

type unsetValue struct{}

func (unsetValue) String() string { return "<unset>" }

// Unset is returned by lookups that find nothing. A binding may legitimately
// hold nil or an empty string, so absence gets its own value.
var Unset any = unsetValue{}

// IsUnset reports whether v is the Unset sentinel.
func IsUnset(v any) bool {
	_, ok := v.(unsetValue)
	return ok
}

// Store is the binding store of one script execution.
//
// # Architecture
//
// Two spaces, each a flat map keyed by name:
//   - USER variables are global to the script. Plain variables are keyed
//     "$name"; module configuration is keyed "$alias.name" so two aliases of
//     the same module keep separate settings.
//   - MODULE_CUSTOM state is keyed by owner module. A binding written with
//     the global flag goes to a shared pool every module can read.
//
// Lookups never depend on write order beyond last-write-wins, so replaying
// the same writes always yields the same store.
//
// # Usage
//
//	store := bindings.New()
//	store.SetBinding(bindings.UserKey("token"), "0x6b17...", bindings.User)
//	store.SetCustomBinding("connectedDAO", dao, "aragonos", false)
//
//	v := store.GetCustomBinding("connectedDAO", "aragonos")
//	if bindings.IsUnset(v) { ... }
//
// # Rules
//
//  1. Owners are contextual module names (alias when aliased)
//  2. Private bindings shadow global ones for their owner only
//  3. Do not copy a Store after first use
type Store struct {
	mu sync.RWMutex // Sibling arguments are evaluated concurrently

	user   map[string]any
	custom map[string]map[string]any // owner → name → value
	global map[string]any
}

// New returns an empty store.
func New() *Store {
	return &Store{
		user:   make(map[string]any),
		custom: make(map[string]map[string]any),
		global: make(map[string]any),
	}
}

// UserKey returns the USER-space key of a plain script variable.
func UserKey(name string) string {
	return "$" + strings.TrimPrefix(name, "$")
}

// ModuleKey returns the USER-space key of a module configuration variable.
func ModuleKey(contextualName, name string) string {
	return "$" + contextualName + "." + name
}

// SetBinding writes a binding in the given space. MODULE_CUSTOM writes
// through this method land in the global pool.
func (s *Store) SetBinding(name string, value any, space Space) {
	invariant.Precondition(name != "", "binding name must not be empty")

	s.mu.Lock()
	defer s.mu.Unlock()

	switch space {
	case User:
		s.user[name] = value
	case ModuleCustom:
		s.global[name] = value
	default:
		invariant.Invariant(false, "unknown binding space %s", space)
	}
}

// GetBinding looks a name up in one space, returning Unset when absent.
func (s *Store) GetBinding(name string, space Space) any {
	v, ok := s.LookupBinding(name, space)
	if !ok {
		return Unset
	}
	return v
}

// LookupBinding is GetBinding with an explicit found flag.
func (s *Store) LookupBinding(name string, space Space) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch space {
	case User:
		v, ok := s.user[name]
		return v, ok
	case ModuleCustom:
		v, ok := s.global[name]
		return v, ok
	default:
		return nil, false
	}
}

// SetCustomBinding writes module state for owner. With global set, the
// binding becomes visible to every module.
func (s *Store) SetCustomBinding(name string, value any, owner string, global bool) {
	invariant.Precondition(name != "", "binding name must not be empty")
	invariant.Precondition(owner != "", "binding owner must not be empty")

	s.mu.Lock()
	defer s.mu.Unlock()

	if global {
		s.global[name] = value
		return
	}
	scope, ok := s.custom[owner]
	if !ok {
		scope = make(map[string]any)
		s.custom[owner] = scope
	}
	scope[name] = value
}

// GetCustomBinding returns owner's private binding, falling back to the
// global pool, or Unset.
func (s *Store) GetCustomBinding(name, owner string) any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if v, ok := s.custom[owner][name]; ok {
		return v
	}
	if v, ok := s.global[name]; ok {
		return v
	}
	return Unset
}

// Entry is one binding in a snapshot.
type Entry struct {
	Space Space
	Owner string // empty for USER and global bindings
	Name  string
	Value any
}

// Snapshot returns every binding sorted by space, owner and name.
func (s *Store) Snapshot() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Entry
	for name, v := range s.user {
		out = append(out, Entry{Space: User, Name: name, Value: v})
	}
	for name, v := range s.global {
		out = append(out, Entry{Space: ModuleCustom, Name: name, Value: v})
	}
	for owner, scope := range s.custom {
		for name, v := range scope {
			out = append(out, Entry{Space: ModuleCustom, Owner: owner, Name: name, Value: v})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Space != b.Space {
			return a.Space < b.Space
		}
		if a.Owner != b.Owner {
			return a.Owner < b.Owner
		}
		return a.Name < b.Name
	})
	return out
}
