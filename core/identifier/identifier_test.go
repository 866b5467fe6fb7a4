package identifier

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGrammar(t *testing.T) {
	tests := []struct {
		in      string
		app     bool
		labeled bool
	}{
		{"vault", true, false},
		{"vault:2", true, false},
		{"token-manager", true, false},
		{"token-manager.open:1", true, false},
		{"vault:main", false, true},
		{"vault.open:main", false, true},
		{"vault:main-2", false, true},
		{"-vault", false, false},
		{"vault-", false, false},
		{"-vault:main", false, false},
		{"Invalid--Name", false, false},
		{"vault:", false, false},
		{"", false, false},
		{"a.b.c", false, false},
		{"0x8401eb5ff34cc943f096a32ef3d5113febe8d4eb", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.app, IsAppIdentifier(tt.in), "IsAppIdentifier")
			assert.Equal(t, tt.labeled, IsLabeledAppIdentifier(tt.in), "IsLabeledAppIdentifier")
		})
	}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"vault", "vault:0"},
		{"vault:2", "vault:2"},
		{"vault:main", "vault:main"},
		{"voting.open", "voting.open:0"},
		{"voting.open:label", "voting.open:label"},
	}
	for _, tt := range tests {
		got, err := Resolve(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestResolveInvalid(t *testing.T) {
	for _, in := range []string{"Invalid--Name", "", "vault:", "-x", "a:b:c"} {
		_, err := Resolve(in)
		assert.ErrorIs(t, err, ErrInvalidIdentifier, in)
	}
}

func TestParse(t *testing.T) {
	p, err := Parse("token-manager.open:3")
	require.NoError(t, err)
	assert.Equal(t, Parts{Name: "token-manager", Registry: "open", Index: 3}, p)
	assert.Equal(t, "open.aragonpm.eth", p.RegistryENS())
	assert.Equal(t, "token-manager.open:3", p.String())

	p, err = Parse("agent:treasury")
	require.NoError(t, err)
	assert.True(t, p.IsLabeled())
	assert.Equal(t, DefaultRegistry, p.RegistryENS())
	assert.Equal(t, "agent:treasury", p.String())

	p, err = Parse("vault")
	require.NoError(t, err)
	assert.Equal(t, -1, p.Index)
	assert.Equal(t, "vault", p.String())
}

func TestParseLabeled(t *testing.T) {
	name, reg, label, err := ParseLabeled("voting.open:council")
	require.NoError(t, err)
	assert.Equal(t, "voting", name)
	assert.Equal(t, "open.aragonpm.eth", reg)
	assert.Equal(t, "council", label)

	_, _, _, err = ParseLabeled("voting:1")
	assert.ErrorIs(t, err, ErrInvalidIdentifier)
}

func TestParseRegistry(t *testing.T) {
	assert.Equal(t, "", ParseRegistry(""))
	assert.Equal(t, "", ParseRegistry("aragonpm.eth"))
	assert.Equal(t, ".open", ParseRegistry("open.aragonpm.eth"))
	assert.Equal(t, "", ParseRegistry("a.b.c.d"))
}

func TestBuild(t *testing.T) {
	assert.Equal(t, "vault:0", Build("vault", "aragonpm.eth", 0))
	assert.Equal(t, "vault:0", Build("vault", "", 0))
	assert.Equal(t, "voting.open:2", Build("voting", "open.aragonpm.eth", 2))
}

func TestCounterAllocatesInOrder(t *testing.T) {
	// GIVEN an organization that already has token-manager:0
	c := NewCounter()
	c.Observe("token-manager:0")
	c.Observe("vault:main")

	// WHEN two more token managers are installed
	first := c.Next("token-manager", DefaultRegistry)
	second := c.Next("token-manager", DefaultRegistry)

	// THEN they take the next free indices in installation order
	assert.Equal(t, "token-manager:1", first)
	assert.Equal(t, "token-manager:2", second)
	assert.Equal(t, 0, c.Peek("vault", DefaultRegistry), "labels do not consume indices")
}

func TestCounterSeparatesRegistries(t *testing.T) {
	c := NewCounter()
	assert.Equal(t, "voting:0", c.Next("voting", DefaultRegistry))
	assert.Equal(t, "voting.open:0", c.Next("voting", "open.aragonpm.eth"))
	assert.Equal(t, "voting:1", c.Next("voting", DefaultRegistry))
}

func TestCounterObserveKeepsMaximum(t *testing.T) {
	c := NewCounter()
	c.Observe("vault:4")
	c.Observe("vault:1")
	assert.Equal(t, 5, c.Peek("vault", DefaultRegistry))
}

func TestIndexFitsInt(t *testing.T) {
	// GIVEN the largest accepted index and one digit more
	largest := "voting:" + strings.Repeat("9", 18)
	over := "voting:" + strings.Repeat("9", 19)

	// THEN the grammar and the parser agree on both
	assert.True(t, IsAppIdentifier(largest))
	p, err := Parse(largest)
	require.NoError(t, err)
	assert.Equal(t, largest, p.String())

	assert.False(t, IsAppIdentifier(over))
	assert.False(t, IsLabeledAppIdentifier(over))
	_, err = Parse(over)
	assert.ErrorIs(t, err, ErrInvalidIdentifier)
	_, err = Resolve(over)
	assert.ErrorIs(t, err, ErrInvalidIdentifier)
}
