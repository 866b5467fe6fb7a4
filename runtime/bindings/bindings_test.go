package bindings

import (
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestUserBindingLastWriteWins(t *testing.T) {
	// GIVEN a variable written twice
	s := New()
	s.SetBinding(UserKey("token"), "0x01", User)
	s.SetBinding(UserKey("token"), "0x02", User)

	// WHEN reading it back
	got := s.GetBinding("$token", User)

	// THEN the last write wins
	if got != "0x02" {
		t.Errorf("expected 0x02, got %v", got)
	}
}

func TestUnsetIsDistinctFromEmpty(t *testing.T) {
	s := New()
	s.SetBinding(UserKey("empty"), "", User)

	if v := s.GetBinding("$empty", User); IsUnset(v) {
		t.Errorf("empty string must not read as unset")
	}
	if v := s.GetBinding("$missing", User); !IsUnset(v) {
		t.Errorf("expected Unset for missing binding, got %v", v)
	}
	if _, ok := s.LookupBinding("$missing", User); ok {
		t.Errorf("LookupBinding reported missing binding as found")
	}
}

func TestModuleKeysSeparateAliases(t *testing.T) {
	s := New()
	s.SetBinding(ModuleKey("ar", "ipfsGateway"), "https://a", User)
	s.SetBinding(ModuleKey("ar2", "ipfsGateway"), "https://b", User)

	if got := s.GetBinding("$ar.ipfsGateway", User); got != "https://a" {
		t.Errorf("alias ar: got %v", got)
	}
	if got := s.GetBinding("$ar2.ipfsGateway", User); got != "https://b" {
		t.Errorf("alias ar2: got %v", got)
	}
}

func TestCustomBindingsArePrivate(t *testing.T) {
	// GIVEN a private binding owned by aragonos
	s := New()
	s.SetCustomBinding("connectedDAO", "dao-a", "aragonos", false)

	// WHEN another module looks it up
	got := s.GetCustomBinding("connectedDAO", "std")

	// THEN it is not visible
	if !IsUnset(got) {
		t.Errorf("expected private binding to be hidden from std, got %v", got)
	}
	if got := s.GetCustomBinding("connectedDAO", "aragonos"); got != "dao-a" {
		t.Errorf("owner lookup: got %v", got)
	}
}

func TestGlobalCustomBindingsAreShared(t *testing.T) {
	s := New()
	s.SetCustomBinding("signer", "0xme", "aragonos", true)

	for _, owner := range []string{"aragonos", "std", "anything"} {
		if got := s.GetCustomBinding("signer", owner); got != "0xme" {
			t.Errorf("owner %s: expected global binding, got %v", owner, got)
		}
	}
	if got := s.GetBinding("signer", ModuleCustom); got != "0xme" {
		t.Errorf("GetBinding(ModuleCustom): got %v", got)
	}
}

func TestPrivateShadowsGlobalForOwnerOnly(t *testing.T) {
	s := New()
	s.SetCustomBinding("gateway", "global", "std", true)
	s.SetCustomBinding("gateway", "private", "aragonos", false)

	if got := s.GetCustomBinding("gateway", "aragonos"); got != "private" {
		t.Errorf("owner should see private value, got %v", got)
	}
	if got := s.GetCustomBinding("gateway", "std"); got != "global" {
		t.Errorf("others should see global value, got %v", got)
	}
}

func TestSnapshotIsSorted(t *testing.T) {
	s := New()
	s.SetCustomBinding("b", 2, "mod", false)
	s.SetCustomBinding("a", 1, "mod", false)
	s.SetBinding("$z", "z", User)
	s.SetBinding("$y", "y", User)
	s.SetCustomBinding("g", true, "mod", true)

	want := []Entry{
		{Space: User, Name: "$y", Value: "y"},
		{Space: User, Name: "$z", Value: "z"},
		{Space: ModuleCustom, Name: "g", Value: true},
		{Space: ModuleCustom, Owner: "mod", Name: "a", Value: 1},
		{Space: ModuleCustom, Owner: "mod", Name: "b", Value: 2},
	}
	if diff := cmp.Diff(want, s.Snapshot()); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestConcurrentReads(t *testing.T) {
	s := New()
	s.SetBinding("$x", "1", User)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if got := s.GetBinding("$x", User); got != "1" {
				t.Errorf("concurrent read: got %v", got)
			}
		}()
	}
	wg.Wait()
}
