package invariant_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/opal-lang/evmcl/core/invariant"
)

// expectPanic runs fn and returns the recovered panic message.
func expectPanic(t *testing.T, fn func()) string {
	t.Helper()
	var msg string
	func() {
		defer func() {
			r := recover()
			if r == nil {
				t.Fatal("expected panic")
			}
			msg = fmt.Sprintf("%v", r)
		}()
		fn()
	}()
	return msg
}

func TestPreconditionPass(t *testing.T) {
	invariant.Precondition(true, "never shown")
	invariant.Precondition(len("vault") > 0, "name not empty")
}

func TestPreconditionFail(t *testing.T) {
	msg := expectPanic(t, func() {
		invariant.Precondition(false, "path must not be empty")
	})
	if !strings.Contains(msg, "PRECONDITION VIOLATION") {
		t.Errorf("expected PRECONDITION VIOLATION, got: %s", msg)
	}
	if !strings.Contains(msg, "path must not be empty") {
		t.Errorf("expected custom message, got: %s", msg)
	}
	if !strings.Contains(msg, "invariant_test.go") {
		t.Errorf("expected caller location, got: %s", msg)
	}
}

func TestPostconditionFail(t *testing.T) {
	msg := expectPanic(t, func() {
		invariant.Postcondition(false, "got %d actions", 3)
	})
	if !strings.Contains(msg, "POSTCONDITION VIOLATION: got 3 actions") {
		t.Errorf("unexpected message: %s", msg)
	}
}

func TestInvariantFail(t *testing.T) {
	msg := expectPanic(t, func() {
		invariant.Invariant(false, "hop must collapse batch")
	})
	if !strings.Contains(msg, "INVARIANT VIOLATION") {
		t.Errorf("expected INVARIANT VIOLATION, got: %s", msg)
	}
}

func TestNotNil(t *testing.T) {
	invariant.NotNil(&struct{}{}, "value")

	var typed *strings.Builder
	msg := expectPanic(t, func() { invariant.NotNil(typed, "builder") })
	if !strings.Contains(msg, "builder must not be nil") {
		t.Errorf("typed nil not detected: %s", msg)
	}

	msg = expectPanic(t, func() { invariant.NotNil(nil, "signer") })
	if !strings.Contains(msg, "signer must not be nil") {
		t.Errorf("untyped nil not detected: %s", msg)
	}
}

func TestExpectNoError(t *testing.T) {
	invariant.ExpectNoError(nil, "pack")

	msg := expectPanic(t, func() {
		invariant.ExpectNoError(errors.New("abi: cannot use string as type uint256"), "pack approve")
	})
	if !strings.Contains(msg, "pack approve must not fail") {
		t.Errorf("unexpected message: %s", msg)
	}
}
