// Package ttesting has small assertion helpers shared by the package tests.
// Each helper runs as a named subtest so failures point at the value.
package ttesting

import (
	"math"
	"testing"
)

// Tolerance is the default absolute error accepted by AssertNear.
const Tolerance = 1e-9

func AssertEqualInt(t *testing.T, name string, got, want int) {
	t.Helper()
	t.Run(name, func(t *testing.T) {
		if got != want {
			t.Errorf("got %d; want %d", got, want)
		}
	})
}

func AssertEqualString(t *testing.T, name string, got, want string) {
	t.Helper()
	t.Run(name, func(t *testing.T) {
		if got != want {
			t.Errorf("got %q; want %q", got, want)
		}
	})
}

func AssertNear(t *testing.T, name string, got, want, tolerance float64) {
	t.Helper()
	t.Run(name, func(t *testing.T) {
		if math.Abs(got-want) > tolerance {
			t.Errorf("got %g; want %g (±%g)", got, want, tolerance)
		}
	})
}

func AssertInRange(t *testing.T, name string, got, wantMin, wantMax float64) {
	t.Helper()
	t.Run(name, func(t *testing.T) {
		if got < wantMin || got > wantMax {
			t.Errorf("got %g; want [%g,%g]", got, wantMin, wantMax)
		}
	})
}
