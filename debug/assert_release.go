//go:build !debug

// Package debug provides assertions for driver internal invariants. They are
// enabled with the debug build tag and compile to no-ops otherwise.
//
// Assertions never validate caller input, which is always reported as an
// error.
package debug

// Guard expensive checks with `if debug.Enabled {...}`, otherwise they are
// still evaluated in release builds.
const Enabled = false

// Assert panics if b is false.
func Assert(b bool, message string) {}

// Assertf panics with a formatted message if b is false.
func Assertf(b bool, format string, args ...any) {}
