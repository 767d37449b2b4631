//go:build debug

package debug

import "fmt"

// Guard expensive checks with `if debug.Enabled {...}`, otherwise they are
// still evaluated in release builds.
const Enabled = true

func Assert(b bool, message string) {
	if !b {
		panic(message)
	}
}

func Assertf(b bool, format string, args ...any) {
	if !b {
		panic(fmt.Sprintf(format, args...))
	}
}
