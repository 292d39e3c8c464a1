package slab

import "fmt"

// PanicFunc is the kernel panic/assert hook. Real kernel panic/assert
// infrastructure is out of scope here; this defaults to the standard
// library's panic but can be overridden so tests can observe a fatal
// condition (double-free, destroy-while-busy) without killing the test
// binary.
type PanicFunc func(msg string)

func defaultPanic(msg string) {
	panic(msg)
}

func assertf(fn PanicFunc, cond bool, format string, args ...any) {
	if cond {
		return
	}
	if fn == nil {
		fn = defaultPanic
	}
	fn(fmt.Sprintf(format, args...))
}
