//go:build !(aix || darwin || dragonfly || freebsd || linux || netbsd || openbsd || solaris)

package rt

import "os"

// Platforms without mprotect get a plain allocation. Armed state is
// still tracked, but a poll never hardware-faults; embedders here must
// suspend through a polled flag rather than page protection.

func mapSignalPage() ([]byte, error) {
	return make([]byte, os.Getpagesize()), nil
}

func protectPage(b []byte, readable bool) error { return nil }

func unmapPage(b []byte) error { return nil }
