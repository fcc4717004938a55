//go:build aix || darwin || dragonfly || freebsd || linux || netbsd || openbsd || solaris

package rt

import (
	"os"

	"golang.org/x/sys/unix"
)

func mapSignalPage() ([]byte, error) {
	return unix.Mmap(-1, 0, os.Getpagesize(), unix.PROT_READ, unix.MAP_ANON|unix.MAP_PRIVATE)
}

func protectPage(b []byte, readable bool) error {
	prot := unix.PROT_NONE
	if readable {
		prot = unix.PROT_READ
	}
	return unix.Mprotect(b, prot)
}

func unmapPage(b []byte) error {
	return unix.Munmap(b)
}
