//go:build linux

package locator

import "golang.org/x/sys/unix"

// hostMachine builds a GNU triple from uname(2) when the compiler cannot
// tell us, e.g. "x86_64-linux-gnu".
func hostMachine() string {
	var u unix.Utsname
	if err := unix.Uname(&u); err != nil {
		return ""
	}
	return unix.ByteSliceToString(u.Machine[:]) + "-linux-gnu"
}
