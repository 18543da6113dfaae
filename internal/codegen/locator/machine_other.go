//go:build !linux

package locator

import "runtime"

func hostMachine() string {
	return runtime.GOARCH + "-" + runtime.GOOS
}
