//go:build linux
// +build linux

package transfer

import (
	"golang.org/x/sys/unix"
)

// pinRegion locks the pages backing b in RAM and returns the function undoing it.
func (e *Engine) pinRegion(b []byte) func() {
	if !e.pin || len(b) == 0 {
		return func() {}
	}
	if err := unix.Mlock(b); err != nil {
		e.log.Warnf("Could not pin %d bytes: %v", len(b), err)
		return func() {}
	}
	return func() {
		if err := unix.Munlock(b); err != nil {
			e.log.Warnf("Could not unpin %d bytes: %v", len(b), err)
		}
	}
}
