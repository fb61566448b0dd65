//go:build !linux
// +build !linux

package transfer

func (e *Engine) pinRegion(b []byte) func() {
	if e.pin && len(b) > 0 {
		e.log.Debug("Memory pinning is not supported on this platform")
	}
	return func() {}
}
