//go:build windows

package util

import "os"

// ShutdownSignals returns the signals that stop the recorder.
func ShutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}

// Interrupt asks a capture process to exit. Windows cannot deliver an
// interrupt to a child process, so FFmpeg is stopped through stdin and this
// is the last resort.
func Interrupt(p *os.Process) error {
	if p == nil {
		return nil
	}
	return p.Kill()
}
