//go:build !linux

package usb

// systemProber cannot inspect DirectShow or AVFoundation indices without
// the native frameworks, so every path is reported usable and the capture
// backend decides.
type systemProber struct{}

func (systemProber) Probe(string) PathState {
	return PathState{Exists: true, Accessible: true}
}
