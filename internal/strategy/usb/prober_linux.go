//go:build linux

package usb

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// systemProber checks device nodes with access(2).
type systemProber struct{}

func (systemProber) Probe(path string) PathState {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return PathState{}
		}
		return PathState{Err: err}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK); err != nil {
		return PathState{Exists: true, Err: err}
	}
	return PathState{Exists: true, Accessible: true}
}
