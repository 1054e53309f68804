package main

import (
	"os"
	"runtime/pprof"

	"github.com/pkg/errors"
)

// startProfile collects a CPU profile into path until stop is called.
func startProfile(path string) (stop func(), err error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, "create profile")
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "start profile")
	}
	return func() {
		pprof.StopCPUProfile()
		f.Close()
	}, nil
}
