//go:build linux

package util

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// PinTo restricts the calling OS thread to the given CPUs.
func PinTo(cpus ...int) error {
	set := &unix.CPUSet{}
	for _, cpu := range cpus {
		set.Set(cpu)
	}

	err := unix.SchedSetaffinity(0, set)
	if err != nil {
		return err
	}

	verify := &unix.CPUSet{}
	err = unix.SchedGetaffinity(0, verify)
	if err != nil {
		return err
	}

	if verify.Count() != len(cpus) {
		return fmt.Errorf("could not pin to CPUs %v", cpus)
	}
	for _, cpu := range cpus {
		if !verify.IsSet(cpu) {
			return fmt.Errorf("could not pin to CPUs %v", cpus)
		}
	}

	return nil
}

// PinWorker locks the calling goroutine to its OS thread and pins that thread
// to cpu. A negative cpu is a no-op. The returned func undoes the thread lock.
func PinWorker(cpu int) (func(), error) {
	if cpu < 0 {
		return func() {}, nil
	}
	runtime.LockOSThread()
	if err := PinTo(cpu); err != nil {
		runtime.UnlockOSThread()
		return func() {}, err
	}
	return runtime.UnlockOSThread, nil
}
