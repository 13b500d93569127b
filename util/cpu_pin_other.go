//go:build !linux

package util

import "fmt"

func PinTo(cpus ...int) error {
	return fmt.Errorf("cpu pinning is only supported on linux, asked for %v", cpus)
}

func PinWorker(cpu int) (func(), error) {
	if cpu < 0 {
		return func() {}, nil
	}
	return func() {}, PinTo(cpu)
}
