// Package sockopt applies socket options to file descriptors before bind.
package sockopt

import (
	"fmt"
	"os"
	"syscall"
)

type OptionType uint8

const (
	TypeReusePort OptionType = iota
	TypeReuseAddr
	TypeRecvBuffer
	TypeSendBuffer
	MaxOption
)

func (t OptionType) String() string {
	switch t {
	case TypeReusePort:
		return "reuse_port"
	case TypeReuseAddr:
		return "reuse_addr"
	case TypeRecvBuffer:
		return "recv_buffer"
	case TypeSendBuffer:
		return "send_buffer"
	default:
		return "option_unknown"
	}
}

type Option struct {
	Type  OptionType
	Value int
}

func ReusePort(v bool) Option { return Option{Type: TypeReusePort, Value: boolInt(v)} }
func ReuseAddr(v bool) Option { return Option{Type: TypeReuseAddr, Value: boolInt(v)} }
func RecvBuffer(n int) Option { return Option{Type: TypeRecvBuffer, Value: n} }
func SendBuffer(n int) Option { return Option{Type: TypeSendBuffer, Value: n} }

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

// Control returns a function usable as net.ListenConfig.Control / net.Dialer.Control.
// Buffer options with a non-positive value are skipped.
func Control(opts ...Option) func(network, address string, c syscall.RawConn) error {
	return func(network, address string, c syscall.RawConn) error {
		var sockErr error
		err := c.Control(func(fd uintptr) {
			sockErr = Apply(int(fd), opts...)
		})
		if err != nil {
			return err
		}
		return sockErr
	}
}

func Apply(fd int, opts ...Option) error {
	for _, opt := range opts {
		if err := apply(fd, opt); err != nil {
			return os.NewSyscallError(fmt.Sprintf("%s(%d)", opt.Type, opt.Value), err)
		}
	}
	return nil
}
