//go:build linux || darwin || freebsd || netbsd || openbsd

package sockopt

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func apply(fd int, opt Option) error {
	switch opt.Type {
	case TypeReusePort:
		return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, opt.Value)
	case TypeReuseAddr:
		return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, opt.Value)
	case TypeRecvBuffer:
		if opt.Value <= 0 {
			return nil
		}
		return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, opt.Value)
	case TypeSendBuffer:
		if opt.Value <= 0 {
			return nil
		}
		return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, opt.Value)
	default:
		return fmt.Errorf("unknown option type=%d", opt.Type)
	}
}

// Get reads back an integer option, mainly for tests and startup logging.
func Get(fd int, t OptionType) (int, error) {
	switch t {
	case TypeReusePort:
		return unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT)
	case TypeReuseAddr:
		return unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR)
	case TypeRecvBuffer:
		return unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF)
	case TypeSendBuffer:
		return unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF)
	default:
		return 0, fmt.Errorf("unknown option type=%d", t)
	}
}
