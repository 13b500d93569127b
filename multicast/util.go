package multicast

import (
	"fmt"
	"net"
	"net/netip"
	"strings"
)

// Schemes accepted by ParseAddress. pgm and epgm are kept so addresses written
// for PGM based tools keep working; the transport underneath is always UDP.
var schemes = []string{"udp://", "epgm://", "pgm://"}

// Supported reports whether address names a transport this package serves.
func Supported(address string) bool {
	for _, s := range schemes {
		if strings.HasPrefix(address, s) {
			return true
		}
	}
	return false
}

// ParseAddress splits a multicast endpoint of the form
//
//	scheme://[interface;]group:port
//
// into the optional interface name and the group address.
func ParseAddress(address string) (iface string, group netip.AddrPort, err error) {
	rest := ""
	for _, s := range schemes {
		if strings.HasPrefix(address, s) {
			rest = address[len(s):]
			break
		}
	}
	if rest == "" {
		return "", netip.AddrPort{}, fmt.Errorf("address=%s has no supported scheme %v", address, schemes)
	}

	if i := strings.IndexByte(rest, ';'); i >= 0 {
		iface, rest = rest[:i], rest[i+1:]
		if iface == "" {
			return "", netip.AddrPort{}, fmt.Errorf("address=%s has an empty interface", address)
		}
	}

	group, err = netip.ParseAddrPort(rest)
	if err != nil {
		return "", netip.AddrPort{}, fmt.Errorf("could not parse addr=%s err=%v", rest, err)
	}
	if err := validateGroup(group.Addr()); err != nil {
		return "", netip.AddrPort{}, err
	}
	if group.Port() == 0 {
		return "", netip.AddrPort{}, fmt.Errorf("addr=%s needs a non-zero port", rest)
	}
	return iface, group, nil
}

func validateGroup(ip netip.Addr) error {
	if !ip.IsValid() {
		return fmt.Errorf("address=%s not valid", ip)
	}
	if !ip.Is4() && !ip.Is4In6() {
		return fmt.Errorf("expected an IPv4 address=%s", ip)
	}
	if !ip.IsMulticast() {
		return fmt.Errorf("addr=%s not multicast", ip)
	}
	return nil
}

func resolveInterface(name string) (*net.Interface, error) {
	if name == "" {
		return nil, nil
	}

	iff, err := net.InterfaceByName(name)
	if err != nil {
		return nil, err
	}

	if iff.Flags&net.FlagUp == 0 {
		return nil, fmt.Errorf("interface=%s is not up", name)
	}

	if iff.Flags&net.FlagMulticast == 0 {
		return nil, fmt.Errorf("interface=%s does not support multicast", name)
	}

	return iff, nil
}
