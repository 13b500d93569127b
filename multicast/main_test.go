package multicast

import (
	"fmt"
	"log"
	"net"
	"os"
	"testing"
)

var testInterfacesIPv4 []net.Interface

func TestMain(m *testing.M) {
	iffs, err := net.Interfaces()
	if err != nil {
		panic(fmt.Errorf("cannot get interfaces err=%v", err))
	}
	for _, iff := range iffs {
		if iff.Flags&net.FlagMulticast == 0 || iff.Flags&net.FlagUp == 0 {
			continue
		}

		addrs, err := iff.Addrs()
		if err != nil {
			panic(err)
		}
		for _, addr := range addrs {
			if a, ok := addr.(*net.IPNet); ok && a.IP.To4() != nil {
				log.Printf(
					"ipv4 multicast interface name=%s index=%d ip=%s loopback=%v",
					iff.Name, iff.Index, a.IP, iff.Flags&net.FlagLoopback != 0)
				testInterfacesIPv4 = append(testInterfacesIPv4, iff)
				break
			}
		}
	}

	os.Exit(m.Run())
}
