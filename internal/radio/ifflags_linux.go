//go:build linux

package radio

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// ifUp and ifDown flip IFF_UP via SIOCGIFFLAGS/SIOCSIFFLAGS on a throwaway
// AF_INET/SOCK_DGRAM socket.
func ifUp(iface string) error {
	return setIfUp(iface, true)
}

func ifDown(iface string) error {
	return setIfUp(iface, false)
}

func setIfUp(iface string, up bool) error {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if err != nil {
		return fmt.Errorf("open control socket: %w", err)
	}
	defer unix.Close(fd)

	ifr, err := unix.NewIfreq(iface)
	if err != nil {
		return fmt.Errorf("build ifreq for %s: %w", iface, err)
	}

	if err := unix.IoctlIfreq(fd, unix.SIOCGIFFLAGS, ifr); err != nil {
		return fmt.Errorf("SIOCGIFFLAGS %s: %w", iface, err)
	}

	flags := ifr.Uint16()
	if up {
		flags |= unix.IFF_UP
	} else {
		flags &^= unix.IFF_UP
	}
	ifr.SetUint16(flags)

	if err := unix.IoctlIfreq(fd, unix.SIOCSIFFLAGS, ifr); err != nil {
		return fmt.Errorf("SIOCSIFFLAGS %s: %w", iface, err)
	}
	return nil
}
