// Package empress implements the coordinating ring: it owns the listening
// sockets, accepts connections via io_uring's multishot accept, assigns each
// connection a UserState, and hands it off to a lackey ring via MsgRing. It
// also owns the signalfd-driven graceful shutdown fanout.
package empress

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// openListeners binds an IPv6-only socket and a separate IPv4 socket to the
// same port, mirroring the original's dual-stack setup rather than relying
// on a single dual-stack IPv6 socket (IPV6_V6ONLY is set explicitly so the
// two sockets never double-accept the same v4-mapped connection).
func openListeners(port int, backlog int) (ipv6Fd, ipv4Fd int32, err error) {
	ipv6Fd, err = openListener6(port, backlog)
	if err != nil {
		return -1, -1, err
	}
	ipv4Fd, err = openListener4(port, backlog)
	if err != nil {
		unix.Close(int(ipv6Fd))
		return -1, -1, err
	}
	return ipv6Fd, ipv4Fd, nil
}

func openListener6(port int, backlog int) (int32, error) {
	fd, err := unix.Socket(unix.AF_INET6, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return -1, fmt.Errorf("empress: socket(AF_INET6): %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("empress: setsockopt SO_REUSEADDR: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("empress: setsockopt IPV6_V6ONLY: %w", err)
	}
	addr := &unix.SockaddrInet6{Port: port}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("empress: bind ipv6 port %d: %w", port, err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("empress: listen ipv6: %w", err)
	}
	return int32(fd), nil
}

func openListener4(port int, backlog int) (int32, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return -1, fmt.Errorf("empress: socket(AF_INET): %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("empress: setsockopt SO_REUSEADDR: %w", err)
	}
	addr := &unix.SockaddrInet4{Port: port}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("empress: bind ipv4 port %d: %w", port, err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("empress: listen ipv4: %w", err)
	}
	return int32(fd), nil
}
