package fwdproxy

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// connectUpstream opens a blocking, non-pollable TCP connection to
// ip:port and returns the raw file descriptor, ready to be registered
// with the descriptor registry. The connect itself blocks the calling
// (single) goroutine, same tradeoff as original_source/src/server.c's
// handle_http calling connect() directly.
func connectUpstream(ip string, port int) (int, error) {
	addr := net.JoinHostPort(ip, fmt.Sprintf("%d", port))

	parsed := net.ParseIP(ip)
	if parsed == nil || parsed.To4() == nil {
		return -1, &ConnectError{Addr: addr, Err: fmt.Errorf("not an IPv4 literal")}
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, &ConnectError{Addr: addr, Err: err}
	}

	var sa unix.SockaddrInet4
	copy(sa.Addr[:], parsed.To4())
	sa.Port = port

	if err := unix.Connect(fd, &sa); err != nil {
		unix.Close(fd)
		return -1, &ConnectError{Addr: addr, Err: err}
	}
	return fd, nil
}
