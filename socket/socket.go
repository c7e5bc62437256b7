/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package socket

import (
	"fmt"
	"net"

	"go.osspkg.com/errors"
	"golang.org/x/sys/unix"
)

const (
	DomainIPv4 = unix.AF_INET
	DomainIPv6 = unix.AF_INET6

	Stream = unix.SOCK_STREAM

	ShutRead  = unix.SHUT_RD
	ShutWrite = unix.SHUT_WR

	DefaultBacklog = 1024
)

var (
	ErrUnknownDomain = errors.New("unknown socket domain")
	ErrInvalidIP     = errors.New("invalid ip address")
)

// Create opens a stream socket synchronously.
func Create(domain int) (int, error) {
	fd, err := unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("create socket: %w", err)
	}
	return fd, nil
}

func EnableReuseAddr(fd int) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fmt.Errorf("set SO_REUSEADDR: %w", err)
	}
	return nil
}

func SetNonblock(fd int) error {
	if err := unix.SetNonblock(fd, true); err != nil {
		return fmt.Errorf("set nonblock: %w", err)
	}
	return nil
}

// Sockaddr builds the kernel address structure for ip:port in the given domain.
func Sockaddr(ip string, port int, domain int) (unix.Sockaddr, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return nil, errors.Wrapf(ErrInvalidIP, "parse %q", ip)
	}

	switch domain {
	case DomainIPv4:
		v4 := parsed.To4()
		if v4 == nil {
			return nil, errors.Wrapf(ErrInvalidIP, "%q is not ipv4", ip)
		}
		sa := &unix.SockaddrInet4{Port: port}
		copy(sa.Addr[:], v4)
		return sa, nil

	case DomainIPv6:
		sa := &unix.SockaddrInet6{Port: port}
		copy(sa.Addr[:], parsed.To16())
		return sa, nil

	default:
		return nil, ErrUnknownDomain
	}
}

func Bind(fd int, sa unix.Sockaddr) error {
	if err := unix.Bind(fd, sa); err != nil {
		return fmt.Errorf("bind: %w", err)
	}
	return nil
}

func Listen(fd int, backlog int) error {
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	if err := unix.Listen(fd, backlog); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return nil
}

// Close releases the descriptor directly, bypassing any completion backend.
func Close(fd int) error {
	if fd < 0 {
		return nil
	}
	return unix.Close(fd)
}

func LocalAddr(fd int) (net.Addr, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return nil, fmt.Errorf("getsockname: %w", err)
	}
	return AddrFromSockaddr(sa), nil
}
