/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package socket_test

import (
	"net"
	"testing"
	"unsafe"

	"go.osspkg.com/casecheck"
	"golang.org/x/sys/unix"

	"go.osspkg.com/ringserver/socket"
)

func TestUnit_Sockaddr(t *testing.T) {
	sa, err := socket.Sockaddr("127.0.0.1", 8080, socket.DomainIPv4)
	casecheck.NoError(t, err)
	v4, ok := sa.(*unix.SockaddrInet4)
	casecheck.True(t, ok)
	casecheck.Equal(t, 8080, v4.Port)
	casecheck.Equal(t, [4]byte{127, 0, 0, 1}, v4.Addr)

	sa, err = socket.Sockaddr("::1", 81, socket.DomainIPv6)
	casecheck.NoError(t, err)
	v6, ok := sa.(*unix.SockaddrInet6)
	casecheck.True(t, ok)
	casecheck.Equal(t, 81, v6.Port)

	_, err = socket.Sockaddr("::1", 81, socket.DomainIPv4)
	casecheck.Error(t, err)

	_, err = socket.Sockaddr("a.b.c.d", 81, socket.DomainIPv4)
	casecheck.Error(t, err)

	_, err = socket.Sockaddr("127.0.0.1", 81, 12345)
	casecheck.Error(t, err)
}

func TestUnit_AddrFromRaw(t *testing.T) {
	var raw unix.RawSockaddrAny
	in4 := (*unix.RawSockaddrInet4)(unsafe.Pointer(&raw))
	in4.Family = unix.AF_INET
	p := (*[2]byte)(unsafe.Pointer(&in4.Port))
	p[0], p[1] = 0x1f, 0x90
	in4.Addr = [4]byte{10, 0, 0, 2}

	addr := socket.AddrFromRaw(&raw)
	casecheck.Equal(t, "10.0.0.2:8080", addr.String())

	casecheck.True(t, socket.AddrFromRaw(nil) == nil)
}

func TestUnit_BindListenLocalAddr(t *testing.T) {
	fd, err := socket.Create(socket.DomainIPv4)
	casecheck.NoError(t, err)
	defer socket.Close(fd) //nolint: errcheck

	casecheck.NoError(t, socket.EnableReuseAddr(fd))
	sa, err := socket.Sockaddr("127.0.0.1", 0, socket.DomainIPv4)
	casecheck.NoError(t, err)
	casecheck.NoError(t, socket.Bind(fd, sa))
	casecheck.NoError(t, socket.Listen(fd, 0))

	addr, err := socket.LocalAddr(fd)
	casecheck.NoError(t, err)
	tcp, ok := addr.(*net.TCPAddr)
	casecheck.True(t, ok)
	casecheck.True(t, tcp.Port > 0)
	casecheck.Equal(t, "127.0.0.1", tcp.IP.String())
}
