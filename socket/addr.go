/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package socket

import (
	"net"
	"unsafe"

	"golang.org/x/sys/unix"
)

func AddrFromSockaddr(sa unix.Sockaddr) net.Addr {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		ip := make(net.IP, net.IPv4len)
		copy(ip, v.Addr[:])
		return &net.TCPAddr{IP: ip, Port: v.Port}
	case *unix.SockaddrInet6:
		ip := make(net.IP, net.IPv6len)
		copy(ip, v.Addr[:])
		return &net.TCPAddr{IP: ip, Port: v.Port, Zone: zoneName(v.ZoneId)}
	default:
		return nil
	}
}

// AddrFromRaw decodes an address filled in by the kernel, e.g. by an
// asynchronous accept. Ports are stored in network byte order.
func AddrFromRaw(raw *unix.RawSockaddrAny) net.Addr {
	if raw == nil {
		return nil
	}
	switch raw.Addr.Family {
	case unix.AF_INET:
		pp := (*unix.RawSockaddrInet4)(unsafe.Pointer(raw))
		p := (*[2]byte)(unsafe.Pointer(&pp.Port))
		ip := make(net.IP, net.IPv4len)
		copy(ip, pp.Addr[:])
		return &net.TCPAddr{IP: ip, Port: int(p[0])<<8 + int(p[1])}
	case unix.AF_INET6:
		pp := (*unix.RawSockaddrInet6)(unsafe.Pointer(raw))
		p := (*[2]byte)(unsafe.Pointer(&pp.Port))
		ip := make(net.IP, net.IPv6len)
		copy(ip, pp.Addr[:])
		return &net.TCPAddr{IP: ip, Port: int(p[0])<<8 + int(p[1]), Zone: zoneName(pp.Scope_id)}
	default:
		return nil
	}
}

func zoneName(id uint32) string {
	if id == 0 {
		return ""
	}
	if ifi, err := net.InterfaceByIndex(int(id)); err == nil {
		return ifi.Name
	}
	return ""
}
