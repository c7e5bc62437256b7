/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package address

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"go.osspkg.com/errors"

	"go.osspkg.com/ringserver/socket"
)

var (
	ErrResolveTCPAddress = errors.New("resolve tcp address")
	ErrInvalidPort       = errors.New("invalid port")
)

const DefaultPort = 8080

// Listen is a normalised listening address.
type Listen struct {
	IP     string
	Port   int
	Domain int
}

func (l Listen) String() string {
	return net.JoinHostPort(l.IP, strconv.Itoa(l.Port))
}

func RandomPort(host string) (string, error) {
	network := "tcp4"
	if strings.Contains(host, ":") {
		network = "tcp6"
	}

	host = net.JoinHostPort(host, "0")
	addr, err := net.ResolveTCPAddr(network, host)
	if err != nil {
		return host, errors.Wrap(err, ErrResolveTCPAddress)
	}

	l, err := net.ListenTCP(network, addr)
	if err != nil {
		return host, errors.Wrap(err, ErrResolveTCPAddress)
	}

	v := l.Addr().String()

	if err = l.Close(); err != nil {
		return host, errors.Wrap(err, ErrResolveTCPAddress)
	}

	return v, nil
}

// Resolve turns "host:port", "[v6]:port", ":port" or a bare host into a Listen.
// An empty host binds every ipv4 interface, an empty port uses DefaultPort.
func Resolve(address string) (Listen, error) {
	host, port := split(address)

	if len(host) == 0 {
		host = "0.0.0.0"
	}
	if !IsValidIP(host) {
		ips, err := net.LookupIP(host)
		if err != nil || len(ips) == 0 {
			return Listen{}, errors.Wrap(fmt.Errorf("lookup %q", host), ErrResolveTCPAddress)
		}
		host = ips[0].String()
	}

	p := DefaultPort
	if len(port) > 0 {
		v, err := strconv.Atoi(port)
		if err != nil || v < 0 || v > 65535 {
			return Listen{}, errors.Wrapf(ErrInvalidPort, "port %q", port)
		}
		p = v
	}

	domain := socket.DomainIPv4
	if net.ParseIP(host).To4() == nil {
		domain = socket.DomainIPv6
	}

	return Listen{IP: host, Port: p, Domain: domain}, nil
}

func split(address string) (host, port string) {
	switch true {
	case len(address) == 0:
		return

	case IsValidIP(address):
		host = address

	case address[0] == '[':
		if index := strings.IndexByte(address, ']'); index != -1 {
			host = address[1:index]
			port = strings.TrimPrefix(address[index+1:], ":")
		}

	case strings.Count(address, ":") == 1:
		index := strings.IndexByte(address, ':')
		host = address[0:index]
		port = address[index+1:]

	default:
		host = address
	}
	return
}

func IsValidIP(ip string) bool {
	return net.ParseIP(ip) != nil
}
