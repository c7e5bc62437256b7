/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package server

import (
	"net"

	"go.osspkg.com/errors"
	"go.osspkg.com/logx"

	"go.osspkg.com/ringserver/address"
	"go.osspkg.com/ringserver/socket"
)

type listener struct {
	fd   int
	addr net.Addr
}

// spawnListener builds the bring-up task for one listening socket.
// Bring-up tasks are not owners of any descriptor until they finish.
func (v *_server) spawnListener(la address.Listen) *task {
	return newTask(-1, roleListener, func(t *task) error {
		defer func() { v.bringing-- }()

		fd, err := v.openSocket(t, la.Domain)
		if err != nil {
			return v.bringFail(la, err)
		}

		if err = v.bindListen(fd, la); err != nil {
			return v.bringFail(la, errors.Wrap(err, v.closeFD(fd)))
		}

		addr, err := socket.LocalAddr(fd)
		if err != nil {
			return v.bringFail(la, errors.Wrap(err, v.closeFD(fd)))
		}
		v.listeners[fd] = &listener{fd: fd, addr: addr}

		if err = v.backend.Accept(fd); err != nil {
			delete(v.listeners, fd)
			return v.bringFail(la, errors.Wrap(err, v.closeFD(fd)))
		}

		logx.Info("Listen", "address", addr.String(), "fd", fd)
		return nil
	})
}

func (v *_server) openSocket(t *task, domain int) (int, error) {
	if v.flags.CreateSocket {
		return v.createSocket(t, domain)
	}
	return socket.Create(domain)
}

func (v *_server) bindListen(fd int, la address.Listen) error {
	if err := socket.EnableReuseAddr(fd); err != nil {
		return err
	}
	sa, err := socket.Sockaddr(la.IP, la.Port, la.Domain)
	if err != nil {
		return err
	}
	if err = socket.Bind(fd, sa); err != nil {
		return err
	}
	return socket.Listen(fd, socket.DefaultBacklog)
}

func (v *_server) bringFail(la address.Listen, err error) error {
	err = errors.Wrapf(err, "bring up %s", la.String())
	v.bringErr = errors.Wrap(v.bringErr, err)
	logx.Error("Listen", "err", err, "address", la.String())
	return err
}

// closeListeners releases every listening socket directly.
func (v *_server) closeListeners() {
	for fd, l := range v.listeners {
		if err := v.closeFD(fd); err != nil {
			logx.Warn("Close listener", "err", err, "address", l.addr.String())
		}
		delete(v.listeners, fd)
	}
}
