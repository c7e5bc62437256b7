/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package server

import (
	"context"
	"io"
	"net"
	"time"

	"go.osspkg.com/logx"

	"go.osspkg.com/ringserver/internal"
)

type (
	HandlerFunc func(ctx context.Context, c *Conn) error

	// ioCap is the part of the server a connection may use: issuing requests
	// on its own descriptor and parking until they complete.
	ioCap interface {
		read(t *task, fd int, n int) ([]byte, error)
		write(t *task, fd int, b []byte) (int, error)
		timeout(t *task, fd int, d time.Duration) error
	}

	// Conn is the handle of one accepted connection. Its blocking methods
	// must be called from the handler only.
	Conn struct {
		io         ioCap
		t          *task
		fd         int
		local      net.Addr
		peer       net.Addr
		ctx        context.Context
		readSize   int
		writeChunk int
	}
)

func (c *Conn) FD() int {
	return c.fd
}

func (c *Conn) LocalAddr() net.Addr {
	return c.local
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.peer
}

// Context is cancelled when the server stops.
func (c *Conn) Context() context.Context {
	return c.ctx
}

// ReadN reads at most n bytes. A zero length read means the peer closed
// the connection and is reported as io.EOF.
func (c *Conn) ReadN(n int) ([]byte, error) {
	if n <= 0 {
		n = c.readSize
	}
	b, err := c.io.read(c.t, c.fd, n)
	if err != nil {
		return nil, err
	}
	if len(b) == 0 {
		return nil, io.EOF
	}
	return b, nil
}

func (c *Conn) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	b, err := c.ReadN(len(p))
	if err != nil {
		return 0, err
	}
	return copy(p, b), nil
}

// Write sends all of b, splitting it into write requests of the configured chunk size.
func (c *Conn) Write(b []byte) (int, error) {
	return internal.ChunkWrite(b, c.writeChunk, func(p []byte) (int, error) {
		return c.io.write(c.t, c.fd, p)
	})
}

// Sleep parks the handler for d without blocking other connections.
func (c *Conn) Sleep(d time.Duration) error {
	return c.io.timeout(c.t, c.fd, d)
}

func (v *_server) spawnConn(fd int, local, peer net.Addr) *task {
	c := &Conn{
		io:         v,
		fd:         fd,
		local:      local,
		peer:       peer,
		ctx:        v.ctx,
		readSize:   v.conf.ReadBuffer,
		writeChunk: v.conf.WriteChunk,
	}
	c.t = newTask(fd, roleConn, func(_ *task) error {
		logx.Debug("Connection accepted", "fd", fd, "addr", peer)
		err := v.handler(c.ctx, c)
		internal.WriteErrLog("Handle connection", err, fd, peer)
		return internal.NormalCloseError(err)
	})
	return c.t
}
