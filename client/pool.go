/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package client

import (
	"context"
	"net"
	"time"
)

type connect struct {
	Conn        net.Conn
	Err         error
	IdleAt      time.Time
	IdleTimeout time.Duration
	CloseFunc   func() error
}

func (c *connect) Close() {
	if c.Conn == nil || c.CloseFunc == nil {
		return
	}
	addr := c.Conn.RemoteAddr()
	writeLog(c.CloseFunc(), "Close connection", addr.Network(), addr.String())
}

// IsFailConn reports a connection that broke during the last call or
// stayed idle for longer than allowed.
func (c *connect) IsFailConn() bool {
	if c.Err != nil {
		return true
	}
	return c.IdleTimeout > 0 && !c.IdleAt.IsZero() && time.Since(c.IdleAt) > c.IdleTimeout
}

func (c *connect) GetError() error {
	return c.Err
}

type (
	object interface {
		Close()
		IsFailConn() bool
		GetError() error
	}

	chanPool[T object] struct {
		c    chan T
		call func(ctx context.Context) T
	}
)

func newChanPool[T object](size int, call func(ctx context.Context) T) *chanPool[T] {
	return &chanPool[T]{
		c:    make(chan T, size),
		call: call,
	}
}

// GetIdleOrCreateConn hands out an idle healthy connection or a new one.
// A new connection carries its dial error in GetError.
func (p *chanPool[T]) GetIdleOrCreateConn(ctx context.Context) (v T) {
	for {
		select {
		case v = <-p.c:
		default:
			return p.call(ctx)
		}

		if v.IsFailConn() {
			v.Close()
			continue
		}

		return
	}
}

func (p *chanPool[T]) PutOrCloseIdleConn(v T) {
	if v.IsFailConn() {
		v.Close()
		return
	}

	select {
	case p.c <- v:
		return
	default:
		v.Close()
	}
}

// CloseAll drops every idle connection.
func (p *chanPool[T]) CloseAll() {
	for {
		select {
		case v := <-p.c:
			v.Close()
		default:
			return
		}
	}
}
