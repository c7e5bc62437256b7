/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package client

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"go.osspkg.com/algorithms/control"
)

type (
	Client interface {
		Call(ctx context.Context, handler func(ctx context.Context, w io.Writer, r io.Reader) error) error
		Close()
	}

	_client struct {
		conf Config
		sem  control.Semaphore
		pool *chanPool[*connect]
	}
)

func New(c Config) (Client, error) {
	addr, err := c.Resolve()
	if err != nil {
		return nil, fmt.Errorf("resolve address: %w", err)
	}

	c.Address = addr.String()

	if c.MaxConns <= 0 {
		c.MaxConns = 1
	}
	if c.IdleConns < 0 {
		c.IdleConns = 0
	}

	cli := &_client{
		conf: c,
		sem:  control.NewSemaphore(c.MaxConns),
	}
	cli.pool = newChanPool[*connect](c.IdleConns, cli.dial)

	return cli, nil
}

func (v *_client) dial(ctx context.Context) *connect {
	var dial net.Dialer
	conn, err := dial.DialContext(ctx, v.conf.Network, v.conf.Address)
	if err != nil {
		return &connect{Err: fmt.Errorf("dial %s: %w", v.conf.Network, err)}
	}
	return &connect{
		Conn:        conn,
		IdleTimeout: v.conf.IdleTimeout,
		CloseFunc:   conn.Close,
	}
}

// Call runs handler over an idle or freshly dialed connection. The
// connection goes back to the idle pool only when handler succeeds.
func (v *_client) Call(ctx context.Context, handler func(ctx context.Context, w io.Writer, r io.Reader) error) (e error) {
	v.sem.Acquire()
	defer func() { v.sem.Release() }()

	c := v.pool.GetIdleOrCreateConn(ctx)
	if err := c.GetError(); err != nil {
		return err
	}

	if err := c.Conn.SetDeadline(v.deadline(ctx)); err != nil {
		c.Close()
		return fmt.Errorf("set deadline: %w", err)
	}

	defer func() {
		if e == nil {
			e = c.Conn.SetDeadline(time.Time{})
		}
		c.Err = e
		c.IdleAt = time.Now()
		v.pool.PutOrCloseIdleConn(c)
	}()

	e = handler(ctx, c.Conn, c.Conn)
	if e == nil {
		e = ctx.Err()
	}
	return
}

func (v *_client) deadline(ctx context.Context) time.Time {
	var t time.Time
	if v.conf.Timeout > 0 {
		t = time.Now().Add(v.conf.Timeout)
	}
	if d, ok := ctx.Deadline(); ok && (t.IsZero() || d.Before(t)) {
		t = d
	}
	return t
}

func (v *_client) Close() {
	v.pool.CloseAll()
}
