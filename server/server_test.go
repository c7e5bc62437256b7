/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package server_test

import (
	"bytes"
	"context"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.osspkg.com/syncing"

	"go.osspkg.com/ringserver/address"
	"go.osspkg.com/ringserver/server"
	"go.osspkg.com/ringserver/uring"
)

func echo(_ context.Context, c *server.Conn) error {
	for {
		b, err := c.ReadN(0)
		if err != nil {
			return err
		}
		if _, err = c.Write(b); err != nil {
			return err
		}
	}
}

func backends(t *testing.T) []string {
	list := []string{server.BackendEpoll}
	if b, err := uring.New(8); err == nil {
		b.Free() //nolint: errcheck
		list = append(list, server.BackendUring)
	} else {
		t.Logf("io_uring is unavailable: %v", err)
	}
	return list
}

func start(t *testing.T, backend string, h server.HandlerFunc) (string, server.Server, <-chan error) {
	addr, err := address.RandomPort("127.0.0.1")
	require.NoError(t, err)

	srv, err := server.New(server.Config{
		Addresses:            []string{addr},
		Backend:              backend,
		WriteChunk:           1024,
		HousekeepingInterval: 20 * time.Millisecond,
	})
	require.NoError(t, err)
	srv.HandleFunc(h)

	done := make(chan error, 1)
	go func() { done <- srv.Run(64) }()

	require.Eventually(t, func() bool {
		c, err := net.Dial("tcp", addr)
		if err != nil {
			return false
		}
		return c.Close() == nil
	}, 2*time.Second, 10*time.Millisecond, "server is not listening")
	return addr, srv, done
}

func stop(t *testing.T, srv server.Server, done <-chan error) {
	srv.Stop()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestUnit_EchoRoundTrip(t *testing.T) {
	for _, name := range backends(t) {
		t.Run(name, func(t *testing.T) {
			addr, srv, done := start(t, name, echo)
			defer stop(t, srv, done)

			conn, err := net.Dial("tcp", addr)
			require.NoError(t, err)
			defer conn.Close()

			msg := bytes.Repeat([]byte("0123456789"), 1000)
			_, err = conn.Write(msg)
			require.NoError(t, err)

			got := make([]byte, len(msg))
			_, err = io.ReadFull(conn, got)
			require.NoError(t, err)
			require.Equal(t, msg, got)
		})
	}
}

func TestUnit_ManyConnections(t *testing.T) {
	for _, name := range backends(t) {
		t.Run(name, func(t *testing.T) {
			addr, srv, done := start(t, name, echo)
			defer stop(t, srv, done)

			var failed atomic.Int64
			wg := syncing.NewGroup()
			for i := 0; i < 50; i++ {
				wg.Background(func() {
					conn, err := net.Dial("tcp", addr)
					if err != nil {
						failed.Add(1)
						return
					}
					defer conn.Close()
					for j := 0; j < 10; j++ {
						if _, err = conn.Write([]byte("ping")); err != nil {
							failed.Add(1)
							return
						}
						b := make([]byte, 4)
						if _, err = io.ReadFull(conn, b); err != nil || string(b) != "ping" {
							failed.Add(1)
							return
						}
					}
				})
			}
			wg.Wait()
			require.Equal(t, int64(0), failed.Load())
		})
	}
}

func TestUnit_HandlerSleepDoesNotBlockOthers(t *testing.T) {
	addr, srv, done := start(t, server.BackendEpoll, func(_ context.Context, c *server.Conn) error {
		b, err := c.ReadN(0)
		if err != nil {
			return err
		}
		if string(b) == "slow" {
			if err = c.Sleep(300 * time.Millisecond); err != nil {
				return err
			}
		}
		_, err = c.Write(b)
		return err
	})
	defer stop(t, srv, done)

	slow, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer slow.Close()
	_, err = slow.Write([]byte("slow"))
	require.NoError(t, err)

	fast, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer fast.Close()
	began := time.Now()
	_, err = fast.Write([]byte("fast"))
	require.NoError(t, err)
	b := make([]byte, 4)
	_, err = io.ReadFull(fast, b)
	require.NoError(t, err)
	require.Equal(t, "fast", string(b))
	require.Less(t, time.Since(began), 250*time.Millisecond)

	_, err = io.ReadFull(slow, b)
	require.NoError(t, err)
	require.Equal(t, "slow", string(b))
}

func TestUnit_HandlerCloseIsSeenByPeer(t *testing.T) {
	addr, srv, done := start(t, server.BackendEpoll, func(_ context.Context, c *server.Conn) error {
		_, err := c.Write([]byte("bye"))
		return err
	})
	defer stop(t, srv, done)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	b, err := io.ReadAll(conn)
	require.NoError(t, err)
	require.Equal(t, "bye", string(b))
}

func TestUnit_StopFromHandler(t *testing.T) {
	handle := make(chan server.Server, 1)
	stopped := make(chan struct{})
	addr, srv, done := start(t, server.BackendEpoll, func(_ context.Context, c *server.Conn) error {
		b, err := c.ReadN(0)
		if err != nil {
			return err
		}
		if string(b) == "stop" {
			(<-handle).Stop()
			close(stopped)
		}
		return nil
	})
	handle <- srv

	idle, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer idle.Close()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte("stop"))
	require.NoError(t, err)

	select {
	case err = <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	<-stopped

	_, err = io.ReadAll(idle)
	require.NoError(t, err)
}

func TestUnit_RunErrors(t *testing.T) {
	srv, err := server.New(server.Config{Backend: server.BackendEpoll})
	require.NoError(t, err)
	require.ErrorIs(t, srv.Run(0), server.ErrHandlerMissing)

	srv.HandleFunc(echo)
	require.ErrorIs(t, srv.Run(0), server.ErrNoListeners)

	_, err = server.New(server.Config{Backend: "kqueue"})
	require.Error(t, err)
}

func TestUnit_BindFailure(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	srv, err := server.New(server.Config{Addresses: []string{l.Addr().String()}, Backend: server.BackendEpoll})
	require.NoError(t, err)
	srv.HandleFunc(echo)

	err = srv.Run(0)
	require.ErrorIs(t, err, server.ErrNoListeners)
}
