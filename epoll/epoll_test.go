/*
 *  Copyright (c) 2024 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package epoll_test

import (
	"errors"
	"net"
	"testing"
	"time"

	"go.osspkg.com/casecheck"
	"golang.org/x/sys/unix"

	"go.osspkg.com/ringserver/completion"
	"go.osspkg.com/ringserver/epoll"
	"go.osspkg.com/ringserver/errs"
	"go.osspkg.com/ringserver/socket"
)

func newBackend(t *testing.T) *epoll.Backend {
	b, err := epoll.NewWithOption(epoll.Option{CountEvents: 16, MaxWait: 100 * time.Millisecond})
	casecheck.NoError(t, err)
	t.Cleanup(func() { b.Free() }) //nolint: errcheck
	return b
}

func socketPair(t *testing.T) [2]int {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	casecheck.NoError(t, err)
	t.Cleanup(func() {
		unix.Close(fds[0]) //nolint: errcheck
		unix.Close(fds[1]) //nolint: errcheck
	})
	return fds
}

// next returns copies of the records of one non-empty batch.
func next(t *testing.T, b *epoll.Backend) []completion.Record {
	batch, err := b.SubmitAndWait()
	casecheck.NoError(t, err)
	out := make([]completion.Record, 0, len(batch))
	for _, rec := range batch {
		cp := *rec
		cp.Data = append([]byte(nil), rec.Data...)
		out = append(out, cp)
	}
	b.Release(batch)
	return out
}

func TestUnit_Flags(t *testing.T) {
	b := newBackend(t)
	casecheck.Equal(t, completion.Flags{CancelFD: true, Shutdown: true}, b.Flags())

	_, err := b.CreateSocket(socket.DomainIPv4, socket.Stream, 0)
	casecheck.True(t, errors.Is(err, completion.ErrNotSupported))
}

func TestUnit_ParkedReadCompletes(t *testing.T) {
	b := newBackend(t)
	fds := socketPair(t)

	casecheck.NoError(t, b.Read(fds[1], 32))
	casecheck.NoError(t, b.ConditionalSubmit())
	batch, err := b.PeekBatch()
	casecheck.NoError(t, err)
	casecheck.Equal(t, 0, len(batch))

	_, err = unix.Write(fds[0], []byte("ping"))
	casecheck.NoError(t, err)

	recs := next(t, b)
	casecheck.Equal(t, 1, len(recs))
	casecheck.Equal(t, completion.KindRead, recs[0].Kind)
	casecheck.Equal(t, fds[1], recs[0].FD)
	casecheck.Equal(t, 4, recs[0].Res)
	casecheck.Equal(t, "ping", string(recs[0].Data))
}

func TestUnit_WriteThenRead(t *testing.T) {
	b := newBackend(t)
	fds := socketPair(t)

	casecheck.NoError(t, b.Write(fds[0], []byte("hello")))
	recs := next(t, b)
	casecheck.Equal(t, completion.KindWrite, recs[0].Kind)
	casecheck.Equal(t, 5, recs[0].Res)

	casecheck.NoError(t, b.Read(fds[1], 32))
	recs = next(t, b)
	casecheck.Equal(t, "hello", string(recs[0].Data))
}

func TestUnit_CancelParked(t *testing.T) {
	b := newBackend(t)
	fds := socketPair(t)

	casecheck.NoError(t, b.Cancel(fds[1]))
	recs := next(t, b)
	casecheck.Equal(t, completion.KindCancel, recs[0].Kind)
	casecheck.True(t, errors.Is(recs[0].Err, unix.ENOENT))

	casecheck.NoError(t, b.Read(fds[1], 32))
	casecheck.NoError(t, b.Timeout(fds[1], time.Hour))
	casecheck.NoError(t, b.Cancel(fds[1]))

	recs = next(t, b)
	casecheck.Equal(t, 3, len(recs))
	kinds := map[completion.Kind]error{}
	for _, r := range recs {
		kinds[r.Kind] = r.Err
	}
	casecheck.True(t, errors.Is(kinds[completion.KindRead], unix.ECANCELED))
	casecheck.True(t, errors.Is(kinds[completion.KindTimeout], unix.ECANCELED))
	casecheck.NoError(t, kinds[completion.KindCancel])
}

func TestUnit_TimersInDeadlineOrder(t *testing.T) {
	b := newBackend(t)

	casecheck.NoError(t, b.Timeout(1, 60*time.Millisecond))
	casecheck.NoError(t, b.Timeout(2, 10*time.Millisecond))

	var fds []int
	for len(fds) < 2 {
		for _, r := range next(t, b) {
			casecheck.True(t, errs.IsTimeout(r.Err))
			fds = append(fds, r.FD)
		}
	}
	casecheck.Equal(t, []int{2, 1}, fds)
}

func TestUnit_ShutdownAndClose(t *testing.T) {
	b := newBackend(t)
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	casecheck.NoError(t, err)
	defer unix.Close(fds[1]) //nolint: errcheck

	casecheck.NoError(t, b.Shutdown(fds[0], socket.ShutWrite))
	casecheck.NoError(t, b.Close(fds[0]))

	recs := next(t, b)
	casecheck.Equal(t, 2, len(recs))
	casecheck.Equal(t, completion.KindShutdown, recs[0].Kind)
	casecheck.NoError(t, recs[0].Err)
	casecheck.Equal(t, completion.KindClose, recs[1].Kind)
	casecheck.NoError(t, recs[1].Err)

	n, err := unix.Read(fds[1], make([]byte, 4))
	casecheck.NoError(t, err)
	casecheck.Equal(t, 0, n)
}

func TestUnit_PersistentAccept(t *testing.T) {
	b := newBackend(t)

	fd, err := socket.Create(socket.DomainIPv4)
	casecheck.NoError(t, err)
	defer socket.Close(fd) //nolint: errcheck
	sa, err := socket.Sockaddr("127.0.0.1", 0, socket.DomainIPv4)
	casecheck.NoError(t, err)
	casecheck.NoError(t, socket.Bind(fd, sa))
	casecheck.NoError(t, socket.Listen(fd, 0))
	addr, err := socket.LocalAddr(fd)
	casecheck.NoError(t, err)

	casecheck.NoError(t, b.Accept(fd))
	casecheck.NoError(t, b.ConditionalSubmit())

	for i := 0; i < 2; i++ {
		c, err := net.Dial("tcp", addr.String())
		casecheck.NoError(t, err)

		recs := next(t, b)
		casecheck.Equal(t, 1, len(recs))
		casecheck.Equal(t, completion.KindAccept, recs[0].Kind)
		casecheck.Equal(t, fd, recs[0].ListenFD)
		casecheck.NoError(t, recs[0].Err)
		casecheck.Equal(t, c.LocalAddr().String(), recs[0].Peer.String())

		casecheck.NoError(t, socket.Close(recs[0].FD))
		casecheck.NoError(t, c.Close())
	}
}

func TestUnit_StopWakesWait(t *testing.T) {
	b := newBackend(t)

	go func() {
		time.Sleep(50 * time.Millisecond)
		b.Stop() //nolint: errcheck
	}()

	casecheck.NoError(t, b.Timeout(1, time.Hour))
	_, err := b.SubmitAndWait()
	casecheck.True(t, errors.Is(err, completion.ErrStopped))
	casecheck.True(t, errors.Is(b.Write(1, []byte("x")), completion.ErrStopped))
}

func TestUnit_FreeRunsQueuedClose(t *testing.T) {
	b, err := epoll.NewWithOption(epoll.Option{CountEvents: 16, MaxWait: 100 * time.Millisecond})
	casecheck.NoError(t, err)

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	casecheck.NoError(t, err)
	defer unix.Close(fds[1]) //nolint: errcheck

	casecheck.NoError(t, b.Read(fds[0], 16))
	casecheck.NoError(t, b.Close(fds[0]))
	casecheck.NoError(t, b.Stop())
	casecheck.NoError(t, b.Free())

	_, err = unix.Write(fds[0], []byte("x"))
	casecheck.True(t, errors.Is(err, unix.EBADF))
}
