/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package server

import (
	"time"

	"go.osspkg.com/logx"

	"go.osspkg.com/ringserver/completion"
	"go.osspkg.com/ringserver/errs"
	"go.osspkg.com/ringserver/socket"
)

// await issues one request and parks t until its completion is dispatched.
// The waiter is registered before suspending and removed right after the
// resumption, so a later request on the same key registers again.
// When issue fails nothing was queued and t does not suspend.
func (v *_server) await(t *task, kind completion.Kind, fd int, issue func() error) resumption {
	if err := v.reg.wait(kind, fd, t); err != nil {
		return resumption{err: err}
	}
	if err := issue(); err != nil {
		v.reg.unwait(kind, fd, t)
		return resumption{err: issueError(kind, fd, err)}
	}
	r := t.suspend()
	v.reg.unwait(kind, fd, t)
	return r
}

func (v *_server) read(t *task, fd int, n int) ([]byte, error) {
	r := v.await(t, completion.KindRead, fd, func() error {
		return v.backend.Read(fd, n)
	})
	return r.data, r.err
}

func (v *_server) write(t *task, fd int, b []byte) (int, error) {
	r := v.await(t, completion.KindWrite, fd, func() error {
		return v.backend.Write(fd, b)
	})
	return r.n, r.err
}

// timeout parks t for d. Timer expiry is the normal outcome and is not an error.
func (v *_server) timeout(t *task, fd int, d time.Duration) error {
	r := v.await(t, completion.KindTimeout, fd, func() error {
		return v.backend.Timeout(fd, d)
	})
	if errs.IsTimeout(r.err) {
		return nil
	}
	return r.err
}

func (v *_server) createSocket(t *task, domain int) (int, error) {
	key, err := v.backend.CreateSocket(domain, socket.Stream, 0)
	if err != nil {
		return -1, issueError(completion.KindCreateSocket, key, err)
	}
	r := v.await(t, completion.KindCreateSocket, key, func() error { return nil })
	if r.err != nil {
		return -1, r.err
	}
	return r.n, nil
}

// closeProtocol tears fd down through the backend: cancel pending requests,
// shut both directions and close. Only the close result is reported.
func (v *_server) closeProtocol(t *task, fd int) error {
	if v.flags.CancelFD {
		r := v.await(t, completion.KindCancel, fd, func() error {
			return v.backend.Cancel(fd)
		})
		if r.err != nil {
			logx.Debug("Cancel requests", "err", r.err, "fd", fd)
		}
	}

	if v.flags.Shutdown {
		v.shutdownConn(t, fd)
	}

	r := v.await(t, completion.KindClose, fd, func() error {
		return v.backend.Close(fd)
	})
	return r.err
}

// shutdownConn runs both directions under a single waiter registration.
func (v *_server) shutdownConn(t *task, fd int) {
	if err := v.reg.wait(completion.KindShutdown, fd, t); err != nil {
		logx.Debug("Shutdown connection", "err", err, "fd", fd)
		return
	}
	defer v.reg.unwait(completion.KindShutdown, fd, t)

	for _, how := range []int{socket.ShutWrite, socket.ShutRead} {
		if err := v.backend.Shutdown(fd, how); err != nil {
			logx.Debug("Shutdown connection", "err", err, "fd", fd, "how", how)
			return
		}
		if r := t.suspend(); r.err != nil {
			logx.Debug("Shutdown connection", "err", r.err, "fd", fd, "how", how)
		}
	}
}
