/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package server

import (
	"bytes"
	"fmt"
	"net"

	"go.osspkg.com/errors"
	"go.osspkg.com/logx"

	"go.osspkg.com/ringserver/completion"
)

// handleCompletions routes every record of the batch in order. A failing
// record is logged and never stops the rest of the batch.
func (v *_server) handleCompletions(batch completion.Batch) {
	for _, rec := range batch {
		if rec == nil {
			continue
		}
		if err := v.handleRecord(rec); err != nil {
			v.logDispatchError(rec, err)
		}
	}
}

func (v *_server) handleRecord(rec *completion.Record) (err error) {
	defer func() {
		if e := recover(); e != nil {
			err = fmt.Errorf("dispatch panic: %v", e)
		}
	}()

	err = v.resolve(rec)

	if owner := v.reg.owner(rec.FD); owner != nil && owner.terminated() {
		if e := v.finalize(rec.FD, owner); e != nil {
			err = errors.Wrap(err, e)
		}
	}
	return err
}

func (v *_server) resolve(rec *completion.Record) error {
	if t := v.reg.waiter(rec.Kind, rec.FD); t != nil {
		return t.resume(payload(rec))
	}

	if rec.Kind == completion.KindAccept {
		return v.accept(rec)
	}

	owner := v.reg.owner(rec.FD)
	if owner == nil || owner.terminated() {
		logx.Debug("Late completion ignored", "fd", rec.FD, "kind", rec.Kind.String(), "err", rec.Err)
		return nil
	}
	return ErrMissingWaiter
}

func payload(rec *completion.Record) resumption {
	if rec.Err != nil {
		return resumption{err: rec.Err}
	}
	switch rec.Kind {
	case completion.KindRead:
		if rec.Res < 0 {
			return resumption{err: ErrInvalidBuffer}
		}
		n := min(rec.Res, len(rec.Data))
		return resumption{n: n, data: bytes.Clone(rec.Data[:n])}
	case completion.KindWrite, completion.KindCreateSocket:
		return resumption{n: rec.Res}
	default:
		return resumption{}
	}
}

func (v *_server) accept(rec *completion.Record) error {
	if rec.Err != nil {
		logx.Warn("Accept connection", "err", rec.Err, "listen_fd", rec.ListenFD)
		return nil
	}
	if owner := v.reg.owner(rec.FD); owner != nil {
		return errors.Wrapf(ErrDoubleAccept, "owner %s is %s", owner.role.String(), statusOf(owner).String())
	}

	var local net.Addr
	if l, ok := v.listeners[rec.ListenFD]; ok {
		local = l.addr
	}
	t := v.spawnConn(rec.FD, local, rec.Peer)
	v.reg.own(rec.FD, t)
	return t.start()
}

// finalize replaces a terminated owner by a finalizer. An owner that already
// is a finalizer only gets evicted.
func (v *_server) finalize(fd int, owner *task) error {
	if owner.role == roleFinalizer || fd == housekeeperFD {
		v.reg.evict(fd, owner)
		return nil
	}
	t := v.spawnFinalizer(fd)
	v.reg.own(fd, t)
	return t.start()
}

func (v *_server) logDispatchError(rec *completion.Record, err error) {
	if errors.Is(err, ErrNotResumable) {
		logx.Error("Dispatch completion", "err", err, "fd", rec.FD, "kind", rec.Kind.String())
		return
	}
	logx.Warn("Dispatch completion", "err", err, "fd", rec.FD, "kind", rec.Kind.String())
}
