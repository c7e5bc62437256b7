/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

// Package ringtest provides a scriptable completion backend for tests.
// Issued requests are recorded in order and completions are injected by
// the test itself.
package ringtest

import (
	"net"
	"sync"
	"time"

	"go.osspkg.com/ringserver/completion"
)

type Op struct {
	Kind completion.Kind
	FD   int
	Arg  int
	Data []byte
}

type Backend struct {
	mux      sync.Mutex
	flags    completion.Flags
	ops      []Op
	ready    []*completion.Record
	fail     map[completion.Kind]error
	released int
	stopped  bool
	freed    bool
	nextKey  int
	wake     chan struct{}
}

func New(flags completion.Flags) *Backend {
	return &Backend{
		flags:   flags,
		fail:    make(map[completion.Kind]error),
		nextKey: -1000,
		wake:    make(chan struct{}, 1),
	}
}

// FailIssue makes every later request of kind fail with err.
func (v *Backend) FailIssue(kind completion.Kind, err error) {
	v.mux.Lock()
	defer v.mux.Unlock()
	if err == nil {
		delete(v.fail, kind)
		return
	}
	v.fail[kind] = err
}

// Ops returns a copy of the issued requests.
func (v *Backend) Ops() []Op {
	v.mux.Lock()
	defer v.mux.Unlock()
	return append(make([]Op, 0, len(v.ops)), v.ops...)
}

// Count returns how many requests of kind were issued for fd.
func (v *Backend) Count(kind completion.Kind, fd int) int {
	n := 0
	for _, op := range v.Ops() {
		if op.Kind == kind && op.FD == fd {
			n++
		}
	}
	return n
}

func (v *Backend) Released() int {
	v.mux.Lock()
	defer v.mux.Unlock()
	return v.released
}

func (v *Backend) Freed() bool {
	v.mux.Lock()
	defer v.mux.Unlock()
	return v.freed
}

// Push queues records for the next retrieval.
func (v *Backend) Push(recs ...*completion.Record) {
	v.mux.Lock()
	v.ready = append(v.ready, recs...)
	v.mux.Unlock()
	v.notify()
}

func (v *Backend) notify() {
	select {
	case v.wake <- struct{}{}:
	default:
	}
}

func (v *Backend) issue(kind completion.Kind, fd, arg int, data []byte) error {
	v.mux.Lock()
	defer v.mux.Unlock()
	if v.stopped {
		return completion.ErrStopped
	}
	if err, ok := v.fail[kind]; ok {
		return err
	}
	v.ops = append(v.ops, Op{Kind: kind, FD: fd, Arg: arg, Data: data})
	return nil
}

func (v *Backend) Flags() completion.Flags { return v.flags }

func (v *Backend) SubmitAndWait() (completion.Batch, error) {
	for {
		b, err := v.PeekBatch()
		if err != nil || len(b) > 0 {
			return b, err
		}
		<-v.wake
	}
}

func (v *Backend) ConditionalSubmit() error {
	v.mux.Lock()
	defer v.mux.Unlock()
	if v.stopped {
		return completion.ErrStopped
	}
	return nil
}

func (v *Backend) PeekBatch() (completion.Batch, error) {
	v.mux.Lock()
	defer v.mux.Unlock()
	if v.stopped {
		return nil, completion.ErrStopped
	}
	b := completion.Batch(v.ready)
	v.ready = nil
	return b, nil
}

func (v *Backend) Release(b completion.Batch) {
	v.mux.Lock()
	for _, r := range b {
		if r != nil {
			v.released++
		}
	}
	v.mux.Unlock()
	completion.ReleaseBatch(b)
}

func (v *Backend) Read(fd int, length int) error {
	return v.issue(completion.KindRead, fd, length, nil)
}

func (v *Backend) Write(fd int, b []byte) error {
	return v.issue(completion.KindWrite, fd, len(b), b)
}

func (v *Backend) Accept(listenFD int) error {
	return v.issue(completion.KindAccept, listenFD, 0, nil)
}

func (v *Backend) Cancel(fd int) error {
	return v.issue(completion.KindCancel, fd, 0, nil)
}

func (v *Backend) Shutdown(fd int, how int) error {
	return v.issue(completion.KindShutdown, fd, how, nil)
}

func (v *Backend) Close(fd int) error {
	return v.issue(completion.KindClose, fd, 0, nil)
}

func (v *Backend) Timeout(fd int, d time.Duration) error {
	return v.issue(completion.KindTimeout, fd, int(d), nil)
}

func (v *Backend) CreateSocket(domain, _, _ int) (int, error) {
	v.mux.Lock()
	key := v.nextKey
	v.nextKey--
	v.mux.Unlock()
	return key, v.issue(completion.KindCreateSocket, key, domain, nil)
}

func (v *Backend) Stop() error {
	v.mux.Lock()
	v.stopped = true
	v.mux.Unlock()
	v.notify()
	return nil
}

func (v *Backend) Free() error {
	v.mux.Lock()
	defer v.mux.Unlock()
	v.freed = true
	return nil
}

// Rec builds a pooled record of kind for fd.
func Rec(kind completion.Kind, fd int) *completion.Record {
	r := completion.AcquireRecord()
	r.Kind = kind
	r.FD = fd
	return r
}

func ErrRec(kind completion.Kind, fd int, err error) *completion.Record {
	r := Rec(kind, fd)
	r.Err = err
	return r
}

func ReadRec(fd int, data []byte) *completion.Record {
	r := Rec(completion.KindRead, fd)
	r.Res = len(data)
	r.Data = data
	return r
}

func WriteRec(fd int, n int) *completion.Record {
	r := Rec(completion.KindWrite, fd)
	r.Res = n
	return r
}

func AcceptRec(listenFD, fd int, peer net.Addr) *completion.Record {
	r := Rec(completion.KindAccept, fd)
	r.ListenFD = listenFD
	r.Peer = peer
	return r
}
