/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package uring

import (
	"encoding/binary"
	"time"
	"unsafe"

	"go.osspkg.com/errors"
	"go.osspkg.com/ioutils/pool"
	"go.osspkg.com/logx"
	"go.osspkg.com/syncing"
	"golang.org/x/sys/unix"

	"go.osspkg.com/ringserver/completion"
	"go.osspkg.com/ringserver/internal"
	"go.osspkg.com/ringserver/socket"
)

// op keeps every buffer the kernel points to alive until the completion.
type op struct {
	kind     completion.Kind
	fd       int
	listenFD int
	buf      *internal.Bytes
	data     []byte
	sa       unix.RawSockaddrAny
	salen    uint32
	ts       kernelTimespec
	wake     [8]byte
	isWake   bool
}

func (o *op) Reset() {
	*o = op{}
}

var opPool = pool.New[*op](func() *op { return &op{} })

type Backend struct {
	ring    *ring
	flags   completion.Flags
	pending map[uint64]*op
	nextUD  uint64
	nextKey int
	eventFD int
	held    []*internal.Bytes
	sync    syncing.Switch
}

// New sets up an io_uring instance with queueDepth submission entries.
// The read, write, accept, close and timeout opcodes are required, the
// other capabilities are probed and reported by Flags.
func New(queueDepth uint32) (*Backend, error) {
	r, err := newRing(queueDepth)
	if err != nil {
		return nil, errors.Wrap(completion.ErrNotSupported, err)
	}

	supported, err := r.probe()
	if err != nil {
		return nil, errors.Wrap(errors.Wrap(completion.ErrNotSupported, err), r.close())
	}
	for _, code := range []uint8{opRead, opWrite, opAccept, opClose, opTimeout} {
		if !supported[code] {
			return nil, errors.Wrap(errors.Wrapf(completion.ErrNotSupported, "io_uring opcode %d", code), r.close())
		}
	}

	major, minor := kernelVersion()
	v := &Backend{
		ring: r,
		flags: completion.Flags{
			CreateSocket: supported[opSocket],
			Shutdown:     supported[opShutdown],
			CancelFD:     supported[opAsyncCancel] && (major > 5 || major == 5 && minor >= 19),
		},
		pending: make(map[uint64]*op, queueDepth),
		nextKey: -2,
		eventFD: -1,
		sync:    syncing.NewSwitch(),
	}

	if v.eventFD, err = unix.Eventfd(0, unix.EFD_CLOEXEC); err != nil {
		return nil, errors.Wrap(errors.Wrapf(err, "create eventfd"), r.close())
	}
	v.sync.On()

	if err = v.armWake(); err != nil {
		return nil, errors.Wrap(err, v.Free())
	}
	return v, nil
}

func (v *Backend) Flags() completion.Flags {
	return v.flags
}

func (v *Backend) SubmitAndWait() (completion.Batch, error) {
	for {
		if !v.sync.IsOn() {
			return nil, completion.ErrStopped
		}
		var wait uint32 = 1
		if v.ring.ready() {
			wait = 0
		}
		if err := v.ring.enter(wait); err != nil {
			return nil, err
		}
		if batch := v.collect(); len(batch) > 0 {
			return batch, nil
		}
	}
}

func (v *Backend) ConditionalSubmit() error {
	if !v.sync.IsOn() {
		return completion.ErrStopped
	}
	if v.ring.queued == 0 {
		return nil
	}
	return v.ring.enter(0)
}

func (v *Backend) PeekBatch() (completion.Batch, error) {
	if !v.sync.IsOn() {
		return nil, completion.ErrStopped
	}
	return v.collect(), nil
}

func (v *Backend) Release(b completion.Batch) {
	for _, buf := range v.held {
		internal.PutBytes(buf)
	}
	clear(v.held)
	v.held = v.held[:0]
	completion.ReleaseBatch(b)
}

func (v *Backend) Read(fd int, length int) error {
	if length <= 0 {
		length = internal.CommonBufferLength
	}
	o := opPool.Get()
	o.kind, o.fd = completion.KindRead, fd
	o.buf = internal.GetBytes(length)
	return v.submit(o, func(s *sqe) {
		s.Opcode = opRead
		s.Fd = int32(fd)
		s.Addr = uint64(uintptr(unsafe.Pointer(&o.buf.Slice[0])))
		s.Len = uint32(length)
	})
}

func (v *Backend) Write(fd int, b []byte) error {
	o := opPool.Get()
	o.kind, o.fd = completion.KindWrite, fd
	o.data = b
	return v.submit(o, func(s *sqe) {
		s.Opcode = opWrite
		s.Fd = int32(fd)
		s.Addr = uint64(uintptr(unsafe.Pointer(unsafe.SliceData(b))))
		s.Len = uint32(len(b))
	})
}

func (v *Backend) Accept(listenFD int) error {
	o := opPool.Get()
	o.kind, o.fd, o.listenFD = completion.KindAccept, listenFD, listenFD
	o.salen = unix.SizeofSockaddrAny
	return v.submit(o, func(s *sqe) {
		s.Opcode = opAccept
		s.Fd = int32(listenFD)
		s.Addr = uint64(uintptr(unsafe.Pointer(&o.sa)))
		s.Off = uint64(uintptr(unsafe.Pointer(&o.salen)))
		s.OpFlags = unix.SOCK_CLOEXEC
	})
}

func (v *Backend) Cancel(fd int) error {
	if !v.flags.CancelFD {
		return completion.ErrNotSupported
	}
	o := opPool.Get()
	o.kind, o.fd = completion.KindCancel, fd
	return v.submit(o, func(s *sqe) {
		s.Opcode = opAsyncCancel
		s.Fd = int32(fd)
		s.OpFlags = cancelFD | cancelAll
	})
}

func (v *Backend) Shutdown(fd int, how int) error {
	if !v.flags.Shutdown {
		return completion.ErrNotSupported
	}
	o := opPool.Get()
	o.kind, o.fd = completion.KindShutdown, fd
	return v.submit(o, func(s *sqe) {
		s.Opcode = opShutdown
		s.Fd = int32(fd)
		s.Len = uint32(how)
	})
}

func (v *Backend) Close(fd int) error {
	o := opPool.Get()
	o.kind, o.fd = completion.KindClose, fd
	return v.submit(o, func(s *sqe) {
		s.Opcode = opClose
		s.Fd = int32(fd)
	})
}

func (v *Backend) Timeout(fd int, d time.Duration) error {
	o := opPool.Get()
	o.kind, o.fd = completion.KindTimeout, fd
	o.ts = kernelTimespec{Sec: int64(d / time.Second), Nsec: int64(d % time.Second)}
	return v.submit(o, func(s *sqe) {
		s.Opcode = opTimeout
		s.Fd = -1
		s.Addr = uint64(uintptr(unsafe.Pointer(&o.ts)))
		s.Len = 1
	})
}

// CreateSocket keys the request with a negative number that never
// collides with a descriptor or the housekeeping key.
func (v *Backend) CreateSocket(domain, typ, proto int) (int, error) {
	if !v.flags.CreateSocket {
		return -1, completion.ErrNotSupported
	}
	key := v.nextKey
	v.nextKey--

	o := opPool.Get()
	o.kind, o.fd = completion.KindCreateSocket, key
	return key, v.submit(o, func(s *sqe) {
		s.Opcode = opSocket
		s.Fd = int32(domain)
		s.Off = uint64(typ | unix.SOCK_CLOEXEC)
		s.Len = uint32(proto)
	})
}

// Stop completes the outstanding eventfd read, which wakes a blocked
// SubmitAndWait. Safe for concurrent use.
func (v *Backend) Stop() error {
	if !v.sync.Off() {
		return nil
	}
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], 1)
	if _, err := unix.Write(v.eventFD, b[:]); err != nil {
		return errors.Wrapf(err, "wake io_uring")
	}
	return nil
}

// Free hands still queued entries to the kernel before the ring goes away,
// so a close accepted before Stop is not lost.
func (v *Backend) Free() (err error) {
	v.sync.Off()
	if v.ring != nil {
		if v.ring.queued > 0 && v.ring.fd >= 0 {
			err = v.ring.enter(0)
		}
		err = errors.Wrap(err, v.ring.close())
	}
	if v.eventFD >= 0 {
		err = errors.Wrap(err, unix.Close(v.eventFD))
		v.eventFD = -1
	}
	// the kernel may still own buffers of pending requests, they are left to the GC
	clear(v.pending)
	for _, buf := range v.held {
		internal.PutBytes(buf)
	}
	v.held = nil
	return err
}

func (v *Backend) armWake() error {
	o := opPool.Get()
	o.isWake = true
	o.fd = v.eventFD
	return v.submit(o, func(s *sqe) {
		s.Opcode = opRead
		s.Fd = int32(v.eventFD)
		s.Addr = uint64(uintptr(unsafe.Pointer(&o.wake[0])))
		s.Len = uint32(len(o.wake))
	})
}

func (v *Backend) submit(o *op, prep func(s *sqe)) error {
	if !v.sync.IsOn() {
		v.recycle(o)
		return completion.ErrStopped
	}
	s, err := v.ring.getSqe()
	if err != nil {
		v.recycle(o)
		return err
	}
	v.nextUD++
	prep(s)
	s.UserData = v.nextUD
	v.pending[v.nextUD] = o
	return nil
}

func (v *Backend) recycle(o *op) {
	internal.PutBytes(o.buf)
	o.Reset()
	opPool.Put(o)
}

func (v *Backend) collect() completion.Batch {
	var batch completion.Batch
	v.ring.reap(func(ud uint64, res int32) {
		o, ok := v.pending[ud]
		if !ok {
			return
		}
		delete(v.pending, ud)

		if o.isWake {
			v.recycle(o)
			return
		}

		batch = append(batch, v.record(o, res))

		if o.kind == completion.KindAccept && rearmAccept(res) && v.sync.IsOn() {
			if err := v.Accept(o.listenFD); err != nil {
				logx.Error("Rearm accept", "err", err, "fd", o.listenFD)
			}
		}

		if o.kind == completion.KindRead {
			v.held = append(v.held, o.buf)
			o.buf = nil
		}
		v.recycle(o)
	})
	return batch
}

func (v *Backend) record(o *op, res int32) *completion.Record {
	rec := completion.AcquireRecord()
	rec.Kind = o.kind
	rec.FD = o.fd
	rec.Res = int(res)
	if res < 0 {
		rec.Err = unix.Errno(-res)
	}

	switch o.kind {
	case completion.KindAccept:
		rec.ListenFD = o.listenFD
		if res >= 0 {
			rec.FD = int(res)
			rec.Peer = socket.AddrFromRaw(&o.sa)
		}
	case completion.KindRead:
		if res >= 0 {
			rec.Data = o.buf.Slice[:res]
		}
	}
	return rec
}

// rearmAccept tells a transient accept failure from a dead listener.
func rearmAccept(res int32) bool {
	if res >= 0 {
		return true
	}
	switch unix.Errno(-res) {
	case unix.ECANCELED, unix.EBADF, unix.EINVAL, unix.ENOTSOCK:
		return false
	default:
		return true
	}
}
