/*
 *  Copyright (c) 2024 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package epoll

import (
	"encoding/binary"
	"fmt"
	"sort"
	"time"

	"github.com/eapache/queue"
	"go.osspkg.com/errors"
	"go.osspkg.com/logx"
	"go.osspkg.com/syncing"
	"golang.org/x/sys/unix"

	"go.osspkg.com/ringserver/completion"
	"go.osspkg.com/ringserver/internal"
	"go.osspkg.com/ringserver/socket"
)

const (
	DefaultCountEvents = 128
	DefaultMaxWait     = time.Second
)

// Backend emulates a completion queue on top of epoll readiness.
// Every request is tried with a non-blocking syscall at submission and
// parked on its descriptor when the kernel answers EAGAIN.
type Backend struct {
	fd      int
	wakeFD  int
	events  []unix.EpollEvent
	cfg     Option
	conn    map[int32]*descriptor
	queued  *queue.Queue
	ready   *queue.Queue
	timers  []*op
	held    []*internal.Bytes
	sync    syncing.Switch
	flags   completion.Flags
	timeNow func() time.Time
}

// New builds the emulated backend. queueDepth sizes the readiness batch.
func New(queueDepth uint32) (*Backend, error) {
	return NewWithOption(Option{
		CountEvents: uint(internal.NotZero(queueDepth, DefaultCountEvents)),
		MaxWait:     DefaultMaxWait,
	})
}

func NewWithOption(c Option) (*Backend, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, errors.Wrapf(err, "epoll create")
	}
	wake, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return nil, errors.Wrap(errors.Wrapf(err, "create eventfd"), unix.Close(epfd))
	}
	if err = unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wake, &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wake)}); err != nil {
		return nil, errors.Wrap(errors.Wrapf(err, "register eventfd"), errors.Wrap(unix.Close(wake), unix.Close(epfd)))
	}

	v := &Backend{
		fd:      epfd,
		wakeFD:  wake,
		events:  make([]unix.EpollEvent, c.CountEvents),
		cfg:     c,
		conn:    make(map[int32]*descriptor, c.CountEvents),
		queued:  queue.New(),
		ready:   queue.New(),
		sync:    syncing.NewSwitch(),
		flags:   completion.Flags{CancelFD: true, Shutdown: true},
		timeNow: time.Now,
	}
	v.sync.On()
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
		v.flush()
		v.expire()
		if v.ready.Length() > 0 {
			return v.batch(), nil
		}
		if err := v.wait(v.waitTimeout()); err != nil {
			return nil, err
		}
	}
}

func (v *Backend) ConditionalSubmit() error {
	if !v.sync.IsOn() {
		return completion.ErrStopped
	}
	if v.queued.Length() > 0 {
		v.flush()
	}
	return nil
}

func (v *Backend) PeekBatch() (completion.Batch, error) {
	if !v.sync.IsOn() {
		return nil, completion.ErrStopped
	}
	if err := v.wait(0); err != nil {
		return nil, err
	}
	v.expire()
	return v.batch(), nil
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
	return v.enqueue(o)
}

func (v *Backend) Write(fd int, b []byte) error {
	o := opPool.Get()
	o.kind, o.fd, o.data = completion.KindWrite, fd, b
	return v.enqueue(o)
}

func (v *Backend) Accept(listenFD int) error {
	if err := socket.SetNonblock(listenFD); err != nil {
		return err
	}
	o := opPool.Get()
	o.kind, o.fd = completion.KindAccept, listenFD
	return v.enqueue(o)
}

func (v *Backend) Cancel(fd int) error {
	o := opPool.Get()
	o.kind, o.fd = completion.KindCancel, fd
	return v.enqueue(o)
}

func (v *Backend) Shutdown(fd int, how int) error {
	o := opPool.Get()
	o.kind, o.fd, o.n = completion.KindShutdown, fd, how
	return v.enqueue(o)
}

func (v *Backend) Close(fd int) error {
	o := opPool.Get()
	o.kind, o.fd = completion.KindClose, fd
	return v.enqueue(o)
}

func (v *Backend) Timeout(fd int, d time.Duration) error {
	o := opPool.Get()
	o.kind, o.fd = completion.KindTimeout, fd
	o.deadline = v.timeNow().Add(d)
	return v.enqueue(o)
}

// CreateSocket is not emulated, sockets are created with a direct syscall.
func (v *Backend) CreateSocket(_, _, _ int) (int, error) {
	return -1, completion.ErrNotSupported
}

func (v *Backend) Stop() error {
	if !v.sync.Off() {
		return nil
	}
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], 1)
	if _, err := unix.Write(v.wakeFD, b[:]); err != nil && !isAgain(err) {
		return errors.Wrapf(err, "wake epoll")
	}
	return nil
}

// Free releases the backend. A close accepted before Stop still runs,
// every other queued request is dropped.
func (v *Backend) Free() (err error) {
	v.sync.Off()
	for v.queued.Length() > 0 {
		o := v.queued.Remove().(*op)
		if o.kind == completion.KindClose {
			if d := v.forget(o.fd); d != nil {
				for _, p := range d.drain() {
					v.recycle(p)
				}
			}
			err = errors.Wrap(err, unix.Close(o.fd))
		}
		v.recycle(o)
	}
	for fd, d := range v.conn {
		for _, o := range d.drain() {
			v.recycle(o)
		}
		delete(v.conn, fd)
	}
	for v.ready.Length() > 0 {
		completion.ReleaseBatch(completion.Batch{v.ready.Remove().(*completion.Record)})
	}
	for _, o := range v.timers {
		v.recycle(o)
	}
	v.timers = nil
	v.Release(nil)

	err = errors.Wrap(err, unix.Close(v.wakeFD))
	return errors.Wrap(err, unix.Close(v.fd))
}

func (v *Backend) enqueue(o *op) error {
	if !v.sync.IsOn() {
		v.recycle(o)
		return completion.ErrStopped
	}
	v.queued.Add(o)
	return nil
}

func (v *Backend) recycle(o *op) {
	internal.PutBytes(o.buf)
	o.Reset()
	opPool.Put(o)
}

// flush runs every queued request once.
func (v *Backend) flush() {
	for v.queued.Length() > 0 {
		o := v.queued.Remove().(*op)
		switch o.kind {
		case completion.KindRead:
			if !v.tryRead(o) {
				v.park(o)
			}
		case completion.KindWrite:
			if !v.tryWrite(o) {
				v.park(o)
			}
		case completion.KindAccept:
			v.startAccept(o)
		case completion.KindCancel:
			v.cancel(o)
		case completion.KindShutdown:
			err := unix.Shutdown(o.fd, o.n)
			v.complete(o, 0, err)
		case completion.KindClose:
			v.close(o)
		case completion.KindTimeout:
			v.addTimer(o)
		default:
			v.complete(o, 0, completion.ErrNotSupported)
		}
	}
}

func (v *Backend) tryRead(o *op) bool {
	for {
		n, err := unix.Read(o.fd, o.buf.Slice)
		if retry(err) {
			continue
		}
		if isAgain(err) {
			return false
		}
		v.complete(o, n, err)
		return true
	}
}

func (v *Backend) tryWrite(o *op) bool {
	if len(o.data) == 0 {
		v.complete(o, 0, nil)
		return true
	}
	for {
		n, err := unix.Write(o.fd, o.data)
		if retry(err) {
			continue
		}
		if isAgain(err) {
			return false
		}
		v.complete(o, n, err)
		return true
	}
}

func (v *Backend) startAccept(o *op) {
	d, err := v.descriptor(o.fd)
	if err != nil {
		v.complete(o, 0, err)
		return
	}
	d.accepting = true
	v.recycle(o)
	v.acceptAll(d)
}

// acceptAll takes every pending connection, the listener stays armed.
func (v *Backend) acceptAll(d *descriptor) {
	for d.accepting {
		nfd, sa, err := unix.Accept4(int(d.fd), unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if retry(err) || errors.Is(err, unix.ECONNABORTED) {
			continue
		}
		if isAgain(err) {
			return
		}
		rec := completion.AcquireRecord()
		rec.Kind = completion.KindAccept
		rec.ListenFD = int(d.fd)
		rec.FD = int(d.fd)
		if err != nil {
			rec.Err = err
			v.ready.Add(rec)
			if errors.Is(err, unix.EBADF) || errors.Is(err, unix.EINVAL) {
				d.accepting = false
			}
			return
		}
		rec.FD = nfd
		rec.Res = nfd
		rec.Peer = socket.AddrFromSockaddr(sa)
		v.ready.Add(rec)
	}
}

func (v *Backend) park(o *op) {
	d, err := v.descriptor(o.fd)
	if err != nil {
		v.complete(o, 0, err)
		return
	}
	if o.kind == completion.KindWrite {
		d.writes = append(d.writes, o)
		return
	}
	d.reads = append(d.reads, o)
}

// descriptor registers fd in epoll on first use.
func (v *Backend) descriptor(fd int) (*descriptor, error) {
	if d, ok := v.conn[int32(fd)]; ok {
		return d, nil
	}
	err := unix.EpollCtl(v.fd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{Events: epollEvents, Fd: int32(fd)})
	if err != nil {
		return nil, errors.Wrapf(err, "epoll add fd %d", fd)
	}
	d := newDescriptor(int32(fd))
	v.conn[int32(fd)] = d
	return d, nil
}

func (v *Backend) forget(fd int) *descriptor {
	d, ok := v.conn[int32(fd)]
	if !ok {
		return nil
	}
	delete(v.conn, int32(fd))
	if err := unix.EpollCtl(v.fd, unix.EPOLL_CTL_DEL, fd, nil); err != nil && !errors.Is(err, unix.EBADF) {
		logx.Debug("Epoll remove fd", "err", err, "fd", fd)
	}
	return d
}

// cancel completes every parked request of the fd with ECANCELED.
// The cancel itself reports ENOENT when nothing was pending.
func (v *Backend) cancel(o *op) {
	count := 0
	if d, ok := v.conn[int32(o.fd)]; ok {
		for _, p := range d.drain() {
			v.complete(p, 0, unix.ECANCELED)
			count++
		}
		if d.accepting {
			d.accepting = false
			count++
		}
		if d.idle() {
			v.forget(o.fd)
		}
	}
	for i := 0; i < len(v.timers); {
		if v.timers[i].fd == o.fd {
			t := v.timers[i]
			v.timers = append(v.timers[:i], v.timers[i+1:]...)
			v.complete(t, 0, unix.ECANCELED)
			count++
			continue
		}
		i++
	}
	if count == 0 {
		v.complete(o, 0, unix.ENOENT)
		return
	}
	v.complete(o, count, nil)
}

func (v *Backend) close(o *op) {
	if d := v.forget(o.fd); d != nil {
		for _, p := range d.drain() {
			v.complete(p, 0, unix.ECANCELED)
		}
	}
	v.complete(o, 0, unix.Close(o.fd))
}

func (v *Backend) addTimer(o *op) {
	i := sort.Search(len(v.timers), func(i int) bool {
		return v.timers[i].deadline.After(o.deadline)
	})
	v.timers = append(v.timers, nil)
	copy(v.timers[i+1:], v.timers[i:])
	v.timers[i] = o
}

// expire completes due timers with ETIME.
func (v *Backend) expire() {
	now := v.timeNow()
	n := 0
	for n < len(v.timers) && !v.timers[n].deadline.After(now) {
		v.complete(v.timers[n], 0, unix.ETIME)
		n++
	}
	if n > 0 {
		clear(v.timers[:n])
		v.timers = v.timers[n:]
	}
}

func (v *Backend) waitTimeout() int {
	wait := v.cfg.MaxWait
	if len(v.timers) > 0 {
		wait = min(wait, max(v.timers[0].deadline.Sub(v.timeNow()), 0))
	}
	ms := int(wait / time.Millisecond)
	if ms == 0 && wait > 0 {
		ms = 1
	}
	return ms
}

// wait polls readiness and retries the requests parked on ready descriptors.
func (v *Backend) wait(msec int) error {
	n, err := unix.EpollWait(v.fd, v.events, msec)
	if err != nil {
		if retry(err) {
			return nil
		}
		return errors.Wrapf(err, "epoll wait")
	}

	list := fdListPool.Get()
	list.B = list.B[:0]
	defer fdListPool.Put(list)

	for i := 0; i < n; i++ {
		ev := v.events[i]
		if int(ev.Fd) == v.wakeFD {
			var b [8]byte
			unix.Read(v.wakeFD, b[:]) //nolint: errcheck
			continue
		}
		d, ok := v.conn[ev.Fd]
		if !ok {
			continue
		}
		if ev.Events&readEvents != 0 {
			if d.accepting {
				v.acceptAll(d)
			}
			d.reads = v.rerun(d.reads, v.tryRead)
		}
		if ev.Events&writeEvents != 0 {
			d.writes = v.rerun(d.writes, v.tryWrite)
		}
		list.B = append(list.B, ev.Fd)
	}

	for _, fd := range list.B {
		if d, ok := v.conn[fd]; ok && d.idle() {
			v.forget(int(fd))
		}
	}
	return nil
}

// rerun runs parked requests in order and keeps the ones still not ready.
func (v *Backend) rerun(list []*op, try func(o *op) bool) []*op {
	for i, o := range list {
		if !try(o) {
			n := copy(list, list[i:])
			clear(list[n:])
			return list[:n]
		}
	}
	clear(list)
	return list[:0]
}

func (v *Backend) complete(o *op, n int, err error) {
	rec := completion.AcquireRecord()
	rec.Kind = o.kind
	rec.FD = o.fd
	rec.Res = n
	if err != nil {
		rec.Err = err
		rec.Res = -1
	}
	if o.kind == completion.KindRead && err == nil {
		rec.Data = o.buf.Slice[:n]
		v.held = append(v.held, o.buf)
		o.buf = nil
	}
	v.ready.Add(rec)
	v.recycle(o)
}

func (v *Backend) batch() completion.Batch {
	b := make(completion.Batch, 0, v.ready.Length())
	for v.ready.Length() > 0 {
		b = append(b, v.ready.Remove().(*completion.Record))
	}
	return b
}
