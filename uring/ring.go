/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package uring

import (
	"strconv"
	"strings"
	"sync/atomic"
	"unsafe"

	"go.osspkg.com/errors"
	"golang.org/x/sys/unix"

	"go.osspkg.com/ringserver/completion"
)

const (
	minEntries     = 8
	defaultEntries = 256
)

type ring struct {
	fd int

	sqRing  []byte
	cqRing  []byte
	sqesMap []byte

	sqHead    *uint32
	sqTail    *uint32
	sqMask    *uint32
	sqEntries *uint32
	sqArray   []uint32
	sqes      []sqe

	cqHead *uint32
	cqTail *uint32
	cqMask *uint32
	cqes   []cqe

	queued uint32
}

func alignUint32(v, alignment uint32) uint32 {
	if alignment == 0 {
		return v
	}
	if mod := v % alignment; mod != 0 {
		return v + alignment - mod
	}
	return v
}

// newRing sets the ring up, stepping down setup flags the kernel rejects
// and halving the size on ENOMEM.
func newRing(entries uint32) (*ring, error) {
	if entries == 0 {
		entries = defaultEntries
	}
	entries = max(entries, minEntries)

	flagSets := []uint32{setupClamp | setupCoopTaskrun, setupClamp}
	flagIdx := 0

	for {
		p := params{Flags: flagSets[flagIdx]}
		fd, _, errno := unix.Syscall(unix.SYS_IO_URING_SETUP, uintptr(entries), uintptr(unsafe.Pointer(&p)), 0)
		if errno != 0 {
			if errno == unix.EINVAL && flagIdx < len(flagSets)-1 {
				flagIdx++
				continue
			}
			if errno == unix.ENOMEM && entries > minEntries {
				entries = max(entries/2, minEntries)
				continue
			}
			return nil, errors.Wrapf(errno, "io_uring_setup")
		}

		r := &ring{fd: int(fd)}
		if err := r.mapRings(&p); err != nil {
			r.close() //nolint: errcheck
			if errors.Is(err, unix.ENOMEM) && entries > minEntries {
				entries = max(entries/2, minEntries)
				continue
			}
			return nil, err
		}

		// bound the kernel worker pool, older kernels reject it
		maxWorkers := [2]uint32{4, 4}
		unix.Syscall6(unix.SYS_IO_URING_REGISTER, uintptr(r.fd), registerIowqMaxWorks, //nolint: errcheck
			uintptr(unsafe.Pointer(&maxWorkers[0])), 2, 0, 0)

		return r, nil
	}
}

func (r *ring) mapRings(p *params) (err error) {
	pageSize := uint32(unix.Getpagesize())

	sqRingSize := alignUint32(p.SqOff.Array+p.SqEntries*4, pageSize)
	cqRingSize := alignUint32(p.CqOff.Cqes+p.CqEntries*cqeSize, pageSize)
	sqesSize := alignUint32(p.SqEntries*sqeSize, pageSize)

	if r.sqRing, err = unix.Mmap(r.fd, offSqRing, int(sqRingSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE); err != nil {
		return errors.Wrapf(err, "mmap sq ring")
	}
	if r.cqRing, err = unix.Mmap(r.fd, offCqRing, int(cqRingSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE); err != nil {
		return errors.Wrapf(err, "mmap cq ring")
	}
	if r.sqesMap, err = unix.Mmap(r.fd, offSqes, int(sqesSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE); err != nil {
		return errors.Wrapf(err, "mmap sqes")
	}

	sqBase := unsafe.Pointer(&r.sqRing[0])
	r.sqHead = (*uint32)(unsafe.Add(sqBase, p.SqOff.Head))
	r.sqTail = (*uint32)(unsafe.Add(sqBase, p.SqOff.Tail))
	r.sqMask = (*uint32)(unsafe.Add(sqBase, p.SqOff.RingMask))
	r.sqEntries = (*uint32)(unsafe.Add(sqBase, p.SqOff.RingEntries))
	r.sqArray = unsafe.Slice((*uint32)(unsafe.Add(sqBase, p.SqOff.Array)), int(p.SqEntries))
	r.sqes = unsafe.Slice((*sqe)(unsafe.Pointer(&r.sqesMap[0])), int(p.SqEntries))

	cqBase := unsafe.Pointer(&r.cqRing[0])
	r.cqHead = (*uint32)(unsafe.Add(cqBase, p.CqOff.Head))
	r.cqTail = (*uint32)(unsafe.Add(cqBase, p.CqOff.Tail))
	r.cqMask = (*uint32)(unsafe.Add(cqBase, p.CqOff.RingMask))
	r.cqes = unsafe.Slice((*cqe)(unsafe.Add(cqBase, p.CqOff.Cqes)), int(p.CqEntries))

	return nil
}

// getSqe returns a zeroed slot, flushing the ring once when it is full.
func (r *ring) getSqe() (*sqe, error) {
	for i := 0; i < 2; i++ {
		head := atomic.LoadUint32(r.sqHead)
		tail := atomic.LoadUint32(r.sqTail)
		if tail-head < atomic.LoadUint32(r.sqEntries) {
			idx := tail & atomic.LoadUint32(r.sqMask)
			s := &r.sqes[idx]
			*s = sqe{}
			r.sqArray[idx] = idx
			atomic.StoreUint32(r.sqTail, tail+1)
			r.queued++
			return s, nil
		}
		if err := r.enter(0); err != nil {
			return nil, err
		}
	}
	return nil, completion.ErrQueueFull
}

// enter submits the queued entries and waits for at least wait completions.
func (r *ring) enter(wait uint32) error {
	var flags uintptr
	if wait > 0 {
		flags = enterGetEvents
	}
	for {
		n, _, errno := unix.Syscall6(unix.SYS_IO_URING_ENTER, uintptr(r.fd), uintptr(r.queued), uintptr(wait), flags, 0, 0)
		if errno == unix.EINTR {
			continue
		}
		if errno != 0 {
			return errors.Wrapf(errno, "io_uring_enter")
		}
		r.queued -= min(uint32(n), r.queued)
		return nil
	}
}

// reap hands every ready completion to fn and consumes it.
func (r *ring) reap(fn func(userData uint64, res int32)) int {
	count := 0
	for {
		tail := atomic.LoadUint32(r.cqTail)
		head := atomic.LoadUint32(r.cqHead)
		if head == tail {
			return count
		}
		c := r.cqes[head&atomic.LoadUint32(r.cqMask)]
		atomic.StoreUint32(r.cqHead, head+1)
		fn(c.UserData, c.Res)
		count++
	}
}

func (r *ring) ready() bool {
	return atomic.LoadUint32(r.cqHead) != atomic.LoadUint32(r.cqTail)
}

// probe returns the opcode support table of the running kernel.
func (r *ring) probe() (map[uint8]bool, error) {
	var p probe
	_, _, errno := unix.Syscall6(unix.SYS_IO_URING_REGISTER, uintptr(r.fd), registerProbe,
		uintptr(unsafe.Pointer(&p)), probeOpsLen, 0, 0)
	if errno != 0 {
		return nil, errors.Wrapf(errno, "io_uring probe")
	}
	result := make(map[uint8]bool, p.OpsLen)
	for i := 0; i < int(p.OpsLen) && i < probeOpsLen; i++ {
		result[p.Ops[i].Op] = p.Ops[i].Flags&probeOpSupported != 0
	}
	return result, nil
}

func (r *ring) close() (err error) {
	for _, m := range [][]byte{r.sqesMap, r.cqRing, r.sqRing} {
		if m != nil {
			err = errors.Wrap(err, unix.Munmap(m))
		}
	}
	r.sqesMap, r.cqRing, r.sqRing = nil, nil, nil
	if r.fd >= 0 {
		err = errors.Wrap(err, unix.Close(r.fd))
		r.fd = -1
	}
	return err
}

// kernelVersion returns the major and minor release numbers of the running kernel.
func kernelVersion() (major, minor int) {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return 0, 0
	}
	release := unix.ByteSliceToString(uts.Release[:])
	parts := strings.SplitN(release, ".", 3)
	if len(parts) < 2 {
		return 0, 0
	}
	return leadingInt(parts[0]), leadingInt(parts[1])
}

func leadingInt(s string) int {
	end := strings.IndexFunc(s, func(r rune) bool { return r < '0' || r > '9' })
	if end == -1 {
		end = len(s)
	}
	v, _ := strconv.Atoi(s[:end])
	return v
}
