/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package uring

import (
	"fmt"
	"unsafe"
)

const (
	opRead        = 22
	opWrite       = 23
	opAccept      = 13
	opAsyncCancel = 14
	opClose       = 19
	opTimeout     = 11
	opShutdown    = 34
	opSocket      = 45

	enterGetEvents = 1 << 0

	setupClamp       = 1 << 4
	setupCoopTaskrun = 1 << 8

	registerProbe        = 8
	registerIowqMaxWorks = 19
	probeOpSupported     = 1 << 0
	probeOpsLen          = 256

	cancelAll = 1 << 0
	cancelFD  = 1 << 1

	offSqRing = 0
	offCqRing = 0x8000000
	offSqes   = 0x10000000

	sqeSize = 64
	cqeSize = 16
)

type sqringOffsets struct {
	Head        uint32
	Tail        uint32
	RingMask    uint32
	RingEntries uint32
	Flags       uint32
	Dropped     uint32
	Array       uint32
	Resv1       uint32
	Resv2       uint64
}

type cqringOffsets struct {
	Head        uint32
	Tail        uint32
	RingMask    uint32
	RingEntries uint32
	Overflow    uint32
	Cqes        uint32
	Flags       uint32
	Resv1       uint32
	Resv2       uint64
}

type params struct {
	SqEntries    uint32
	CqEntries    uint32
	Flags        uint32
	SqThreadCPU  uint32
	SqThreadIdle uint32
	Features     uint32
	WqFd         uint32
	Resv         [3]uint32
	SqOff        sqringOffsets
	CqOff        cqringOffsets
}

// sqe mirrors struct io_uring_sqe. Off doubles as addr2 and OpFlags as
// the per-opcode flags union (accept_flags, timeout_flags, cancel_flags).
type sqe struct {
	Opcode      uint8
	Flags       uint8
	Ioprio      uint16
	Fd          int32
	Off         uint64
	Addr        uint64
	Len         uint32
	OpFlags     uint32
	UserData    uint64
	BufIndex    uint16
	Personality uint16
	SpliceFdIn  int32
	Addr3       uint64
	Pad         uint64
}

type cqe struct {
	UserData uint64
	Res      int32
	Flags    uint32
}

type kernelTimespec struct {
	Sec  int64
	Nsec int64
}

type probeOp struct {
	Op    uint8
	Resv  uint8
	Flags uint16
	Resv2 uint32
}

type probe struct {
	LastOp uint8
	OpsLen uint8
	Resv   uint16
	Resv2  [3]uint32
	Ops    [probeOpsLen]probeOp
}

func init() {
	if sz := unsafe.Sizeof(sqe{}); sz != sqeSize {
		panic(fmt.Sprintf("io_uring sqe size mismatch: expected %d, got %d", sqeSize, sz))
	}
	if sz := unsafe.Sizeof(cqe{}); sz != cqeSize {
		panic(fmt.Sprintf("io_uring cqe size mismatch: expected %d, got %d", cqeSize, sz))
	}
}
