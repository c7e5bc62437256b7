/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package completion

import (
	"net"

	"go.osspkg.com/ioutils/pool"
)

type Kind uint8

const (
	KindAccept Kind = iota
	KindRead
	KindWrite
	KindClose
	KindCancel
	KindShutdown
	KindTimeout
	KindCreateSocket

	// KindCount is the number of operation kinds, usable as an array size.
	KindCount int = iota
)

func (k Kind) String() string {
	switch k {
	case KindAccept:
		return "accept"
	case KindRead:
		return "read"
	case KindWrite:
		return "write"
	case KindClose:
		return "close"
	case KindCancel:
		return "cancel"
	case KindShutdown:
		return "shutdown"
	case KindTimeout:
		return "timeout"
	case KindCreateSocket:
		return "create_socket"
	default:
		return "unknown"
	}
}

// Record is one completion event produced by a Backend.
//
// Kind selects which payload fields are meaningful:
//
//	Accept:        ListenFD, FD (accepted descriptor), Peer
//	Read:          FD, Res (bytes read or negative), Data
//	Write:         FD, Res (bytes written)
//	CreateSocket:  FD (synthetic key), Res (created descriptor)
//	Close, Cancel, Shutdown, Timeout: FD
//
// Err is mutually exclusive with the success payload.
type Record struct {
	Kind     Kind
	FD       int
	ListenFD int
	Res      int
	Data     []byte
	Peer     net.Addr
	Err      error
}

func (r *Record) Reset() {
	r.Kind = 0
	r.FD = 0
	r.ListenFD = 0
	r.Res = 0
	r.Data = nil
	r.Peer = nil
	r.Err = nil
}

// Batch is the set of records returned by one backend retrieval call.
// It is valid until it is handed back with Backend.Release.
type Batch []*Record

var recordPool = pool.New[*Record](func() *Record {
	return &Record{}
})

// AcquireRecord takes a zeroed record from the shared pool.
func AcquireRecord() *Record {
	return recordPool.Get()
}

// ReleaseBatch returns every record of the batch to the shared pool.
func ReleaseBatch(b Batch) {
	for i, r := range b {
		if r == nil {
			continue
		}
		r.Reset()
		recordPool.Put(r)
		b[i] = nil
	}
}
