/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package internal

import (
	"go.osspkg.com/ioutils/data"
	"go.osspkg.com/ioutils/pool"
)

const (
	// CommonBufferLength is the default size of a single read request.
	CommonBufferLength = 8192
)

var DataPool = pool.New[*data.Buffer](func() *data.Buffer {
	return data.NewBuffer(CommonBufferLength)
})

var bytesPool = pool.New[*Bytes](func() *Bytes {
	return &Bytes{Slice: make([]byte, CommonBufferLength)}
})

// Bytes is a read buffer handed to the kernel for the lifetime of one request.
type Bytes struct {
	Slice  []byte
	pooled bool
}

func (*Bytes) Reset() {}

// GetBytes returns a buffer of exactly n bytes. Buffers up to
// CommonBufferLength come from a pool and must be returned with PutBytes.
func GetBytes(n int) *Bytes {
	if n > CommonBufferLength {
		return &Bytes{Slice: make([]byte, n)}
	}
	b := bytesPool.Get()
	b.Slice = b.Slice[:cap(b.Slice)][:n]
	b.pooled = true
	return b
}

func PutBytes(b *Bytes) {
	if b == nil || !b.pooled {
		return
	}
	bytesPool.Put(b)
}
