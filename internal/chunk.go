/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package internal

import (
	"io"
)

const (
	DefaultChunkSize = 65535
)

// ChunkWrite sends p through write in pieces of at most size bytes,
// retrying short writes until everything is sent or write fails.
func ChunkWrite(p []byte, size int, write func(b []byte) (int, error)) (n int, err error) {
	if size <= 0 {
		size = DefaultChunkSize
	}

	var m int
	for n < len(p) {
		to := min(len(p), n+size)
		if m, err = write(p[n:to]); err != nil {
			return
		}
		if m <= 0 {
			err = io.ErrShortWrite
			return
		}
		n += m
	}

	return
}
