/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package internal_test

import (
	"io"
	"testing"

	"go.osspkg.com/casecheck"
	"go.osspkg.com/ioutils/data"

	"go.osspkg.com/ringserver/internal"
)

func TestUnit_ChunkWrite(t *testing.T) {
	buff := data.NewBuffer(0)
	calls := 0

	n, err := internal.ChunkWrite(make([]byte, 100_000), 0, func(b []byte) (int, error) {
		calls++
		casecheck.True(t, len(b) <= internal.DefaultChunkSize)
		return buff.Write(b)
	})
	casecheck.NoError(t, err)
	casecheck.Equal(t, 100_000, n)
	casecheck.Equal(t, 2, calls)
}

func TestUnit_ChunkWriteShort(t *testing.T) {
	var got []byte
	n, err := internal.ChunkWrite([]byte("hello world"), 4, func(b []byte) (int, error) {
		got = append(got, b[0])
		return 1, nil
	})
	casecheck.NoError(t, err)
	casecheck.Equal(t, 11, n)
	casecheck.Equal(t, "hello world", string(got))

	n, err = internal.ChunkWrite([]byte("abc"), 4, func(b []byte) (int, error) {
		return 0, nil
	})
	casecheck.Error(t, err)
	casecheck.True(t, err == io.ErrShortWrite)
	casecheck.Equal(t, 0, n)
}
