/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package completion_test

import (
	"net"
	"testing"

	"go.osspkg.com/casecheck"

	"go.osspkg.com/ringserver/completion"
)

func TestUnit_KindString(t *testing.T) {
	names := map[completion.Kind]string{
		completion.KindAccept:       "accept",
		completion.KindRead:         "read",
		completion.KindWrite:        "write",
		completion.KindClose:        "close",
		completion.KindCancel:       "cancel",
		completion.KindShutdown:     "shutdown",
		completion.KindTimeout:      "timeout",
		completion.KindCreateSocket: "create_socket",
	}
	casecheck.Equal(t, completion.KindCount, len(names))
	for k, v := range names {
		casecheck.Equal(t, v, k.String())
	}
	casecheck.Equal(t, "unknown", completion.Kind(200).String())
}

func TestUnit_ReleaseBatch(t *testing.T) {
	r := completion.AcquireRecord()
	r.Kind = completion.KindAccept
	r.FD = 7
	r.Peer = &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1}
	r.Data = []byte("x")

	b := completion.Batch{r, nil}
	completion.ReleaseBatch(b)

	casecheck.True(t, b[0] == nil)
	casecheck.Equal(t, 0, r.FD)
	casecheck.True(t, r.Peer == nil)
	casecheck.True(t, r.Data == nil)
}
