/*
 *  Copyright (c) 2024 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package epoll

import (
	"time"

	"go.osspkg.com/ringserver/completion"
	"go.osspkg.com/ringserver/internal"
)

type (
	// op is one emulated request waiting to run or to become ready.
	op struct {
		kind     completion.Kind
		fd       int
		n        int
		data     []byte
		buf      *internal.Bytes
		deadline time.Time
	}

	// descriptor holds the requests parked on one fd until epoll reports it ready.
	descriptor struct {
		fd        int32
		reads     []*op
		writes    []*op
		accepting bool
	}
)

func (o *op) Reset() {
	*o = op{}
}

func newDescriptor(fd int32) *descriptor {
	return &descriptor{fd: fd}
}

func (d *descriptor) idle() bool {
	return len(d.reads) == 0 && len(d.writes) == 0 && !d.accepting
}

// drain detaches every parked request.
func (d *descriptor) drain() []*op {
	list := make([]*op, 0, len(d.reads)+len(d.writes))
	list = append(list, d.reads...)
	list = append(list, d.writes...)
	clear(d.reads)
	clear(d.writes)
	d.reads, d.writes = d.reads[:0], d.writes[:0]
	return list
}
