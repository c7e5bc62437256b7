/*
 *  Copyright (c) 2024 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package epoll

import (
	"go.osspkg.com/errors"
	"go.osspkg.com/ioutils/pool"
	"golang.org/x/sys/unix"
)

const (
	epollEvents = unix.EPOLLIN | unix.EPOLLOUT | unix.EPOLLRDHUP | unix.EPOLLET
	readEvents  = unix.EPOLLIN | unix.EPOLLRDHUP | unix.EPOLLERR | unix.EPOLLHUP
	writeEvents = unix.EPOLLOUT | unix.EPOLLERR | unix.EPOLLHUP
)

var (
	fdListPool = pool.NewSlicePool[int32](0, 30)
	opPool     = pool.New[*op](func() *op { return &op{} })
)

func isAgain(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}

// retry reports a syscall interrupted before doing anything.
func retry(err error) bool {
	return errors.Is(err, unix.EINTR)
}
