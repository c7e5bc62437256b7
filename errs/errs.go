/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package errs

import (
	"io"
	"strings"

	"go.osspkg.com/errors"
	"golang.org/x/sys/unix"

	"go.osspkg.com/ringserver/completion"
)

// IsClosed reports whether err only means that the connection or the server
// is gone: peer hang-up, cancelled requests or a stopped backend.
func IsClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) ||
		errors.Is(err, completion.ErrStopped) ||
		errors.Is(err, unix.ECANCELED) ||
		errors.Is(err, unix.ECONNRESET) ||
		errors.Is(err, unix.EPIPE) ||
		errors.Is(err, unix.EBADF) ||
		strings.Contains(err.Error(), "use of closed network connection") {
		return true
	}
	return false
}

// IsTimeout reports a timer expiry delivered as a completion error.
func IsTimeout(err error) bool {
	return errors.Is(err, unix.ETIME)
}
