/*
 *  Copyright (c) 2024 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package epoll

import (
	"fmt"
	"time"
)

type (
	Option struct {
		// CountEvents is the size of the readiness batch taken per epoll_wait.
		CountEvents uint
		// MaxWait bounds a single blocking epoll_wait.
		MaxWait time.Duration
	}
)

func (c Option) Validate() error {
	if c.CountEvents == 0 {
		return fmt.Errorf("epoll count events is empty")
	}
	if c.MaxWait <= 0 {
		return fmt.Errorf("epoll wait interval is empty")
	}
	return nil
}
