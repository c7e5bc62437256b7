/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package server

import (
	"fmt"

	"go.osspkg.com/logx"

	"go.osspkg.com/ringserver/completion"
	"go.osspkg.com/ringserver/epoll"
	"go.osspkg.com/ringserver/uring"
)

// BackendFactory creates the completion backend when the server starts.
type BackendFactory func(queueDepth uint32) (completion.Backend, error)

// DefaultBackend resolves a backend name from Config.
// "auto" prefers io_uring and falls back to the epoll emulation.
func DefaultBackend(name string) (BackendFactory, error) {
	switch name {
	case BackendUring:
		return func(depth uint32) (completion.Backend, error) {
			return uring.New(depth)
		}, nil

	case BackendEpoll:
		return func(depth uint32) (completion.Backend, error) {
			return epoll.New(depth)
		}, nil

	case BackendAuto, "":
		return func(depth uint32) (completion.Backend, error) {
			b, err := uring.New(depth)
			if err == nil {
				return b, nil
			}
			logx.Warn("io_uring is unavailable, use epoll", "err", err)
			return epoll.New(depth)
		}, nil

	default:
		return nil, fmt.Errorf("unknown backend %q, use: auto, uring, epoll", name)
	}
}
