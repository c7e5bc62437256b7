/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package server

import (
	"fmt"

	"go.osspkg.com/do"
	"go.osspkg.com/logx"
)

type Status uint8

const (
	StatusNone Status = iota
	StatusNotStarted
	StatusSuspended
	StatusRunning
	StatusTerminated
)

func (s Status) String() string {
	switch s {
	case StatusNotStarted:
		return "not-started"
	case StatusSuspended:
		return "suspended"
	case StatusRunning:
		return "running"
	case StatusTerminated:
		return "terminated"
	default:
		return "none"
	}
}

type role uint8

const (
	roleConn role = iota
	roleHousekeeper
	roleFinalizer
	roleListener
)

func (r role) String() string {
	switch r {
	case roleConn:
		return "conn"
	case roleHousekeeper:
		return "housekeeper"
	case roleFinalizer:
		return "finalizer"
	case roleListener:
		return "listener"
	default:
		return "unknown"
	}
}

type resumption struct {
	n    int
	data []byte
	err  error
}

// task is a cooperative coroutine. The body runs on its own goroutine, but
// control is handed over through unbuffered channels: whoever starts or
// resumes a task blocks until the task suspends again or terminates, so
// exactly one side runs at any moment.
type task struct {
	fd     int
	role   role
	status Status
	body   func(t *task) error
	err    error
	in     chan resumption
	out    chan struct{}
}

func newTask(fd int, r role, body func(t *task) error) *task {
	return &task{
		fd:     fd,
		role:   r,
		status: StatusNotStarted,
		body:   body,
		in:     make(chan resumption),
		out:    make(chan struct{}),
	}
}

func statusOf(t *task) Status {
	if t == nil {
		return StatusNone
	}
	return t.status
}

// start runs the body until its first suspension or its termination.
func (t *task) start() error {
	if t.status != StatusNotStarted {
		return &StateError{Status: t.status}
	}
	t.status = StatusRunning

	do.Async(func() {
		t.err = t.body(t)
		t.terminate()
	}, func(e error) {
		logx.Error("Task panic", "err", e, "fd", t.fd, "role", t.role.String())
		t.err = fmt.Errorf("task panic: %w", e)
		t.terminate()
	})

	<-t.out
	return nil
}

// resume hands r to a suspended task and waits for it to yield again.
func (t *task) resume(r resumption) error {
	if t.status != StatusSuspended {
		return &StateError{Status: t.status}
	}
	t.status = StatusRunning
	t.in <- r
	<-t.out
	return nil
}

// suspend is called from inside the body only.
func (t *task) suspend() resumption {
	t.status = StatusSuspended
	t.out <- struct{}{}
	return <-t.in
}

func (t *task) terminate() {
	t.status = StatusTerminated
	t.out <- struct{}{}
}

func (t *task) terminated() bool {
	return t.status == StatusTerminated
}
