/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package server

import (
	"sort"

	"go.osspkg.com/ringserver/completion"
)

const housekeeperFD = -1

// registry routes completions to tasks. It is only touched by the goroutine
// that currently holds control, so it needs no locking.
type registry struct {
	running map[int]*task
	waiters [completion.KindCount]map[int]*task
}

func newRegistry() *registry {
	r := &registry{running: make(map[int]*task, 128)}
	for i := range r.waiters {
		r.waiters[i] = make(map[int]*task, 16)
	}
	return r
}

func (r *registry) own(fd int, t *task) {
	r.running[fd] = t
}

func (r *registry) owner(fd int) *task {
	return r.running[fd]
}

// evict removes the running entry only while t still owns fd.
func (r *registry) evict(fd int, t *task) bool {
	if cur, ok := r.running[fd]; ok && cur == t {
		delete(r.running, fd)
		return true
	}
	return false
}

func (r *registry) wait(kind completion.Kind, fd int, t *task) error {
	if cur, ok := r.waiters[kind][fd]; ok && cur != t {
		return ErrWaiterBusy
	}
	r.waiters[kind][fd] = t
	return nil
}

func (r *registry) waiter(kind completion.Kind, fd int) *task {
	if int(kind) >= completion.KindCount {
		return nil
	}
	return r.waiters[kind][fd]
}

func (r *registry) unwait(kind completion.Kind, fd int, t *task) {
	if cur, ok := r.waiters[kind][fd]; ok && cur == t {
		delete(r.waiters[kind], fd)
	}
}

// clear drops every waiter registered for fd, whatever the kind.
func (r *registry) clear(fd int) {
	for i := range r.waiters {
		delete(r.waiters[i], fd)
	}
}

// terminated lists owned descriptors whose task finished, in ascending order.
func (r *registry) terminated() []int {
	var fds []int
	for fd, t := range r.running {
		if t.terminated() {
			fds = append(fds, fd)
		}
	}
	sort.Ints(fds)
	return fds
}

// outstanding reports a finished task still waiting for its finalizer.
func (r *registry) outstanding() bool {
	for _, t := range r.running {
		if t.terminated() {
			return true
		}
	}
	return false
}

// suspended returns every distinct task blocked on a completion.
func (r *registry) suspended() []*task {
	seen := make(map[*task]struct{})
	var list []*task
	for i := range r.waiters {
		for _, t := range r.waiters[i] {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			list = append(list, t)
		}
	}
	return list
}

func (r *registry) size() (running, waiting int) {
	running = len(r.running)
	for i := range r.waiters {
		waiting += len(r.waiters[i])
	}
	return
}
