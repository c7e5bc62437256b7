/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package server

import (
	"go.osspkg.com/errors"
	"go.osspkg.com/logx"

	"go.osspkg.com/ringserver/completion"
)

// spawnFinalizer builds the task releasing fd. The descriptor is closed
// through the backend first; the direct close only runs when that failed,
// since after a successful close the number may already belong to a new
// connection.
func (v *_server) spawnFinalizer(fd int) *task {
	return newTask(fd, roleFinalizer, func(t *task) error {
		if fd < 0 {
			v.reg.evict(fd, t)
			return nil
		}

		v.reg.clear(fd)

		err := v.closeProtocol(t, fd)
		switch {
		case err == nil:
		case errors.Is(err, completion.ErrStopped) && !isIssueError(err):
			// the close request reached the backend before it stopped
			logx.Debug("Close connection", "err", err, "fd", fd)
		default:
			logx.Debug("Close connection", "err", err, "fd", fd)
			if e := v.closeFD(fd); e != nil {
				logx.Debug("Force close connection", "err", e, "fd", fd)
			}
		}

		v.reg.evict(fd, t)
		v.reg.clear(fd)

		logx.Debug("Connection closed", "fd", fd)
		return nil
	})
}

// housekeeping schedules a finalizer for every finished task the
// dispatcher did not see terminate.
func (v *_server) housekeeping() {
	for _, fd := range v.reg.terminated() {
		owner := v.reg.owner(fd)
		if owner == nil {
			continue
		}
		if err := v.finalize(fd, owner); err != nil {
			logx.Error("Housekeeping", "err", err, "fd", fd)
		}
	}
}

// ensureHousekeeper starts a housekeeper unless one is alive.
func (v *_server) ensureHousekeeper() error {
	if !v.sync.IsOn() {
		return nil
	}
	if owner := v.reg.owner(housekeeperFD); owner != nil && !owner.terminated() {
		return nil
	}
	hk := v.spawnHousekeeper()
	v.reg.own(housekeeperFD, hk)
	return hk.start()
}

func (v *_server) spawnHousekeeper() *task {
	return newTask(housekeeperFD, roleHousekeeper, func(t *task) error {
		for v.sync.IsOn() {
			if err := v.timeout(t, housekeeperFD, v.conf.HousekeepingInterval); err != nil {
				if !v.sync.IsOn() {
					return nil
				}
				if isIssueError(err) {
					// nothing was queued, the loop starts a new housekeeper after the next batch
					logx.Warn("Housekeeper tick", "err", err)
					return nil
				}
				logx.Debug("Housekeeper tick", "err", err)
			}
			v.housekeeping()
		}
		return nil
	})
}
