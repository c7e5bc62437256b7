/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package server

import (
	"errors"
	"testing"

	"go.osspkg.com/casecheck"
)

func TestUnit_TaskLifecycle(t *testing.T) {
	var got []int
	tk := newTask(5, roleConn, func(t *task) error {
		for i := 0; i < 2; i++ {
			got = append(got, t.suspend().n)
		}
		return errors.New("done")
	})

	casecheck.Equal(t, StatusNotStarted, tk.status)
	err := tk.resume(resumption{})
	casecheck.True(t, errors.Is(err, ErrNotResumable))
	casecheck.Equal(t, "task is not resumable, status: not-started", err.Error())

	casecheck.NoError(t, tk.start())
	casecheck.Equal(t, StatusSuspended, tk.status)
	casecheck.Error(t, tk.start())

	casecheck.NoError(t, tk.resume(resumption{n: 1}))
	casecheck.NoError(t, tk.resume(resumption{n: 2}))
	casecheck.Equal(t, StatusTerminated, tk.status)
	casecheck.Equal(t, []int{1, 2}, got)
	casecheck.Error(t, tk.err)

	err = tk.resume(resumption{})
	casecheck.Equal(t, "task is not resumable, status: terminated", err.Error())
	casecheck.Equal(t, StatusNone, statusOf(nil))
}

func TestUnit_TaskPanic(t *testing.T) {
	tk := newTask(6, roleConn, func(t *task) error {
		t.suspend()
		panic("boom")
	})

	casecheck.NoError(t, tk.start())
	casecheck.NoError(t, tk.resume(resumption{}))
	casecheck.True(t, tk.terminated())
	casecheck.Error(t, tk.err)
}
