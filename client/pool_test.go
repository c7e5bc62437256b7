/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.osspkg.com/casecheck"
)

type fakeConn struct {
	fail   bool
	closed int
}

func (f *fakeConn) Close()           { f.closed++ }
func (f *fakeConn) IsFailConn() bool { return f.fail }
func (f *fakeConn) GetError() error  { return nil }

func TestUnit_ChanPool(t *testing.T) {
	created := 0
	p := newChanPool[*fakeConn](1, func(context.Context) *fakeConn {
		created++
		return &fakeConn{}
	})

	a := p.GetIdleOrCreateConn(context.TODO())
	b := p.GetIdleOrCreateConn(context.TODO())
	casecheck.Equal(t, 2, created)

	p.PutOrCloseIdleConn(a)
	p.PutOrCloseIdleConn(b)
	casecheck.Equal(t, 0, a.closed)
	casecheck.Equal(t, 1, b.closed)

	casecheck.True(t, a == p.GetIdleOrCreateConn(context.TODO()))
	casecheck.Equal(t, 2, created)

	a.fail = true
	p.PutOrCloseIdleConn(a)
	casecheck.Equal(t, 1, a.closed)

	c := &fakeConn{}
	p.PutOrCloseIdleConn(c)
	c.fail = true
	casecheck.False(t, c == p.GetIdleOrCreateConn(context.TODO()))
	casecheck.Equal(t, 1, c.closed)
	casecheck.Equal(t, 3, created)

	p.PutOrCloseIdleConn(c)
	p.CloseAll()
	casecheck.Equal(t, 2, c.closed)
}

func TestUnit_ConnectIsFailConn(t *testing.T) {
	c := &connect{IdleTimeout: time.Minute}
	casecheck.False(t, c.IsFailConn())

	c.IdleAt = time.Now().Add(-time.Hour)
	casecheck.True(t, c.IsFailConn())

	c = &connect{Err: errors.New("broken")}
	casecheck.True(t, c.IsFailConn())
}
