/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package server

import (
	"context"

	"go.osspkg.com/errors"
	"go.osspkg.com/logx"
	"go.osspkg.com/syncing"

	"go.osspkg.com/ringserver/address"
	"go.osspkg.com/ringserver/completion"
	"go.osspkg.com/ringserver/internal"
	"go.osspkg.com/ringserver/socket"
)

type (
	Server interface {
		Listen(address string) error
		HandleFunc(fn HandlerFunc)
		Run(queueDepth uint32) error
		Stop()
	}

	_server struct {
		conf    Config
		factory BackendFactory
		handler HandlerFunc
		addrs   []address.Listen

		backend   completion.Backend
		flags     completion.Flags
		reg       *registry
		listeners map[int]*listener
		bringing  int
		bringErr  error

		ctx    context.Context
		cancel context.CancelFunc
		sync   syncing.Switch

		closeFD func(fd int) error
	}
)

// New builds a server with the backend named in conf.Backend.
func New(conf Config) (Server, error) {
	factory, err := DefaultBackend(conf.Backend)
	if err != nil {
		return nil, err
	}
	return NewWithBackend(conf, factory)
}

func NewWithBackend(conf Config, factory BackendFactory) (Server, error) {
	conf.setDefaults()
	v := &_server{
		conf:      conf,
		factory:   factory,
		reg:       newRegistry(),
		listeners: make(map[int]*listener, 2),
		sync:      syncing.NewSwitch(),
		closeFD:   socket.Close,
		ctx:       context.Background(),
		cancel:    func() {},
	}
	for _, a := range conf.Addresses {
		if err := v.Listen(a); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// Listen registers one more listening address. It has no effect once running.
func (v *_server) Listen(addr string) error {
	if v.sync.IsOn() {
		return internal.ErrServAlreadyRunning
	}
	la, err := address.Resolve(addr)
	if err != nil {
		return err
	}
	v.addrs = append(v.addrs, la)
	return nil
}

func (v *_server) HandleFunc(fn HandlerFunc) {
	if v.sync.IsOn() {
		return
	}
	v.handler = fn
}

// Stop is idempotent and may be called from any goroutine, handlers included.
func (v *_server) Stop() {
	if !v.sync.Off() {
		return
	}
	v.cancel()
	if v.backend != nil {
		if err := v.backend.Stop(); err != nil {
			logx.Error("Stop backend", "err", err)
		}
	}
}

// Run brings up the listeners and drives the completion loop until Stop.
func (v *_server) Run(queueDepth uint32) (err error) {
	if v.handler == nil {
		return ErrHandlerMissing
	}
	if len(v.addrs) == 0 {
		return ErrNoListeners
	}
	if v.sync.IsOn() || v.backend != nil {
		return internal.ErrServAlreadyRunning
	}

	v.backend, err = v.factory(internal.NotZero(queueDepth, v.conf.QueueDepth))
	if err != nil {
		return errors.Wrapf(err, "create backend")
	}
	v.flags = v.backend.Flags()
	v.ctx, v.cancel = context.WithCancel(context.Background())

	if !v.sync.On() {
		return errors.Wrap(internal.ErrServAlreadyRunning, v.backend.Free())
	}

	defer func() {
		v.shutdown()
		err = errors.Wrap(err, v.backend.Free())
		logx.Info("Server stopped")
	}()

	logx.Info("Server started", "name", v.conf.ServerName, "flags", v.flags, "queue_depth", v.conf.QueueDepth)

	if err = v.ensureHousekeeper(); err != nil {
		return err
	}

	v.bringing = len(v.addrs)
	for _, la := range v.addrs {
		if e := v.spawnListener(la).start(); e != nil {
			return e
		}
	}

	return v.loop()
}

func (v *_server) loop() error {
	for v.sync.IsOn() {
		if v.bringing == 0 && len(v.listeners) == 0 {
			return errors.Wrap(ErrNoListeners, v.bringErr)
		}

		batch, err := v.next()
		if err != nil {
			v.backend.Release(batch)
			if errors.Is(err, completion.ErrStopped) {
				return nil
			}
			return err
		}

		v.handleCompletions(batch)
		v.backend.Release(batch)
		v.housekeeping()
		if err = v.ensureHousekeeper(); err != nil {
			logx.Error("Start housekeeper", "err", err)
		}
	}
	return nil
}

// next blocks for completions unless a finished task waits for its
// finalizer, in which case the queue is only polled.
func (v *_server) next() (completion.Batch, error) {
	if !v.reg.outstanding() {
		return v.backend.SubmitAndWait()
	}
	if err := v.backend.ConditionalSubmit(); err != nil {
		return nil, err
	}
	return v.backend.PeekBatch()
}

// shutdown stops the backend, releases every suspended task with
// completion.ErrStopped and closes all descriptors still owned.
func (v *_server) shutdown() {
	if v.sync.Off() {
		v.cancel()
		if err := v.backend.Stop(); err != nil {
			logx.Error("Stop backend", "err", err)
		}
	}

	stopped := resumption{err: completion.ErrStopped}
	for i := 0; i < maxDrainRounds; i++ {
		list := v.reg.suspended()
		if len(list) == 0 {
			break
		}
		for _, t := range list {
			if t.status != StatusSuspended {
				continue
			}
			if err := t.resume(stopped); err != nil {
				logx.Error("Drain task", "err", err, "fd", t.fd, "role", t.role.String())
			}
		}
	}

	// The backend refuses new requests now, so finalizers fall through
	// to the direct close without suspending.
	v.housekeeping()

	for fd := range v.reg.running {
		if fd >= 0 {
			if err := v.closeFD(fd); err != nil {
				logx.Debug("Force close connection", "err", err, "fd", fd)
			}
		}
		delete(v.reg.running, fd)
	}
	for i := range v.reg.waiters {
		clear(v.reg.waiters[i])
	}

	v.closeListeners()
}

const maxDrainRounds = 8
