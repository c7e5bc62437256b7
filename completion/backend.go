/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package completion

import (
	"time"

	"go.osspkg.com/errors"
)

var (
	ErrStopped      = errors.New("completion backend stopped")
	ErrNotSupported = errors.New("operation not supported by backend")
	ErrQueueFull    = errors.New("submission queue is full")
)

// Flags describes which operations the backend executes natively.
// It is produced once when the backend is created and never changes.
type Flags struct {
	CancelFD     bool
	Shutdown     bool
	CreateSocket bool
}

// Backend is a completion-queue I/O interface.
//
// Request issuers only enqueue work and return; the matching Record arrives
// in a later batch. An issuer error means nothing was queued.
// Except for Stop, methods must be called from the goroutine driving the loop.
type Backend interface {
	Flags() Flags

	// SubmitAndWait flushes queued requests and blocks until at least one
	// completion is ready or the backend is stopped.
	SubmitAndWait() (Batch, error)
	// ConditionalSubmit flushes the submission side only when requests are queued.
	ConditionalSubmit() error
	// PeekBatch returns ready completions without blocking.
	PeekBatch() (Batch, error)
	// Release invalidates every record of the batch.
	Release(b Batch)

	Read(fd int, length int) error
	Write(fd int, b []byte) error
	// Accept arms a persistent accept: every accepted connection produces
	// an Accept record until the listener is closed or cancelled.
	Accept(listenFD int) error
	Cancel(fd int) error
	Shutdown(fd int, how int) error
	Close(fd int) error
	Timeout(fd int, d time.Duration) error
	// CreateSocket returns the synthetic key the CreateSocket record will carry.
	CreateSocket(domain, typ, proto int) (int, error)

	// Stop unblocks a pending SubmitAndWait. Safe for concurrent use.
	Stop() error
	// Free releases the backend resources after the loop has exited.
	Free() error
}
