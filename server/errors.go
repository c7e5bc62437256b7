/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package server

import (
	"fmt"

	"go.osspkg.com/errors"

	"go.osspkg.com/ringserver/completion"
)

var (
	ErrNotResumable   = errors.New("task is not resumable")
	ErrMissingWaiter  = errors.New("completion without waiter")
	ErrDoubleAccept   = errors.New("file descriptor is already running")
	ErrInvalidBuffer  = errors.New("read completed with negative length")
	ErrWaiterBusy     = errors.New("another task already waits on this descriptor")
	ErrIssue          = errors.New("issue request")
	ErrNoListeners    = errors.New("no listening sockets")
	ErrHandlerMissing = errors.New("accept handler not found")
)

// StateError is returned when a task is resumed outside of the suspended state.
type StateError struct {
	Status Status
}

func (e *StateError) Error() string {
	return ErrNotResumable.Error() + ", status: " + e.Status.String()
}

func (e *StateError) Unwrap() error {
	return ErrNotResumable
}

func issueError(kind completion.Kind, fd int, err error) error {
	return fmt.Errorf("%w %s on fd %d: %w", ErrIssue, kind.String(), fd, err)
}

func isIssueError(err error) bool {
	return errors.Is(err, ErrIssue)
}
