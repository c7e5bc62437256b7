/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package server

import (
	"time"

	"go.osspkg.com/ringserver/internal"
)

const (
	BackendAuto  = "auto"
	BackendUring = "uring"
	BackendEpoll = "epoll"

	DefaultQueueDepth           = 256
	DefaultHousekeepingInterval = 10 * time.Second
	DefaultServerName           = "ringserver"
)

type Config struct {
	Addresses            []string      `yaml:"addresses"`
	Backend              string        `yaml:"backend,omitempty"`
	QueueDepth           uint32        `yaml:"queue_depth,omitempty"`
	ReadBuffer           int           `yaml:"read_buffer,omitempty"`
	WriteChunk           int           `yaml:"write_chunk,omitempty"`
	HousekeepingInterval time.Duration `yaml:"housekeeping_interval,omitempty"`
	ServerName           string        `yaml:"server_name,omitempty"`
}

func (c *Config) setDefaults() {
	if len(c.Backend) == 0 {
		c.Backend = BackendAuto
	}
	if len(c.ServerName) == 0 {
		c.ServerName = DefaultServerName
	}
	c.QueueDepth = internal.NotZero(c.QueueDepth, DefaultQueueDepth)
	c.ReadBuffer = internal.NotZero(c.ReadBuffer, internal.CommonBufferLength)
	c.WriteChunk = internal.NotZero(c.WriteChunk, internal.DefaultChunkSize)
	c.HousekeepingInterval = internal.NotZero(c.HousekeepingInterval, DefaultHousekeepingInterval)
}
