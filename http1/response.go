/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package http1

import (
	"net/http"
	"slices"
	"strconv"

	"go.osspkg.com/ioutils/data"
)

const DefaultServerName = "ringserver"

type Response struct {
	// Version defaults to 1.1.
	Version string
	Status  int
	// Reason defaults to the standard status text.
	Reason string
	Header http.Header
	Body   []byte
}

func NewResponse(status int, body []byte) *Response {
	return &Response{Status: status, Header: http.Header{}, Body: body}
}

// Encode writes the status line, the headers in key order and the body.
// Content-Length and Server are added only when the caller did not set them.
func (r *Response) Encode() []byte {
	return r.encode(DefaultServerName)
}

func (r *Response) encode(serverName string) []byte {
	version := r.Version
	if version == "" {
		version = "1.1"
	}
	reason := r.Reason
	if reason == "" {
		reason = http.StatusText(r.Status)
	}

	buf := data.NewBuffer(256 + len(r.Body))
	buf.Write([]byte("HTTP/" + version + " " + strconv.Itoa(r.Status) + " " + reason + "\r\n")) //nolint: errcheck

	keys := make([]string, 0, len(r.Header))
	for k := range r.Header {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		for _, val := range r.Header[k] {
			buf.Write([]byte(k + ": " + val + "\r\n")) //nolint: errcheck
		}
	}

	if r.Header.Get("Content-Length") == "" {
		buf.Write([]byte("Content-Length: " + strconv.Itoa(len(r.Body)) + "\r\n")) //nolint: errcheck
	}
	if r.Header.Get("Server") == "" {
		buf.Write([]byte("Server: " + serverName + "\r\n")) //nolint: errcheck
	}
	buf.Write(crlf)   //nolint: errcheck
	buf.Write(r.Body) //nolint: errcheck

	return []byte(buf.String())
}
