/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package http1

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"

	"go.osspkg.com/errors"
	"go.osspkg.com/ioutils/data"
	"go.osspkg.com/logx"

	"go.osspkg.com/ringserver/internal"
	"go.osspkg.com/ringserver/server"
)

const DefaultMaxRequestSize = 4 * internal.CommonBufferLength

var ErrRequestTooLarge = errors.New("request too large")

type (
	HandlerFunc func(ctx context.Context, req *Request) *Response

	Option struct {
		// MaxRequestSize limits the bytes buffered before the end of the header block.
		MaxRequestSize int
		ServerName     string
	}
)

// Serve adapts fn to a connection handler with default options.
func Serve(fn HandlerFunc) server.HandlerFunc {
	return ServeWithOption(fn, Option{})
}

// ServeWithOption answers requests on one connection until the peer closes it,
// asks for close or sends something that cannot be decoded.
func ServeWithOption(fn HandlerFunc, opt Option) server.HandlerFunc {
	opt.MaxRequestSize = internal.NotZero(opt.MaxRequestSize, DefaultMaxRequestSize)
	if opt.ServerName == "" {
		opt.ServerName = DefaultServerName
	}

	return func(ctx context.Context, c *server.Conn) error {
		buf := internal.DataPool.Get()
		defer internal.DataPool.Put(buf)

		for {
			buf.Reset()
			raw, err := readRequest(c, buf, opt.MaxRequestSize)
			switch {
			case errors.Is(err, io.EOF):
				return nil
			case errors.Is(err, ErrRequestTooLarge):
				return errors.Wrap(err, writeResponse(c, errorResponse(http.StatusRequestHeaderFieldsTooLarge), opt))
			case err != nil:
				return err
			}

			req, err := DecodeRequest(raw)
			if err != nil {
				logx.Debug("Decode request", "err", err, "fd", c.FD(), "addr", c.RemoteAddr())
				resp := errorResponse(http.StatusBadRequest)
				if errors.Is(err, ErrUnsupportedMethod) {
					resp = errorResponse(http.StatusMethodNotAllowed)
					resp.Header.Set("Allow", http.MethodGet+", "+http.MethodHead)
				}
				return writeResponse(c, resp, opt)
			}

			resp := fn(ctx, req)
			if resp == nil {
				resp = errorResponse(http.StatusInternalServerError)
			}
			if req.Method == http.MethodHead {
				resp = headResponse(resp)
			}
			keepAlive := isKeepAlive(req)
			if !keepAlive {
				if resp.Header == nil {
					resp.Header = http.Header{}
				}
				resp.Header.Set("Connection", "close")
			}
			if err = writeResponse(c, resp, opt); err != nil || !keepAlive {
				return err
			}
		}
	}
}

// readRequest accumulates reads until the header block is complete.
// io.EOF is returned only when the peer closed between requests.
func readRequest(c *server.Conn, buf *data.Buffer, limit int) ([]byte, error) {
	size := 0
	for {
		b, err := c.ReadN(0)
		if err != nil {
			if errors.Is(err, io.EOF) && size > 0 {
				return nil, errors.Wrap(ErrMalformedRequest, io.ErrUnexpectedEOF)
			}
			return nil, err
		}
		n, err := buf.Write(b)
		if err != nil {
			return nil, err
		}
		size += n
		if s := buf.String(); strings.Contains(s, string(headersEnd)) {
			return []byte(s), nil
		}
		if size > limit {
			return nil, ErrRequestTooLarge
		}
	}
}

func writeResponse(c *server.Conn, resp *Response, opt Option) error {
	_, err := c.Write(resp.encode(opt.ServerName))
	return err
}

func errorResponse(status int) *Response {
	return NewResponse(status, []byte(http.StatusText(status)))
}

// headResponse keeps the length of the body that a GET would have returned.
func headResponse(resp *Response) *Response {
	cp := *resp
	cp.Header = resp.Header.Clone()
	if cp.Header == nil {
		cp.Header = http.Header{}
	}
	if cp.Header.Get("Content-Length") == "" {
		cp.Header.Set("Content-Length", strconv.Itoa(len(resp.Body)))
	}
	cp.Body = nil
	return &cp
}

func isKeepAlive(req *Request) bool {
	conn := strings.ToLower(req.Header.Get("Connection"))
	switch req.Version {
	case "1", "1.0":
		return conn == "keep-alive"
	default:
		return conn != "close"
	}
}
