/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package http1

import (
	"bufio"
	"bytes"
	"fmt"
	"net/http"
	"net/textproto"
	"regexp"
	"unicode/utf8"

	"go.osspkg.com/errors"
)

const MaxRequestLine = 256

var (
	ErrMalformedRequest   = errors.New("malformed request")
	ErrRequestLineTooLong = errors.New("request line too long")
	ErrInvalidRequestLine = errors.New("invalid request line")
	ErrUnsupportedMethod  = errors.New("unsupported http method")
)

var (
	crlf       = []byte("\r\n")
	headersEnd = []byte("\r\n\r\n")

	requestLine = regexp.MustCompile(`^([A-Z]+) ([^ ]+) HTTP/(1|1\.0|1\.1|2|2\.0)$`)
)

type Request struct {
	Method string
	// Target is the request target prefixed with the Host header value when present.
	Target  string
	Path    string
	Version string
	Header  http.Header
	Body    []byte
}

// DecodeRequest parses the request line, the header block and keeps
// whatever follows the empty line as the body.
func DecodeRequest(buf []byte) (*Request, error) {
	line, rest, ok := bytes.Cut(buf, crlf)
	if !ok {
		return nil, ErrMalformedRequest
	}
	if utf8.RuneCount(line) > MaxRequestLine {
		return nil, malformed(ErrRequestLineTooLong)
	}

	m := requestLine.FindSubmatch(line)
	if m == nil {
		return nil, malformed(ErrInvalidRequestLine)
	}
	req := &Request{
		Method:  string(m[1]),
		Path:    string(m[2]),
		Version: string(m[3]),
	}
	if err := verifyMethod(req.Method); err != nil {
		return nil, err
	}

	head, body, _ := bytes.Cut(rest, headersEnd)
	header, err := parseHeader(head)
	if err != nil {
		return nil, err
	}
	req.Header = header
	req.Body = body

	req.Target = req.Path
	if host := header.Get("Host"); host != "" {
		req.Target = host + req.Path
	}
	return req, nil
}

func verifyMethod(method string) error {
	switch method {
	case http.MethodGet, http.MethodHead:
		return nil
	default:
		return errors.Wrapf(ErrUnsupportedMethod, "method %s", method)
	}
}

func parseHeader(head []byte) (http.Header, error) {
	head = bytes.TrimSpace(head)
	if len(head) == 0 {
		return http.Header{}, nil
	}
	r := textproto.NewReader(bufio.NewReader(bytes.NewReader(append(head, headersEnd...))))
	h, err := r.ReadMIMEHeader()
	if err != nil {
		return nil, malformed(err)
	}
	return http.Header(h), nil
}

// malformed keeps both the specific cause and ErrMalformedRequest matchable.
func malformed(cause error) error {
	return fmt.Errorf("%w: %w", ErrMalformedRequest, cause)
}
